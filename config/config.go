// Package config - typed service configuration loaded from YAML, .env and XRAY_* variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nvr-ai/go-xray/images"
	"github.com/nvr-ai/go-xray/inference"
	"github.com/nvr-ai/go-xray/preprocess"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "XRAY_"

// Config is the full service configuration.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Inference  InferenceConfig  `yaml:"inference"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// ModelConfig locates the classifier artifact and its graph endpoints.
type ModelConfig struct {
	Path              string `yaml:"path" validate:"required"`
	SharedLibraryPath string `yaml:"shared_library_path"`
	InputName         string `yaml:"input_name"`
	OutputName        string `yaml:"output_name"`
	ApplySigmoid      bool   `yaml:"apply_sigmoid"`
}

// PreprocessConfig fixes how uploads become model input. These values are part
// of the model contract and must match the artifact.
type PreprocessConfig struct {
	Width         int    `yaml:"width" validate:"gt=0,lte=4096"`
	Height        int    `yaml:"height" validate:"gt=0,lte=4096"`
	Filter        string `yaml:"filter" validate:"oneof=nearest bilinear bicubic mitchell lanczos2 lanczos3"`
	Backend       string `yaml:"backend" validate:"oneof=native opencv"`
	Normalization string `yaml:"normalization" validate:"oneof=zero_to_one minus_one_to_one none"`
	ChannelOrder  string `yaml:"channel_order" validate:"oneof=hwc chw"`
	// MaxPixels bounds the declared dimensions of an upload.
	MaxPixels int `yaml:"max_pixels" validate:"gte=0"`
}

// InferenceConfig holds the decision threshold and runtime knobs.
type InferenceConfig struct {
	Threshold float64                  `yaml:"threshold" validate:"gte=0,lte=1"`
	Timeout   time.Duration            `yaml:"timeout" validate:"gte=0"`
	Session   inference.SessionOptions `yaml:"session"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Port           int    `yaml:"port" validate:"gt=0,lte=65535"`
	MaxUploadBytes int    `yaml:"max_upload_bytes" validate:"gt=0"`
	AllowOrigins   string `yaml:"allow_origins"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	// File enables a rotating file sink in addition to stderr.
	File string `yaml:"file"`
	// NoColors disables ANSI colors in the console formatter.
	NoColors bool `yaml:"no_colors"`
}

// Default returns the configuration the reference model was trained and
// served with.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Path: "models/pneumonia.onnx",
		},
		Preprocess: PreprocessConfig{
			Width:         224,
			Height:        224,
			Filter:        images.DefaultFilter.String(),
			Backend:       string(images.BackendNative),
			Normalization: "zero_to_one",
			ChannelOrder:  "hwc",
			MaxPixels:     preprocess.DefaultMaxPixels,
		},
		Inference: InferenceConfig{
			Threshold: 0.5,
			Session: inference.SessionOptions{
				Provider: inference.CPUExecutionProvider,
			},
		},
		Server: ServerConfig{
			Port:           8080,
			MaxUploadBytes: 10 << 20,
			AllowOrigins:   "*",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file and the
// environment, in that order of precedence (later wins). A .env file in the
// working directory is loaded first if present.
//
// Arguments:
//   - path: The YAML file to read. Empty skips the file.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if the file cannot be read or parsed, or validation fails.
//
// @example
// cfg, err := config.Load("config.yaml")
func Load(path string) (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes enum-like values to lower case, then checks field
// constraints.
func (c *Config) Validate() error {
	c.normalize()
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	provider, err := inference.ParseProvider(string(c.Inference.Session.Provider))
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	c.Inference.Session.Provider = provider
	return nil
}

func (c *Config) normalize() {
	for _, v := range []*string{
		&c.Preprocess.Filter,
		&c.Preprocess.Backend,
		&c.Preprocess.Normalization,
		&c.Preprocess.ChannelOrder,
		&c.Log.Level,
	} {
		*v = strings.ToLower(strings.TrimSpace(*v))
	}
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	// The runtime's own variable is honored; the prefixed one wins.
	str("ONNXRUNTIME_SHARED_LIBRARY_PATH", &c.Model.SharedLibraryPath)
	str(EnvPrefix+"SHARED_LIBRARY_PATH", &c.Model.SharedLibraryPath)
	str(EnvPrefix+"MODEL_PATH", &c.Model.Path)
	str(EnvPrefix+"FILTER", &c.Preprocess.Filter)
	str(EnvPrefix+"BACKEND", &c.Preprocess.Backend)
	c.Preprocess.Filter = strings.ToLower(c.Preprocess.Filter)
	c.Preprocess.Backend = strings.ToLower(c.Preprocess.Backend)
	str(EnvPrefix+"LOG_LEVEL", &c.Log.Level)
	str(EnvPrefix+"LOG_FILE", &c.Log.File)
	str(EnvPrefix+"ALLOW_ORIGINS", &c.Server.AllowOrigins)

	if v, ok := lookup(EnvPrefix + "PROVIDER"); ok && v != "" {
		c.Inference.Session.Provider = inference.Provider(strings.ToLower(v))
	}
	if v, ok := lookup(EnvPrefix + "THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid %sTHRESHOLD", EnvPrefix)
		}
		c.Inference.Threshold = f
	}
	if v, ok := lookup(EnvPrefix + "TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %sTIMEOUT", EnvPrefix)
		}
		c.Inference.Timeout = d
	}
	if v, ok := lookup(EnvPrefix + "MAX_PIXELS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %sMAX_PIXELS", EnvPrefix)
		}
		c.Preprocess.MaxPixels = n
	}
	if v, ok := lookup(EnvPrefix + "PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %sPORT", EnvPrefix)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvPrefix + "MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %sMAX_UPLOAD_BYTES", EnvPrefix)
		}
		c.Server.MaxUploadBytes = n
	}
	return nil
}

// PreprocessorConfig converts the preprocess section to a preprocess.ModelConfig.
func (c *Config) PreprocessorConfig() (preprocess.ModelConfig, error) {
	mc := preprocess.DefaultModelConfig()
	mc.InputWidth = c.Preprocess.Width
	mc.InputHeight = c.Preprocess.Height
	mc.MaxPixels = c.Preprocess.MaxPixels

	filter, err := images.ParseFilter(c.Preprocess.Filter)
	if err != nil {
		return mc, err
	}
	mc.Filter = filter

	backend, err := images.ParseBackend(c.Preprocess.Backend)
	if err != nil {
		return mc, err
	}
	mc.Backend = backend

	switch c.Preprocess.Normalization {
	case "", "zero_to_one":
		mc.NormalizationType = preprocess.NormalizeZeroToOne
	case "minus_one_to_one":
		mc.NormalizationType = preprocess.NormalizeMinusOneToOne
	case "none":
		mc.NormalizationType = preprocess.NormalizeNone
	default:
		return mc, errors.Errorf("unknown normalization %q", c.Preprocess.Normalization)
	}

	switch c.Preprocess.ChannelOrder {
	case "", "hwc":
		mc.ChannelOrder = preprocess.ChannelOrderHWC
	case "chw":
		mc.ChannelOrder = preprocess.ChannelOrderCHW
	default:
		return mc, errors.Errorf("unknown channel order %q", c.Preprocess.ChannelOrder)
	}
	return mc, nil
}

// ClassifierConfig converts the model and inference sections to an
// inference.Config whose input shape matches the preprocessor output.
func (c *Config) ClassifierConfig() (inference.Config, error) {
	mc, err := c.PreprocessorConfig()
	if err != nil {
		return inference.Config{}, err
	}

	shape := mc.Shape()
	inputShape := make([]int64, len(shape))
	for i, d := range shape {
		inputShape[i] = int64(d)
	}

	return inference.Config{
		ModelPath:         c.Model.Path,
		SharedLibraryPath: c.Model.SharedLibraryPath,
		InputName:         c.Model.InputName,
		OutputName:        c.Model.OutputName,
		InputShape:        inputShape,
		ApplySigmoid:      c.Model.ApplySigmoid,
		Session:           c.Inference.Session,
	}, nil
}
