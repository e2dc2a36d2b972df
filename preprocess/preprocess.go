// Package preprocess - turns uploaded radiographs into classifier input tensors.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"strings"

	"github.com/nvr-ai/go-xray/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var (
	// ErrUnsupportedFormat is returned when the declared upload format is not
	// one of jpg, jpeg or png. No decoding is attempted.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecode is returned when the bytes do not parse as a supported image.
	ErrDecode = errors.New("image decoding failed")
)

// ImageFormat represents the format of an image.
type ImageFormat string

const (
	// ImageFormatJPEG represents JPEG image format.
	ImageFormatJPEG ImageFormat = "jpeg"
	// ImageFormatPNG represents PNG image format.
	ImageFormatPNG ImageFormat = "png"
)

// NormalizeFormat maps a declared extension or format name ("jpg", ".JPEG",
// "png") to an ImageFormat.
//
// Arguments:
//   - declared: The extension or format name received with the upload.
//
// Returns:
//   - ImageFormat: The canonical format.
//   - error: ErrUnsupportedFormat for anything outside jpg/jpeg/png.
func NormalizeFormat(declared string) (ImageFormat, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(declared)), ".") {
	case "jpg", "jpeg":
		return ImageFormatJPEG, nil
	case "png":
		return ImageFormatPNG, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%q (allowed: jpg, jpeg, png)", declared)
	}
}

// Image represents an uploaded image with its declared format.
type Image struct {
	// The declared format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The encoded bytes of the image.
	Data []byte `json:"data" yaml:"data"`
}

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderHWC is Height-Width-Channel ordering (Keras / TensorFlow exports).
	ChannelOrderHWC ChannelOrder = iota
	// ChannelOrderCHW is Channel-Height-Width ordering (PyTorch exports).
	ChannelOrderCHW
)

// DefaultMaxPixels caps the declared width*height of an upload before any
// pixel data is decoded. Same limit as Pillow's decompression bomb warning.
const DefaultMaxPixels = 89478485

// ModelConfig defines preprocessing configuration for a grayscale classifier.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string
	// InputWidth is the expected width of the model input.
	InputWidth int
	// InputHeight is the expected height of the model input.
	InputHeight int
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType
	// ChannelOrder defines where the single channel axis sits in the shape.
	ChannelOrder ChannelOrder
	// Filter is the resampling kernel used to reach the input size.
	Filter images.ResampleFilter
	// Backend selects the decoder and resampler implementation.
	Backend images.Backend
	// MaxPixels rejects uploads whose header declares more pixels than this.
	// Zero means DefaultMaxPixels.
	MaxPixels int
}

// DefaultModelConfig returns the configuration the reference pneumonia model
// was trained with: 224x224 grayscale, HWC, values scaled to [0, 1], bicubic.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Name:              "pneumonia",
		InputWidth:        224,
		InputHeight:       224,
		NormalizationType: NormalizeZeroToOne,
		ChannelOrder:      ChannelOrderHWC,
		Filter:            images.DefaultFilter,
		Backend:           images.BackendNative,
		MaxPixels:         DefaultMaxPixels,
	}
}

// Shape returns the batched input shape for the configuration:
// [1, H, W, 1] for HWC and [1, 1, H, W] for CHW.
func (c ModelConfig) Shape() []int {
	if c.ChannelOrder == ChannelOrderCHW {
		return []int{1, 1, c.InputHeight, c.InputWidth}
	}
	return []int{1, c.InputHeight, c.InputWidth, 1}
}

// Result contains the preprocessed tensor and metadata.
type Result struct {
	// Tensor is the batched float32 input tensor.
	Tensor *tensor.Dense
	// Format is the format detected while decoding.
	Format ImageFormat
	// OriginalWidth is the image width before resizing.
	OriginalWidth int
	// OriginalHeight is the image height before resizing.
	OriginalHeight int
}

// Preprocessor handles image preprocessing for a grayscale classifier.
type Preprocessor struct {
	config ModelConfig
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//   - error: An error if the configuration is unusable.
//
// @example
// p, err := NewPreprocessor(DefaultModelConfig())
func NewPreprocessor(config ModelConfig) (*Preprocessor, error) {
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid input dimensions: %dx%d", config.InputWidth, config.InputHeight)
	}
	if config.Backend == "" {
		config.Backend = images.BackendNative
	}
	if config.MaxPixels < 0 {
		return nil, fmt.Errorf("invalid max pixels: %d", config.MaxPixels)
	}
	if config.MaxPixels == 0 {
		config.MaxPixels = DefaultMaxPixels
	}
	if config.Backend == images.BackendOpenCV && !images.OpenCVAvailable() {
		return nil, images.ErrBackendUnavailable
	}
	return &Preprocessor{config: config}, nil
}

// Config returns the preprocessing configuration.
func (p *Preprocessor) Config() ModelConfig {
	return p.config
}

// Preprocess decodes, converts to grayscale, resizes and normalizes an image.
// The transformation is pure: identical bytes always yield identical tensors.
//
// Arguments:
//   - img: The input image to preprocess.
//
// Returns:
//   - *Result: The batched tensor and decode metadata.
//   - error: ErrUnsupportedFormat or ErrDecode (wrapped) on bad input.
func (p *Preprocessor) Preprocess(img *Image) (*Result, error) {
	if img == nil {
		return nil, errors.Wrap(ErrDecode, "image is nil")
	}
	if _, err := NormalizeFormat(string(img.Format)); err != nil {
		return nil, err
	}

	gray, detected, err := p.decode(img.Data)
	if err != nil {
		return nil, err
	}

	bounds := gray.Bounds()
	resized, err := p.resize(gray)
	if err != nil {
		return nil, errors.Wrap(err, "resize failed")
	}

	return &Result{
		Tensor:         p.ToTensor(resized),
		Format:         detected,
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
	}, nil
}

// decode sniffs the header, then decodes to a grayscale grid.
func (p *Preprocessor) decode(data []byte) (*image.Gray, ImageFormat, error) {
	if len(data) == 0 {
		return nil, "", errors.Wrap(ErrDecode, "image data is empty")
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrapf(ErrDecode, "unrecognized image header: %v", err)
	}
	detected, err := NormalizeFormat(name)
	if err != nil {
		return nil, "", errors.Wrapf(ErrDecode, "detected format %q is not supported", name)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", errors.Wrapf(ErrDecode, "invalid image dimensions: %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(p.config.MaxPixels) {
		return nil, "", errors.Wrapf(ErrDecode, "image dimensions %dx%d exceed %d pixels",
			cfg.Width, cfg.Height, p.config.MaxPixels)
	}

	if p.config.Backend == images.BackendOpenCV {
		gray, err := images.DecodeGrayscaleCV(data)
		if err != nil {
			return nil, "", errors.Wrap(ErrDecode, err.Error())
		}
		return gray, detected, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrap(ErrDecode, err.Error())
	}
	return images.Grayscale(decoded), detected, nil
}

func (p *Preprocessor) resize(gray *image.Gray) (*image.Gray, error) {
	if p.config.Backend == images.BackendOpenCV {
		return images.ResizeCV(gray, p.config.InputWidth, p.config.InputHeight, p.config.Filter)
	}
	return images.Resize(gray, p.config.InputWidth, p.config.InputHeight, p.config.Filter)
}

// ToTensor converts a grayscale image of the configured size into a batched
// float32 tensor, applying the configured normalization.
//
// Arguments:
//   - gray: The resized grayscale image.
//
// Returns:
//   - *tensor.Dense: A tensor of Shape() backed by []float32.
func (p *Preprocessor) ToTensor(gray *image.Gray) *tensor.Dense {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]float32, width*height)

	for y := 0; y < height; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+width]
		for x, v := range row {
			data[y*width+x] = p.normalize(v)
		}
	}

	shape := []int{1, height, width, 1}
	if p.config.ChannelOrder == ChannelOrderCHW {
		shape = []int{1, 1, height, width}
	}

	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func (p *Preprocessor) normalize(v uint8) float32 {
	switch p.config.NormalizationType {
	case NormalizeZeroToOne:
		return float32(v) / 255.0
	case NormalizeMinusOneToOne:
		return float32(v)/127.5 - 1.0
	default:
		return float32(v)
	}
}
