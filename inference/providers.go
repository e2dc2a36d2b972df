package inference

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// Provider represents an ONNX Runtime execution provider.
type Provider string

const (
	// CPUExecutionProvider uses the default CPU kernels.
	CPUExecutionProvider Provider = "cpu"
	// CUDAExecutionProvider uses NVIDIA CUDA for GPU acceleration.
	CUDAExecutionProvider Provider = "cuda"
	// CoreMLExecutionProvider uses Apple CoreML for macOS acceleration.
	CoreMLExecutionProvider Provider = "coreml"
	// OpenVINOExecutionProvider uses Intel OpenVINO.
	OpenVINOExecutionProvider Provider = "openvino"
)

// ParseProvider maps a configuration name to a Provider. An empty name selects
// the CPU provider.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return CPUExecutionProvider, nil
	case CPUExecutionProvider, CUDAExecutionProvider, CoreMLExecutionProvider, OpenVINOExecutionProvider:
		return p, nil
	default:
		return CPUExecutionProvider, fmt.Errorf("unsupported execution provider: %s", name)
	}
}

// SessionOptions carries the knobs applied to the ONNX Runtime session.
type SessionOptions struct {
	// Provider is the execution provider to append. CPU needs no configuration.
	Provider Provider `json:"provider" yaml:"provider"`
	// ProviderOptions are passed to the provider verbatim (e.g. "device_id").
	ProviderOptions map[string]string `json:"provider_options" yaml:"provider_options"`
	// IntraOpNumThreads bounds the threads used inside one operator; 0 keeps the runtime default.
	IntraOpNumThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpNumThreads bounds the threads used across operators; 0 keeps the runtime default.
	InterOpNumThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
}

// newSessionOptions builds native session options. A provider that fails to
// attach is logged and the session falls back to CPU.
//
// **Note: the caller must Destroy the returned options.**
func newSessionOptions(cfg SessionOptions, log logrus.FieldLogger) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if cfg.IntraOpNumThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpNumThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}
	if cfg.InterOpNumThreads > 0 {
		if err := options.SetInterOpNumThreads(cfg.InterOpNumThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
		}
	}

	if err := appendProvider(options, cfg); err != nil {
		log.WithFields(logrus.Fields{
			"provider": cfg.Provider,
			"error":    err.Error(),
		}).Warn("Execution provider unavailable, falling back to CPU")
	}

	return options, nil
}

func appendProvider(options *ort.SessionOptions, cfg SessionOptions) error {
	switch cfg.Provider {
	case "", CPUExecutionProvider:
		return nil

	case CUDAExecutionProvider:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cudaOptions.Destroy()

		if len(cfg.ProviderOptions) > 0 {
			if err := cudaOptions.Update(cfg.ProviderOptions); err != nil {
				return err
			}
		}
		return options.AppendExecutionProviderCUDA(cudaOptions)

	case CoreMLExecutionProvider:
		flags := uint32(0)
		if v, ok := cfg.ProviderOptions["flags"]; ok {
			if _, err := fmt.Sscanf(v, "%d", &flags); err != nil {
				return fmt.Errorf("invalid coreml flags %q: %w", v, err)
			}
		}
		return options.AppendExecutionProviderCoreML(flags)

	case OpenVINOExecutionProvider:
		return options.AppendExecutionProviderOpenVINO(cfg.ProviderOptions)

	default:
		return fmt.Errorf("unsupported execution provider: %s", cfg.Provider)
	}
}
