package inference

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Config describes the ONNX export of the classifier.
type Config struct {
	// ModelPath is the path to the .onnx artifact.
	ModelPath string
	// SharedLibraryPath points ONNX Runtime at a specific onnxruntime shared
	// library. Empty keeps the runtime's default search.
	SharedLibraryPath string
	// InputName and OutputName select the graph endpoints. Empty names are
	// discovered from the model (first input, first output).
	InputName  string
	OutputName string
	// InputShape is the batched input shape, e.g. [1, 224, 224, 1].
	InputShape []int64
	// ApplySigmoid maps a raw logit output to a probability. Keras exports
	// with a sigmoid head already emit probabilities.
	ApplySigmoid bool
	// Session carries execution provider and threading options.
	Session SessionOptions
	// Logger receives provider warnings. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
}

// Metrics summarizes the inference calls served by a classifier.
type Metrics struct {
	InferenceCount int64         `json:"inference_count"`
	TotalTime      time.Duration `json:"total_time"`
	AverageTime    time.Duration `json:"average_time"`
}

// ONNXClassifier is a binary classifier backed by an ONNX Runtime session with
// preallocated input and output tensors.
//
// The tensors are shared buffers, so Run is serialized with a mutex; the
// classifier is otherwise immutable after construction.
type ONNXClassifier struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	inputName    string
	outputName   string
	inputShape   []int64
	applySigmoid bool
	ownsEnv      bool

	inferenceCount int64
	totalTime      time.Duration
}

// NewONNXClassifier loads the classifier artifact and prepares a session.
//
// Order of operations:
//  1. Artifact check: the model file must exist and be readable.
//  2. Environment setup: the native runtime is initialized once per process.
//  3. Endpoint discovery: input/output names are read from the graph if not configured.
//  4. Tensor allocation: fixed-shape buffers for the batched input and scalar output.
//  5. Session creation: binds the model to the buffers with the configured provider.
//
// Arguments:
//   - cfg: The classifier configuration.
//
// Returns:
//   - *ONNXClassifier: A ready classifier. Call Close to release native resources.
//   - error: ErrModelLoad (wrapped) when any step fails.
func NewONNXClassifier(cfg Config) (*ONNXClassifier, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	if len(cfg.InputShape) == 0 {
		return nil, errors.Wrap(ErrModelLoad, "input shape is required")
	}
	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "model artifact %q: %v", cfg.ModelPath, err)
	}
	if info.IsDir() {
		return nil, errors.Wrapf(ErrModelLoad, "model artifact %q is a directory", cfg.ModelPath)
	}

	c := &ONNXClassifier{
		inputName:    cfg.InputName,
		outputName:   cfg.OutputName,
		inputShape:   append([]int64(nil), cfg.InputShape...),
		applySigmoid: cfg.ApplySigmoid,
	}

	if err := c.initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, errors.Wrap(ErrModelLoad, err.Error())
	}

	if err := c.build(cfg, log); err != nil {
		c.Close()
		return nil, errors.Wrap(ErrModelLoad, err.Error())
	}

	log.WithFields(logrus.Fields{
		"model":    cfg.ModelPath,
		"input":    c.inputName,
		"output":   c.outputName,
		"shape":    c.inputShape,
		"provider": cfg.Session.Provider,
	}).Info("Classifier loaded")

	return c, nil
}

func (c *ONNXClassifier) initEnvironment(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		if _, err := os.Stat(libPath); err != nil {
			return fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
		}
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ORT environment: %w", err)
	}
	c.ownsEnv = true
	return nil
}

func (c *ONNXClassifier) build(cfg Config, log logrus.FieldLogger) error {
	if c.inputName == "" || c.outputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
		if err != nil {
			return fmt.Errorf("failed to read model signature: %w", err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return fmt.Errorf("model declares %d inputs and %d outputs", len(inputs), len(outputs))
		}
		if c.inputName == "" {
			c.inputName = inputs[0].Name
		}
		if c.outputName == "" {
			c.outputName = outputs[0].Name
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(c.inputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	c.input = input

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	c.output = output

	options, err := newSessionOptions(cfg.Session, log)
	if err != nil {
		return err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{c.inputName}, []string{c.outputName},
		[]ort.Value{c.input}, []ort.Value{c.output},
		options)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	c.session = session

	return nil
}

// Predict copies the tensor into the session input, runs the graph and returns
// the positive class probability.
//
// Arguments:
//   - ctx: Checked before the (non-cancellable) native run starts.
//   - input: A float32 tensor matching the configured input shape.
//
// Returns:
//   - float64: The score in [0, 1].
//   - error: An error if the input is malformed, the run fails or the output is not finite.
func (c *ONNXClassifier) Predict(ctx context.Context, input *tensor.Dense) (float64, error) {
	data, err := Float32Data(input)
	if err != nil {
		return 0, err
	}
	if err := CheckShape(input.Shape(), c.inputShape); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return 0, errors.New("classifier is closed")
	}

	copy(c.input.GetData(), data)

	start := time.Now()
	if err := c.session.Run(); err != nil {
		return 0, errors.Wrap(err, "inference failed")
	}
	c.inferenceCount++
	c.totalTime += time.Since(start)

	raw := c.output.GetData()[0]
	if math32.IsNaN(raw) || math32.IsInf(raw, 0) {
		return 0, errors.Errorf("model produced a non-finite output: %v", raw)
	}
	if c.applySigmoid {
		raw = Sigmoid(raw)
	}

	return float64(raw), nil
}

// Metrics returns the inference counters.
func (c *ONNXClassifier) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{InferenceCount: c.inferenceCount, TotalTime: c.totalTime}
	if c.inferenceCount > 0 {
		m.AverageTime = c.totalTime / time.Duration(c.inferenceCount)
	}
	return m
}

// InputShape returns the batched input shape bound to the session.
func (c *ONNXClassifier) InputShape() []int64 {
	return append([]int64(nil), c.inputShape...)
}

// Close releases the native session, its tensors and, if this classifier
// initialized it, the runtime environment.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			firstErr = fmt.Errorf("error destroying ORT session: %w", err)
		}
		c.session = nil
	}
	if c.input != nil {
		c.input.Destroy()
		c.input = nil
	}
	if c.output != nil {
		c.output.Destroy()
		c.output = nil
	}
	if c.ownsEnv {
		if err := ort.DestroyEnvironment(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error destroying ORT environment: %w", err)
		}
		c.ownsEnv = false
	}
	return firstErr
}

// Sigmoid is the logistic function in float32.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// CheckShape reports whether a tensor shape matches the expected session shape.
func CheckShape(got tensor.Shape, want []int64) error {
	if len(got) != len(want) {
		return errors.Errorf("input shape %v does not match model input %v", got, want)
	}
	for i := range got {
		if int64(got[i]) != want[i] {
			return errors.Errorf("input shape %v does not match model input %v", got, want)
		}
	}
	return nil
}
