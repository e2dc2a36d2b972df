// Package inference - binary classifier contract and its ONNX Runtime backing.
package inference

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrModelLoad is returned when the classifier artifact cannot be loaded. It is
// fatal at startup: no request can be served without a model.
var ErrModelLoad = errors.New("model load failed")

// Classifier is a preloaded binary predictor. Predict returns the positive
// class probability for a single batched input.
//
// Implementations are loaded once and shared by every request; they must be
// safe for concurrent use.
type Classifier interface {
	Predict(ctx context.Context, input *tensor.Dense) (float64, error)
	Close() error
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, input *tensor.Dense) (float64, error)

// Predict calls f(ctx, input).
func (f ClassifierFunc) Predict(ctx context.Context, input *tensor.Dense) (float64, error) {
	return f(ctx, input)
}

// Close is a no-op.
func (f ClassifierFunc) Close() error { return nil }

// Float32Data extracts the []float32 backing of a tensor.
//
// Arguments:
//   - input: The tensor to read.
//
// Returns:
//   - []float32: The backing slice (not a copy).
//   - error: An error if the tensor is nil or not float32.
func Float32Data(input *tensor.Dense) ([]float32, error) {
	if input == nil {
		return nil, errors.New("input tensor is nil")
	}
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("input tensor has dtype %v, want float32", input.Dtype())
	}
	return data, nil
}
