package pipeline

import (
	"github.com/nvr-ai/go-xray/inference"
	"github.com/nvr-ai/go-xray/preprocess"
	"github.com/pkg/errors"
)

var (
	// ErrModelLoad is fatal: the process cannot serve any request.
	ErrModelLoad = inference.ErrModelLoad
	// ErrUnsupportedFormat rejects an upload by its declared extension.
	ErrUnsupportedFormat = preprocess.ErrUnsupportedFormat
	// ErrDecode rejects an upload whose bytes are not a supported image.
	ErrDecode = preprocess.ErrDecode
	// ErrInference fails the current request when the classifier call fails.
	ErrInference = errors.New("inference failed")
)

// Kind classifies a per-request failure.
type Kind int

const (
	KindUnsupportedFormat Kind = iota + 1
	KindDecode
	KindInference
)

// Code returns a stable identifier for the kind, suitable for API clients.
func (k Kind) Code() string {
	switch k {
	case KindUnsupportedFormat:
		return "UNSUPPORTED_FORMAT"
	case KindDecode:
		return "DECODE_ERROR"
	case KindInference:
		return "INFERENCE_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindDecode:
		return ErrDecode
	case KindInference:
		return ErrInference
	default:
		return nil
	}
}

// Error is a per-request pipeline failure. No partial result accompanies it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the kind of a pipeline error, or 0 if err is not one.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func classifyPreprocessError(err error) *Error {
	if errors.Is(err, preprocess.ErrUnsupportedFormat) {
		return newError(KindUnsupportedFormat, err)
	}
	return newError(KindDecode, err)
}
