package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/nvr-ai/go-xray/inference"
	"github.com/nvr-ai/go-xray/preprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// UploadedImage is an image as received at the boundary. It is owned by the
// request for its duration and never retained by the pipeline.
type UploadedImage struct {
	// Filename is the client-supplied name, used for logging only.
	Filename string
	// Format is the declared extension: jpg, jpeg or png.
	Format string
	// Data holds the encoded bytes.
	Data []byte
}

// Result is the outcome of one classification.
type Result struct {
	Label          Label         `json:"label"`
	Score          float64       `json:"score"`
	Threshold      float64       `json:"threshold"`
	Format         string        `json:"format"`
	OriginalWidth  int           `json:"original_width"`
	OriginalHeight int           `json:"original_height"`
	PreprocessTime time.Duration `json:"preprocess_time"`
	InferenceTime  time.Duration `json:"inference_time"`
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithThreshold overrides DefaultThreshold. The value must lie in [0, 1].
func WithThreshold(threshold float64) Option {
	return func(p *Pipeline) error {
		if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
			return errors.Errorf("threshold %v is outside [0, 1]", threshold)
		}
		p.threshold = threshold
		return nil
	}
}

// WithTimeout bounds each classifier call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) error {
		if timeout < 0 {
			return errors.Errorf("timeout %v is negative", timeout)
		}
		p.timeout = timeout
		return nil
	}
}

// WithLogger sets the logger used for per-request debug output.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pipeline) error {
		p.log = log
		return nil
	}
}

// Pipeline turns uploaded images into labels. It holds no mutable state and
// is safe for concurrent use as long as its classifier is.
type Pipeline struct {
	preprocessor *preprocess.Preprocessor
	classifier   inference.Classifier
	threshold    float64
	timeout      time.Duration
	log          logrus.FieldLogger
}

// New wires a pipeline from an injected preprocessor and classifier.
//
// Arguments:
//   - preprocessor: Converts uploads to the classifier's input tensor.
//   - classifier: The preloaded binary classifier.
//   - opts: Optional threshold, timeout and logger overrides.
//
// Returns:
//   - *Pipeline: The configured pipeline.
//   - error: An error if a dependency is missing or an option is invalid.
func New(preprocessor *preprocess.Preprocessor, classifier inference.Classifier, opts ...Option) (*Pipeline, error) {
	if preprocessor == nil {
		return nil, errors.New("preprocessor is required")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}

	p := &Pipeline{
		preprocessor: preprocessor,
		classifier:   classifier,
		threshold:    DefaultThreshold,
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, errors.Wrap(err, "failed to apply option")
		}
	}
	return p, nil
}

// Threshold returns the decision boundary in use.
func (p *Pipeline) Threshold() float64 {
	return p.threshold
}

// ClassifyBytes is the bare classify(imageBytes, format) -> Label form.
func (p *Pipeline) ClassifyBytes(ctx context.Context, data []byte, format string) (Label, error) {
	result, err := p.Classify(ctx, UploadedImage{Format: format, Data: data})
	if err != nil {
		return Normal, err
	}
	return result.Label, nil
}

// Classify runs one upload through the pipeline: validate the declared
// format, decode to grayscale, resize, scale to [0, 1], batch, predict and
// threshold. Each step is a single attempt; nothing is retried or cached.
//
// Arguments:
//   - ctx: Bounds the classifier call together with the configured timeout.
//   - img: The uploaded image.
//
// Returns:
//   - *Result: The label and score.
//   - error: A *Error of kind UnsupportedFormat, Decode or Inference. On a
//     decode failure the classifier is not called.
func (p *Pipeline) Classify(ctx context.Context, img UploadedImage) (*Result, error) {
	format, err := preprocess.NormalizeFormat(img.Format)
	if err != nil {
		return nil, newError(KindUnsupportedFormat, err)
	}

	start := time.Now()
	pre, err := p.preprocessor.Preprocess(&preprocess.Image{Format: format, Data: img.Data})
	if err != nil {
		return nil, classifyPreprocessError(err)
	}
	preprocessTime := time.Since(start)

	start = time.Now()
	score, err := p.predict(ctx, pre)
	if err != nil {
		return nil, newError(KindInference, err)
	}
	inferenceTime := time.Since(start)

	result := &Result{
		Label:          LabelFromScore(score, p.threshold),
		Score:          score,
		Threshold:      p.threshold,
		Format:         string(pre.Format),
		OriginalWidth:  pre.OriginalWidth,
		OriginalHeight: pre.OriginalHeight,
		PreprocessTime: preprocessTime,
		InferenceTime:  inferenceTime,
	}

	p.log.WithFields(logrus.Fields{
		"file":          img.Filename,
		"format":        result.Format,
		"width":         result.OriginalWidth,
		"height":        result.OriginalHeight,
		"score":         score,
		"label":         result.Label.String(),
		"preprocess_ms": preprocessTime.Milliseconds(),
		"inference_ms":  inferenceTime.Milliseconds(),
	}).Debug("Classified image")

	return result, nil
}

type prediction struct {
	score float64
	err   error
}

func (p *Pipeline) predict(ctx context.Context, pre *preprocess.Result) (float64, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan prediction, 1)
	go func() {
		score, err := p.classifier.Predict(ctx, pre.Tensor)
		done <- prediction{score: score, err: err}
	}()

	var out prediction
	select {
	case out = <-done:
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), "classifier call abandoned")
	}

	if out.err != nil {
		return 0, out.err
	}
	if math.IsNaN(out.score) || out.score < 0 || out.score > 1 {
		return 0, errors.Errorf("classifier score %v is outside [0, 1]", out.score)
	}
	return out.score, nil
}
