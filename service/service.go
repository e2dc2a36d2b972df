// Package service - assembles the preprocessor, classifier and pipeline from configuration.
package service

import (
	"github.com/nvr-ai/go-xray/config"
	"github.com/nvr-ai/go-xray/inference"
	"github.com/nvr-ai/go-xray/pipeline"
	"github.com/nvr-ai/go-xray/preprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ClassifierLoader constructs the classifier. NewONNXLoader is the production loader.
type ClassifierLoader func(cfg inference.Config) (inference.Classifier, error)

// NewONNXLoader loads the ONNX export of the model.
func NewONNXLoader(cfg inference.Config) (inference.Classifier, error) {
	return inference.NewONNXClassifier(cfg)
}

// Service owns the loaded classifier and the pipeline built on it.
type Service struct {
	Pipeline   *pipeline.Pipeline
	Classifier inference.Classifier
}

// New loads the model once and wires the pipeline. A model load failure is
// fatal to the caller and is returned wrapping pipeline.ErrModelLoad.
//
// Arguments:
//   - cfg: The validated configuration.
//   - log: The logger handed to the classifier and pipeline.
//   - load: The classifier loader; nil selects NewONNXLoader.
//
// Returns:
//   - *Service: The assembled service. Call Close to release the classifier.
//   - error: An error if any component cannot be built.
func New(cfg *config.Config, log *logrus.Logger, load ClassifierLoader) (*Service, error) {
	if load == nil {
		load = NewONNXLoader
	}

	preCfg, err := cfg.PreprocessorConfig()
	if err != nil {
		return nil, errors.Wrap(err, "invalid preprocess configuration")
	}
	pre, err := preprocess.NewPreprocessor(preCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create preprocessor")
	}

	clfCfg, err := cfg.ClassifierConfig()
	if err != nil {
		return nil, errors.Wrap(err, "invalid model configuration")
	}
	clfCfg.Logger = log

	clf, err := load(clfCfg)
	if err != nil {
		if !errors.Is(err, pipeline.ErrModelLoad) {
			err = errors.Wrap(pipeline.ErrModelLoad, err.Error())
		}
		return nil, err
	}

	p, err := pipeline.New(pre, clf,
		pipeline.WithThreshold(cfg.Inference.Threshold),
		pipeline.WithTimeout(cfg.Inference.Timeout),
		pipeline.WithLogger(log),
	)
	if err != nil {
		clf.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"threshold": cfg.Inference.Threshold,
		"filter":    preCfg.Filter.String(),
		"backend":   preCfg.Backend,
		"shape":     preCfg.Shape(),
	}).Info("Pipeline ready")

	return &Service{Pipeline: p, Classifier: clf}, nil
}

// Metrics returns classifier counters when the classifier records them.
func (s *Service) Metrics() inference.Metrics {
	if m, ok := s.Classifier.(interface{ Metrics() inference.Metrics }); ok {
		return m.Metrics()
	}
	return inference.Metrics{}
}

// Close releases the classifier.
func (s *Service) Close() error {
	return s.Classifier.Close()
}
