// Package benchmark - Functionality for benchmarking the classification pipeline.
package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nvr-ai/go-xray/images"
	"github.com/nvr-ai/go-xray/inference"
	"github.com/nvr-ai/go-xray/pipeline"
	"github.com/nvr-ai/go-xray/preprocess"
	"github.com/nvr-ai/go-xray/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PerformanceMetrics captures detailed performance data for one scenario.
type PerformanceMetrics struct {
	Scenario           Scenario      `json:"scenario"`
	Timestamp          time.Time     `json:"timestamp"`
	TotalDuration      time.Duration `json:"total_duration"`
	PreprocessDuration time.Duration `json:"preprocess_duration"`
	InferenceDuration  time.Duration `json:"inference_duration"`
	P50Latency         time.Duration `json:"p50_latency"`
	P95Latency         time.Duration `json:"p95_latency"`
	ImagesPerSecond    float64       `json:"images_per_second"`
	MemoryStats        MemoryMetrics `json:"memory_stats"`
	PneumoniaCount     int           `json:"pneumonia_count"`
	ErrorRate          float64       `json:"error_rate"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

// Suite manages and executes benchmark scenarios against one loaded classifier.
type Suite struct {
	classifier inference.Classifier
	threshold  float64
	outputDir  string
	corpus     []util.ImageFile
	log        logrus.FieldLogger
	mu         sync.RWMutex
	scenarios  []Scenario
	results    []PerformanceMetrics
}

// NewSuiteArgs represents the arguments for creating a new benchmark suite.
type NewSuiteArgs struct {
	Classifier inference.Classifier `json:"-" yaml:"-"`
	Threshold  float64              `json:"threshold" yaml:"threshold"`
	OutputPath string               `json:"outputPath" yaml:"outputPath"`
	Logger     logrus.FieldLogger   `json:"-" yaml:"-"`
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - args: The arguments for creating a new benchmark suite.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(args NewSuiteArgs) *Suite {
	log := args.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	threshold := args.Threshold
	if threshold == 0 {
		threshold = pipeline.DefaultThreshold
	}
	return &Suite{
		classifier: args.Classifier,
		threshold:  threshold,
		outputDir:  args.OutputPath,
		log:        log,
	}
}

// AddScenario adds a test scenario to the benchmark suite
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// UseCorpus replaces the synthetic inputs with real files. Each file is
// classified as uploaded; the scenario resolution and format are ignored.
func (bs *Suite) UseCorpus(files []util.ImageFile) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.corpus = files
}

// RunScenario executes a single benchmark scenario.
//
// Arguments:
//   - ctx: Cancels the run between iterations.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: Timings and memory statistics.
//   - error: An error if the scenario is invalid or the context ends.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %s: iterations must be positive", scenario.Name)
	}

	p, err := bs.newPipeline(scenario)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}

	inputs, err := bs.inputs(scenario)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		// Warmup errors are counted in the measured runs.
		_, _ = p.Classify(ctx, inputs[i%len(inputs)])
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	latencies := make([]time.Duration, 0, scenario.Iterations)
	failures := 0
	startTime := time.Now()

	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		begin := time.Now()
		result, err := p.Classify(ctx, inputs[i%len(inputs)])
		if err != nil {
			failures++
			continue
		}
		latencies = append(latencies, time.Since(begin))

		metrics.PreprocessDuration += result.PreprocessTime
		metrics.InferenceDuration += result.InferenceTime
		if result.Label == pipeline.PneumoniaDetected {
			metrics.PneumoniaCount++
		}
	}

	metrics.TotalDuration = time.Since(startTime)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.ImagesPerSecond = float64(len(latencies)) / metrics.TotalDuration.Seconds()
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)
	metrics.P50Latency = percentile(latencies, 0.50)
	metrics.P95Latency = percentile(latencies, 0.95)
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
	}

	return metrics, nil
}

// RunAllScenarios executes all configured benchmark scenarios and saves the
// results when an output directory is set. A failing scenario is logged and
// skipped.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.RLock()
	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	bs.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			bs.log.WithField("scenario", scenario.Name).Warnf("Scenario failed: %v", err)
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		bs.log.WithFields(logrus.Fields{
			"scenario": scenario.Name,
			"ips":      fmt.Sprintf("%.2f", metrics.ImagesPerSecond),
			"p95_ms":   metrics.P95Latency.Milliseconds(),
		}).Info("Scenario completed")
	}

	if bs.outputDir == "" {
		return nil
	}
	_, err := bs.SaveResults()
	return err
}

// GetResults returns all benchmark results
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}

func (bs *Suite) newPipeline(scenario Scenario) (*pipeline.Pipeline, error) {
	cfg := preprocess.DefaultModelConfig()
	if scenario.Filter != "" {
		filter, err := images.ParseFilter(scenario.Filter)
		if err != nil {
			return nil, err
		}
		cfg.Filter = filter
	}

	pre, err := preprocess.NewPreprocessor(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pre, bs.classifier,
		pipeline.WithThreshold(bs.threshold),
		pipeline.WithLogger(bs.log),
	)
}

func (bs *Suite) inputs(scenario Scenario) ([]pipeline.UploadedImage, error) {
	bs.mu.RLock()
	corpus := bs.corpus
	bs.mu.RUnlock()

	if len(corpus) > 0 {
		inputs := make([]pipeline.UploadedImage, len(corpus))
		for i, f := range corpus {
			inputs[i] = pipeline.UploadedImage{Filename: f.Path, Format: f.Format, Data: f.Data}
		}
		return inputs, nil
	}

	data, err := SyntheticXray(scenario.Resolution.Width, scenario.Resolution.Height, scenario.ImageFormat, 1)
	if err != nil {
		return nil, err
	}
	return []pipeline.UploadedImage{{
		Filename: scenario.Name + "." + string(scenario.ImageFormat),
		Format:   string(scenario.ImageFormat),
		Data:     data,
	}}, nil
}

// SyntheticXray encodes a deterministic noisy grayscale image with a bright
// vertical band, roughly the intensity profile of a chest radiograph.
//
// Arguments:
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//   - format: preprocess.ImageFormatJPEG or preprocess.ImageFormatPNG.
//   - seed: The noise seed.
//
// Returns:
//   - []byte: The encoded image.
//   - error: An error if the dimensions or format are invalid.
func SyntheticXray(width, height int, format preprocess.ImageFormat, seed int64) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: %dx%d", width, height)
	}

	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, width, height))
	center := width / 2
	band := width / 8
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := 40 + rng.Intn(40)
			if x > center-band && x < center+band {
				v += 120
			}
			img.Pix[y*img.Stride+x] = uint8(v)
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case preprocess.ImageFormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case preprocess.ImageFormatPNG:
		err = png.Encode(&buf, img)
	default:
		return nil, errors.Errorf("unsupported image format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func percentile(latencies []time.Duration, q float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(q*float64(len(sorted)-1) + 0.5)
	return sorted[idx]
}
