package benchmark

import (
	"fmt"
	"os"

	"github.com/nvr-ai/go-xray/images"
	"github.com/nvr-ai/go-xray/preprocess"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Resolution represents upload dimensions for benchmarking
type Resolution struct {
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Name   string `json:"name" yaml:"name"`
}

// CommonResolutions are typical chest radiograph upload sizes.
var CommonResolutions = []Resolution{
	{Width: 224, Height: 224, Name: "224x224"},
	{Width: 512, Height: 512, Name: "512x512"},
	{Width: 1024, Height: 1024, Name: "1024x1024"},
	{Width: 2048, Height: 2500, Name: "2048x2500"},
}

// Scenario defines a specific test configuration
type Scenario struct {
	Name        string                 `json:"name" yaml:"name"`
	Resolution  Resolution             `json:"resolution" yaml:"resolution"`
	ImageFormat preprocess.ImageFormat `json:"image_format" yaml:"image_format"`
	Filter      string                 `json:"filter" yaml:"filter"`
	Iterations  int                    `json:"iterations" yaml:"iterations"`
	WarmupRuns  int                    `json:"warmup_runs" yaml:"warmup_runs"`
}

// ScenarioBuilder helps build test scenarios with fluent API
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:        name,
			Resolution:  CommonResolutions[1],
			ImageFormat: preprocess.ImageFormatJPEG,
			Filter:      images.DefaultFilter.String(),
			Iterations:  100,
			WarmupRuns:  10,
		},
	}
}

// WithResolution sets the image resolution
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.Resolution = Resolution{
		Width:  width,
		Height: height,
		Name:   fmt.Sprintf("%dx%d", width, height),
	}
	return sb
}

// WithImageFormat sets the image format
func (sb *ScenarioBuilder) WithImageFormat(format preprocess.ImageFormat) *ScenarioBuilder {
	sb.scenario.ImageFormat = format
	return sb
}

// WithFilter sets the resampling filter
func (sb *ScenarioBuilder) WithFilter(filter images.ResampleFilter) *ScenarioBuilder {
	sb.scenario.Filter = filter.String()
	return sb
}

// WithIterations sets the number of test iterations
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of warmup runs
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// Build returns the configured test scenario
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ScenarioSet represents a collection of related test scenarios
type ScenarioSet struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Scenarios   []Scenario `json:"scenarios" yaml:"scenarios"`
}

// QuickScenarios returns a small JPEG-only set at the model size and a typical upload size.
func QuickScenarios() *ScenarioSet {
	scenarios := make([]Scenario, 0, 2)
	for _, resolution := range CommonResolutions[:2] {
		scenarios = append(scenarios, NewScenarioBuilder("quick_"+resolution.Name).
			WithResolution(resolution.Width, resolution.Height).
			WithIterations(50).
			WithWarmupRuns(5).
			Build())
	}

	return &ScenarioSet{
		Name:        "Quick Performance Test",
		Description: "JPEG uploads at the model input size and a typical upload size",
		Scenarios:   scenarios,
	}
}

// ResolutionScenarios compares upload sizes with the default filter.
func ResolutionScenarios() *ScenarioSet {
	scenarios := make([]Scenario, 0, len(CommonResolutions)*2)
	for _, resolution := range CommonResolutions {
		for _, format := range []preprocess.ImageFormat{preprocess.ImageFormatJPEG, preprocess.ImageFormatPNG} {
			scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("resolution_%s_%s", resolution.Name, format)).
				WithResolution(resolution.Width, resolution.Height).
				WithImageFormat(format).
				Build())
		}
	}

	return &ScenarioSet{
		Name:        "Resolution Comparison",
		Description: "Compares upload sizes and formats with the default resampling filter",
		Scenarios:   scenarios,
	}
}

// FilterScenarios compares resampling filters on the same upload.
func FilterScenarios(resolution Resolution) *ScenarioSet {
	filters := []images.ResampleFilter{
		images.NearestNeighborFilter,
		images.BilinearFilter,
		images.BicubicFilter,
		images.MitchellNetravaliFilter,
		images.Lanczos3Filter,
	}

	scenarios := make([]Scenario, 0, len(filters))
	for _, filter := range filters {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("filter_%s_%s", resolution.Name, filter)).
			WithResolution(resolution.Width, resolution.Height).
			WithFilter(filter).
			Build())
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Filter Comparison @ %s", resolution.Name),
		Description: "Compares resampling filters; scores differ near the threshold between kernels",
		Scenarios:   scenarios,
	}
}

// SaveScenarioSet saves a scenario set to a YAML file
func SaveScenarioSet(scenarioSet *ScenarioSet, filename string) error {
	data, err := yaml.Marshal(scenarioSet)
	if err != nil {
		return errors.Wrap(err, "failed to marshal scenario set")
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write scenario file")
	}
	return nil
}

// LoadScenarioSet loads a scenario set from a YAML file
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario file")
	}

	var scenarioSet ScenarioSet
	if err := yaml.Unmarshal(data, &scenarioSet); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal scenario set")
	}
	return &scenarioSet, nil
}
