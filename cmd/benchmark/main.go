package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nvr-ai/go-xray/benchmark"
	"github.com/nvr-ai/go-xray/config"
	"github.com/nvr-ai/go-xray/logging"
	"github.com/nvr-ai/go-xray/service"
	"github.com/nvr-ai/go-xray/util"
)

func main() {
	var (
		configFile   = flag.String("config", "", "Path to the YAML service configuration")
		scenarioFile = flag.String("scenarios", "", "Path to a YAML scenario set")
		outputDir    = flag.String("output", "./benchmark_results", "Output directory for results")
		testImages   = flag.String("images", "", "Directory of real X-ray images to use instead of synthetic inputs")
		resolutions  = flag.Bool("resolutions", false, "Compare upload resolutions and formats")
		filters      = flag.Bool("filters", false, "Compare resampling filters")
		timeout      = flag.Duration("timeout", 30*time.Minute, "Benchmark timeout duration")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, NoColors: cfg.Log.NoColors})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	svc, err := service.New(cfg, logger, nil)
	if err != nil {
		logger.Fatalf("Error loading model: %v", err)
	}
	defer svc.Close()

	suite := benchmark.NewSuite(benchmark.NewSuiteArgs{
		Classifier: svc.Classifier,
		Threshold:  cfg.Inference.Threshold,
		OutputPath: *outputDir,
		Logger:     logger,
	})

	if *testImages != "" {
		files, err := util.LoadDirectoryImageFiles(*testImages)
		if err != nil {
			logger.Fatalf("Failed to load images: %v", err)
		}
		suite.UseCorpus(files)
		logger.WithField("files", len(files)).Info("Loaded corpus")
	}

	var sets []*benchmark.ScenarioSet
	switch {
	case *scenarioFile != "":
		set, err := benchmark.LoadScenarioSet(*scenarioFile)
		if err != nil {
			logger.Fatalf("Failed to load scenario file: %v", err)
		}
		sets = append(sets, set)
	default:
		if *resolutions {
			sets = append(sets, benchmark.ResolutionScenarios())
		}
		if *filters {
			sets = append(sets, benchmark.FilterScenarios(benchmark.CommonResolutions[2]))
		}
		if len(sets) == 0 {
			sets = append(sets, benchmark.QuickScenarios())
		}
	}

	for _, set := range sets {
		for _, scenario := range set.Scenarios {
			suite.AddScenario(scenario)
		}
		logger.WithField("set", set.Name).Infof("Added %d scenarios", len(set.Scenarios))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	if err := suite.RunAllScenarios(ctx); err != nil {
		logger.Errorf("Benchmark execution failed: %v", err)
		svc.Close()
		os.Exit(1)
	}

	results := suite.GetResults()
	fmt.Printf("\n=== BENCHMARK RESULTS SUMMARY (%v) ===\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Total scenarios: %d\n", len(results))

	var bestIPS float64
	var bestScenario string
	for _, result := range results {
		if result.ImagesPerSecond > bestIPS {
			bestIPS = result.ImagesPerSecond
			bestScenario = result.Scenario.Name
		}
		fmt.Printf("  %s: %.2f img/s, p95 %v (%.2f MB)\n",
			result.Scenario.Name,
			result.ImagesPerSecond,
			result.P95Latency,
			float64(result.MemoryStats.AllocBytes)/(1024*1024))
	}

	fmt.Printf("\nBest performing scenario: %s (%.2f img/s)\n", bestScenario, bestIPS)
	m := svc.Metrics()
	fmt.Printf("Classifier: %d runs, average %v\n", m.InferenceCount, m.AverageTime)
}

func init() {
	flag.Usage = func() {
		name := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", name)
		fmt.Fprintf(os.Stderr, "Benchmark tool for the X-ray classification pipeline.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -config ./config.yaml\n", name)
		fmt.Fprintf(os.Stderr, "  %s -config ./config.yaml -resolutions -filters\n", name)
		fmt.Fprintf(os.Stderr, "  %s -config ./config.yaml -images ./xrays -scenarios ./scenarios.yaml\n", name)
	}
}
