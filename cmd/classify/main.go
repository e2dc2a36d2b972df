package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nvr-ai/go-xray/config"
	"github.com/nvr-ai/go-xray/logging"
	"github.com/nvr-ai/go-xray/pipeline"
	"github.com/nvr-ai/go-xray/service"
	"github.com/nvr-ai/go-xray/util"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath string
		imagePath  string
		dirPath    string
		threshold  float64
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	flag.StringVar(&imagePath, "image", "", "Path to a single image file (.jpg, .jpeg, .png)")
	flag.StringVar(&dirPath, "dir", "", "Directory of image files to classify")
	flag.Float64Var(&threshold, "threshold", -1, "Override the decision threshold in [0, 1]")
	flag.Parse()

	if (imagePath == "") == (dirPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -image or -dir is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if threshold >= 0 {
		cfg.Inference.Threshold = threshold
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, NoColors: cfg.Log.NoColors})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	paths := []string{imagePath}
	if dirPath != "" {
		paths, err = util.ListDirectoryImageFiles(dirPath)
		if err != nil {
			logger.Fatalf("Error listing images: %v", err)
		}
	}

	svc, err := service.New(cfg, logger, nil)
	if err != nil {
		logger.Fatalf("Error loading model: %v", err)
	}
	defer svc.Close()

	failed := classifyAll(context.Background(), svc.Pipeline, paths, os.Stdout, logger)

	m := svc.Metrics()
	logger.WithFields(logrus.Fields{
		"files":      len(paths),
		"failed":     failed,
		"average_ms": m.AverageTime.Milliseconds(),
	}).Info("Batch complete")

	if failed > 0 {
		svc.Close()
		os.Exit(1)
	}
}

// classifyAll writes one "file<TAB>label<TAB>score" line per path. A failing
// file is reported on its line and does not stop the batch.
func classifyAll(ctx context.Context, p *pipeline.Pipeline, paths []string, out io.Writer, log logrus.FieldLogger) int {
	failed := 0
	for _, path := range paths {
		file, err := util.LoadImageFile(path)
		if err != nil {
			failed++
			log.WithField("file", path).Warnf("Skipping: %v", err)
			fmt.Fprintf(out, "%s\terror\t%v\n", path, err)
			continue
		}

		result, err := p.Classify(ctx, pipeline.UploadedImage{Filename: path, Format: file.Format, Data: file.Data})
		if err != nil {
			failed++
			log.WithFields(logrus.Fields{"file": path, "code": pipeline.KindOf(err).Code()}).Warnf("Classification failed: %v", err)
			fmt.Fprintf(out, "%s\terror\t%s\n", path, pipeline.KindOf(err).Code())
			continue
		}

		fmt.Fprintf(out, "%s\t%s\t%.4f\n", path, result.Label, result.Score)
	}
	return failed
}
