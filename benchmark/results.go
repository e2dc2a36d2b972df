package benchmark

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SaveResults persists benchmark results to the output directory as a
// detailed JSON file and a summary CSV.
//
// Returns:
//   - []string: The written file paths.
//   - error: An error if the directory or files cannot be written.
func (bs *Suite) SaveResults() ([]string, error) {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return nil, errors.Wrap(err, "failed to save summary CSV")
	}

	bs.log.WithFields(logrus.Fields{
		"results": resultsFile,
		"summary": summaryFile,
	}).Info("Results saved")

	return []string{resultsFile, summaryFile}, nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{
		"Scenario", "Resolution", "Format", "Filter", "IPS",
		"P50_ms", "P95_ms", "Preprocess_ms", "Inference_ms", "Alloc_MB", "Pneumonia", "Error_Rate",
	}); err != nil {
		return err
	}

	for _, r := range results {
		n := float64(r.Scenario.Iterations)
		if err := w.Write([]string{
			r.Scenario.Name,
			r.Scenario.Resolution.Name,
			string(r.Scenario.ImageFormat),
			r.Scenario.Filter,
			strconv.FormatFloat(r.ImagesPerSecond, 'f', 2, 64),
			millis(r.P50Latency),
			millis(r.P95Latency),
			strconv.FormatFloat(float64(r.PreprocessDuration.Microseconds())/1000/n, 'f', 3, 64),
			strconv.FormatFloat(float64(r.InferenceDuration.Microseconds())/1000/n, 'f', 3, 64),
			strconv.FormatFloat(float64(r.MemoryStats.AllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.Itoa(r.PneumoniaCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 3, 64)
}
