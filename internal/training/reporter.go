package training

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Report file names.
const (
	SummaryFile       = "summary.txt"
	MetricsFile       = "metrics.json"
	ThresholdScanFile = "threshold_scan.csv"
)

// Reporter writes the report of a training run
type Reporter struct {
	result     *Result
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(result *Result, outputPath string) *Reporter {
	return &Reporter{
		result:     result,
		outputPath: outputPath,
	}
}

// GenerateReport generates all report formats
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}

	if err := r.generateJSONReport(); err != nil {
		return err
	}

	if err := r.generateThresholdScan(); err != nil {
		return err
	}

	return nil
}

// generateSummary generates a human-readable summary
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, SummaryFile)
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	res := r.result
	eval := res.Evaluation

	fmt.Fprintf(file, "MODEL RETRAINING SUMMARY\n")
	fmt.Fprintf(file, "========================\n\n")

	fmt.Fprintf(file, "Version: %s\n", res.Version)
	fmt.Fprintf(file, "Artifact: %s\n", res.ArtifactPath)
	if res.RunID != "" {
		fmt.Fprintf(file, "Run ID: %s\n", res.RunID)
	}
	fmt.Fprintf(file, "Started: %s\n", res.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(file, "Duration: %s\n\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	fmt.Fprintf(file, "DATA\n")
	fmt.Fprintf(file, "----\n")
	fmt.Fprintf(file, "Features: %d\n", len(res.Features))
	fmt.Fprintf(file, "Train Rows: %d\n", res.TrainRows)
	fmt.Fprintf(file, "Test Rows: %d\n\n", res.TestRows)

	fmt.Fprintf(file, "HELD-OUT METRICS\n")
	fmt.Fprintf(file, "----------------\n")
	fmt.Fprintf(file, "AUC: %.4f\n", eval.AUC)
	fmt.Fprintf(file, "Accuracy: %.4f\n", eval.Accuracy)
	fmt.Fprintf(file, "Recall: %.4f\n", eval.Recall)
	fmt.Fprintf(file, "F1: %.4f\n\n", eval.F1)

	fmt.Fprintf(file, "BUSINESS CALIBRATION\n")
	fmt.Fprintf(file, "--------------------\n")
	fmt.Fprintf(file, "Optimal Threshold: %.2f\n", eval.Threshold)
	fmt.Fprintf(file, "Business Score: %.0f\n", eval.BusinessScore)

	if len(res.Params) > 0 {
		fmt.Fprintf(file, "\nPARAMETERS\n")
		fmt.Fprintf(file, "----------\n")
		names := make([]string, 0, len(res.Params))
		for name := range res.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(file, "%s: %g\n", name, res.Params[name])
		}
	}

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

// generateJSONReport generates a JSON report with the run result
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, MetricsFile)

	report := map[string]interface{}{
		"result":       r.result,
		"metrics":      r.result.Evaluation.Metrics(),
		"generated_at": time.Now().UTC(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// generateThresholdScan writes the cost of every candidate threshold
func (r *Reporter) generateThresholdScan() error {
	csvPath := filepath.Join(r.outputPath, ThresholdScanFile)
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create threshold scan: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"Threshold", "Cost", "False Negatives", "False Positives"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range r.result.Scan {
		record := []string{
			fmt.Sprintf("%.2f", point.Threshold),
			fmt.Sprintf("%.0f", point.Cost),
			fmt.Sprintf("%d", point.FalseNegatives),
			fmt.Sprintf("%d", point.FalsePositives),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write threshold scan: %w", err)
	}

	log.Info().Str("file", csvPath).Msg("Threshold scan generated")
	return nil
}
