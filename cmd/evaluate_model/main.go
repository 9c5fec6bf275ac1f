package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"findmyway/config"
	"findmyway/locator"
	"findmyway/survey"
)

// EvaluationConfig holds evaluation configuration
type EvaluationConfig struct {
	ModelPath  string
	TestPath   string
	ReportPath string
	Verbose    bool
}

func main() {
	appCfg, err := config.Load()
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	cfg := parseFlags(appCfg)

	log.SetFlags(log.Ldate | log.Ltime)
	log.Printf("=== Wi-Fi Fingerprint Model Evaluation ===\n")
	log.Printf("Model: %s\n", cfg.ModelPath)
	log.Printf("Test data: %s\n", cfg.TestPath)
	log.Println()

	startTime := time.Now()

	store := locator.FileArtifactStore{Path: cfg.ModelPath}
	blob, err := store.LoadModel(context.Background())
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	model, err := locator.DecodeModel(blob)
	if err != nil {
		log.Fatalf("ERROR: Failed to decode model: %v", err)
	}
	log.Printf("Loaded generation %s (k=%d, %d access points)\n",
		model.Generation(), model.K(), model.Space().Dim())

	records, err := survey.LoadRecords(cfg.TestPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load test data: %v", err)
	}
	log.Printf("Loaded %d test records\n", len(records))
	log.Println()

	report, err := locator.Evaluate(model, records)
	if err != nil {
		log.Fatalf("ERROR: Evaluation failed: %v", err)
	}

	printEvaluationReport(report, cfg.Verbose)
	fmt.Printf("\nProcessing time: %s\n", time.Since(startTime).Round(time.Millisecond))

	if cfg.ReportPath != "" {
		if err := saveReport(cfg.ReportPath, report); err != nil {
			log.Fatalf("ERROR: Failed to save report: %v", err)
		}
		log.Printf("Report saved to: %s\n", cfg.ReportPath)
	}
}

// parseFlags reads the command line. Defaults come from MODEL_PATH and TEST_CSV.
func parseFlags(appCfg *config.Config) EvaluationConfig {
	cfg := EvaluationConfig{}

	flag.StringVar(&cfg.ModelPath, "model", appCfg.ModelPath,
		"Path to the trained model artifact")
	flag.StringVar(&cfg.TestPath, "test", appCfg.TestCSV,
		"Held-out survey CSV")
	flag.StringVar(&cfg.ReportPath, "report", "",
		"Optional path for a JSON report")
	flag.BoolVar(&cfg.Verbose, "verbose", false,
		"Print neighbours for each prediction")

	flag.Parse()

	if _, err := os.Stat(cfg.TestPath); os.IsNotExist(err) {
		log.Fatalf("ERROR: Test file does not exist: %s", cfg.TestPath)
	}

	return cfg
}

func printEvaluationReport(report locator.EvaluationReport, verbose bool) {
	fmt.Println("=== Evaluation Results ===")
	for _, result := range report.Results {
		mark := "✓"
		if result.Actual != result.Predicted {
			mark = "✗"
		}
		fmt.Printf("%s Actual: %s → Predicted: %s (confidence %.2f)\n",
			mark, result.Actual, result.Predicted, result.Prediction.Confidence)

		if verbose {
			for _, n := range result.Prediction.Neighbors {
				fmt.Printf("    %-30s %.3f\n", n.Label, n.Distance)
			}
		}
	}

	fmt.Println()
	fmt.Printf("Accuracy: %.2f%% (%d/%d)\n", report.Accuracy*100, report.Correct, report.Total)

	if len(report.MissingLabels) > 0 {
		fmt.Println()
		fmt.Println("Locations missing from the training data:")
		for _, label := range report.MissingLabels {
			fmt.Printf("  - %s\n", label)
		}
	}
}

func saveReport(path string, report locator.EvaluationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}
