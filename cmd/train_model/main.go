package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"findmyway/config"
	"findmyway/db"
	"findmyway/locator"
	"findmyway/survey"
	"findmyway/training"
)

// Config holds training configuration
type Config struct {
	SurveyPath string
	OutputPath string
	K          int
	Policy     string
	Publish    bool
	Verbose    bool
}

func main() {
	appCfg, err := config.Load()
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	cfg := parseFlags(appCfg)

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Wi-Fi Fingerprint Training Pipeline ===\n")
	log.Printf("Survey: %s\n", cfg.SurveyPath)
	log.Printf("Output model: %s\n", cfg.OutputPath)
	log.Println()

	startTime := time.Now()

	// Step 1: Load survey
	log.Println("Step 1: Loading survey records...")
	records, err := survey.LoadRecords(cfg.SurveyPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load survey: %v", err)
	}
	log.Printf("Loaded %d records\n", len(records))
	log.Println()

	// Step 2: Build fingerprint space
	log.Printf("Step 2: Building training set (policy=%s)...\n", cfg.Policy)
	builder, err := locator.NewBuilder(locator.SamplingPolicy(cfg.Policy))
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	set, err := builder.Build(records)
	if err != nil {
		log.Fatalf("ERROR: Failed to build training set: %v", err)
	}

	model, err := locator.NewModel(set, cfg.K)
	if err != nil {
		log.Fatalf("ERROR: Failed to train model: %v", err)
	}
	log.Printf("Trained generation %s: %d access points, %d samples\n",
		model.Generation(), set.Space.Dim(), len(set.Pairs))
	log.Println()

	// Step 3: Save artifact
	log.Println("Step 3: Saving model to disk...")
	blob, err := model.Encode()
	if err != nil {
		log.Fatalf("ERROR: Failed to encode model: %v", err)
	}
	store := locator.FileArtifactStore{Path: cfg.OutputPath}
	if err := store.SaveModel(context.Background(), blob); err != nil {
		log.Fatalf("ERROR: Failed to save model: %v", err)
	}
	log.Printf("Model saved to: %s\n", cfg.OutputPath)

	if cfg.Publish {
		// Step 4: Import into the shared store and retrain from its full survey
		log.Printf("Step 4: Publishing to %s store...\n", appCfg.Store.Type)
		if err := publishToStore(appCfg.Store, records, cfg); err != nil {
			log.Fatalf("ERROR: Failed to publish model: %v", err)
		}
	}
	log.Println()

	printTrainingSummary(model, time.Since(startTime), cfg.Verbose)
}

// parseFlags reads the command line. Defaults come from the service
// environment (SURVEY_CSV, MODEL_PATH, MODEL_K, SAMPLING_POLICY).
func parseFlags(appCfg *config.Config) Config {
	cfg := Config{}

	surveyPath := appCfg.SurveyCSV
	if surveyPath == "" {
		surveyPath = "train.csv"
	}

	flag.StringVar(&cfg.SurveyPath, "survey", surveyPath,
		"Survey CSV with BSSID, Signal Strength dBm and Location columns")
	flag.StringVar(&cfg.OutputPath, "output", appCfg.ModelPath,
		"Output path for the model artifact")
	flag.IntVar(&cfg.K, "k", appCfg.K,
		"Number of neighbours")
	flag.StringVar(&cfg.Policy, "policy", string(appCfg.Policy),
		"Sampling policy: per-reading, per-location or per-scan")
	flag.BoolVar(&cfg.Publish, "publish", false,
		"Import the survey into the store configured by DB_TYPE and retrain its model from the full stored survey")
	flag.BoolVar(&cfg.Verbose, "verbose", false,
		"Print per-label sample counts")

	flag.Parse()

	if _, err := os.Stat(cfg.SurveyPath); os.IsNotExist(err) {
		log.Fatalf("ERROR: Survey file does not exist: %s", cfg.SurveyPath)
	}

	return cfg
}

func publishToStore(opts db.Options, records []locator.SurveyRecord, cfg Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := db.NewStore(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	added, model, err := publish(ctx, store, records, cfg.K, locator.SamplingPolicy(cfg.Policy))
	if err != nil {
		return err
	}
	log.Printf("Imported %d new records (%d already stored)\n", added, len(records)-added)
	log.Printf("Published generation %s with %d locations\n", model.Generation(), len(model.Labels()))
	return nil
}

// publish imports records the store does not hold yet, then retrains from the
// store's whole survey and saves that model as the latest generation.
func publish(ctx context.Context, store training.Store, records []locator.SurveyRecord, k int, policy locator.SamplingPolicy) (int, *locator.Model, error) {
	classifier, err := locator.NewClassifier(k)
	if err != nil {
		return 0, nil, err
	}
	trainer, err := training.NewTrainer(store, classifier, policy)
	if err != nil {
		return 0, nil, err
	}

	added, err := trainer.Import(ctx, records)
	if err != nil {
		return 0, nil, err
	}
	model, err := trainer.Retrain(ctx)
	if err != nil {
		return added, nil, fmt.Errorf("retraining from store: %w", err)
	}
	return added, model, nil
}

func printTrainingSummary(model *locator.Model, elapsed time.Duration, verbose bool) {
	stats := model.Stats()

	fmt.Println("=== Training Summary ===")
	fmt.Printf("Generation:     %s\n", stats.Generation)
	fmt.Printf("Policy:         %s\n", stats.Policy)
	fmt.Printf("K:              %d\n", stats.K)
	fmt.Printf("Access points:  %d\n", stats.APCount)
	fmt.Printf("Samples:        %d\n", stats.SampleCount)
	fmt.Printf("Locations:      %d\n", len(stats.Labels))
	fmt.Printf("Processing:     %s\n", elapsed.Round(time.Millisecond))

	if verbose {
		fmt.Println()
		for _, label := range stats.Labels {
			fmt.Printf("  %-30s %d\n", label.Label, label.Samples)
		}
	}
}
