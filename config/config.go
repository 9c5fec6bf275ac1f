package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"findmyway/db"
	"findmyway/locator"
	"findmyway/utils"
)

type Config struct {
	Port string

	Store db.Options

	// Model
	K            int
	Policy       locator.SamplingPolicy
	ModelPath    string // artifact file written and read by cmd/train_model and cmd/evaluate_model
	SurveyCSV    string
	TestCSV      string
	RetrainEvery time.Duration

	// MQTT, disabled when Broker is empty
	MQTTBroker        string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	MQTTScanTopic     string
	MQTTLocationTopic string
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: utils.GetEnv("PORT", "5000"),
		Store: db.Options{
			Type:       strings.ToLower(utils.GetEnv("DB_TYPE", "sqlite")),
			SQLitePath: utils.GetEnv("SQLITE_PATH", "data/findmyway.sqlite3"),
			MongoURI:   utils.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDB:    utils.GetEnv("MONGO_DB", "findmyway"),
			DataDir:    utils.GetEnv("DATA_DIR", "data"),
		},
		Policy:            locator.SamplingPolicy(utils.GetEnv("SAMPLING_POLICY", string(locator.PerReading))),
		ModelPath:         utils.GetEnv("MODEL_PATH", "data/wifi_model.json"),
		SurveyCSV:         utils.GetEnv("SURVEY_CSV"),
		TestCSV:           utils.GetEnv("TEST_CSV", "data/testing_data.csv"),
		MQTTBroker:        utils.GetEnv("MQTT_BROKER"),
		MQTTClientID:      utils.GetEnv("MQTT_CLIENT_ID", "findmyway"),
		MQTTUsername:      utils.GetEnv("MQTT_USERNAME"),
		MQTTPassword:      utils.GetEnv("MQTT_PASSWORD"),
		MQTTScanTopic:     utils.GetEnv("MQTT_SCAN_TOPIC", "findmyway/scans/+"),
		MQTTLocationTopic: strings.TrimSuffix(utils.GetEnv("MQTT_LOCATION_TOPIC", "findmyway/locations"), "/"),
	}

	k, err := strconv.Atoi(utils.GetEnv("MODEL_K", strconv.Itoa(locator.DefaultNeighbors)))
	if err != nil || k <= 0 {
		return nil, fmt.Errorf("invalid MODEL_K: must be a positive integer")
	}
	cfg.K = k

	if !cfg.Policy.Valid() {
		return nil, fmt.Errorf("invalid SAMPLING_POLICY %q", cfg.Policy)
	}

	interval, err := time.ParseDuration(utils.GetEnv("RETRAIN_INTERVAL", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETRAIN_INTERVAL: %w", err)
	}
	if interval < 0 {
		return nil, fmt.Errorf("invalid RETRAIN_INTERVAL: must not be negative")
	}
	cfg.RetrainEvery = interval

	return cfg, nil
}
