package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config lists the tunable parameters for the tracking server.
type Config struct {
	HTTPPort     int
	MetricsPort  int
	DatabasePath string
	MQTTBroker   string // empty means discover via mDNS
	LogLevel     string

	EtollGeofence            bool
	EtollTrustStorePath      string
	EtollTrustStorePassword  string
	EtollClientStorePath     string
	EtollClientStorePassword string
	EtollSubmissionURL       string
	EtollBatchSize           int
	EtollCyclePeriod         time.Duration
}

const (
	defaultHTTPPort     = 8082
	defaultMetricsPort  = 9090
	defaultDatabasePath = "data/tracker.db"
	defaultLogLevel     = "info"

	defaultEtollBatchSize   = 2000
	defaultEtollCyclePeriod = 600 * time.Second
)

// Load derives configuration values from environment variables, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:         defaultHTTPPort,
		MetricsPort:      defaultMetricsPort,
		DatabasePath:     defaultDatabasePath,
		LogLevel:         defaultLogLevel,
		EtollBatchSize:   defaultEtollBatchSize,
		EtollCyclePeriod: defaultEtollCyclePeriod,
	}

	if v := os.Getenv("TRACKER_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TRACKER_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("TRACKER_METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TRACKER_METRICS_PORT: %w", err)
		}
		cfg.MetricsPort = port
	}

	if v := os.Getenv("TRACKER_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("TRACKER_MQTT_BROKER"); v != "" {
		cfg.MQTTBroker = v
	}

	if v := os.Getenv("TRACKER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("ETOLL_GEOFENCE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ETOLL_GEOFENCE: %w", err)
		}
		cfg.EtollGeofence = enabled
	}

	cfg.EtollTrustStorePath = os.Getenv("ETOLL_TRUSTSTORE_PATH")
	cfg.EtollTrustStorePassword = os.Getenv("ETOLL_TRUSTSTORE_PASSWORD")
	cfg.EtollClientStorePath = os.Getenv("ETOLL_CLIENTSTORE_PATH")
	cfg.EtollClientStorePassword = os.Getenv("ETOLL_CLIENTSTORE_PASSWORD")
	cfg.EtollSubmissionURL = os.Getenv("ETOLL_SUBMISSION_URL")

	if v := os.Getenv("ETOLL_BATCH_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return Config{}, fmt.Errorf("invalid ETOLL_BATCH_SIZE: %q", v)
		}
		cfg.EtollBatchSize = size
	}

	if v := os.Getenv("ETOLL_CYCLE_PERIOD"); v != "" {
		period, err := time.ParseDuration(v)
		if err != nil || period <= 0 {
			return Config{}, fmt.Errorf("invalid ETOLL_CYCLE_PERIOD: %q", v)
		}
		cfg.EtollCyclePeriod = period
	}

	return cfg, nil
}
