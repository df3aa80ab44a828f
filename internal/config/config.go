package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Realtime database connection.
	FirebaseDatabaseURL     string
	FirebaseProjectID       string
	FirebaseDataPath        string
	FirebaseCredentialsFile string
	FirebaseCredentialsJSON string
	FirebaseAuthToken       string
	FirebaseTimeout         time.Duration
	FirebaseMaxRetries      int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Optional publishing of normalized rows.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool

	ExportInterval time.Duration
	ChartMaxBars   int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	firebaseTimeout, err := parsePositiveDuration("FIREBASE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	maxRetries, err := parseInt("FIREBASE_MAX_RETRIES", 3, 0, 10)
	if err != nil {
		return nil, err
	}

	exportInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("EXPORT_INTERVAL", "0s"))
	if err != nil || exportInterval < 0 {
		return nil, errors.New("invalid EXPORT_INTERVAL")
	}

	chartMaxBars, err := parseInt("CHART_MAX_BARS", 50, 1, 1000)
	if err != nil {
		return nil, err
	}

	brokers := parseList(os.Getenv("KAFKA_BROKERS"))

	cfg := &Config{
		FirebaseDatabaseURL:     strings.TrimRight(sharedcfg.EnvOrDefault("FIREBASE_DATABASE_URL", "https://soil-monitor-badbe-default-rtdb.firebaseio.com"), "/"),
		FirebaseProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		FirebaseDataPath:        strings.Trim(sharedcfg.EnvOrDefault("FIREBASE_DATA_PATH", "soil_data"), "/"),
		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		FirebaseCredentialsJSON: os.Getenv("FIREBASE_CREDENTIALS_JSON"),
		FirebaseAuthToken:       os.Getenv("FIREBASE_AUTH_TOKEN"),
		FirebaseTimeout:         firebaseTimeout,
		FirebaseMaxRetries:      maxRetries,
		HTTPAddr:                sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:                sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:               sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:         shutdownTimeout,
		KafkaBrokers:            brokers,
		KafkaTopic:              sharedcfg.EnvOrDefault("KAFKA_TOPIC", "soil-readings"),
		KafkaEnabled:            len(brokers) > 0,
		ExportInterval:          exportInterval,
		ChartMaxBars:            chartMaxBars,
	}

	u, err := url.Parse(cfg.FirebaseDatabaseURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, errors.New("FIREBASE_DATABASE_URL must be an absolute http(s) URL")
	}
	// Plain http is only served by the database emulator, which needs the namespace.
	if u.Scheme == "http" && u.Query().Get("ns") == "" {
		return nil, errors.New("FIREBASE_DATABASE_URL over http must name the emulator namespace with ?ns=")
	}
	if cfg.FirebaseDataPath == "" {
		return nil, errors.New("FIREBASE_DATA_PATH is required")
	}
	if cfg.FirebaseCredentialsFile != "" && cfg.FirebaseCredentialsJSON != "" {
		return nil, errors.New("set only one of FIREBASE_CREDENTIALS_FILE and FIREBASE_CREDENTIALS_JSON")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// Credentials returns the service-account JSON, reading the credentials file
// when one is configured. It returns nil when neither is set.
func (c *Config) Credentials() ([]byte, error) {
	if c.FirebaseCredentialsJSON != "" {
		return []byte(c.FirebaseCredentialsJSON), nil
	}
	if c.FirebaseCredentialsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.FirebaseCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read FIREBASE_CREDENTIALS_FILE: %w", err)
	}
	return data, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
