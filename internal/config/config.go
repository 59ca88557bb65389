package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Sink kinds accepted by MEASURE_SINK.
const (
	SinkParquet    = "parquet"
	SinkClickHouse = "clickhouse"
	SinkPostgres   = "postgres"
	SinkSQLite     = "sqlite"
)

// Config holds application configuration.
type Config struct {
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Region    string

	InventoryBucket string
	InventoryPrefix string
	IndexPrefix     string

	MeasureJobs             int
	MeasureBatchSize        int
	MeasurePartitionTimeout time.Duration
	MeasureSink             string

	ClickHouseHost     string
	ClickHousePort     string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string
	ClickHouseTable    string

	PostgresDSN string
	SQLitePath  string
	SQLTable    string

	LogLevel slog.Level
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

type ErrInvalidEnvVar struct {
	Name  string
	Value string
	Err   error
}

func (e *ErrInvalidEnvVar) Error() string {
	return fmt.Sprintf("environment variable %q has invalid value %q: %v", e.Name, e.Value, e.Err)
}

func (e *ErrInvalidEnvVar) Unwrap() error {
	return e.Err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParser collects the first parse failure so Load can read every
// variable before reporting.
type envParser struct {
	err error
}

func (p *envParser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = &ErrInvalidEnvVar{Name: key, Value: value, Err: err}
	}
}

func (p *envParser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
	}
	return b
}

func (p *envParser) positiveInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err == nil && n <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err == nil && d < 0 {
		err = errors.New("must not be negative")
	}
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

func (p *envParser) level(key string) slog.Level {
	var l slog.Level
	v := os.Getenv(key)
	if v == "" {
		return slog.LevelInfo
	}
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, v, err)
		return slog.LevelInfo
	}
	return l
}

// Load reads configuration from environment variables.
// Returns an error if a variable is malformed.
func Load() (*Config, error) {
	var p envParser
	config := &Config{
		S3Endpoint:  getEnv("S3_ENDPOINT", "s3.amazonaws.com"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:    p.bool("S3_USE_SSL", true),
		S3Region:    getEnv("S3_REGION", "us-east-1"),

		InventoryBucket: getEnv("INVENTORY_BUCKET", "cellpainting-gallery-inventory"),
		InventoryPrefix: getEnv("INVENTORY_PREFIX", "cellpainting-gallery/whole_bucket/"),
		IndexPrefix:     getEnv("INDEX_PREFIX", "cellpainting-gallery/index"),

		MeasureJobs:             p.positiveInt("MEASURE_JOBS", runtime.NumCPU()),
		MeasureBatchSize:        p.positiveInt("MEASURE_BATCH_SIZE", 10000),
		MeasurePartitionTimeout: p.duration("MEASURE_PARTITION_TIMEOUT", 0),
		MeasureSink:             strings.ToLower(getEnv("MEASURE_SINK", SinkParquet)),

		ClickHouseHost:     os.Getenv("CLICKHOUSE_HOST"),
		ClickHousePort:     getEnv("CLICKHOUSE_PORT", "9000"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "cpg"),
		ClickHouseTable:    getEnv("CLICKHOUSE_TABLE", "measurements"),

		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		SQLTable:    getEnv("SQL_TABLE", "measurements"),

		LogLevel: p.level("LOG_LEVEL"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := config.ValidateSink(); err != nil {
		return nil, err
	}
	return config, nil
}

// ValidateSink checks MeasureSink and the variables that sink requires.
// Call it again after overriding MeasureSink from a flag.
func (c *Config) ValidateSink() error {
	switch c.MeasureSink {
	case SinkParquet:
	case SinkClickHouse:
		if c.ClickHouseHost == "" {
			return &ErrMissingRequiredEnvVar{Name: "CLICKHOUSE_HOST"}
		}
	case SinkPostgres:
		if c.PostgresDSN == "" {
			return &ErrMissingRequiredEnvVar{Name: "POSTGRES_DSN"}
		}
	case SinkSQLite:
		if c.SQLitePath == "" {
			return &ErrMissingRequiredEnvVar{Name: "SQLITE_PATH"}
		}
	default:
		return &ErrInvalidEnvVar{
			Name:  "MEASURE_SINK",
			Value: c.MeasureSink,
			Err:   fmt.Errorf("must be one of %s, %s, %s, %s", SinkParquet, SinkClickHouse, SinkPostgres, SinkSQLite),
		}
	}
	return nil
}
