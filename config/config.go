package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Southpool SouthpoolConfig `yaml:"southpool"`
	Source    SourceConfig    `yaml:"source"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type SouthpoolConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	URL15Min  string          `yaml:"url_15min"`
	URLHourly string          `yaml:"url_hourly"`
	Timeout   time.Duration   `yaml:"timeout"`
	Regions   []string        `yaml:"regions"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type SchedulerConfig struct {
	QuarterHour TaskConfig `yaml:"quarter_hour"`
	Hourly      TaskConfig `yaml:"hourly"`
}

type TaskConfig struct {
	Interval          time.Duration `yaml:"interval"`
	RecoveryThreshold time.Duration `yaml:"recovery_threshold"`
	Backoff           time.Duration `yaml:"backoff"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Compression     string `yaml:"compression"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

// KnownRegions lists the market areas the Southpool feed publishes. Region
// codes outside this set are rejected at configuration time rather than
// producing empty datasets forever.
var KnownRegions = []string{"HU", "RS", "SI"}

const (
	defaultURL15Min  = "https://labs.hupx.hu/csv/v1/dam_aggregated_trading_data_15min/csv"
	defaultURLHourly = "https://labs.hupx.hu/csv/v1/dam_aggregated_trading_data/csv"
)

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, "config/config.yml", envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in the recognized cadence and endpoint defaults so a
// minimal config file only needs a name, a version and a region list.
func applyDefaults(cfg *Config) {
	if cfg.Source.URL15Min == "" {
		cfg.Source.URL15Min = defaultURL15Min
	}
	if cfg.Source.URLHourly == "" {
		cfg.Source.URLHourly = defaultURLHourly
	}
	if cfg.Source.Timeout <= 0 {
		cfg.Source.Timeout = 30 * time.Second
	}
	if cfg.Source.RateLimit.RequestsPerSecond <= 0 {
		cfg.Source.RateLimit.RequestsPerSecond = 1
	}
	if cfg.Source.RateLimit.BurstSize <= 0 {
		cfg.Source.RateLimit.BurstSize = 2
	}

	if cfg.Scheduler.QuarterHour.Interval <= 0 {
		cfg.Scheduler.QuarterHour.Interval = 15 * time.Minute
	}
	if cfg.Scheduler.QuarterHour.RecoveryThreshold <= 0 {
		cfg.Scheduler.QuarterHour.RecoveryThreshold = 5 * time.Minute
	}
	if cfg.Scheduler.QuarterHour.Backoff <= 0 {
		cfg.Scheduler.QuarterHour.Backoff = time.Minute
	}

	if cfg.Scheduler.Hourly.Interval <= 0 {
		cfg.Scheduler.Hourly.Interval = time.Hour
	}
	if cfg.Scheduler.Hourly.RecoveryThreshold <= 0 {
		cfg.Scheduler.Hourly.RecoveryThreshold = 30 * time.Minute
	}
	if cfg.Scheduler.Hourly.Backoff <= 0 {
		cfg.Scheduler.Hourly.Backoff = 5 * time.Minute
	}

	if cfg.Storage.S3.Compression == "" {
		cfg.Storage.S3.Compression = "snappy"
	}
	if cfg.API.Enabled && cfg.API.Address == "" {
		cfg.API.Address = ":8080"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Southpool.Name == "" {
		return fmt.Errorf("southpool.name is required")
	}

	if cfg.Southpool.Version == "" {
		return fmt.Errorf("southpool.version is required")
	}

	if len(cfg.Source.Regions) == 0 {
		return fmt.Errorf("source.regions must list at least one market region")
	}
	for _, region := range cfg.Source.Regions {
		if !isKnownRegion(region) {
			return fmt.Errorf("source.regions contains unknown region '%s' (known: %s)",
				region, strings.Join(KnownRegions, ", "))
		}
	}

	if cfg.Scheduler.QuarterHour.Interval >= cfg.Scheduler.Hourly.Interval {
		return fmt.Errorf("scheduler.quarter_hour.interval must be shorter than scheduler.hourly.interval")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

func isKnownRegion(region string) bool {
	for _, known := range KnownRegions {
		if region == known {
			return true
		}
	}
	return false
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
