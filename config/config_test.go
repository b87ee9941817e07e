package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

const minimalConfig = `
southpool:
  name: southpool
  version: "1.0.0"
source:
  regions:
    - HU
`

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Source.URL15Min != defaultURL15Min {
		t.Errorf("expected default 15min URL, got %s", cfg.Source.URL15Min)
	}
	if cfg.Source.URLHourly != defaultURLHourly {
		t.Errorf("expected default hourly URL, got %s", cfg.Source.URLHourly)
	}
	if cfg.Source.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %s", cfg.Source.Timeout)
	}
	if cfg.Scheduler.QuarterHour.Interval != 15*time.Minute {
		t.Errorf("expected quarter hour interval 15m, got %s", cfg.Scheduler.QuarterHour.Interval)
	}
	if cfg.Scheduler.QuarterHour.RecoveryThreshold != 5*time.Minute {
		t.Errorf("expected quarter hour recovery threshold 5m, got %s", cfg.Scheduler.QuarterHour.RecoveryThreshold)
	}
	if cfg.Scheduler.Hourly.Interval != time.Hour {
		t.Errorf("expected hourly interval 1h, got %s", cfg.Scheduler.Hourly.Interval)
	}
	if cfg.Scheduler.Hourly.RecoveryThreshold != 30*time.Minute {
		t.Errorf("expected hourly recovery threshold 30m, got %s", cfg.Scheduler.Hourly.RecoveryThreshold)
	}
	if cfg.Storage.S3.Compression != "snappy" {
		t.Errorf("expected default compression snappy, got %s", cfg.Storage.S3.Compression)
	}
}

func TestLoadConfigFullFile(t *testing.T) {
	path := writeTempConfig(t, `
southpool:
  name: southpool
  version: "1.2.0"
source:
  url_15min: https://example.test/15min/csv
  url_hourly: https://example.test/hourly/csv
  timeout: 10s
  regions:
    - HU
    - SI
  rate_limit:
    requests_per_second: 2
    burst_size: 4
scheduler:
  quarter_hour:
    interval: 15m
    recovery_threshold: 5m
    backoff: 1m
  hourly:
    interval: 1h
    recovery_threshold: 30m
    backoff: 5m
api:
  enabled: true
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Source.URL15Min != "https://example.test/15min/csv" {
		t.Errorf("unexpected 15min URL: %s", cfg.Source.URL15Min)
	}
	if cfg.Source.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %s", cfg.Source.Timeout)
	}
	if len(cfg.Source.Regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(cfg.Source.Regions))
	}
	if cfg.Source.RateLimit.BurstSize != 4 {
		t.Errorf("expected burst size 4, got %d", cfg.Source.RateLimit.BurstSize)
	}
	if !cfg.API.Enabled {
		t.Error("expected API enabled")
	}
	if cfg.API.Address != ":8080" {
		t.Errorf("expected default API address :8080, got %s", cfg.API.Address)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfigValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
southpool:
  version: "1.0.0"
source:
  regions: [HU]
`,
			wantErr: "southpool.name",
		},
		{
			name: "missing version",
			content: `
southpool:
  name: southpool
source:
  regions: [HU]
`,
			wantErr: "southpool.version",
		},
		{
			name: "no regions",
			content: `
southpool:
  name: southpool
  version: "1.0.0"
`,
			wantErr: "source.regions",
		},
		{
			name: "unknown region",
			content: `
southpool:
  name: southpool
  version: "1.0.0"
source:
  regions: [HU, XX]
`,
			wantErr: "unknown region",
		},
		{
			name: "quarter hour not shorter than hourly",
			content: `
southpool:
  name: southpool
  version: "1.0.0"
source:
  regions: [HU]
scheduler:
  quarter_hour:
    interval: 2h
  hourly:
    interval: 1h
`,
			wantErr: "must be shorter",
		},
		{
			name: "s3 enabled without bucket",
			content: `
southpool:
  name: southpool
  version: "1.0.0"
source:
  regions: [HU]
storage:
  s3:
    enabled: true
    region: eu-central-1
    access_key_id: key
    secret_access_key: secret
`,
			wantErr: "storage.s3.bucket",
		},
		{
			name: "s3 enabled without credentials",
			content: `
southpool:
  name: southpool
  version: "1.0.0"
source:
  regions: [HU]
storage:
  s3:
    enabled: true
    bucket: southpool-archive
    region: eu-central-1
`,
			wantErr: "access_key_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.content)
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %q", tc.wantErr, err.Error())
			}
		})
	}
}

func TestS3EnvironmentOverrides(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "env-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "env-secret")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("S3_BUCKET", "southpool-archive-env")

	path := writeTempConfig(t, `
southpool:
  name: southpool
  version: "1.0.0"
source:
  regions: [HU]
storage:
  s3:
    enabled: true
    bucket: file-bucket
    region: eu-central-1
    access_key_id: file-key
    secret_access_key: file-secret
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Storage.S3.AccessKeyID != "env-key" {
		t.Errorf("expected access key from environment, got %s", cfg.Storage.S3.AccessKeyID)
	}
	if cfg.Storage.S3.SecretAccessKey != "env-secret" {
		t.Errorf("expected secret key from environment, got %s", cfg.Storage.S3.SecretAccessKey)
	}
	if cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("expected region from environment, got %s", cfg.Storage.S3.Region)
	}
	if cfg.Storage.S3.Bucket != "southpool-archive-env" {
		t.Errorf("expected bucket from environment, got %s", cfg.Storage.S3.Bucket)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	valid := []string{"southpool-archive", "my.bucket.name", "abc", "bucket-123"}
	for _, name := range valid {
		if !isValidS3Bucket(name) {
			t.Errorf("expected bucket name %q to be valid", name)
		}
	}

	invalid := []string{"ab", "UPPERCASE", "-leading-dash", "trailing-dash-", ".leading.dot", "double..dot", strings.Repeat("a", 64)}
	for _, name := range invalid {
		if isValidS3Bucket(name) {
			t.Errorf("expected bucket name %q to be invalid", name)
		}
	}
}

func TestIsKnownRegion(t *testing.T) {
	for _, region := range KnownRegions {
		if !isKnownRegion(region) {
			t.Errorf("expected %s to be a known region", region)
		}
	}
	for _, region := range []string{"AT", "DE", "hu", ""} {
		if isKnownRegion(region) {
			t.Errorf("expected %s to be unknown", region)
		}
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(EnvironmentProduction) {
		t.Error("production should be production-like")
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Error("staging should be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Error("development should not be production-like")
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	t.Setenv(appEnvVar, "prod")

	envPaths := map[string]string{
		environmentProduction: "config/config.production.yml",
	}

	got := resolveEnvSpecificPath("", "config/config.yml", envPaths)
	if got != "config/config.production.yml" {
		t.Errorf("expected production config path, got %s", got)
	}

	// Explicit non-default paths win over environment mapping.
	got = resolveEnvSpecificPath("custom.yml", "config/config.yml", envPaths)
	if got != "custom.yml" {
		t.Errorf("expected explicit path to be preserved, got %s", got)
	}
}
