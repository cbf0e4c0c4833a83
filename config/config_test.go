package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no importer.yaml or .env leaks in
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func parse(t *testing.T, args ...string) *Config {
	t.Helper()
	fs := NewFlagSet("run")
	require.NoError(t, fs.Parse(args))
	cfg, err := Load(fs)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg := parse(t, "--job-id", "nightly", "--source", "export.csv", "--catalog", "memory")

	assert.Equal(t, "nightly", cfg.Job.ID)
	assert.Equal(t, "export.csv", cfg.Source.Path)
	assert.Equal(t, "auto", cfg.Source.Delimiter)
	assert.Equal(t, "auto", cfg.Price.Scale)
	assert.Equal(t, int64(100), cfg.Price.MinMinorUnits)
	assert.Equal(t, int64(100_000_000), cfg.Price.MaxMinorUnits)
	assert.Equal(t, 5, cfg.Scheduler.BatchSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Scheduler.RecordDelay)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.BatchDelay)
	assert.Equal(t, 1, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Checkpoint.LockTTL)
	assert.Equal(t, "reports", cfg.Report.Dir)
	assert.Equal(t, "development", cfg.Log.Environment)
	assert.False(t, cfg.Job.Fresh)
	assert.False(t, cfg.Job.DryRun)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("CATALOG_IMPORT_JOB_ID", "from-env")
	t.Setenv("CATALOG_IMPORT_SOURCE_PATH", "env.csv")
	t.Setenv("CATALOG_IMPORT_CATALOG_BACKEND", "memory")
	t.Setenv("CATALOG_IMPORT_SCHEDULER_BATCH_SIZE", "10")
	t.Setenv("CATALOG_IMPORT_RETRY_BASE_DELAY", "1s")
	t.Setenv("CATALOG_IMPORT_PRICE_SCALE", "major")

	cfg := parse(t)

	assert.Equal(t, "from-env", cfg.Job.ID)
	assert.Equal(t, "env.csv", cfg.Source.Path)
	assert.Equal(t, 10, cfg.Scheduler.BatchSize)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, "major", cfg.Price.Scale)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("CATALOG_IMPORT_JOB_ID", "from-env")
	t.Setenv("CATALOG_IMPORT_SCHEDULER_BATCH_SIZE", "10")

	cfg := parse(t, "--job-id", "from-flag", "--source", "a.csv", "--catalog", "memory", "--batch-size", "7")

	assert.Equal(t, "from-flag", cfg.Job.ID)
	assert.Equal(t, 7, cfg.Scheduler.BatchSize)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)
	yaml := `
job:
  id: weekly
source:
  path: feed.tsv
  columns:
    key: handle
    price: "variant price"
price:
  min_minor_units: 50
classifier:
  categories:
    outdoor: [tent, backpack]
catalog:
  backend: dynamodb
  product_table: products
  variant_table: variants
checkpoint:
  backend: redis
  redis_url: redis://localhost:6379/0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "importer.yaml"), []byte(yaml), 0o644))

	cfg := parse(t)

	assert.Equal(t, "weekly", cfg.Job.ID)
	assert.Equal(t, "handle", cfg.Source.Columns["key"])
	assert.Equal(t, "variant price", cfg.Source.Columns["price"])
	assert.Equal(t, int64(50), cfg.Price.MinMinorUnits)
	assert.Equal(t, []string{"tent", "backpack"}, cfg.Classifier.Categories["outdoor"])
	assert.Equal(t, "dynamodb", cfg.Catalog.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Checkpoint.RedisURL)
}

func TestLoad_ExplicitConfigFileMustExist(t *testing.T) {
	dir := isolate(t)

	fs := NewFlagSet("run")
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(dir, "missing.yaml")}))
	_, err := Load(fs)
	assert.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CATALOG_IMPORT_JOB_ID=dotenv-job\nCATALOG_IMPORT_SOURCE_PATH=dotenv.csv\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("CATALOG_IMPORT_JOB_ID")
		os.Unsetenv("CATALOG_IMPORT_SOURCE_PATH")
	})

	cfg := parse(t, "--env-file", envFile, "--catalog", "memory")

	assert.Equal(t, "dotenv-job", cfg.Job.ID)
	assert.Equal(t, "dotenv.csv", cfg.Source.Path)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Job:        JobConfig{ID: "job"},
			Source:     SourceConfig{Path: "a.csv"},
			Price:      PriceConfig{Scale: "auto", MinMinorUnits: 100, MaxMinorUnits: 1000},
			Scheduler:  SchedulerConfig{BatchSize: 5, Workers: 1},
			Retry:      RetryConfig{MaxAttempts: 3},
			Catalog:    CatalogConfig{Backend: "http", BaseURL: "https://catalog.example.com"},
			Checkpoint: CheckpointConfig{Backend: "file"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing job id", mutate: func(c *Config) { c.Job.ID = " " }, wantErr: "job id is required"},
		{name: "missing source", mutate: func(c *Config) { c.Source.Path = "" }, wantErr: "source path is required"},
		{name: "resume and fresh", mutate: func(c *Config) { c.Job.Resume = true; c.Job.Fresh = true }, wantErr: "mutually exclusive"},
		{name: "bad scale", mutate: func(c *Config) { c.Price.Scale = "cents" }, wantErr: "price scale"},
		{name: "inverted bounds", mutate: func(c *Config) { c.Price.MinMinorUnits = 5000 }, wantErr: "exceeds maximum"},
		{name: "negative bound", mutate: func(c *Config) { c.Price.MinMinorUnits = -1 }, wantErr: "must not be negative"},
		{name: "zero batch", mutate: func(c *Config) { c.Scheduler.BatchSize = 0 }, wantErr: "batch size"},
		{name: "zero workers", mutate: func(c *Config) { c.Scheduler.Workers = 0 }, wantErr: "workers"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "max attempts"},
		{name: "http without url", mutate: func(c *Config) { c.Catalog.BaseURL = "" }, wantErr: "base URL"},
		{name: "dry run without url", mutate: func(c *Config) { c.Catalog.BaseURL = ""; c.Job.DryRun = true }},
		{name: "unknown catalog", mutate: func(c *Config) { c.Catalog.Backend = "ftp" }, wantErr: "catalog backend"},
		{name: "redis without url", mutate: func(c *Config) { c.Checkpoint.Backend = "redis" }, wantErr: "Redis URL"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Checkpoint.Backend = "postgres" }, wantErr: "Postgres DSN"},
		{name: "unknown checkpoint", mutate: func(c *Config) { c.Checkpoint.Backend = "s3" }, wantErr: "checkpoint backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
