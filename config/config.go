package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for an import run
type Config struct {
	Job        JobConfig        `mapstructure:"job"`
	Source     SourceConfig     `mapstructure:"source"`
	Price      PriceConfig      `mapstructure:"price"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Report     ReportConfig     `mapstructure:"report"`
	Status     StatusConfig     `mapstructure:"status"`
	Log        LogConfig        `mapstructure:"log"`
}

// JobConfig identifies the job and how this run relates to earlier ones
type JobConfig struct {
	ID string `mapstructure:"id"`
	// Resume is only an explicit request; a run resumes from a checkpoint unless Fresh is set
	Resume bool `mapstructure:"resume"`
	Fresh  bool `mapstructure:"fresh"`
	DryRun bool `mapstructure:"dry_run"`
}

// SourceConfig describes the export file
type SourceConfig struct {
	Path      string            `mapstructure:"path"`
	Delimiter string            `mapstructure:"delimiter"` // "auto" or a single character
	Sheet     string            `mapstructure:"sheet"`
	Columns   map[string]string `mapstructure:"columns"` // logical field -> header name
}

// PriceConfig holds the price scale policy and sanity bounds, in minor units
type PriceConfig struct {
	Scale         string `mapstructure:"scale"` // "auto", "major" or "minor"
	MinMinorUnits int64  `mapstructure:"min_minor_units"`
	MaxMinorUnits int64  `mapstructure:"max_minor_units"`
}

type ClassifierConfig struct {
	Categories map[string][]string `mapstructure:"categories"`
}

// SchedulerConfig holds pacing and parallelism
type SchedulerConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	RecordDelay time.Duration `mapstructure:"record_delay"`
	BatchDelay  time.Duration `mapstructure:"batch_delay"`
	Workers     int           `mapstructure:"workers"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// CatalogConfig selects and configures the remote catalog
type CatalogConfig struct {
	Backend           string        `mapstructure:"backend"` // "http", "dynamodb" or "memory"
	BaseURL           string        `mapstructure:"base_url"`
	Token             string        `mapstructure:"token"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	ProductTable      string        `mapstructure:"product_table"`
	VariantTable      string        `mapstructure:"variant_table"`
}

// AWSConfig is shared by the DynamoDB catalog and the S3 report upload.
// Empty keys fall back to the SDK's default credential chain.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// CheckpointConfig selects where progress and the job lock live
type CheckpointConfig struct {
	Backend     string        `mapstructure:"backend"` // "file", "redis", "postgres" or "memory"
	Dir         string        `mapstructure:"dir"`
	RedisURL    string        `mapstructure:"redis_url"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

type ReportConfig struct {
	Dir      string `mapstructure:"dir"`
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Prefix string `mapstructure:"s3_prefix"`
}

type StatusConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Environment string `mapstructure:"environment"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// flagKeys maps CLI flag names to config keys
var flagKeys = map[string]string{
	"job-id":      "job.id",
	"source":      "source.path",
	"delimiter":   "source.delimiter",
	"sheet":       "source.sheet",
	"price-scale": "price.scale",
	"batch-size":  "scheduler.batch_size",
	"workers":     "scheduler.workers",
	"resume":      "job.resume",
	"fresh":       "job.fresh",
	"dry-run":     "job.dry_run",
	"catalog":     "catalog.backend",
	"checkpoint":  "checkpoint.backend",
	"report-dir":  "report.dir",
	"status-addr": "status.addr",
	"log-level":   "log.level",
}

// NewFlagSet declares the flags of the run command
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default importer.yaml)")
	fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	fs.String("job-id", "", "job identifier; checkpoints and locks are keyed by it")
	fs.String("source", "", "path to the CSV, TSV or XLSX export")
	fs.String("delimiter", "auto", "field delimiter, or auto to detect it")
	fs.String("sheet", "", "XLSX sheet name (default first sheet)")
	fs.String("price-scale", "auto", "price scale: auto, major or minor")
	fs.Int("batch-size", 5, "records per batch")
	fs.Int("workers", 1, "concurrent catalog writers")
	fs.Bool("resume", false, "continue from the job's checkpoint (the default)")
	fs.Bool("fresh", false, "discard any checkpoint and start at the first record")
	fs.Bool("dry-run", false, "canonicalize and report without writing")
	fs.String("catalog", "http", "catalog backend: http, dynamodb or memory")
	fs.String("checkpoint", "file", "checkpoint backend: file, redis, postgres or memory")
	fs.String("report-dir", "reports", "directory for the run log and summary")
	fs.String("status-addr", "", "serve live progress on this address, e.g. :8090")
	fs.String("log-level", "", "log level override")
	return fs
}

// Load reads configuration with precedence defaults < config file <
// environment (including .env) < flags. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	envFile := ".env"
	configFile := ""
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if envFile != "" {
		// a missing dotenv file is normal
		_ = godotenv.Load(envFile)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("importer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/catalog-import/")
	}

	v.SetEnvPrefix("CATALOG_IMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values. Every key needs a default so
// AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("job.id", "")
	v.SetDefault("job.resume", false)
	v.SetDefault("job.fresh", false)
	v.SetDefault("job.dry_run", false)

	v.SetDefault("source.path", "")
	v.SetDefault("source.delimiter", "auto")
	v.SetDefault("source.sheet", "")

	v.SetDefault("price.scale", "auto")
	v.SetDefault("price.min_minor_units", 100)         // 1.00
	v.SetDefault("price.max_minor_units", 100_000_000) // 1,000,000.00

	v.SetDefault("scheduler.batch_size", 5)
	v.SetDefault("scheduler.record_delay", "200ms")
	v.SetDefault("scheduler.batch_delay", "2s")
	v.SetDefault("scheduler.workers", 1)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "10s")

	v.SetDefault("catalog.backend", "http")
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.token", "")
	v.SetDefault("catalog.timeout", "15s")
	v.SetDefault("catalog.requests_per_second", 5.0)
	v.SetDefault("catalog.burst", 5)
	v.SetDefault("catalog.product_table", "catalog_products")
	v.SetDefault("catalog.variant_table", "catalog_variants")

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")

	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.dir", ".checkpoints")
	v.SetDefault("checkpoint.redis_url", "")
	v.SetDefault("checkpoint.postgres_dsn", "")
	v.SetDefault("checkpoint.lock_ttl", "5m")

	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.s3_bucket", "")
	v.SetDefault("report.s3_prefix", "catalog-imports")

	v.SetDefault("status.addr", "")
	v.SetDefault("status.allowed_origins", []string{})

	v.SetDefault("log.environment", "development")
	v.SetDefault("log.level", "")
	v.SetDefault("log.file", "")
}

// validate validates the configuration
func validate(config *Config) error {
	if strings.TrimSpace(config.Job.ID) == "" {
		return fmt.Errorf("job id is required (--job-id or CATALOG_IMPORT_JOB_ID)")
	}
	if config.Source.Path == "" {
		return fmt.Errorf("source path is required (--source or CATALOG_IMPORT_SOURCE_PATH)")
	}
	if config.Job.Resume && config.Job.Fresh {
		return fmt.Errorf("--resume and --fresh are mutually exclusive")
	}

	switch config.Price.Scale {
	case "auto", "major", "minor":
	default:
		return fmt.Errorf("price scale must be 'auto', 'major' or 'minor', got: %s", config.Price.Scale)
	}
	if config.Price.MinMinorUnits < 0 || config.Price.MaxMinorUnits < 0 {
		return fmt.Errorf("price bounds must not be negative")
	}
	if config.Price.MaxMinorUnits > 0 && config.Price.MinMinorUnits > config.Price.MaxMinorUnits {
		return fmt.Errorf("price minimum %d exceeds maximum %d", config.Price.MinMinorUnits, config.Price.MaxMinorUnits)
	}

	if config.Scheduler.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got: %d", config.Scheduler.BatchSize)
	}
	if config.Scheduler.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got: %d", config.Scheduler.Workers)
	}
	if config.Scheduler.RecordDelay < 0 || config.Scheduler.BatchDelay < 0 {
		return fmt.Errorf("scheduler delays must not be negative")
	}
	if config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got: %d", config.Retry.MaxAttempts)
	}

	switch config.Catalog.Backend {
	case "http":
		if config.Catalog.BaseURL == "" && !config.Job.DryRun {
			return fmt.Errorf("catalog base URL is required when catalog backend is 'http'")
		}
	case "dynamodb":
		if config.Catalog.ProductTable == "" || config.Catalog.VariantTable == "" {
			return fmt.Errorf("product and variant tables are required when catalog backend is 'dynamodb'")
		}
	case "memory":
	default:
		return fmt.Errorf("catalog backend must be 'http', 'dynamodb' or 'memory', got: %s", config.Catalog.Backend)
	}

	switch config.Checkpoint.Backend {
	case "file", "memory":
	case "redis":
		if config.Checkpoint.RedisURL == "" {
			return fmt.Errorf("Redis URL is required when checkpoint backend is 'redis'")
		}
	case "postgres":
		if config.Checkpoint.PostgresDSN == "" {
			return fmt.Errorf("Postgres DSN is required when checkpoint backend is 'postgres'")
		}
	default:
		return fmt.Errorf("checkpoint backend must be 'file', 'redis', 'postgres' or 'memory', got: %s", config.Checkpoint.Backend)
	}

	return nil
}
