package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/catalogsync/importer/config"
	httpDelivery "github.com/catalogsync/importer/internal/delivery/http"
	"github.com/catalogsync/importer/internal/domain"
	"github.com/catalogsync/importer/internal/infrastructure/awsclient"
	"github.com/catalogsync/importer/internal/infrastructure/catalog"
	"github.com/catalogsync/importer/internal/infrastructure/checkpoint"
	"github.com/catalogsync/importer/internal/infrastructure/report"
	"github.com/catalogsync/importer/internal/infrastructure/source"
	"github.com/catalogsync/importer/internal/logger"
	"github.com/catalogsync/importer/internal/usecase"
)

const version = "1.0.0"

// Exit codes
const (
	exitOK     = 0
	exitFailed = 1
	exitFatal  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: importer run --source <path> --job-id <id> [--batch-size N] [--resume|--fresh]")
	fmt.Fprintln(w, "                    [--workers N] [--dry-run] [--config file] [--status-addr :8090]")
	fmt.Fprintln(w, "       importer version")
}

// run executes the CLI and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitFatal
	}

	switch args[0] {
	case "run":
	case "version":
		fmt.Fprintln(stdout, version)
		return exitOK
	case "help", "-h", "--help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return exitFatal
	}

	fs := config.NewFlagSet("run")
	fs.SetOutput(stderr)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitFatal
	}

	flush, err := logger.Init(cfg.Log.Environment, cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return exitFatal
	}
	defer flush()

	zap.L().Info("starting catalog import",
		zap.String("version", version),
		zap.String("jobId", cfg.Job.ID),
		zap.String("source", cfg.Source.Path),
		zap.String("catalog", cfg.Catalog.Backend),
		zap.String("checkpoint", cfg.Checkpoint.Backend),
		zap.Int("batchSize", cfg.Scheduler.BatchSize),
		zap.Int("workers", cfg.Scheduler.Workers),
		zap.Bool("fresh", cfg.Job.Fresh),
		zap.Bool("dryRun", cfg.Job.DryRun),
	)

	app, err := wire(ctx, cfg)
	if err != nil {
		zap.L().Error("failed to initialize import", zap.Error(err))
		return exitFatal
	}
	defer app.Close()

	statusDone := make(chan struct{})
	statusCtx, stopStatus := context.WithCancel(context.Background())
	if cfg.Status.Addr != "" {
		router := httpDelivery.SetupRouter(cfg, httpDelivery.NewHandler(app.service, version))
		srv, err := httpDelivery.Listen(cfg.Status.Addr, router)
		if err != nil {
			stopStatus()
			zap.L().Error("failed to start status endpoint", zap.String("addr", cfg.Status.Addr), zap.Error(err))
			return exitFatal
		}
		go func() {
			defer close(statusDone)
			if err := srv.Serve(statusCtx); err != nil {
				zap.L().Warn("status endpoint stopped", zap.Error(err))
			}
		}()
	} else {
		close(statusDone)
	}
	defer func() {
		stopStatus()
		<-statusDone
	}()

	summary, runErr := app.service.Run(ctx)

	if app.uploader != nil && summary != nil {
		// uploads run even when the import was interrupted
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		_, err := app.uploader.Upload(uploadCtx, cfg.Job.ID, summary.RunID, app.reporter.SummaryPath(), app.reporter.LogPath())
		cancel()
		if err != nil {
			zap.L().Warn("report upload failed", zap.Error(err))
		}
	}

	if summary != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			zap.L().Warn("printing summary", zap.Error(err))
		}
	}

	return exitCode(summary, runErr)
}

// exitCode maps a run result to 0 (completed), 1 (failed records or interrupted) or 2 (fatal)
func exitCode(summary *domain.RunSummary, err error) int {
	if err != nil || summary == nil {
		return exitFatal
	}
	switch summary.State {
	case domain.RunCompleted:
		return exitOK
	case domain.RunPartial, domain.RunInterrupted:
		return exitFailed
	default:
		return exitFatal
	}
}

// application holds the wired pipeline and what must be closed after it
type application struct {
	service  *usecase.ImportService
	reporter *report.Reporter
	uploader *report.S3Uploader
	closers  []func() error
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zap.L().Warn("closing resource", zap.Error(err))
		}
	}
}

func wire(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	checkpoints, locker, err := wireCheckpoint(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	store, err := wireCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reporter, err := report.NewReporter(cfg.Report.Dir, cfg.Job.ID)
	if err != nil {
		return nil, err
	}
	app.reporter = reporter
	app.closers = append(app.closers, reporter.Close)

	if cfg.Report.S3Bucket != "" {
		awsCfg, err := awsclient.LoadConfig(ctx, awsOptions(cfg))
		if err != nil {
			return nil, err
		}
		app.uploader = report.NewS3Uploader(awsclient.NewS3(awsCfg, cfg.AWS.Endpoint), cfg.Report.S3Bucket, cfg.Report.S3Prefix)
	}

	policy := usecase.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.BaseDelay = cfg.Retry.BaseDelay
	policy.MaxDelay = cfg.Retry.MaxDelay

	srcOpts := source.Options{
		Delimiter: cfg.Source.Delimiter,
		Columns:   cfg.Source.Columns,
		Sheet:     cfg.Source.Sheet,
	}

	app.service = usecase.NewImportService(usecase.ImportDeps{
		Open: func() (domain.RowReader, error) {
			return source.Open(cfg.Source.Path, srcOpts)
		},
		Prices:      usecase.NewPriceNormalizer(domain.PriceScale(cfg.Price.Scale), cfg.Price.MinMinorUnits, cfg.Price.MaxMinorUnits),
		Classifier:  usecase.NewCategoryClassifier(cfg.Classifier.Categories),
		Checkpoints: checkpoints,
		Locker:      locker,
		Writer:      usecase.NewCatalogWriter(store, policy, cfg.Catalog.Timeout),
		Scheduler: usecase.NewBatchScheduler(usecase.SchedulerConfig{
			BatchSize:   cfg.Scheduler.BatchSize,
			RecordDelay: cfg.Scheduler.RecordDelay,
			BatchDelay:  cfg.Scheduler.BatchDelay,
		}),
		Reporter: reporter,
	}, usecase.ImportServiceConfig{
		JobID:   cfg.Job.ID,
		Source:  cfg.Source.Path,
		Fresh:   cfg.Job.Fresh,
		DryRun:  cfg.Job.DryRun,
		Workers: cfg.Scheduler.Workers,
	})

	ok = true
	return app, nil
}

func wireCheckpoint(ctx context.Context, cfg *config.Config, app *application) (domain.CheckpointStore, domain.JobLocker, error) {
	switch cfg.Checkpoint.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(), checkpoint.NewMemoryLock(), nil

	case "redis":
		client, err := checkpoint.NewRedisClient(ctx, cfg.Checkpoint.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, client.Close)
		return checkpoint.NewRedisStore(client), checkpoint.NewRedisLock(client, cfg.Checkpoint.LockTTL), nil

	case "postgres":
		db, err := checkpoint.OpenPostgres(cfg.Checkpoint.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			app.closers = append(app.closers, sqlDB.Close)
		}
		store := checkpoint.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrating checkpoint table: %w", err)
		}
		lock, err := checkpoint.NewFileLock(cfg.Checkpoint.Dir, cfg.Checkpoint.LockTTL)
		if err != nil {
			return nil, nil, err
		}
		return store, lock, nil

	default:
		store, err := checkpoint.NewFileStore(cfg.Checkpoint.Dir)
		if err != nil {
			return nil, nil, err
		}
		lock, err := checkpoint.NewFileLock(cfg.Checkpoint.Dir, cfg.Checkpoint.LockTTL)
		if err != nil {
			return nil, nil, err
		}
		return store, lock, nil
	}
}

func wireCatalog(ctx context.Context, cfg *config.Config) (domain.CatalogStore, error) {
	switch cfg.Catalog.Backend {
	case "memory":
		return catalog.NewMemoryStore(), nil

	case "dynamodb":
		awsCfg, err := awsclient.LoadConfig(ctx, awsOptions(cfg))
		if err != nil {
			return nil, err
		}
		client := awsclient.NewDynamoDB(awsCfg, cfg.AWS.Endpoint)
		return catalog.NewDynamoStore(client, cfg.Catalog.ProductTable, cfg.Catalog.VariantTable), nil

	default:
		return catalog.NewHTTPStore(catalog.HTTPConfig{
			BaseURL:           cfg.Catalog.BaseURL,
			Token:             cfg.Catalog.Token,
			Timeout:           cfg.Catalog.Timeout,
			RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
			Burst:             cfg.Catalog.Burst,
		}), nil
	}
}

func awsOptions(cfg *config.Config) awsclient.Options {
	return awsclient.Options{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}
}
