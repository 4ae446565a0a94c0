package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	flag "github.com/spf13/pflag"

	"github.com/oakdata/ingest/pkg/config"
	"github.com/oakdata/ingest/pkg/logger"
	"github.com/oakdata/ingest/pkg/metrics"
	"github.com/oakdata/ingest/pkg/objectstore"
	"github.com/oakdata/ingest/pkg/pipeline"
	"github.com/oakdata/ingest/pkg/retry"
	"github.com/oakdata/ingest/pkg/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	csvFlag := flag.String("csv", "", "path to the CSV file to ingest (required)")
	tableFlag := flag.String("table", "events", "parent table to merge into (or set INGEST_TABLE env var)")
	minRowsFlag := flag.Int64("min-rows", 0, "advisory minimum row count after the load (or set INGEST_MIN_ROWS env var)")

	noSubsetsFlag := flag.Bool("no-subsets", false, "skip applying subset views")
	subsetsConfigFlag := flag.String("subsets-config", "config/subsets.yml", "path to the subset view configuration")

	flag.Parse()

	env, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(os.Stderr, *verboseFlag)

	if envTable := os.Getenv("INGEST_TABLE"); envTable != "" {
		*tableFlag = envTable
	}
	if envMinRows := os.Getenv("INGEST_MIN_ROWS"); envMinRows != "" {
		var n int64
		if _, err := fmt.Sscanf(envMinRows, "%d", &n); err != nil {
			return fmt.Errorf("invalid INGEST_MIN_ROWS %q: %w", envMinRows, err)
		}
		*minRowsFlag = n
	}

	if *csvFlag == "" {
		return fmt.Errorf("--csv is required")
	}

	if env.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: env.SentryDSN}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()

	wh, err := warehouse.NewClient(ctx, log, env.Snowflake)
	if err != nil {
		return reportFailure(env, log, err)
	}
	defer wh.Close()

	store, err := objectstore.New(ctx, env.StoreConfig(log))
	if err != nil {
		return reportFailure(env, log, err)
	}

	subsetsConfig := *subsetsConfigFlag
	if *noSubsetsFlag {
		subsetsConfig = ""
	}

	p, err := pipeline.New(&pipeline.Config{
		Logger:           log,
		Warehouse:        wh,
		Store:            store,
		Retry:            retry.DefaultConfig(),
		TableName:        *tableFlag,
		MinRows:          *minRowsFlag,
		SubsetConfigPath: subsetsConfig,
	})
	if err != nil {
		return reportFailure(env, log, err)
	}

	result, err := p.Run(ctx, *csvFlag)
	if err != nil {
		return reportFailure(env, log, err)
	}

	qualified, err := warehouse.QualifyName(result.Table, env.Snowflake.Database, env.Snowflake.Schema)
	if err != nil {
		qualified = result.Table
	}

	log.Info("Ingest complete",
		"run_id", result.RunID,
		"table", qualified,
		"rows_read", result.RowsRead,
		"inserted", result.Stats.Inserted,
		"updated", result.Stats.Updated,
		"row_count", result.RowCount,
		"warnings", len(result.Warnings),
		"views_applied", len(result.ViewsApplied),
		"duration", result.Duration,
	)

	pushMetrics(env, log)
	return nil
}

func reportFailure(env *config.Env, log *slog.Logger, err error) error {
	if env.SentryDSN != "" {
		sentry.CaptureException(err)
	}
	pushMetrics(env, log)
	return err
}

func pushMetrics(env *config.Env, log *slog.Logger) {
	if env.PushURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, env.PushURL, "csv_ingest"); err != nil {
		log.Warn("failed to push metrics", "error", err)
	}
}
