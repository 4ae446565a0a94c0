// Package pipeline orchestrates one ingest run: land the CSV in the object
// store, infer its schema, merge it into the parent table, validate the
// result, and apply any configured subset views.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/oakdata/ingest/pkg/dataset"
	"github.com/oakdata/ingest/pkg/errclass"
	"github.com/oakdata/ingest/pkg/metrics"
	"github.com/oakdata/ingest/pkg/retry"
	"github.com/oakdata/ingest/pkg/schema"
	"github.com/oakdata/ingest/pkg/source"
	"github.com/oakdata/ingest/pkg/subset"
	"github.com/oakdata/ingest/pkg/validate"
	"github.com/oakdata/ingest/pkg/warehouse"
)

// ObjectStore is the landing zone for source files.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, localPath, key string) (int64, error)
	Download(ctx context.Context, key, localPath string) error
}

// Config wires the pipeline's collaborators and settings.
type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Warehouse warehouse.Client
	Store     ObjectStore
	Retry     retry.Config

	// TableName is the parent table the CSV merges into.
	TableName string

	// MinRows is the advisory post-load row count floor. Zero disables it.
	MinRows int64

	// SubsetConfigPath points at the subset view configuration. Empty
	// skips the subset stage.
	SubsetConfigPath string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Warehouse == nil {
		return errors.New("warehouse client is required")
	}
	if cfg.Store == nil {
		return errors.New("object store is required")
	}
	if cfg.TableName == "" {
		return errors.New("table name is required")
	}
	return nil
}

// Pipeline runs ingest jobs. It is stateless between runs.
type Pipeline struct {
	cfg   *Config
	log   *slog.Logger
	clock clockwork.Clock
}

func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Pipeline{
		cfg:   cfg,
		log:   cfg.Logger.With("table", cfg.TableName),
		clock: clock,
	}, nil
}

// Result summarizes one completed run.
type Result struct {
	RunID        string
	Table        string
	Schema       schema.Schema
	RowsRead     int
	Stats        dataset.MergeStats
	RowCount     int64
	Warnings     []validate.Warning
	ViewsApplied []string
	Duration     time.Duration
}

// Run executes one ingest of csvPath into the configured parent table.
func (p *Pipeline) Run(ctx context.Context, csvPath string) (result *Result, err error) {
	runID := uuid.NewString()
	log := p.log.With("run_id", runID)
	start := p.clock.Now()

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.LoadsTotal.WithLabelValues(p.cfg.TableName, status).Inc()
		metrics.LoadDuration.WithLabelValues(p.cfg.TableName).Observe(p.clock.Since(start).Seconds())
	}()

	log.Info("Starting ingest", "csv", csvPath)

	localCopy, err := p.landFile(ctx, log, runID, csvPath)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(localCopy))

	batch, err := source.ReadFile(localCopy)
	if err != nil {
		return nil, err
	}

	inferred := schema.Infer(batch.Header, batch.Rows)
	log.Info("Inferred schema", "columns", len(inferred), "rows", len(batch.Rows))

	ds, err := dataset.New(p.cfg.TableName, inferred, source.MergeKeyColumn)
	if err != nil {
		return nil, err
	}

	stats, err := p.loadDataset(ctx, log, ds, localCopy)
	if err != nil {
		return nil, err
	}
	metrics.RowsInserted.WithLabelValues(p.cfg.TableName).Add(float64(stats.Inserted))
	metrics.RowsUpdated.WithLabelValues(p.cfg.TableName).Add(float64(stats.Updated))
	log.Info("Merge complete", "inserted", stats.Inserted, "updated", stats.Updated)

	report, err := validate.Run(ctx, p.cfg.Warehouse, ds, validate.Config{
		Logger:  log,
		MinRows: p.cfg.MinRows,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range report.Warnings {
		metrics.ValidationWarningsTotal.WithLabelValues(w.Check).Inc()
	}

	views, err := p.applySubsets(ctx, log)
	if err != nil {
		return nil, err
	}

	return &Result{
		RunID:        runID,
		Table:        p.cfg.TableName,
		Schema:       inferred,
		RowsRead:     len(batch.Rows),
		Stats:        stats,
		RowCount:     report.RowCount,
		Warnings:     report.Warnings,
		ViewsApplied: views,
		Duration:     p.clock.Since(start),
	}, nil
}

// landFile round-trips the CSV through the object store: upload the
// operator's file, then pull the landed copy back down and work from that,
// so what gets staged is exactly what the bucket holds.
func (p *Pipeline) landFile(ctx context.Context, log *slog.Logger, runID, csvPath string) (string, error) {
	if err := p.cfg.Store.EnsureBucket(ctx); err != nil {
		return "", err
	}

	key := "uploads/" + filepath.Base(csvPath)
	var size int64
	err := retry.Do(ctx, p.cfg.Retry, func() error {
		var uploadErr error
		size, uploadErr = p.cfg.Store.Upload(ctx, csvPath, key)
		return uploadErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to land %s: %w", csvPath, err)
	}
	log.Info("Landed source file", "key", key, "bytes", size)

	tmpDir, err := os.MkdirTemp("", "ingest-"+runID)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	localCopy := filepath.Join(tmpDir, filepath.Base(csvPath))
	err = retry.Do(ctx, p.cfg.Retry, func() error {
		return p.cfg.Store.Download(ctx, key, localCopy)
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		return "", fmt.Errorf("failed to fetch landed copy of %s: %w", key, err)
	}
	return localCopy, nil
}

// loadDataset runs the DDL and the staged merge on a single session.
// Session affinity matters: the staging table is temporary and the merge
// stats come from the session's last query id.
func (p *Pipeline) loadDataset(ctx context.Context, log *slog.Logger, ds *dataset.Dataset, localCopy string) (dataset.MergeStats, error) {
	conn, err := p.cfg.Warehouse.Conn(ctx)
	if err != nil {
		return dataset.MergeStats{}, err
	}
	defer conn.Close()

	err = retry.Do(ctx, p.cfg.Retry, func() error {
		return p.exec(ctx, conn, ds.CreateParentTableSQL())
	})
	if err != nil {
		return dataset.MergeStats{}, fmt.Errorf("failed to ensure parent table %s: %w", ds.BaseTableName(), err)
	}

	stats, err := ds.Load(ctx, log, conn, localCopy)
	if err != nil {
		return dataset.MergeStats{}, err
	}
	return stats, nil
}

// applySubsets loads the subset configuration and applies each view in
// config order. The first failing view aborts the stage; reruns reapply
// all views idempotently.
func (p *Pipeline) applySubsets(ctx context.Context, log *slog.Logger) ([]string, error) {
	if p.cfg.SubsetConfigPath == "" {
		return nil, nil
	}

	spec, err := subset.LoadSpec(p.cfg.SubsetConfigPath)
	if err != nil {
		return nil, err
	}
	if spec.SourceTable != p.cfg.TableName {
		return nil, errclass.Configf("subset config targets table %q, this run loads %q", spec.SourceTable, p.cfg.TableName)
	}

	conn, err := p.cfg.Warehouse.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var applied []string
	for _, v := range subset.BuildViews(spec) {
		if err := p.exec(ctx, conn, v.SQL); err != nil {
			metrics.ViewsAppliedTotal.WithLabelValues("error").Inc()
			return applied, fmt.Errorf("failed to apply view %s: %w", v.Name, err)
		}
		metrics.ViewsAppliedTotal.WithLabelValues("success").Inc()
		applied = append(applied, v.Name)
		log.Info("Applied secure view", "view", v.Name)
	}
	return applied, nil
}

func (p *Pipeline) exec(ctx context.Context, conn warehouse.Connection, query string) error {
	err := conn.Exec(ctx, query)
	if err != nil {
		metrics.WarehouseStatementsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.WarehouseStatementsTotal.WithLabelValues("success").Inc()
	return nil
}
