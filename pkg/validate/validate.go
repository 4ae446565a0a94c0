// Package validate runs post-load data quality checks against the parent
// table. Checks are advisory: they produce warnings in the run report and
// never fail the pipeline.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oakdata/ingest/pkg/dataset"
	"github.com/oakdata/ingest/pkg/warehouse"
)

const (
	defaultSampleLimit   = 5
	defaultMaxConcurrent = 4
)

// Config tunes the checks.
type Config struct {
	Logger *slog.Logger

	// MinRows is the advisory lower bound on the parent row count.
	// Zero disables the check.
	MinRows int64

	// SampleLimit caps how many offending merge-key values a null-column
	// warning carries.
	SampleLimit int64

	// MaxConcurrent bounds parallel column checks. Each check uses its
	// own warehouse session.
	MaxConcurrent int
}

// Warning is one advisory finding.
type Warning struct {
	Check  string
	Detail string
}

// Report is the outcome of a validation pass.
type Report struct {
	RowCount int64
	Warnings []Warning
}

// Run counts rows and scans every non-key column for nulls. Query failures
// are returned as errors; data findings come back as warnings only.
func Run(ctx context.Context, client warehouse.Client, ds *dataset.Dataset, cfg Config) (*Report, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	sampleLimit := cfg.SampleLimit
	if sampleLimit <= 0 {
		sampleLimit = defaultSampleLimit
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	rowCount, err := queryCount(ctx, client, ds.RowCountSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to count rows in %s: %w", ds.BaseTableName(), err)
	}

	report := &Report{RowCount: rowCount}
	var mu sync.Mutex
	addWarning := func(w Warning) {
		mu.Lock()
		report.Warnings = append(report.Warnings, w)
		mu.Unlock()
	}

	if cfg.MinRows > 0 && rowCount < cfg.MinRows {
		addWarning(Warning{
			Check:  "row_count",
			Detail: fmt.Sprintf("%s has %d rows, expected at least %d", ds.BaseTableName(), rowCount, cfg.MinRows),
		})
	}

	// Sessions are not safe for concurrent use, so each column check
	// takes its own connection from the pool.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for _, col := range ds.Schema() {
		if col.Name == ds.MergeKey() {
			continue
		}
		g.Go(func() error {
			nulls, err := queryCount(gctx, client, nullCountSQL(ds, col.Name))
			if err != nil {
				return fmt.Errorf("failed to check nulls in %s.%s: %w", ds.BaseTableName(), col.Name, err)
			}
			if nulls == 0 {
				return nil
			}
			sample, err := querySample(gctx, client, nullSampleSQL(ds, col.Name, sampleLimit))
			if err != nil {
				return fmt.Errorf("failed to sample nulls in %s.%s: %w", ds.BaseTableName(), col.Name, err)
			}
			addWarning(Warning{
				Check:  "null_column",
				Detail: fmt.Sprintf("%s.%s has %d null values (sample %s: %s)", ds.BaseTableName(), col.Name, nulls, ds.MergeKey(), strings.Join(sample, ", ")),
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, w := range report.Warnings {
		log.Warn("Validation warning", "check", w.Check, "detail", w.Detail)
	}

	return report, nil
}

func nullCountSQL(ds *dataset.Dataset, column string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL",
		warehouse.QuoteIdentifier(ds.BaseTableName()),
		warehouse.QuoteIdentifier(column))
}

func nullSampleSQL(ds *dataset.Dataset, column string, limit int64) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NULL LIMIT %d",
		warehouse.QuoteIdentifier(ds.MergeKey()),
		warehouse.QuoteIdentifier(ds.BaseTableName()),
		warehouse.QuoteIdentifier(column),
		limit)
}

func queryCount(ctx context.Context, client warehouse.Client, query string) (int64, error) {
	conn, err := client.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("count query returned no rows")
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}

func querySample(ctx context.Context, client warehouse.Client, query string) ([]string, error) {
	conn, err := client.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
