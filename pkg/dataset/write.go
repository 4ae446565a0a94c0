package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/oakdata/ingest/pkg/warehouse"
)

// MergeStats reports what one MERGE did.
type MergeStats struct {
	Inserted int64
	Updated  int64
}

// Affected is the total number of rows the merge wrote.
func (s MergeStats) Affected() int64 { return s.Inserted + s.Updated }

// Load runs the staging-then-merge sequence for one local batch file over
// a single warehouse session. One session is required: the staging table
// is session-scoped and the stats read via RESULT_SCAN must follow the
// MERGE in the same session.
func (d *Dataset) Load(ctx context.Context, log *slog.Logger, conn warehouse.Connection, localPath string) (MergeStats, error) {
	stageFile := filepath.Base(localPath)

	for _, stmt := range d.StageAndLoadSQL(localPath) {
		if err := conn.Exec(ctx, stmt); err != nil {
			return MergeStats{}, fmt.Errorf("failed to stage batch for %s: %w", d.name, err)
		}
	}

	if err := conn.Exec(ctx, d.MergeSQL()); err != nil {
		return MergeStats{}, fmt.Errorf("failed to merge staging into %s: %w", d.name, err)
	}

	stats, err := d.readMergeStats(ctx, conn)
	if err != nil {
		return MergeStats{}, fmt.Errorf("failed to read merge stats for %s: %w", d.name, err)
	}

	// Cleanup is best effort; a stale staged file must not fail a
	// successful load.
	if err := conn.Exec(ctx, d.RemoveStagedFileSQL(stageFile)); err != nil {
		log.Warn("failed to remove staged file", "table", d.name, "file", stageFile, "error", err)
	}

	return stats, nil
}

func (d *Dataset) readMergeStats(ctx context.Context, conn warehouse.Connection) (MergeStats, error) {
	rows, err := conn.Query(ctx, d.MergeStatsSQL())
	if err != nil {
		return MergeStats{}, err
	}
	defer rows.Close()

	var stats MergeStats
	if rows.Next() {
		if len(d.updatableColumns()) > 0 {
			err = rows.Scan(&stats.Inserted, &stats.Updated)
		} else {
			err = rows.Scan(&stats.Inserted)
		}
		if err != nil {
			return MergeStats{}, err
		}
	}
	return stats, rows.Err()
}
