package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_ingest_loads_total",
			Help: "Total number of CSV load runs",
		},
		[]string{"table", "status"},
	)

	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csv_ingest_load_duration_seconds",
			Help:    "Duration of full load runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~2048s (~34 minutes)
		},
		[]string{"table"},
	)

	RowsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_ingest_rows_inserted_total",
			Help: "Rows inserted into parent tables by merges",
		},
		[]string{"table"},
	)

	RowsUpdated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_ingest_rows_updated_total",
			Help: "Rows updated in parent tables by merges",
		},
		[]string{"table"},
	)

	WarehouseStatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_ingest_warehouse_statements_total",
			Help: "Total number of warehouse statements executed",
		},
		[]string{"status"},
	)

	ViewsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_ingest_views_applied_total",
			Help: "Total number of secure views applied",
		},
		[]string{"status"},
	)

	ValidationWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csv_ingest_validation_warnings_total",
			Help: "Advisory validation warnings raised after loads",
		},
		[]string{"check"},
	)
)

// Push delivers the current metric state to a Pushgateway. The loader is a
// one-shot process, so there is nothing for Prometheus to scrape; pushing
// at the end of a run is the only delivery path.
func Push(ctx context.Context, gatewayURL, job string) error {
	err := push.New(gatewayURL, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
