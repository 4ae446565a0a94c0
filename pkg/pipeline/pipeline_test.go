package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/oakdata/ingest/pkg/errclass"
	"github.com/oakdata/ingest/pkg/retry"
	"github.com/oakdata/ingest/pkg/schema"
	"github.com/oakdata/ingest/pkg/warehouse"
)

const testCSV = `id,signup_date,amount,event_metadata
1,01/02/2023,10.5,"{""plan"": ""pro""}"
2,03/04/2023,7,"{""plan"": ""free""}"
`

const testSubsets = `
source_table: events
filters:
  - name: pro_events
    where: GET_PATH("event_metadata", 'plan') = 'pro'
`

// fakeWarehouse records every statement and answers queries by substring
// match, so tests do not have to reproduce generated SQL byte for byte.
type fakeWarehouse struct {
	mu       sync.Mutex
	executed []string
	execErr  func(query string) error
}

func (f *fakeWarehouse) Conn(ctx context.Context) (warehouse.Connection, error) {
	return &fakeConn{wh: f}, nil
}

func (f *fakeWarehouse) Close() error { return nil }

func (f *fakeWarehouse) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeWarehouse) statementMatching(substr string) string {
	for _, q := range f.statements() {
		if strings.Contains(q, substr) {
			return q
		}
	}
	return ""
}

type fakeConn struct {
	wh *fakeWarehouse
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	c.wh.mu.Lock()
	c.wh.executed = append(c.wh.executed, query)
	c.wh.mu.Unlock()
	if c.wh.execErr != nil {
		return c.wh.execErr(query)
	}
	return nil
}

func (c *fakeConn) Query(ctx context.Context, query string, args ...any) (warehouse.Rows, error) {
	switch {
	case strings.Contains(query, "RESULT_SCAN"):
		return &fakeRows{rows: [][]int64{{2, 1}}}, nil
	case strings.Contains(query, "IS NULL"):
		return &fakeRows{rows: [][]int64{{0}}}, nil
	case strings.Contains(query, "COUNT(*)"):
		return &fakeRows{rows: [][]int64{{2}}}, nil
	default:
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
}

func (c *fakeConn) Close() error { return nil }

type fakeRows struct {
	rows [][]int64
	i    int
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	for j, d := range dest {
		p, ok := d.(*int64)
		if !ok {
			return fmt.Errorf("unsupported scan target %T", d)
		}
		*p = row[j]
	}
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

// fakeStore keeps objects in memory and can fail the first N uploads.
type fakeStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	uploadFails int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) EnsureBucket(ctx context.Context) error { return nil }

func (s *fakeStore) Upload(ctx context.Context, localPath, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadFails > 0 {
		s.uploadFails--
		return 0, errors.New("connection reset by peer")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	s.objects[key] = data
	return int64(len(data)), nil
}

func (s *fakeStore) Download(ctx context.Context, key, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("no such object: %s", key)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(wh *fakeWarehouse, store *fakeStore) *Config {
	return &Config{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     clockwork.NewFakeClock(),
		Warehouse: wh,
		Store:     store,
		Retry:     retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		TableName: "events",
		MinRows:   1,
	}
}

func TestIngest_Pipeline_Run(t *testing.T) {
	t.Parallel()

	wh := &fakeWarehouse{}
	store := newFakeStore()
	cfg := testConfig(wh, store)
	cfg.SubsetConfigPath = writeTestFile(t, "subsets.yml", testSubsets)

	p, err := New(cfg)
	require.NoError(t, err)

	csvPath := writeTestFile(t, "events.csv", testCSV)
	result, err := p.Run(context.Background(), csvPath)
	require.NoError(t, err)

	require.NotEmpty(t, result.RunID)
	require.Equal(t, "events", result.Table)
	require.Equal(t, 2, result.RowsRead)
	require.Equal(t, int64(2), result.Stats.Inserted)
	require.Equal(t, int64(1), result.Stats.Updated)
	require.Equal(t, int64(2), result.RowCount)
	require.Empty(t, result.Warnings)
	require.Equal(t, []string{"pro_events"}, result.ViewsApplied)

	require.Equal(t, schema.Schema{
		{Name: "id", Type: schema.TypeNumber},
		{Name: "signup_date", Type: schema.TypeDate},
		{Name: "amount", Type: schema.TypeFloat},
		{Name: "event_metadata", Type: schema.TypeVariant},
	}, result.Schema)

	// The original file landed under uploads/ with its base name.
	require.Contains(t, store.objects, "uploads/events.csv")

	// The warehouse saw the full statement sequence.
	for _, substr := range []string{
		`CREATE TABLE IF NOT EXISTS "events"`,
		`CREATE STAGE IF NOT EXISTS`,
		`PUT file://`,
		`CREATE OR REPLACE TEMPORARY TABLE "events_staging"`,
		`COPY INTO "events_staging"`,
		`MERGE INTO "events"`,
		`REMOVE`,
		`CREATE OR REPLACE SECURE VIEW "pro_events"`,
	} {
		require.NotEmpty(t, wh.statementMatching(substr), "missing statement containing %q", substr)
	}

	// No destructive statements anywhere in the run.
	for _, q := range wh.statements() {
		require.NotContains(t, q, "DROP TABLE")
		require.NotContains(t, q, "DELETE FROM")
	}
}

func TestIngest_Pipeline_Run_NoSubsets(t *testing.T) {
	t.Parallel()

	wh := &fakeWarehouse{}
	p, err := New(testConfig(wh, newFakeStore()))
	require.NoError(t, err)

	result, err := p.Run(context.Background(), writeTestFile(t, "events.csv", testCSV))
	require.NoError(t, err)
	require.Empty(t, result.ViewsApplied)
	require.Empty(t, wh.statementMatching("SECURE VIEW"))
}

func TestIngest_Pipeline_Run_UploadRetries(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.uploadFails = 2

	p, err := New(testConfig(&fakeWarehouse{}, store))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), writeTestFile(t, "events.csv", testCSV))
	require.NoError(t, err)
	require.Contains(t, store.objects, "uploads/events.csv")
}

func TestIngest_Pipeline_Run_SubsetTableMismatch(t *testing.T) {
	t.Parallel()

	cfg := testConfig(&fakeWarehouse{}, newFakeStore())
	cfg.SubsetConfigPath = writeTestFile(t, "subsets.yml", strings.Replace(testSubsets, "source_table: events", "source_table: other", 1))

	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), writeTestFile(t, "events.csv", testCSV))
	require.Error(t, err)
	require.True(t, errclass.IsConfiguration(err))
}

func TestIngest_Pipeline_Run_BadCSVFailsFast(t *testing.T) {
	t.Parallel()

	wh := &fakeWarehouse{}
	p, err := New(testConfig(wh, newFakeStore()))
	require.NoError(t, err)

	bad := writeTestFile(t, "bad.csv", "name,amount\na,1\n")
	_, err = p.Run(context.Background(), bad)
	require.Error(t, err)
	require.True(t, errclass.IsDataShape(err))
	require.Empty(t, wh.statements())
}

func TestIngest_Pipeline_Run_ViewFailureAborts(t *testing.T) {
	t.Parallel()

	wh := &fakeWarehouse{
		execErr: func(query string) error {
			if strings.Contains(query, "SECURE VIEW") {
				return errors.New("insufficient privileges")
			}
			return nil
		},
	}
	cfg := testConfig(wh, newFakeStore())
	cfg.SubsetConfigPath = writeTestFile(t, "subsets.yml", testSubsets)

	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), writeTestFile(t, "events.csv", testCSV))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to apply view pro_events")
}
