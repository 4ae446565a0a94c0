package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakdata/ingest/pkg/errclass"
	"github.com/oakdata/ingest/pkg/schema"
)

func eventsSchema() schema.Schema {
	return schema.Schema{
		{Name: "id", Type: schema.TypeNumber},
		{Name: "name", Type: schema.TypeVarchar},
		{Name: "amount", Type: schema.TypeFloat},
		{Name: "event_date", Type: schema.TypeDate},
		{Name: "metadata", Type: schema.TypeVariant},
	}
}

func TestIngest_Dataset_New_Validation(t *testing.T) {
	t.Parallel()

	_, err := New("events", nil, "id")
	require.True(t, errclass.IsConfiguration(err))

	_, err = New("events", schema.Schema{{Name: "name", Type: schema.TypeVarchar}}, "id")
	require.True(t, errclass.IsConfiguration(err))
	require.Contains(t, err.Error(), `"id"`)

	_, err = New("bad name;", eventsSchema(), "id")
	require.True(t, errclass.IsConfiguration(err))

	_, err = New("events", eventsSchema(), "id")
	require.NoError(t, err)
}

func TestIngest_Dataset_Names(t *testing.T) {
	t.Parallel()

	d, err := New("events", eventsSchema(), "id")
	require.NoError(t, err)
	require.Equal(t, "events", d.BaseTableName())
	require.Equal(t, "events_staging", d.StagingTableName())
	require.Equal(t, "events_stage", d.StageName())
}

func TestIngest_Dataset_CreateParentTableSQL(t *testing.T) {
	t.Parallel()

	d, err := New("events", eventsSchema(), "id")
	require.NoError(t, err)

	sql := d.CreateParentTableSQL()
	require.True(t, strings.HasPrefix(sql, `CREATE TABLE IF NOT EXISTS "events" (`))
	require.Contains(t, sql, `"id" NUMBER`)
	require.Contains(t, sql, `"name" VARCHAR`)
	require.Contains(t, sql, `"amount" FLOAT`)
	require.Contains(t, sql, `"event_date" DATE`)
	require.Contains(t, sql, `"metadata" VARIANT`)
	require.Contains(t, sql, `PRIMARY KEY ("id")`)
	require.NotContains(t, sql, "DROP")
	require.NotContains(t, sql, "ALTER")
}

func TestIngest_Dataset_StageAndLoadSQL(t *testing.T) {
	t.Parallel()

	d, err := New("events", eventsSchema(), "id")
	require.NoError(t, err)

	stmts := d.StageAndLoadSQL("/tmp/batch_01.csv")
	require.Len(t, stmts, 4)
	require.Equal(t, `CREATE STAGE IF NOT EXISTS "events_stage"`, stmts[0])
	require.True(t, strings.HasPrefix(stmts[1], `CREATE OR REPLACE TEMPORARY TABLE "events_staging" (`))
	require.Equal(t, `PUT file:///tmp/batch_01.csv @"events_stage" AUTO_COMPRESS=FALSE OVERWRITE=TRUE`, stmts[2])

	copySQL := stmts[3]
	require.Contains(t, copySQL, `COPY INTO "events_staging"`)
	require.Contains(t, copySQL, `@"events_stage"/batch_01.csv`)
	require.Contains(t, copySQL, "TRY_TO_NUMBER($1)")
	require.Contains(t, copySQL, "TRY_TO_DOUBLE($3)")
	require.Contains(t, copySQL, "TRY_TO_DATE(TRIM($4)")
	require.Contains(t, copySQL, "TRY_PARSE_JSON($5)")
	require.Contains(t, copySQL, "SKIP_HEADER = 1")
	require.Contains(t, copySQL, `FIELD_OPTIONALLY_ENCLOSED_BY = '"'`)
}

func TestIngest_Dataset_MergeSQL(t *testing.T) {
	t.Parallel()

	d, err := New("events", eventsSchema(), "id")
	require.NoError(t, err)

	sql := d.MergeSQL()

	require.Equal(t, 1, strings.Count(sql, "WHEN MATCHED"))
	require.Equal(t, 1, strings.Count(sql, "WHEN NOT MATCHED"))
	require.NotContains(t, strings.ToUpper(sql), "DELETE")

	require.Contains(t, sql, `MERGE INTO "events" tgt USING "events_staging" src ON tgt."id" = src."id"`)

	// The inequality guard references every non-key column.
	for _, col := range []string{"name", "amount", "event_date", "metadata"} {
		require.Contains(t, sql, `tgt."`+col+`" IS DISTINCT FROM src."`+col+`"`)
		require.Contains(t, sql, `tgt."`+col+`" = src."`+col+`"`)
	}
	// The merge key is never updated.
	require.NotContains(t, sql, `tgt."id" = src."id",`)
	require.NotContains(t, sql, `SET tgt."id"`)

	require.Contains(t, sql, `INSERT ("id", "name", "amount", "event_date", "metadata")`)
	require.Contains(t, sql, `VALUES (src."id", src."name", src."amount", src."event_date", src."metadata")`)
}

func TestIngest_Dataset_MergeSQL_KeyOnlySchema(t *testing.T) {
	t.Parallel()

	d, err := New("ids_only", schema.Schema{{Name: "id", Type: schema.TypeNumber}}, "id")
	require.NoError(t, err)

	sql := d.MergeSQL()
	require.NotContains(t, sql, "WHEN MATCHED AND")
	require.Contains(t, sql, "WHEN NOT MATCHED THEN INSERT")

	require.Equal(t, `SELECT "number of rows inserted" FROM TABLE(RESULT_SCAN(LAST_QUERY_ID()))`, d.MergeStatsSQL())
}

func TestIngest_Dataset_MergeStatsSQL(t *testing.T) {
	t.Parallel()

	d, err := New("events", eventsSchema(), "id")
	require.NoError(t, err)
	require.Equal(t,
		`SELECT "number of rows inserted", "number of rows updated" FROM TABLE(RESULT_SCAN(LAST_QUERY_ID()))`,
		d.MergeStatsSQL())
}

func TestIngest_Dataset_RowCountSQL(t *testing.T) {
	t.Parallel()

	d, err := New("events", eventsSchema(), "id")
	require.NoError(t, err)
	require.Equal(t, `SELECT COUNT(*) FROM "events"`, d.RowCountSQL())
}

func TestIngest_Dataset_DeterministicOutput(t *testing.T) {
	t.Parallel()

	a, err := New("events", eventsSchema(), "id")
	require.NoError(t, err)
	b, err := New("events", eventsSchema(), "id")
	require.NoError(t, err)

	require.Equal(t, a.CreateParentTableSQL(), b.CreateParentTableSQL())
	require.Equal(t, a.MergeSQL(), b.MergeSQL())
	require.Equal(t, a.StageAndLoadSQL("/tmp/x.csv"), b.StageAndLoadSQL("/tmp/x.csv"))
}
