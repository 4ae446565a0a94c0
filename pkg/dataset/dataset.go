// Package dataset turns an inferred schema plus a merge key into the SQL
// text for a staging-then-merge upsert: parent DDL, internal stage setup,
// PUT/COPY of the batch file, and the MERGE statement itself. Everything
// here renders deterministic text and performs no I/O; execution lives in
// write.go against a warehouse session.
package dataset

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oakdata/ingest/pkg/errclass"
	"github.com/oakdata/ingest/pkg/schema"
	"github.com/oakdata/ingest/pkg/warehouse"
)

// Dataset binds one parent table to one load run's schema and merge key.
type Dataset struct {
	name     string
	schema   schema.Schema
	mergeKey string
}

// New validates the (table, schema, mergeKey) triple. It fails only on
// configuration problems: malformed data is the warehouse's job at
// execution time.
func New(name string, s schema.Schema, mergeKey string) (*Dataset, error) {
	if !warehouse.IsSafeIdentifier(name) {
		return nil, errclass.Configf("table name %q is not a valid identifier", name)
	}
	if len(s) == 0 {
		return nil, errclass.Configf("schema is empty")
	}
	if mergeKey == "" {
		return nil, errclass.Configf("merge key is required")
	}
	if !s.Contains(mergeKey) {
		return nil, errclass.Configf("merge key column %q not present in schema", mergeKey)
	}
	return &Dataset{name: name, schema: s, mergeKey: mergeKey}, nil
}

func (d *Dataset) BaseTableName() string    { return d.name }
func (d *Dataset) StagingTableName() string { return d.name + "_staging" }
func (d *Dataset) StageName() string        { return d.name + "_stage" }

func (d *Dataset) Schema() schema.Schema { return d.schema }
func (d *Dataset) MergeKey() string      { return d.mergeKey }

// warehouseType maps a TypeTag onto its warehouse column type.
func warehouseType(t schema.TypeTag) string {
	return string(t)
}

func (d *Dataset) stageRef(file string) string {
	ref := "@" + warehouse.QuoteIdentifier(d.StageName())
	if file != "" {
		ref += "/" + file
	}
	return ref
}

// CreateParentTableSQL renders the idempotent parent table DDL. It never
// drops or alters an existing table: a re-run against a live table leaves
// its column types untouched.
func (d *Dataset) CreateParentTableSQL() string {
	cols := make([]string, 0, len(d.schema)+1)
	for _, c := range d.schema {
		cols = append(cols, fmt.Sprintf("%s %s", warehouse.QuoteIdentifier(c.Name), warehouseType(c.Type)))
	}
	cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", warehouse.QuoteIdentifier(d.mergeKey)))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		warehouse.QuoteIdentifier(d.name), strings.Join(cols, ", "))
}

// CreateStageSQL renders the internal stage used to move local batch files
// into the warehouse.
func (d *Dataset) CreateStageSQL() string {
	return "CREATE STAGE IF NOT EXISTS " + warehouse.QuoteIdentifier(d.StageName())
}

// PutFileSQL renders the PUT statement uploading a local file to the
// stage. Compression is disabled so the staged name matches the local
// basename for the later COPY and REMOVE.
func (d *Dataset) PutFileSQL(localPath string) string {
	return fmt.Sprintf("PUT file://%s %s AUTO_COMPRESS=FALSE OVERWRITE=TRUE",
		filepath.ToSlash(localPath), d.stageRef(""))
}

// CreateStagingTableSQL renders the session-scoped staging table carrying
// the same schema as the parent.
func (d *Dataset) CreateStagingTableSQL() string {
	cols := make([]string, 0, len(d.schema))
	for _, c := range d.schema {
		cols = append(cols, fmt.Sprintf("%s %s", warehouse.QuoteIdentifier(c.Name), warehouseType(c.Type)))
	}
	return fmt.Sprintf("CREATE OR REPLACE TEMPORARY TABLE %s (%s)",
		warehouse.QuoteIdentifier(d.StagingTableName()), strings.Join(cols, ", "))
}

// CopyIntoStagingSQL renders the COPY of a staged CSV file into the
// staging table. The transformation select applies a tolerant cast per
// column so raw text lands as typed values instead of failing the load.
func (d *Dataset) CopyIntoStagingSQL(stageFile string) string {
	exprs := make([]string, 0, len(d.schema))
	for i, c := range d.schema {
		exprs = append(exprs, castExpr(fmt.Sprintf("$%d", i+1), c.Type))
	}
	return fmt.Sprintf(
		"COPY INTO %s FROM (SELECT %s FROM %s) FILE_FORMAT = (TYPE = 'CSV' SKIP_HEADER = 1 FIELD_OPTIONALLY_ENCLOSED_BY = '\"')",
		warehouse.QuoteIdentifier(d.StagingTableName()),
		strings.Join(exprs, ", "),
		d.stageRef(stageFile),
	)
}

// castExpr maps raw staged text into a target column type, preferring
// TRY_* forms so individual bad cells become NULL rather than load
// failures.
func castExpr(columnExpr string, t schema.TypeTag) string {
	switch t {
	case schema.TypeNumber:
		return fmt.Sprintf("TRY_TO_NUMBER(%s)", columnExpr)
	case schema.TypeFloat:
		return fmt.Sprintf("TRY_TO_DOUBLE(%s)", columnExpr)
	case schema.TypeDate:
		return dateCastExpr(columnExpr)
	case schema.TypeVariant:
		return fmt.Sprintf("TRY_PARSE_JSON(%s)", columnExpr)
	default:
		return columnExpr
	}
}

// dateCastExpr parses ISO dates directly and normalizes MM/DD/YY into
// MM/DD/20YY first. Snowflake can otherwise map two-digit years into year
// 0025 depending on session parsing.
func dateCastExpr(columnExpr string) string {
	trimmed := fmt.Sprintf("TRIM(%s)", columnExpr)
	mmddyyAs20yy := fmt.Sprintf(
		"LPAD(SPLIT_PART(%s, '/', 1), 2, '0') || '/' || LPAD(SPLIT_PART(%s, '/', 2), 2, '0') || '/20' || SPLIT_PART(%s, '/', 3)",
		trimmed, trimmed, trimmed)
	return fmt.Sprintf(
		"CASE WHEN REGEXP_LIKE(%s, '^[0-9]{4}-[0-9]{2}-[0-9]{2}$') THEN TRY_TO_DATE(%s, 'YYYY-MM-DD') "+
			"WHEN REGEXP_LIKE(%s, '^[0-9]{1,2}/[0-9]{1,2}/[0-9]{2}$') THEN TRY_TO_DATE(%s, 'MM/DD/YYYY') "+
			"ELSE TRY_TO_DATE(%s) END",
		trimmed, trimmed, trimmed, mmddyyAs20yy, trimmed)
}

// StageAndLoadSQL renders the full statement sequence that moves a local
// batch file into the staging table: stage setup, PUT, staging DDL, COPY.
func (d *Dataset) StageAndLoadSQL(localPath string) []string {
	return []string{
		d.CreateStageSQL(),
		d.CreateStagingTableSQL(),
		d.PutFileSQL(localPath),
		d.CopyIntoStagingSQL(filepath.Base(localPath)),
	}
}

// updatableColumns returns all non-key columns, in schema order.
func (d *Dataset) updatableColumns() []schema.Column {
	out := make([]schema.Column, 0, len(d.schema))
	for _, c := range d.schema {
		if c.Name != d.mergeKey {
			out = append(out, c)
		}
	}
	return out
}

// MergeSQL renders the upsert. The MATCHED branch is guarded by an
// inequality chain over every non-key column, so rows whose payload is
// unchanged match without producing a write. There is never a DELETE
// branch: rows absent from the batch stay in the parent.
func (d *Dataset) MergeSQL() string {
	key := warehouse.QuoteIdentifier(d.mergeKey)
	updatable := d.updatableColumns()

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s tgt USING %s src ON tgt.%s = src.%s",
		warehouse.QuoteIdentifier(d.name),
		warehouse.QuoteIdentifier(d.StagingTableName()),
		key, key)

	if len(updatable) > 0 {
		diffs := make([]string, len(updatable))
		sets := make([]string, len(updatable))
		for i, c := range updatable {
			q := warehouse.QuoteIdentifier(c.Name)
			diffs[i] = fmt.Sprintf("tgt.%s IS DISTINCT FROM src.%s", q, q)
			sets[i] = fmt.Sprintf("tgt.%s = src.%s", q, q)
		}
		fmt.Fprintf(&b, " WHEN MATCHED AND (%s) THEN UPDATE SET %s",
			strings.Join(diffs, " OR "), strings.Join(sets, ", "))
	}

	insertCols := make([]string, len(d.schema))
	insertVals := make([]string, len(d.schema))
	for i, c := range d.schema {
		q := warehouse.QuoteIdentifier(c.Name)
		insertCols[i] = q
		insertVals[i] = "src." + q
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		strings.Join(insertCols, ", "), strings.Join(insertVals, ", "))

	return b.String()
}

// MergeStatsSQL reads the insert/update counts of the immediately
// preceding MERGE in the same session.
func (d *Dataset) MergeStatsSQL() string {
	cols := `"number of rows inserted"`
	if len(d.updatableColumns()) > 0 {
		cols += `, "number of rows updated"`
	}
	return fmt.Sprintf("SELECT %s FROM TABLE(RESULT_SCAN(LAST_QUERY_ID()))", cols)
}

// RowCountSQL renders the advisory post-load count; the minimum comparison
// itself belongs to the caller.
func (d *Dataset) RowCountSQL() string {
	return "SELECT COUNT(*) FROM " + warehouse.QuoteIdentifier(d.name)
}

// RemoveStagedFileSQL renders cleanup of one staged file so reruns do not
// accumulate stale artifacts.
func (d *Dataset) RemoveStagedFileSQL(stageFile string) string {
	return "REMOVE " + d.stageRef(stageFile)
}
