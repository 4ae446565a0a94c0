// Package source reads one CSV batch into memory and enforces its shape
// contract before anything downstream sees it: a header row defines the
// column set, every data row matches it, and the merge key column is
// present and non-empty on every row.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oakdata/ingest/pkg/errclass"
)

// MergeKeyColumn is the fixed merge key every batch must carry.
const MergeKeyColumn = "id"

// Batch is one CSV file's header and data rows, in file order. Values are
// raw text; typing happens at inference and warehouse load time.
type Batch struct {
	Header []string
	Rows   [][]string
}

// ReadFile reads and validates a CSV batch from a local path.
func ReadFile(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read reads and validates a CSV batch. A malformed batch is rejected
// whole with a DataShapeError; there is no partial acceptance.
func Read(r io.Reader) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errclass.DataShapef("empty input: no header row")
	}
	if err != nil {
		return nil, errclass.DataShapef("failed to read header: %v", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if header[i] == "" {
			return nil, errclass.DataShapef("header field %d is empty", i+1)
		}
	}

	idIdx := -1
	for i, name := range header {
		if name == MergeKeyColumn {
			idIdx = i
			break
		}
	}
	if idIdx < 0 {
		return nil, errclass.DataShapef("required merge key column %q not in header", MergeKeyColumn)
	}

	// FieldsPerRecord is pinned by the header read above, so the csv
	// reader itself flags count mismatches; report them as shape errors.
	var rows [][]string
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errclass.DataShapef("row %d: %v", line, err)
		}
		if strings.TrimSpace(rec[idIdx]) == "" {
			return nil, errclass.DataShapef("row %d: merge key column %q is empty", line, MergeKeyColumn)
		}
		row := make([]string, len(rec))
		copy(row, rec)
		rows = append(rows, row)
	}

	return &Batch{Header: header, Rows: rows}, nil
}
