package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakdata/ingest/pkg/errclass"
)

func TestIngest_Source_Read(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		`id,name,event_date,metadata`,
		`1,alice,2024-01-01,"{""plan"":""pro""}"`,
		`2,bob,2024-01-02,"{""plan"":""free""}"`,
	}, "\n")

	b, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "event_date", "metadata"}, b.Header)
	require.Len(t, b.Rows, 2)
	require.Equal(t, `{"plan":"pro"}`, b.Rows[0][3])
}

func TestIngest_Source_Read_QuotedJSONWithCommas(t *testing.T) {
	t.Parallel()

	in := "id,meta\n" + `7,"{""a"":1,""b"":[1,2]}"` + "\n"
	b, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":[1,2]}`, b.Rows[0][1])
}

func TestIngest_Source_Read_MissingMergeKeyColumn(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("name,amount\nalice,3\n"))
	require.Error(t, err)
	require.True(t, errclass.IsDataShape(err))
	require.Contains(t, err.Error(), `"id"`)
}

func TestIngest_Source_Read_EmptyMergeKeyCell(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("id,name\n1,alice\n,bob\n"))
	require.Error(t, err)
	require.True(t, errclass.IsDataShape(err))
	require.Contains(t, err.Error(), "row 3")
}

func TestIngest_Source_Read_ColumnCountMismatch(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("id,name,amount\n1,alice\n"))
	require.Error(t, err)
	require.True(t, errclass.IsDataShape(err))
}

func TestIngest_Source_Read_EmptyInput(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader(""))
	require.Error(t, err)
	require.True(t, errclass.IsDataShape(err))

	// A header-only file is a valid, empty batch.
	b, err := Read(strings.NewReader("id,name\n"))
	require.NoError(t, err)
	require.Empty(t, b.Rows)
}

func TestIngest_Source_Read_EmptyHeaderField(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("id,,name\n1,x,y\n"))
	require.Error(t, err)
	require.True(t, errclass.IsDataShape(err))
}
