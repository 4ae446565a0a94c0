package subset

import (
	"fmt"
	"strings"

	"github.com/oakdata/ingest/pkg/warehouse"
)

// View is one rendered secure view, in configuration order.
type View struct {
	Name string
	SQL  string
}

// BuildViews renders secure-view DDL for every configured filter, in
// config order. Rendering is pure: re-invoking on an unchanged spec
// regenerates byte-identical SQL, so re-application is idempotent.
func BuildViews(spec *Spec) []View {
	views := make([]View, 0, len(spec.Filters))
	for _, f := range spec.Filters {
		views = append(views, View{Name: f.Name, SQL: buildViewSQL(spec.SourceTable, f)})
	}
	return views
}

func buildViewSQL(sourceTable string, f FilterDef) string {
	projection := []string{"*"}
	aliases := make(map[string]int, len(f.Flatten))

	for _, fp := range f.Flatten {
		alias := aliasFor(fp.Key)
		// Two paths can collapse to the same alias within one view;
		// suffix the later one so the projection stays valid.
		aliases[alias]++
		if n := aliases[alias]; n > 1 {
			alias = fmt.Sprintf("%s_%d", alias, n)
		}
		projection = append(projection, fmt.Sprintf("GET_PATH(%s, '%s')::%s AS %s",
			warehouse.QuoteIdentifier(fp.Column),
			strings.ReplaceAll(fp.Key, "'", "''"),
			fp.Type,
			alias))
	}

	return fmt.Sprintf("CREATE OR REPLACE SECURE VIEW %s AS SELECT %s FROM %s WHERE %s",
		warehouse.QuoteIdentifier(f.Name),
		strings.Join(projection, ", "),
		sourceTable,
		f.Where)
}

// aliasFor derives the synthetic output column name from the last path
// segment: lower-cased, with anything unfit for an unquoted identifier
// replaced by underscores.
func aliasFor(key string) string {
	var b strings.Builder
	for i, r := range strings.ToLower(key) {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "field"
	}
	return b.String()
}
