package warehouse

import (
	"strings"

	"github.com/oakdata/ingest/pkg/errclass"
)

// QuoteIdentifier double-quotes an identifier, escaping embedded quotes,
// so case and keyword-colliding names survive into generated SQL.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(name), `"`, `""`) + `"`
}

// QualifyName resolves an object name into stable "DB"."SCHEMA"."OBJECT"
// form. One-part names take both defaults, two-part names take the default
// database.
func QualifyName(name, defaultDatabase, defaultSchema string) (string, error) {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return "", errclass.Configf("invalid object name %q", name)
		}
	}

	switch len(parts) {
	case 1:
		parts = []string{defaultDatabase, defaultSchema, parts[0]}
	case 2:
		parts = []string{defaultDatabase, parts[0], parts[1]}
	case 3:
	default:
		return "", errclass.Configf("object name %q must have at most 3 parts", name)
	}

	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = QuoteIdentifier(p)
	}
	return strings.Join(quoted, "."), nil
}

// IsSafeIdentifier reports whether a name can be used unquoted in SQL:
// letters, digits and underscores, not starting with a digit.
func IsSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
