// Package schema holds the analytical column model and the type inference
// engine that maps untyped CSV text onto it.
package schema

import (
	"strings"

	"github.com/oakdata/ingest/pkg/errclass"
)

// TypeTag is one of the five analytical column types a load can assign.
type TypeTag string

const (
	TypeNumber  TypeTag = "NUMBER"
	TypeFloat   TypeTag = "FLOAT"
	TypeVarchar TypeTag = "VARCHAR"
	TypeDate    TypeTag = "DATE"
	TypeVariant TypeTag = "VARIANT"
)

// ParseTypeTag maps a config string onto a TypeTag, case-insensitively.
func ParseTypeTag(s string) (TypeTag, error) {
	switch TypeTag(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeNumber:
		return TypeNumber, nil
	case TypeFloat:
		return TypeFloat, nil
	case TypeVarchar:
		return TypeVarchar, nil
	case TypeDate:
		return TypeDate, nil
	case TypeVariant:
		return TypeVariant, nil
	}
	return "", errclass.Configf("unknown type tag %q", s)
}

// Column is one header field with its inferred type.
type Column struct {
	Name string
	Type TypeTag
}

// Schema is the ordered column set for one load run, in CSV-header order.
// It is a value: built fresh per batch, threaded explicitly into SQL
// generation, never merged with a prior run's schema.
type Schema []Column

// ColumnNames returns the column names in schema order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Contains reports whether the schema has a column with the given name.
func (s Schema) Contains(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}
