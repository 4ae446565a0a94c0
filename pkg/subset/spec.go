// Package subset turns a declarative filter/flatten configuration into
// secure-view DDL over a loaded parent table.
//
// Trust boundary: `where` expressions are operator-authored internal
// configuration, injected into generated SQL verbatim and never derived
// from end-user input. Validation here is structural only, by design; any
// future externally-supplied filter input must go through a separate,
// parameterized path instead of this one.
package subset

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oakdata/ingest/pkg/errclass"
	"github.com/oakdata/ingest/pkg/schema"
	"github.com/oakdata/ingest/pkg/warehouse"
)

// FlattenPath extracts one field out of a VARIANT column into a typed
// output column: "<column>.<json_key>".
type FlattenPath struct {
	Column string
	Key    string
	Type   schema.TypeTag
}

// FilterDef is one named projection: the name becomes the view identifier.
type FilterDef struct {
	Name    string
	Where   string
	Flatten []FlattenPath
}

// Spec is the normalized subset configuration. It is a value: built once
// from config and handed downstream immutably.
type Spec struct {
	SourceTable string
	Filters     []FilterDef
}

type rawFlatten struct {
	Path string `yaml:"path"`
	Type string `yaml:"type"`
}

type rawFilter struct {
	Name    string       `yaml:"name"`
	Where   string       `yaml:"where"`
	Flatten []rawFlatten `yaml:"flatten"`
}

type rawSpec struct {
	SourceTable string      `yaml:"source_table"`
	Filters     []rawFilter `yaml:"filters"`
}

// LoadSpec reads and validates a subset configuration file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subset config: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec parses the YAML configuration and validates its structure.
// All failures are configuration errors: retrying an invalid config
// cannot succeed.
func ParseSpec(data []byte) (*Spec, error) {
	var raw rawSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errclass.Configf("subset config is not valid YAML: %v", err)
	}

	raw.SourceTable = strings.TrimSpace(raw.SourceTable)
	if raw.SourceTable == "" {
		return nil, errclass.Configf("subset config: source_table is required")
	}

	spec := &Spec{SourceTable: raw.SourceTable}
	seen := make(map[string]bool, len(raw.Filters))

	for i, rf := range raw.Filters {
		name := strings.TrimSpace(rf.Name)
		if name == "" {
			return nil, errclass.Configf("filters[%d]: name is required", i)
		}
		if !warehouse.IsSafeIdentifier(name) {
			return nil, errclass.Configf("filters[%d]: name %q is not a valid view identifier", i, name)
		}
		// Names become view identifiers; a collision would silently
		// redefine an earlier view.
		if seen[name] {
			return nil, errclass.Configf("filters[%d]: duplicate filter name %q", i, name)
		}
		seen[name] = true

		where := strings.TrimSpace(rf.Where)
		if where == "" {
			return nil, errclass.Configf("filters[%d] (%s): where is required", i, name)
		}

		def := FilterDef{Name: name, Where: where}
		for j, ff := range rf.Flatten {
			fp, err := parseFlattenPath(ff)
			if err != nil {
				return nil, errclass.Configf("filters[%d] (%s): flatten[%d]: %v", i, name, j, err)
			}
			def.Flatten = append(def.Flatten, fp)
		}
		spec.Filters = append(spec.Filters, def)
	}

	return spec, nil
}

// parseFlattenPath normalizes one flatten entry. The path's first segment
// must name a column of the source table; that is an authoring contract,
// not something checked against a live schema here.
func parseFlattenPath(raw rawFlatten) (FlattenPath, error) {
	path := strings.TrimSpace(raw.Path)
	if path == "" {
		return FlattenPath{}, fmt.Errorf("path is required")
	}

	column, key, ok := strings.Cut(path, ".")
	if !ok || column == "" || key == "" || strings.Contains(key, ".") {
		return FlattenPath{}, fmt.Errorf("path %q must be of the form <column>.<json_key>", path)
	}

	typeTag := schema.TypeVarchar
	if strings.TrimSpace(raw.Type) != "" {
		var err error
		typeTag, err = schema.ParseTypeTag(raw.Type)
		if err != nil {
			return FlattenPath{}, fmt.Errorf("type %q is not a valid type tag", raw.Type)
		}
	}

	return FlattenPath{Column: column, Key: key, Type: typeTag}, nil
}
