// Package errclass classifies pipeline failures so callers can decide
// between failing fast and retrying. Configuration and data-shape problems
// are terminal: retrying an invalid config or a malformed batch cannot
// succeed. Execution failures belong to the warehouse and object-store
// collaborators and are classified for retry elsewhere.
package errclass

import (
	"errors"
	"fmt"
)

// ConfigurationError reports invalid operator-authored configuration:
// a missing merge key, an empty schema, a malformed subset definition.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.msg }

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// DataShapeError reports a structurally invalid batch: a row missing its
// merge key or a header/row column-count mismatch. The whole batch is
// rejected rather than partially loaded.
type DataShapeError struct {
	msg string
}

func (e *DataShapeError) Error() string { return "data shape: " + e.msg }

// DataShapef builds a DataShapeError from a format string.
func DataShapef(format string, args ...any) error {
	return &DataShapeError{msg: fmt.Sprintf(format, args...)}
}

// IsDataShape reports whether err is (or wraps) a DataShapeError.
func IsDataShape(err error) bool {
	var de *DataShapeError
	return errors.As(err, &de)
}

// IsFatal reports whether err is terminal for the run and must not be
// retried.
func IsFatal(err error) bool {
	return IsConfiguration(err) || IsDataShape(err)
}
