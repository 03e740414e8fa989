package dataset

import (
	"errors"
	"strings"
)

var (
	// ErrSchemaMismatch means a column the pipeline needs is absent from the
	// input (or a generated column would collide with an input column).
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrReferentialIntegrity means a fact row references a dimension value
	// that has no surrogate key. It is always an internal bug, never bad input.
	ErrReferentialIntegrity = errors.New("referential integrity violation")
)

// Error locates a fatal failure: the stage that failed and, when known, the
// table and column involved. It unwraps to the underlying sentinel.
type Error struct {
	Stage  string
	Table  string
	Column string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString("stage=")
		b.WriteString(e.Stage)
	}
	if e.Table != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("table=")
		b.WriteString(e.Table)
	}
	if e.Column != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("column=")
		b.WriteString(e.Column)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ColumnError is shorthand for an *Error that names a column.
func ColumnError(column string, err error) *Error {
	return &Error{Column: column, Err: err}
}

// WithStage sets the stage on err when err is (or wraps) an *Error without
// one, and otherwise wraps err in a new *Error for that stage.
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.Stage == "" {
			de.Stage = stage
		}
		return err
	}
	return &Error{Stage: stage, Err: err}
}
