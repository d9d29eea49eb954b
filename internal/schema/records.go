package schema

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/recimport/internal/core"
)

// RawRow is a CSV data row as read from a file.
type RawRow struct {
	Line   int // 1-based line number in the file
	Header HeaderIndex
	Cells  []string
}

// Row is a RawRow mapped onto a table: cleaned and normalized values keyed
// by field name.
type Row struct {
	Line   int
	Values map[string]string
}

// Get returns the value of the named field.
func (r Row) Get(field string) string {
	return r.Values[field]
}

// FormattedRow is a Row converted for insertion. Values holds pgtype values
// and Text the cleaned strings, both in Columns order.
type FormattedRow struct {
	Line    int
	Table   string
	Columns []string
	Values  []any
	Text    []string
}

// Mapper maps RawRows onto a table definition.
type Mapper struct {
	def TableDefinition
}

// NewMapper returns a core.Mapper for def.
func NewMapper(def TableDefinition) *Mapper {
	return &Mapper{def: def}
}

// Map picks the table's fields out of a RawRow. Missing required columns and
// empty required values are reported together as core.FieldFailures.
func (m *Mapper) Map(_ context.Context, rec core.Record) (core.Record, error) {
	raw, err := asRawRow(rec)
	if err != nil {
		return nil, err
	}

	row := Row{Line: raw.Line, Values: make(map[string]string, len(m.def.FieldSpecs))}
	var failures core.FieldFailures

	for _, spec := range m.def.FieldSpecs {
		pos, ok := raw.Header.Lookup(spec.Name)
		if !ok {
			if spec.Required {
				failures = append(failures, core.FieldFailure{
					Field:   spec.Name,
					Code:    CodeMissingColumn,
					Message: "missing required column",
				})
			}
			continue
		}

		var value string
		if pos < len(raw.Cells) {
			value = CleanCell(raw.Cells[pos])
		}

		if value == "" && spec.Required && !spec.AllowEmpty {
			failures = append(failures, core.FieldFailure{
				Field:   spec.Name,
				Code:    CodeRequired,
				Message: "required field is empty",
			})
			continue
		}

		if spec.Normalizer != nil && value != "" {
			value = spec.Normalizer(value)
		}
		row.Values[spec.Name] = value
	}

	if len(failures) > 0 {
		return nil, failures
	}
	return row, nil
}

// Validator type-checks mapped Rows.
type Validator struct {
	def TableDefinition
}

// NewValidator returns a core.Validator for def.
func NewValidator(def TableDefinition) *Validator {
	return &Validator{def: def}
}

// Validate checks every value of a Row and reports all problems at once.
func (v *Validator) Validate(_ context.Context, rec core.Record) error {
	row, err := asRow(rec)
	if err != nil {
		return err
	}

	var failures core.FieldFailures
	for _, spec := range v.def.FieldSpecs {
		if err := ValidateCell(row.Values[spec.Name], spec); err != nil {
			if f, ok := err.(core.FieldFailure); ok {
				failures = append(failures, f)
				continue
			}
			return err
		}
	}

	if len(failures) > 0 {
		return failures
	}
	return nil
}

// Formatter converts Rows into FormattedRows.
type Formatter struct {
	def     TableDefinition
	columns []string
}

// NewFormatter returns a core.Formatter for def.
func NewFormatter(def TableDefinition) *Formatter {
	return &Formatter{def: def, columns: def.DBColumns()}
}

// Format converts a Row. Records of any other type are returned unchanged.
func (f *Formatter) Format(rec core.Record) core.Record {
	row, err := asRow(rec)
	if err != nil {
		return rec
	}

	out := FormattedRow{
		Line:    row.Line,
		Table:   f.def.Info.Key,
		Columns: f.columns,
		Values:  make([]any, len(f.def.FieldSpecs)),
		Text:    make([]string, len(f.def.FieldSpecs)),
	}
	for i, spec := range f.def.FieldSpecs {
		v := row.Values[spec.Name]
		out.Values[i] = Convert(spec, v)
		out.Text[i] = v
	}
	return out
}

func asRawRow(rec core.Record) (RawRow, error) {
	switch r := rec.(type) {
	case RawRow:
		return r, nil
	case *RawRow:
		return *r, nil
	}
	return RawRow{}, fmt.Errorf("schema: expected RawRow, got %T", rec)
}

func asRow(rec core.Record) (Row, error) {
	switch r := rec.(type) {
	case Row:
		return r, nil
	case *Row:
		return *r, nil
	}
	return Row{}, fmt.Errorf("schema: expected Row, got %T", rec)
}

// AsFormattedRow unwraps a record produced by a Formatter.
func AsFormattedRow(rec core.Record) (FormattedRow, error) {
	switch r := rec.(type) {
	case FormattedRow:
		return r, nil
	case *FormattedRow:
		return *r, nil
	}
	return FormattedRow{}, fmt.Errorf("schema: expected FormattedRow, got %T", rec)
}
