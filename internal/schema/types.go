// Package schema describes importable tables and turns CSV rows into typed
// records for them.
//
// A TableDefinition lists the columns a file must or may carry. From it the
// package builds the three record stages used by an import: a Mapper that
// picks the columns out of a raw CSV row, a Validator that type-checks the
// picked values and a Formatter that converts them to pgtype values ready
// for insertion.
package schema

import (
	"fmt"
	"strings"
)

// FieldType represents the expected data type for a CSV field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
)

func (ft FieldType) String() string {
	switch ft {
	case FieldText:
		return "text"
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldBool:
		return "bool"
	default:
		return "unknown"
	}
}

// SQLType returns the column type used when a table is created from its
// definition.
func (ft FieldType) SQLType() string {
	switch ft {
	case FieldDate:
		return "DATE"
	case FieldNumeric:
		return "NUMERIC"
	case FieldBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// FieldSpec defines validation rules for a single CSV column.
type FieldSpec struct {
	Name       string              // Column header name
	DBColumn   string              // Database column name, derived from Name when empty
	Type       FieldType           // Expected data type
	Required   bool                // Column must exist in CSV header
	AllowEmpty bool                // Empty values are allowed even when Required
	EnumValues []string            // Valid values for FieldEnum type
	Normalizer func(string) string // Optional transformation function
}

// Column returns the database column name of the field.
func (s FieldSpec) Column() string {
	if s.DBColumn != "" {
		return s.DBColumn
	}
	return ToDBColumnName(s.Name)
}

// TableInfo contains display information about a table.
type TableInfo struct {
	Key     string   // Unique identifier: "sfdc_customers"
	Group   string   // Data source: "SFDC", "NS", "Anrok"
	Label   string   // Display name: "Customers"
	Columns []string // Header column names
}

// HeaderIndex maps column names (lowercase) to their position in the CSV row.
type HeaderIndex map[string]int

// Lookup returns the position of the named column.
func (h HeaderIndex) Lookup(name string) (int, bool) {
	pos, ok := h[strings.ToLower(name)]
	return pos, ok
}

// TableDefinition contains everything needed to import a table.
type TableDefinition struct {
	Info       TableInfo
	FieldSpecs []FieldSpec
}

// DBColumns returns the database column names in field order.
func (t TableDefinition) DBColumns() []string {
	cols := make([]string, len(t.FieldSpecs))
	for i, spec := range t.FieldSpecs {
		cols[i] = spec.Column()
	}
	return cols
}

// RequiredColumns returns the header names that must be present in a file.
func (t TableDefinition) RequiredColumns() []string {
	var out []string
	for _, spec := range t.FieldSpecs {
		if spec.Required {
			out = append(out, spec.Name)
		}
	}
	return out
}

// Field returns the spec whose header name matches name case-insensitively.
func (t TableDefinition) Field(name string) (FieldSpec, bool) {
	for _, spec := range t.FieldSpecs {
		if strings.EqualFold(spec.Name, name) || strings.EqualFold(spec.Column(), name) {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

func (t TableDefinition) validate() error {
	if t.Info.Key == "" {
		return fmt.Errorf("table key is required")
	}
	if len(t.FieldSpecs) == 0 {
		return fmt.Errorf("table %s: no fields", t.Info.Key)
	}
	seen := make(map[string]bool, len(t.FieldSpecs))
	for _, spec := range t.FieldSpecs {
		col := spec.Column()
		if seen[col] {
			return fmt.Errorf("table %s: duplicate column %q", t.Info.Key, col)
		}
		seen[col] = true
		if spec.Type == FieldEnum && len(spec.EnumValues) == 0 {
			return fmt.Errorf("table %s: enum field %q has no values", t.Info.Key, spec.Name)
		}
	}
	return nil
}
