package schema

// validation.go checks header rows and cell values against field specs.
//
// Failures are reported as core.FieldFailure values carrying a support code,
// so that a rejected record can be shown to users and exported as-is.

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/recimport/internal/core"
)

// Failure codes attached to rejected fields.
const (
	CodeInvalidDate   = "VAL001"
	CodeInvalidNumber = "VAL002"
	CodeRequired      = "VAL003"
	CodeMissingColumn = "VAL004"
	CodeInvalidEnum   = "VAL006"
	CodeInvalidBool   = "VAL007"
)

// ValidateCell validates a single cell value against a field specification.
// Empty values are valid (they become NULL). The returned error is a
// core.FieldFailure.
func ValidateCell(value string, spec FieldSpec) error {
	if value == "" {
		return nil
	}

	fail := func(code, msg string) error {
		return core.FieldFailure{Field: spec.Name, Code: code, Value: value, Message: msg}
	}

	switch spec.Type {
	case FieldNumeric:
		if !ToPgNumeric(value).Valid {
			return fail(CodeInvalidNumber, "invalid number format")
		}
	case FieldDate:
		if !ToPgDate(value).Valid {
			return fail(CodeInvalidDate, "invalid date format (use YYYY-MM-DD or similar)")
		}
	case FieldBool:
		if !ToPgBool(value).Valid {
			return fail(CodeInvalidBool, "invalid boolean, must be yes/no, true/false, or 1/0")
		}
	case FieldEnum:
		for _, ev := range spec.EnumValues {
			if strings.EqualFold(ev, value) {
				return nil
			}
		}
		return fail(CodeInvalidEnum, "invalid enum value, must be one of: "+strings.Join(spec.EnumValues, ", "))
	}
	return nil
}

// ValidateHeaders validates that all required columns exist in the CSV headers.
// Returns a mapping from column name to index, or an error listing missing columns.
func ValidateHeaders(headers []string, specs []FieldSpec) (HeaderIndex, error) {
	idx := MakeHeaderIndex(headers)
	var missing []string

	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		if _, ok := idx.Lookup(spec.Name); !ok {
			missing = append(missing, spec.Name)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	return idx, nil
}

// HeaderScore counts how many of the table's fields appear in headers. A row
// that contains every required column and at least one field is a header.
func HeaderScore(headers []string, specs []FieldSpec) (matched int, complete bool) {
	idx := MakeHeaderIndex(headers)
	complete = true
	for _, spec := range specs {
		if _, ok := idx.Lookup(spec.Name); ok {
			matched++
		} else if spec.Required {
			complete = false
		}
	}
	return matched, complete && matched > 0
}
