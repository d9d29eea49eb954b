package schema

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/recimport/internal/core"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpContains Op = "contains"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	OpEmpty    Op = "empty"
	OpNotEmpty Op = "notempty"
)

// Condition routes a mapped Row to a destination when its field satisfies
// Op against Value.
type Condition struct {
	Field string `yaml:"field" json:"field"`
	Op    Op     `yaml:"op" json:"op"`
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

func (c Condition) String() string {
	if c.Op == OpEmpty || c.Op == OpNotEmpty {
		return fmt.Sprintf("%s %s", c.Field, c.Op)
	}
	return fmt.Sprintf("%s %s %q", c.Field, c.Op, c.Value)
}

// CompileFilter builds a record filter accepting Rows that satisfy every
// condition. It returns nil when conds is empty.
func CompileFilter(def TableDefinition, conds []Condition) (core.RecordFilter, error) {
	if len(conds) == 0 {
		return nil, nil
	}

	preds := make([]func(Row) bool, len(conds))
	for i, c := range conds {
		spec, ok := def.Field(c.Field)
		if !ok {
			return nil, fmt.Errorf("filter %s: column not found in %s", c, def.Info.Key)
		}
		p, err := c.compile(spec)
		if err != nil {
			return nil, err
		}
		preds[i] = p
	}

	return func(rec core.Record) bool {
		row, err := asRow(rec)
		if err != nil {
			return false
		}
		for _, p := range preds {
			if !p(row) {
				return false
			}
		}
		return true
	}, nil
}

func (c Condition) compile(spec FieldSpec) (func(Row) bool, error) {
	name := spec.Name
	switch c.Op {
	case OpEq:
		return func(r Row) bool { return strings.EqualFold(r.Get(name), c.Value) }, nil
	case OpNeq:
		return func(r Row) bool { return !strings.EqualFold(r.Get(name), c.Value) }, nil
	case OpContains:
		needle := strings.ToLower(c.Value)
		return func(r Row) bool { return strings.Contains(strings.ToLower(r.Get(name)), needle) }, nil
	case OpEmpty:
		return func(r Row) bool { return r.Get(name) == "" }, nil
	case OpNotEmpty:
		return func(r Row) bool { return r.Get(name) != "" }, nil
	case OpGt, OpLt:
		want := 1
		if c.Op == OpLt {
			want = -1
		}
		if _, ok := compareValues(c.Value, c.Value, spec.Type); !ok {
			return nil, fmt.Errorf("filter %s: value is not a valid %s", c, spec.Type)
		}
		return func(r Row) bool {
			cmp, ok := compareValues(r.Get(name), c.Value, spec.Type)
			return ok && cmp == want
		}, nil
	default:
		return nil, fmt.Errorf("filter %s: unknown operator %q", c, c.Op)
	}
}

// compareValues orders a and b according to the field type. ok is false when
// either value cannot be interpreted as that type.
func compareValues(a, b string, ft FieldType) (int, bool) {
	switch ft {
	case FieldNumeric:
		na, nb := ToPgNumeric(a), ToPgNumeric(b)
		if !na.Valid || !nb.Valid {
			return 0, false
		}
		fa, err := na.Float64Value()
		if err != nil {
			return 0, false
		}
		fb, err := nb.Float64Value()
		if err != nil {
			return 0, false
		}
		switch {
		case fa.Float64 < fb.Float64:
			return -1, true
		case fa.Float64 > fb.Float64:
			return 1, true
		}
		return 0, true
	case FieldDate:
		da, db := ToPgDate(a), ToPgDate(b)
		if !da.Valid || !db.Valid {
			return 0, false
		}
		return da.Time.Compare(db.Time), true
	default:
		if a == "" {
			return 0, false
		}
		return strings.Compare(strings.ToLower(a), strings.ToLower(b)), true
	}
}
