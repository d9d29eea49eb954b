package schema

import (
	"strings"
	"testing"
)

func TestCompileFilter(t *testing.T) {
	def := testTable()
	row := Row{Values: map[string]string{
		"Order ID":   "A-17",
		"Amount":     "$1,200.00",
		"Order date": "2024-03-01",
		"Status":     "Open",
		"State":      "",
	}}

	tests := []struct {
		name  string
		conds []Condition
		want  bool
	}{
		{"eq case-insensitive", []Condition{{Field: "Status", Op: OpEq, Value: "open"}}, true},
		{"neq", []Condition{{Field: "Status", Op: OpNeq, Value: "open"}}, false},
		{"contains", []Condition{{Field: "Order ID", Op: OpContains, Value: "a-1"}}, true},
		{"gt numeric", []Condition{{Field: "Amount", Op: OpGt, Value: "999.99"}}, true},
		{"lt numeric", []Condition{{Field: "Amount", Op: OpLt, Value: "999.99"}}, false},
		{"gt date", []Condition{{Field: "Order date", Op: OpGt, Value: "2024-02-28"}}, true},
		{"lt date", []Condition{{Field: "Order date", Op: OpLt, Value: "2024-02-28"}}, false},
		{"empty", []Condition{{Field: "State", Op: OpEmpty}}, true},
		{"notempty", []Condition{{Field: "State", Op: OpNotEmpty}}, false},
		{"by db column", []Condition{{Field: "order_id", Op: OpEq, Value: "A-17"}}, true},
		{"all must hold", []Condition{
			{Field: "Status", Op: OpEq, Value: "open"},
			{Field: "Amount", Op: OpLt, Value: "10"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := CompileFilter(def, tt.conds)
			if err != nil {
				t.Fatalf("CompileFilter() error = %v", err)
			}
			if got := f(row); got != tt.want {
				t.Errorf("filter(row) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileFilter_Empty(t *testing.T) {
	f, err := CompileFilter(testTable(), nil)
	if err != nil || f != nil {
		t.Errorf("CompileFilter(nil) = %v, %v; want nil, nil", f != nil, err)
	}
}

func TestCompileFilter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr string
	}{
		{"unknown field", Condition{Field: "Nope", Op: OpEq, Value: "x"}, "column not found"},
		{"unknown op", Condition{Field: "Status", Op: "like", Value: "x"}, "unknown operator"},
		{"bad numeric value", Condition{Field: "Amount", Op: OpGt, Value: "lots"}, "not a valid numeric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileFilter(testTable(), []Condition{tt.cond})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("CompileFilter() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCompileFilter_RejectsNonRows(t *testing.T) {
	f, err := CompileFilter(testTable(), []Condition{{Field: "Status", Op: OpNotEmpty}})
	if err != nil {
		t.Fatal(err)
	}
	if f("raw string") {
		t.Error("filter accepted a non-Row record")
	}
	if !f(&Row{Values: map[string]string{"Status": "open"}}) {
		t.Error("filter rejected *Row")
	}
}
