package schema

import (
	"reflect"
	"testing"
)

func TestRegistry(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	Register(TableDefinition{
		Info:       TableInfo{Key: "b_table", Group: "Beta"},
		FieldSpecs: []FieldSpec{{Name: "id"}},
	})
	Register(TableDefinition{
		Info:       TableInfo{Key: "a_table", Group: "Alpha"},
		FieldSpecs: []FieldSpec{{Name: "Full Name"}, {Name: "Age", Type: FieldNumeric}},
	})

	def, ok := Get("a_table")
	if !ok {
		t.Fatal("Get(a_table) not found")
	}
	if !reflect.DeepEqual(def.Info.Columns, []string{"Full Name", "Age"}) {
		t.Errorf("Columns = %v", def.Info.Columns)
	}
	if !reflect.DeepEqual(def.DBColumns(), []string{"full_name", "age"}) {
		t.Errorf("DBColumns() = %v", def.DBColumns())
	}

	if _, err := Lookup("missing"); err == nil || err.Error() != "unknown table: missing (known: a_table, b_table)" {
		t.Errorf("Lookup(missing) error = %v", err)
	}
	if got := Keys(); !reflect.DeepEqual(got, []string{"a_table", "b_table"}) {
		t.Errorf("Keys() = %v", got)
	}
	if got := Groups(); !reflect.DeepEqual(got, []string{"Alpha", "Beta"}) {
		t.Errorf("Groups() = %v", got)
	}
	if got := ByGroup("Beta"); len(got) != 1 || got[0].Info.Key != "b_table" {
		t.Errorf("ByGroup(Beta) = %v", got)
	}
	if TableCount() != 2 {
		t.Errorf("TableCount() = %d", TableCount())
	}
}

func TestRegister_Panics(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	valid := TableDefinition{Info: TableInfo{Key: "t"}, FieldSpecs: []FieldSpec{{Name: "a"}}}
	Register(valid)

	tests := []struct {
		name string
		def  TableDefinition
	}{
		{"duplicate key", valid},
		{"no key", TableDefinition{FieldSpecs: []FieldSpec{{Name: "a"}}}},
		{"no fields", TableDefinition{Info: TableInfo{Key: "x"}}},
		{"duplicate column", TableDefinition{Info: TableInfo{Key: "y"}, FieldSpecs: []FieldSpec{{Name: "A b"}, {Name: "a_b"}}}},
		{"enum without values", TableDefinition{Info: TableInfo{Key: "z"}, FieldSpecs: []FieldSpec{{Name: "s", Type: FieldEnum}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Register() did not panic")
				}
			}()
			Register(tt.def)
		})
	}
}
