package importer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/recimport/internal/schema"
)

const testTable = "test_orders"

func init() {
	schema.Register(schema.TableDefinition{
		Info: schema.TableInfo{Key: testTable, Group: "Test", Label: "Orders"},
		FieldSpecs: []schema.FieldSpec{
			{Name: "Order ID", Type: schema.FieldText, Required: true},
			{Name: "Region", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Amount", Type: schema.FieldNumeric, AllowEmpty: true},
		},
	})
}

func mustParseJob(t *testing.T, doc string) *Job {
	t.Helper()
	j, err := ParseJob([]byte(doc))
	if err != nil {
		t.Fatalf("ParseJob() error = %v", err)
	}
	return j
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
