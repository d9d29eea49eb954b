package csvsource

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/schema"
)

func customers() schema.TableDefinition {
	return schema.TableDefinition{
		Info: schema.TableInfo{Key: "customers"},
		FieldSpecs: []schema.FieldSpec{
			{Name: "id", Required: true},
			{Name: "name", Required: true},
			{Name: "balance", Type: schema.FieldNumeric},
		},
	}
}

type readResult struct {
	row      schema.RawRow
	failures core.FieldFailures
}

// readAll drains a source, collecting rows and read failures in order.
func readAll(t *testing.T, src core.Source) []readResult {
	t.Helper()
	ctx := context.Background()

	r, err := src.NewReader(ctx)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer r.Close()
	if err := r.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var out []readResult
	for {
		rec, err := r.Read(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		if ff, ok := core.AsFieldFailures(err); ok {
			out = append(out, readResult{failures: ff})
			continue
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		out = append(out, readResult{row: rec.(schema.RawRow)})
	}
}

func TestSource_ReadsRows(t *testing.T) {
	input := "id,name,balance\n1,Acme,10\n\n , ,\n2,Globex,\n"
	src, err := FromReader(strings.NewReader(input), customers(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	got := readAll(t, src)
	if len(got) != 2 {
		t.Fatalf("read %d rows, want 2: %+v", len(got), got)
	}
	if !reflect.DeepEqual(got[0].row.Cells, []string{"1", "Acme", "10"}) || got[0].row.Line != 2 {
		t.Errorf("row 0 = %+v", got[0].row)
	}
	if got[1].row.Line != 5 {
		t.Errorf("row 1 line = %d, want 5", got[1].row.Line)
	}
	if pos, ok := got[1].row.Header.Lookup("name"); !ok || pos != 1 {
		t.Errorf("header lookup = %d, %v", pos, ok)
	}
}

func TestSource_FindsHeaderBelowTitle(t *testing.T) {
	input := "Customer export\nGenerated 2024-01-01\n\nID,Name\n7,Initech\n"
	src, _ := FromReader(strings.NewReader(input), customers(), Options{})

	got := readAll(t, src)
	if len(got) != 1 || got[0].row.Cells[1] != "Initech" {
		t.Fatalf("rows = %+v", got)
	}
}

func TestSource_HeaderNotFound(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		limit   int
		wantErr string
	}{
		{"empty file", "", 0, "empty file"},
		{"missing column", "id,title\n1,x\n", 0, "missing required columns: name"},
		{"beyond search limit", "a\nb\nc\nid,name\n1,x\n", 2, "header row not found in first 2 rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := FromReader(strings.NewReader(tt.input), customers(), Options{HeaderSearchRows: tt.limit})
			r, _ := src.NewReader(context.Background())
			defer r.Close()
			err := r.Open(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Open() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSource_ReadFailures(t *testing.T) {
	input := "balance,id,name\n1,a,Acme\n2,b\n3,c,\"bad\"quote\n4,d,Dunder\n"
	src, _ := FromReader(strings.NewReader(input), customers(), Options{StrictQuotes: true})

	got := readAll(t, src)
	if len(got) != 4 {
		t.Fatalf("read %d results, want 4: %+v", len(got), got)
	}
	if got[1].failures == nil || got[1].failures[0].Code != CodeShortRow {
		t.Errorf("result 1 = %+v, want short row failure", got[1])
	}
	if got[2].failures == nil || got[2].failures[0].Code != CodeInvalidCSV {
		t.Errorf("result 2 = %+v, want invalid csv failure", got[2])
	}
	if got[3].row.Cells[2] != "Dunder" {
		t.Errorf("result 3 = %+v, want row after the failures", got[3])
	}
}

func TestSource_LenientQuotesByDefault(t *testing.T) {
	input := "id,name\n1,say \"hi\"\n"
	src, _ := FromReader(strings.NewReader(input), customers(), Options{})
	got := readAll(t, src)
	if len(got) != 1 || got[0].failures != nil {
		t.Fatalf("results = %+v, want one row", got)
	}
}

func TestSource_Encoding(t *testing.T) {
	input := "id;name\n1;Caf\xe9\n"
	src, err := FromReader(strings.NewReader(input), customers(), Options{Encoding: "iso-8859-1", Comma: ';'})
	if err != nil {
		t.Fatal(err)
	}
	got := readAll(t, src)
	if len(got) != 1 || got[0].row.Cells[1] != "Café" {
		t.Fatalf("rows = %+v", got)
	}

	if _, err := FromReader(strings.NewReader(""), customers(), Options{Encoding: "klingon"}); err == nil {
		t.Error("FromReader() accepted an unsupported encoding")
	}
}

func TestSource_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.csv")
	data := "\xEF\xBB\xBFid,name\n1,Acme\n2,Globex\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := FromFile(path, customers(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	// File sources can be read more than once.
	for i := 0; i < 2; i++ {
		if got := readAll(t, src); len(got) != 2 {
			t.Fatalf("pass %d: read %d rows, want 2", i, len(got))
		}
	}

	p := src.Progress()
	if p.BytesTotal != int64(len(data)) || p.BytesRead != int64(len(data)) {
		t.Errorf("Progress() = %+v, want %d/%d", p, len(data), len(data))
	}
}

func TestSource_ReaderSourceIsSingleUse(t *testing.T) {
	src, _ := FromReader(strings.NewReader("id,name\n"), customers(), Options{})
	if _, err := src.NewReader(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := src.NewReader(context.Background()); !errors.Is(err, ErrConsumed) {
		t.Errorf("second NewReader() error = %v, want ErrConsumed", err)
	}
}

func TestSource_FeedsSchemaMapper(t *testing.T) {
	src, _ := FromReader(strings.NewReader("name,id\n\"Acme, Inc\",42\n"), customers(), Options{})
	got := readAll(t, src)

	mapped, err := schema.NewMapper(customers()).Map(context.Background(), got[0].row)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	row := mapped.(schema.Row)
	if row.Get("id") != "42" || row.Get("name") != "Acme, Inc" {
		t.Errorf("row = %+v", row)
	}
}
