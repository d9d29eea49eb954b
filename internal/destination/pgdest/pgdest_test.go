package pgdest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/schema"
)

// fakeTx records the statements sent through a transaction. Methods it does
// not override panic through the nil embedded interface.
type fakeTx struct {
	pgx.Tx

	mu          sync.Mutex
	execs       []string
	args        [][]any
	copied      [][]any
	copyTable   pgx.Identifier
	copyCols    []string
	committed   bool
	rolledBack  int
	execErr     error
	copyErr     error
	rollbackErr error
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.execErr != nil {
		return pgconn.CommandTag{}, tx.execErr
	}
	tx.execs = append(tx.execs, sql)
	tx.args = append(tx.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (tx *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if tx.copyErr != nil {
		return 0, tx.copyErr
	}
	tx.copyTable = table
	tx.copyCols = cols
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		tx.copied = append(tx.copied, vals)
		n++
	}
	return n, src.Err()
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.rolledBack++
	return tx.rollbackErr
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return db.tx, nil
}

type defSource struct{ def schema.TableDefinition }

func (s defSource) NewReader(context.Context) (core.Reader, error) { return nil, nil }
func (s defSource) Table() schema.TableDefinition                  { return s.def }

var testDef = schema.TableDefinition{
	Info: schema.TableInfo{Key: "customers"},
	FieldSpecs: []schema.FieldSpec{
		{Name: "Customer ID", Type: schema.FieldText, Required: true},
		{Name: "Balance", Type: schema.FieldNumeric},
	},
}

func row(line int, id, balance string) schema.FormattedRow {
	return schema.FormattedRow{
		Line:    line,
		Table:   "customers",
		Columns: testDef.DBColumns(),
		Values:  []any{schema.ToPgText(id), schema.ToPgNumeric(balance)},
		Text:    []string{id, balance},
	}
}

func openWriter(t *testing.T, ctx context.Context, d *Destination, src core.Source) core.Writer {
	t.Helper()
	w, err := d.NewWriter(ctx, src)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	if err := w.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return w
}

// ============================================================================
// Tests
// ============================================================================

func TestWriter_InsertAndCommit(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	d := New(&fakeDB{tx: tx}, Options{})
	w := openWriter(t, ctx, d, defSource{testDef})

	for i, id := range []string{"C-1", "C-2"} {
		if err := w.Write(ctx, row(i+2, id, "10.50")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(tx.execs) != 2 {
		t.Fatalf("execs = %d, want 2", len(tx.execs))
	}
	want := `INSERT INTO "customers" ("customer_id", "balance") VALUES ($1, $2)`
	if tx.execs[0] != want {
		t.Errorf("sql = %q, want %q", tx.execs[0], want)
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}
	if tx.rolledBack != 0 {
		t.Errorf("rolled back %d times after commit", tx.rolledBack)
	}
}

func TestWriter_SchemaQualifiedTable(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	d := New(&fakeDB{tx: tx}, Options{Table: "staging.customers"})
	w := openWriter(t, ctx, d, nil)

	if err := w.Write(ctx, row(2, "C-1", "1")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.HasPrefix(tx.execs[0], `INSERT INTO "staging"."customers"`) {
		t.Errorf("sql = %q", tx.execs[0])
	}
}

func TestNewWriter_RequiresTable(t *testing.T) {
	d := New(&fakeDB{tx: &fakeTx{}}, Options{})
	if _, err := d.NewWriter(context.Background(), nil); err == nil {
		t.Fatal("NewWriter() error = nil, want error")
	}
}

func TestWriter_UploadColumn(t *testing.T) {
	const runID = "6f1c0d2e-8a4b-4c3d-9e5f-0a1b2c3d4e5f"
	tx := &fakeTx{}
	d := New(&fakeDB{tx: tx}, Options{UploadColumn: "upload_id"})

	if _, err := d.NewWriter(context.Background(), defSource{testDef}); err == nil {
		t.Fatal("NewWriter() without run id: error = nil, want error")
	}

	ctx := core.ContextWithRunID(context.Background(), runID)
	w := openWriter(t, ctx, d, defSource{testDef})
	if err := w.Write(ctx, row(2, "C-1", "1")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if !strings.Contains(tx.execs[0], `"upload_id") VALUES ($1, $2, $3)`) {
		t.Errorf("sql = %q", tx.execs[0])
	}
	args := tx.args[0]
	if len(args) != 3 {
		t.Fatalf("args = %d, want 3", len(args))
	}
	if args[2] != schema.ToPgUUID(runID) {
		t.Errorf("upload id = %v", args[2])
	}
}

func TestWriter_Batched(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	d := New(&fakeDB{tx: tx}, Options{BatchSize: 2})
	w := openWriter(t, ctx, d, defSource{testDef})

	for i := 0; i < 3; i++ {
		if err := w.Write(ctx, row(i+2, "C", "1")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if len(tx.copied) != 2 {
		t.Errorf("copied before commit = %d, want 2", len(tx.copied))
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(tx.copied) != 3 {
		t.Errorf("copied after commit = %d, want 3", len(tx.copied))
	}
	if len(tx.execs) != 0 {
		t.Errorf("execs = %d, want 0", len(tx.execs))
	}
	if tx.copyTable.Sanitize() != `"customers"` {
		t.Errorf("copy table = %v", tx.copyTable)
	}
}

func TestWriter_BatchFailureReportedByFlushingWrite(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{copyErr: errors.New("unique violation")}
	d := New(&fakeDB{tx: tx}, Options{BatchSize: 2})
	w := openWriter(t, ctx, d, defSource{testDef})

	if err := w.Write(ctx, row(2, "C", "1")); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}
	if err := w.Write(ctx, row(3, "C", "1")); err == nil {
		t.Fatal("second Write() error = nil, want copy failure")
	}
}

func TestWriter_WriteErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not open", func(t *testing.T) {
		d := New(&fakeDB{tx: &fakeTx{}}, Options{})
		w, _ := d.NewWriter(ctx, defSource{testDef})
		if err := w.Write(ctx, row(2, "C", "1")); err == nil {
			t.Error("Write() before Open: error = nil")
		}
	})

	t.Run("wrong record type", func(t *testing.T) {
		d := New(&fakeDB{tx: &fakeTx{}}, Options{})
		w := openWriter(t, ctx, d, defSource{testDef})
		if err := w.Write(ctx, "not a row"); err == nil {
			t.Error("Write(string) error = nil")
		}
	})

	t.Run("exec fails", func(t *testing.T) {
		d := New(&fakeDB{tx: &fakeTx{execErr: errors.New("conn reset")}}, Options{})
		w := openWriter(t, ctx, d, defSource{testDef})
		err := w.Write(ctx, row(7, "C", "1"))
		if err == nil || !strings.Contains(err.Error(), "line 7") {
			t.Errorf("Write() error = %v, want line 7", err)
		}
	})

	t.Run("column count changes", func(t *testing.T) {
		d := New(&fakeDB{tx: &fakeTx{}}, Options{})
		w := openWriter(t, ctx, d, defSource{testDef})
		if err := w.Write(ctx, row(2, "C", "1")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		short := schema.FormattedRow{Columns: []string{"customer_id"}, Values: []any{"x"}}
		if err := w.Write(ctx, short); err == nil {
			t.Error("Write(short) error = nil")
		}
	})
}

func TestWriter_BeginFails(t *testing.T) {
	d := New(&fakeDB{beginErr: errors.New("pool closed")}, Options{})
	w, err := d.NewWriter(context.Background(), defSource{testDef})
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	if err := w.Open(context.Background()); err == nil {
		t.Fatal("Open() error = nil")
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() after failed Open: %v", err)
	}
}

func TestWriter_RollbackAndClose(t *testing.T) {
	ctx := context.Background()

	t.Run("rollback once", func(t *testing.T) {
		tx := &fakeTx{}
		w := openWriter(t, ctx, New(&fakeDB{tx: tx}, Options{}), defSource{testDef})
		if err := w.Rollback(ctx); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if tx.rolledBack != 1 {
			t.Errorf("rolledBack = %d, want 1", tx.rolledBack)
		}
	})

	t.Run("close rolls back unfinished", func(t *testing.T) {
		tx := &fakeTx{}
		w := openWriter(t, ctx, New(&fakeDB{tx: tx}, Options{}), defSource{testDef})
		if err := w.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if tx.rolledBack != 1 {
			t.Errorf("rolledBack = %d, want 1", tx.rolledBack)
		}
	})

	t.Run("closed tx is not an error", func(t *testing.T) {
		tx := &fakeTx{rollbackErr: pgx.ErrTxClosed}
		w := openWriter(t, ctx, New(&fakeDB{tx: tx}, Options{}), defSource{testDef})
		if err := w.Rollback(ctx); err != nil {
			t.Errorf("Rollback() error = %v", err)
		}
	})

	t.Run("rollback failure surfaces", func(t *testing.T) {
		tx := &fakeTx{rollbackErr: errors.New("conn lost")}
		w := openWriter(t, ctx, New(&fakeDB{tx: tx}, Options{}), defSource{testDef})
		if err := w.Rollback(ctx); err == nil {
			t.Error("Rollback() error = nil")
		}
	})
}
