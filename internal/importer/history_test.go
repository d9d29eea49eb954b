package importer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type fakeHistoryDB struct {
	sql  []string
	args [][]any
	err  error
	rows pgx.Rows
}

func (db *fakeHistoryDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.sql = append(db.sql, sql)
	db.args = append(db.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), db.err
}

func (db *fakeHistoryDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.sql = append(db.sql, sql)
	db.args = append(db.args, args)
	if db.err != nil {
		return nil, db.err
	}
	return db.rows, nil
}

// fakeRows serves fixed rows to Scan. Methods it does not override panic
// through the nil embedded interface.
type fakeRows struct {
	pgx.Rows
	data   [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i, d := range dest {
		switch d := d.(type) {
		case *pgtype.UUID:
			*d = row[i].(pgtype.UUID)
		case *pgtype.Text:
			*d = row[i].(pgtype.Text)
		case *pgtype.Timestamptz:
			*d = row[i].(pgtype.Timestamptz)
		case *string:
			*d = row[i].(string)
		case *int:
			*d = row[i].(int)
		case *int64:
			*d = row[i].(int64)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     { r.closed = true }

// ============================================================================
// Tests
// ============================================================================

func TestHistory_EnsureSchema(t *testing.T) {
	db := &fakeHistoryDB{}
	if err := NewHistory(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if !strings.Contains(db.sql[0], "CREATE TABLE IF NOT EXISTS import_runs") {
		t.Errorf("sql = %q", db.sql[0])
	}
}

func TestHistory_Record(t *testing.T) {
	db := &fakeHistoryDB{}
	id := uuid.New()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	sum := &Summary{
		Progress: Progress{
			RunID:    id.String(),
			Job:      "orders",
			Status:   StatusRejected,
			Records:  10,
			Rejected: 2,
			Error:    "import failed: 2 record(s) rejected",
		},
		Table:        testTable,
		Destinations: []string{"west", "all"},
		StartedAt:    start,
		FinishedAt:   start.Add(time.Second),
		DurationMs:   1000,
	}
	if err := NewHistory(db).Record(context.Background(), sum); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	args := db.args[0]
	if len(args) != 13 {
		t.Fatalf("args = %d, want 13", len(args))
	}
	if got := args[0].(pgtype.UUID); !got.Valid || uuid.UUID(got.Bytes) != id {
		t.Errorf("id = %v", got)
	}
	if args[4] != "rejected" {
		t.Errorf("status = %v", args[4])
	}
	if got := string(args[8].([]byte)); got != `["west","all"]` {
		t.Errorf("destinations = %s", got)
	}
	if got := args[3].(pgtype.Text); got.Valid {
		t.Errorf("empty file name stored as %q, want NULL", got.String)
	}
}

func TestHistory_RecordError(t *testing.T) {
	db := &fakeHistoryDB{err: errors.New("connection refused")}
	err := NewHistory(db).Record(context.Background(), &Summary{})
	if err == nil || MapError(err).Code != "DB004" {
		t.Errorf("Record() error = %v", err)
	}
}

func TestHistory_Recent(t *testing.T) {
	id := uuid.New()
	finished := time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC)
	rows := &fakeRows{data: [][]any{{
		pgtype.UUID{Bytes: id, Valid: true},
		"orders",
		testTable,
		pgtype.Text{String: "orders.csv", Valid: true},
		"succeeded",
		3, 0, 3,
		pgtype.Text{},
		pgtype.Timestamptz{Time: finished, Valid: true},
		int64(42),
	}}}
	db := &fakeHistoryDB{rows: rows}

	got, err := NewHistory(db).Recent(context.Background(), "orders", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	e := got[0]
	if e.RunID != id.String() || e.Status != StatusSucceeded || e.FileName != "orders.csv" || e.Written != 3 || e.DurationMs != 42 {
		t.Errorf("entry = %+v", e)
	}
	if !e.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v", e.FinishedAt)
	}
	if db.args[0][0] != "orders" || db.args[0][1] != 50 {
		t.Errorf("query args = %v, want [orders 50]", db.args[0])
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}
