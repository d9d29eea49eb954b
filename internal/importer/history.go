package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/recimport/internal/schema"
)

// HistoryDB is the subset of *pgxpool.Pool used by History.
type HistoryDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// History records finished runs in the import_runs table.
type History struct {
	db HistoryDB
}

func NewHistory(db HistoryDB) *History {
	return &History{db: db}
}

const createImportRuns = `CREATE TABLE IF NOT EXISTS import_runs (
	id UUID PRIMARY KEY,
	job TEXT NOT NULL,
	table_key TEXT NOT NULL,
	file_name TEXT,
	status TEXT NOT NULL,
	records INTEGER NOT NULL,
	rejected INTEGER NOT NULL,
	written INTEGER NOT NULL,
	destinations JSONB,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
)`

// EnsureSchema creates the import_runs table if it does not exist.
func (h *History) EnsureSchema(ctx context.Context) error {
	if _, err := h.db.Exec(ctx, createImportRuns); err != nil {
		return fmt.Errorf("create import_runs: %w", err)
	}
	return nil
}

const insertImportRun = `INSERT INTO import_runs
	(id, job, table_key, file_name, status, records, rejected, written, destinations, error, started_at, finished_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// Record stores a finished run.
func (h *History) Record(ctx context.Context, s *Summary) error {
	dests, err := json.Marshal(s.Destinations)
	if err != nil {
		return err
	}
	_, err = h.db.Exec(ctx, insertImportRun,
		schema.ToPgUUID(s.RunID),
		s.Job,
		s.Table,
		schema.ToPgText(s.FileName),
		string(s.Status),
		s.Records,
		s.Rejected,
		s.Written,
		dests,
		schema.ToPgText(s.Error),
		pgtype.Timestamptz{Time: s.StartedAt, Valid: true},
		pgtype.Timestamptz{Time: s.FinishedAt, Valid: true},
		s.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}
	return nil
}

// HistoryEntry is one row of import_runs.
type HistoryEntry struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	Table      string    `json:"table"`
	FileName   string    `json:"file_name"`
	Status     Status    `json:"status"`
	Records    int       `json:"records"`
	Rejected   int       `json:"rejected"`
	Written    int       `json:"written"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

const selectImportRuns = `SELECT id, job, table_key, file_name, status, records, rejected, written, error, finished_at, duration_ms
FROM import_runs
WHERE $1 = '' OR job = $1
ORDER BY finished_at DESC
LIMIT $2`

// Recent returns the latest runs, newest first. An empty job matches every
// job.
func (h *History) Recent(ctx context.Context, job string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.Query(ctx, selectImportRuns, job, limit)
	if err != nil {
		return nil, fmt.Errorf("query import runs: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e        HistoryEntry
			id       pgtype.UUID
			fileName pgtype.Text
			status   string
			errText  pgtype.Text
			finished pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &e.Job, &e.Table, &fileName, &status,
			&e.Records, &e.Rejected, &e.Written, &errText, &finished, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		if id.Valid {
			e.RunID = uuid.UUID(id.Bytes).String()
		}
		e.FileName = fileName.String
		e.Status = Status(status)
		e.Error = errText.String
		e.FinishedAt = finished.Time
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read import runs: %w", err)
	}
	return out, nil
}
