// Package pgdest writes formatted rows into a PostgreSQL table, one
// transaction per import run.
package pgdest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/schema"
)

// TxBeginner starts transactions. Satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Options configures a Destination.
type Options struct {
	// Table is the target table, optionally schema-qualified. Defaults to
	// the key of the source's table definition.
	Table string

	// UploadColumn, when set, is filled with the run id on every row so that
	// an import can be traced or deleted later.
	UploadColumn string

	// BatchSize > 0 buffers rows and sends them with COPY instead of one
	// INSERT per row. A failing batch is reported by the write that flushed
	// it.
	BatchSize int

	Logger *slog.Logger
}

// Destination is a core.Destination backed by PostgreSQL.
type Destination struct {
	db   TxBeginner
	opts Options
}

// New returns a destination writing through db.
func New(db TxBeginner, opts Options) *Destination {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Destination{db: db, opts: opts}
}

// tableSource is implemented by sources that read rows for a known table.
type tableSource interface {
	Table() schema.TableDefinition
}

// NewWriter implements core.Destination.
func (d *Destination) NewWriter(ctx context.Context, src core.Source) (core.Writer, error) {
	table := d.opts.Table
	if table == "" {
		if ts, ok := src.(tableSource); ok {
			table = ts.Table().Info.Key
		}
	}
	if table == "" {
		return nil, errors.New("pgdest: table name required")
	}

	w := &writer{
		db:     d.db,
		opts:   d.opts,
		table:  pgx.Identifier(strings.Split(table, ".")),
		logger: d.opts.Logger.With("table", table),
	}

	if d.opts.UploadColumn != "" {
		id := schema.ToPgUUID(core.RunIDFromContext(ctx))
		if !id.Valid {
			return nil, fmt.Errorf("pgdest: %s requires a run id", d.opts.UploadColumn)
		}
		w.uploadID = id
	}

	return w, nil
}

type writer struct {
	db       TxBeginner
	opts     Options
	table    pgx.Identifier
	uploadID pgtype.UUID
	logger   *slog.Logger

	// mu serializes use of tx; a pgx transaction holds one connection.
	mu        sync.Mutex
	tx        pgx.Tx
	done      bool
	columns   []string
	insertSQL string
	pending   [][]any
	written   int64
}

func (w *writer) Open(ctx context.Context) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	w.mu.Lock()
	w.tx = tx
	w.mu.Unlock()
	return nil
}

func (w *writer) Write(ctx context.Context, rec core.Record) error {
	fr, err := schema.AsFormattedRow(rec)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tx == nil || w.done {
		return errors.New("pgdest: transaction not open")
	}
	if err := w.prepare(fr.Columns); err != nil {
		return err
	}

	values := fr.Values
	if w.opts.UploadColumn != "" {
		values = append(append(make([]any, 0, len(values)+1), values...), w.uploadID)
	}

	if w.opts.BatchSize > 0 {
		w.pending = append(w.pending, values)
		if len(w.pending) >= w.opts.BatchSize {
			return w.flush(ctx)
		}
		return nil
	}

	if _, err := w.tx.Exec(ctx, w.insertSQL, values...); err != nil {
		return fmt.Errorf("insert line %d: %w", fr.Line, err)
	}
	w.written++
	return nil
}

// prepare fixes the column list on the first row and checks later rows
// against it.
func (w *writer) prepare(cols []string) error {
	if w.columns != nil {
		if len(cols) != len(w.columns)-w.extraColumns() {
			return fmt.Errorf("pgdest: row has %d columns, want %d", len(cols), len(w.columns)-w.extraColumns())
		}
		return nil
	}

	w.columns = append([]string(nil), cols...)
	if w.opts.UploadColumn != "" {
		w.columns = append(w.columns, w.opts.UploadColumn)
	}
	w.insertSQL = insertSQL(w.table, w.columns)
	return nil
}

func (w *writer) extraColumns() int {
	if w.opts.UploadColumn != "" {
		return 1
	}
	return 0
}

func (w *writer) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	n, err := w.tx.CopyFrom(ctx, w.table, w.columns, pgx.CopyFromRows(w.pending))
	if err != nil {
		return fmt.Errorf("copy %d rows: %w", len(w.pending), err)
	}
	w.written += n
	w.pending = w.pending[:0]
	return nil
}

func (w *writer) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tx == nil || w.done {
		return errors.New("pgdest: transaction not open")
	}
	if err := w.flush(ctx); err != nil {
		return err
	}
	if err := w.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	w.done = true
	w.logger.DebugContext(ctx, "rows committed", "rows", w.written)
	return nil
}

func (w *writer) Rollback(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = nil
	if w.tx == nil || w.done {
		return nil
	}
	w.done = true
	if err := w.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Close rolls back a transaction that was neither committed nor rolled back.
func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tx == nil || w.done {
		return nil
	}
	w.done = true
	err := w.tx.Rollback(context.Background())
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func insertSQL(table pgx.Identifier, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = schema.QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table.Sanitize(), strings.Join(quoted, ", "), strings.Join(params, ", "))
}
