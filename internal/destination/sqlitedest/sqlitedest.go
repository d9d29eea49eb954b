// Package sqlitedest writes formatted rows into a local SQLite database.
package sqlitedest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/schema"
)

// OpenDB opens (or creates) the SQLite file at path.
func OpenDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// Options configures a Destination.
type Options struct {
	// Table defaults to the key of the source's table definition.
	Table string

	// CreateTable creates the table from the source's definition inside the
	// import transaction when it does not exist yet.
	CreateTable bool

	Logger *slog.Logger
}

// Destination is a core.Destination backed by SQLite. SQLite allows a single
// writer per file, so two destinations of one import should not share a
// database.
type Destination struct {
	db   *sql.DB
	opts Options
}

func New(db *sql.DB, opts Options) *Destination {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Destination{db: db, opts: opts}
}

type tableSource interface {
	Table() schema.TableDefinition
}

// NewWriter implements core.Destination.
func (d *Destination) NewWriter(_ context.Context, src core.Source) (core.Writer, error) {
	w := &writer{db: d.db, table: d.opts.Table}

	if ts, ok := src.(tableSource); ok {
		def := ts.Table()
		if w.table == "" {
			w.table = def.Info.Key
		}
		if d.opts.CreateTable {
			w.createSQL = createTableSQL(w.table, def)
		}
	} else if d.opts.CreateTable {
		return nil, errors.New("sqlitedest: CreateTable needs a source with a table definition")
	}
	if w.table == "" {
		return nil, errors.New("sqlitedest: table name required")
	}

	w.logger = d.opts.Logger.With("table", w.table)
	return w, nil
}

type writer struct {
	db        *sql.DB
	table     string
	createSQL string
	logger    *slog.Logger

	mu      sync.Mutex
	tx      *sql.Tx
	stmt    *sql.Stmt
	columns int
	done    bool
	written int
}

func (w *writer) Open(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if w.createSQL != "" {
		if _, err := tx.ExecContext(ctx, w.createSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("create table %s: %w", w.table, err)
		}
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
		return errors.New("sqlitedest: transaction not open")
	}

	if w.stmt == nil {
		stmt, err := w.tx.PrepareContext(ctx, insertSQL(w.table, fr.Columns))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		w.stmt = stmt
		w.columns = len(fr.Columns)
	} else if len(fr.Columns) != w.columns {
		return fmt.Errorf("sqlitedest: row has %d columns, want %d", len(fr.Columns), w.columns)
	}

	// pgtype values implement driver.Valuer.
	if _, err := w.stmt.ExecContext(ctx, fr.Values...); err != nil {
		return fmt.Errorf("insert line %d: %w", fr.Line, err)
	}
	w.written++
	return nil
}

func (w *writer) Commit(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tx == nil || w.done {
		return errors.New("sqlitedest: transaction not open")
	}
	w.done = true
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	w.logger.Debug("rows committed", "rows", w.written)
	return nil
}

func (w *writer) Rollback(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rollback()
}

func (w *writer) rollback() error {
	if w.tx == nil || w.done {
		return nil
	}
	w.done = true
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Close releases the prepared statement and rolls back an unfinished
// transaction.
func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.stmt != nil {
		errs = append(errs, w.stmt.Close())
		w.stmt = nil
	}
	errs = append(errs, w.rollback())
	return errors.Join(errs...)
}

func insertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = schema.QuoteIdentifier(c)
	}
	params := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.QuoteIdentifier(table), strings.Join(quoted, ", "), params)
}

func createTableSQL(table string, def schema.TableDefinition) string {
	cols := make([]string, len(def.FieldSpecs))
	for i, spec := range def.FieldSpecs {
		cols[i] = schema.QuoteIdentifier(spec.Column()) + " " + spec.Type.SQLType()
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		schema.QuoteIdentifier(table), strings.Join(cols, ", "))
}
