package core

import (
	"context"
	"log/slog"
)

// writerEntry is one opened writer of a run.
type writerEntry struct {
	name   string
	filter RecordFilter
	writer Writer
}

// writerSet holds the writers of one run in the order they were opened.
type writerSet struct {
	entries []*writerEntry
	logger  *slog.Logger
}

// openWriters creates and opens one writer per target. On failure every
// writer created so far, including the failing one, is disposed.
func openWriters(ctx context.Context, src Source, targets []Target, logger *slog.Logger) (*writerSet, error) {
	ws := &writerSet{
		entries: make([]*writerEntry, 0, len(targets)),
		logger:  logger,
	}

	for _, t := range targets {
		w, err := t.Destination.NewWriter(ctx, src)
		if err != nil {
			ws.dispose(ctx)
			return nil, &DestinationError{Destination: t.Name, Op: "create writer", Err: err}
		}
		ws.entries = append(ws.entries, &writerEntry{name: t.Name, filter: t.Filter, writer: w})

		if err := w.Open(ctx); err != nil {
			ws.dispose(ctx)
			return nil, &DestinationError{Destination: t.Name, Op: "open", Err: err}
		}
	}

	return ws, nil
}

// route returns the writers whose filter accepts rec.
func (ws *writerSet) route(rec Record) []*writerEntry {
	out := make([]*writerEntry, 0, len(ws.entries))
	for _, e := range ws.entries {
		if e.filter == nil || e.filter(rec) {
			out = append(out, e)
		}
	}
	return out
}

// commit commits every writer in open order and stops at the first failure.
// Writers committed before it are not rolled back.
func (ws *writerSet) commit(ctx context.Context) error {
	for i, e := range ws.entries {
		if err := e.writer.Commit(ctx); err != nil {
			committed := make([]string, i)
			for j := range committed {
				committed[j] = ws.entries[j].name
			}
			ws.logger.ErrorContext(ctx, "commit failed",
				"destination", e.name,
				"committed", committed,
				"error", err,
			)
			return &CommitError{Destination: e.name, Committed: committed, Err: err}
		}
	}
	ws.logger.DebugContext(ctx, "import committed", "destinations", len(ws.entries))
	return nil
}

// rollback rolls back every writer, continuing past failures. It returns nil
// when every rollback succeeded.
func (ws *writerSet) rollback(ctx context.Context) *RollbackError {
	var errs []error
	for _, e := range ws.entries {
		if err := e.writer.Rollback(ctx); err != nil {
			errs = append(errs, &DestinationError{Destination: e.name, Op: "rollback", Err: err})
		}
	}
	if len(errs) > 0 {
		ws.logger.ErrorContext(ctx, "rollback failed", "failed", len(errs), "destinations", len(ws.entries))
		return &RollbackError{Errs: errs}
	}
	ws.logger.DebugContext(ctx, "import rolled back", "destinations", len(ws.entries))
	return nil
}

// dispose closes every writer. Close errors are logged, never returned.
func (ws *writerSet) dispose(ctx context.Context) {
	for _, e := range ws.entries {
		if err := e.writer.Close(); err != nil {
			ws.logger.WarnContext(ctx, "close writer", "destination", e.name, "error", err)
		}
	}
}
