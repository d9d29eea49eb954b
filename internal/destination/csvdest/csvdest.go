// Package csvdest writes formatted rows to a CSV file. The file only appears
// at its final path once the import commits.
package csvdest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/schema"
)

// Destination is a core.Destination writing one CSV file per run.
type Destination struct {
	path   string
	header bool
}

// New returns a destination writing to path. When header is true the column
// names of the first row are written before it.
func New(path string, header bool) *Destination {
	return &Destination{path: path, header: header}
}

// NewWriter implements core.Destination.
func (d *Destination) NewWriter(context.Context, core.Source) (core.Writer, error) {
	if d.path == "" {
		return nil, errors.New("csvdest: path required")
	}
	return &writer{path: d.path, header: d.header}, nil
}

type writer struct {
	path   string
	header bool

	mu      sync.Mutex
	tmp     *os.File
	cw      *csv.Writer
	wroteHd bool
	done    bool
}

// Open creates a temporary file next to the target so the final rename stays
// on one filesystem.
func (w *writer) Open(context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("chmod temp file: %w", err)
	}

	w.mu.Lock()
	w.tmp = f
	w.cw = csv.NewWriter(f)
	w.mu.Unlock()
	return nil
}

func (w *writer) Write(_ context.Context, rec core.Record) error {
	fr, err := schema.AsFormattedRow(rec)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cw == nil || w.done {
		return errors.New("csvdest: file not open")
	}
	if w.header && !w.wroteHd {
		if err := w.cw.Write(fr.Columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		w.wroteHd = true
	}
	if err := w.cw.Write(fr.Text); err != nil {
		return fmt.Errorf("write line %d: %w", fr.Line, err)
	}
	return nil
}

// Commit flushes the rows and moves the file into place.
func (w *writer) Commit(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tmp == nil || w.done {
		return errors.New("csvdest: file not open")
	}
	w.done = true

	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		w.discard()
		return fmt.Errorf("flush: %w", err)
	}
	if err := w.tmp.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		w.tmp = nil
		return fmt.Errorf("close: %w", err)
	}
	name := w.tmp.Name()
	w.tmp = nil
	if err := os.Rename(name, w.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (w *writer) Rollback(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.done = true
	return w.discard()
}

func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.done = true
	return w.discard()
}

// discard closes and removes the temporary file if it still exists.
func (w *writer) discard() error {
	if w.tmp == nil {
		return nil
	}
	name := w.tmp.Name()
	closeErr := w.tmp.Close()
	w.tmp = nil
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}
