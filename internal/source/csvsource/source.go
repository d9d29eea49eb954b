// Package csvsource reads CSV files as core records.
//
// Each data row becomes a schema.RawRow carrying the header index of the
// file, so that a schema.Mapper can pick the table's columns out of it. The
// header row is located within the first rows of the file, which lets
// exports with a title block above the header be imported unchanged.
package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/schema"
)

// DefaultHeaderSearchRows is how many rows are scanned for the header.
const DefaultHeaderSearchRows = 20

// Read failure codes.
const (
	CodeInvalidCSV = "FILE002"
	CodeShortRow   = "FILE006"
)

// ErrConsumed is returned when a reader-backed source is read twice.
var ErrConsumed = errors.New("csv source already consumed")

// Options tune how a file is read.
type Options struct {
	// Encoding of the file; empty means UTF-8.
	Encoding string

	// Comma is the field delimiter, ',' when zero.
	Comma rune

	// HeaderSearchRows bounds the header search, DefaultHeaderSearchRows
	// when zero.
	HeaderSearchRows int

	// StrictQuotes rejects rows with malformed quoting instead of reading
	// them leniently.
	StrictQuotes bool

	// Size is the expected input size in bytes, for progress reporting.
	Size int64
}

// Source is a core.Source over one CSV input.
type Source struct {
	def  schema.TableDefinition
	opts Options

	open func() (io.ReadCloser, error)

	mu       sync.Mutex
	counter  *countingReader
	consumed bool
	reusable bool
}

// FromFile returns a source reading path. Each run reopens the file.
func FromFile(path string, def schema.TableDefinition, opts Options) (*Source, error) {
	if _, err := lookupEncoding(opts.Encoding); err != nil {
		return nil, err
	}
	if opts.Size == 0 {
		if fi, err := os.Stat(path); err == nil {
			opts.Size = fi.Size()
		}
	}
	return &Source{
		def:      def,
		opts:     opts,
		open:     func() (io.ReadCloser, error) { return os.Open(path) },
		reusable: true,
	}, nil
}

// FromReader returns a source reading r once.
func FromReader(r io.Reader, def schema.TableDefinition, opts Options) (*Source, error) {
	if _, err := lookupEncoding(opts.Encoding); err != nil {
		return nil, err
	}
	return &Source{
		def:  def,
		opts: opts,
		open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
	}, nil
}

// Table returns the table definition rows are read for.
func (s *Source) Table() schema.TableDefinition {
	return s.def
}

// Progress reports how much of the input the current reader consumed.
func (s *Source) Progress() Progress {
	s.mu.Lock()
	c := s.counter
	s.mu.Unlock()

	p := Progress{BytesTotal: s.opts.Size}
	if c != nil {
		p.BytesRead = c.n.Load()
	}
	return p
}

// NewReader implements core.Source.
func (s *Source) NewReader(context.Context) (core.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumed && !s.reusable {
		return nil, ErrConsumed
	}
	s.consumed = true
	return &reader{src: s}, nil
}

// reader streams RawRows out of one pass over the input.
type reader struct {
	src *Source

	rc     io.ReadCloser
	csv    *csv.Reader
	header schema.HeaderIndex

	// minCells is the number of cells a row needs to reach every required
	// column.
	minCells int
}

func (r *reader) Open(ctx context.Context) error {
	enc, err := lookupEncoding(r.src.opts.Encoding)
	if err != nil {
		return err
	}

	rc, err := r.src.open()
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	r.rc = rc

	counter := &countingReader{r: rc, total: r.src.opts.Size}
	r.src.mu.Lock()
	r.src.counter = counter
	r.src.mu.Unlock()

	cr := csv.NewReader(decode(counter, enc))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = !r.src.opts.StrictQuotes
	if r.src.opts.Comma != 0 {
		cr.Comma = r.src.opts.Comma
	}
	r.csv = cr

	return r.findHeader(ctx)
}

// findHeader consumes rows until one qualifies as the header.
func (r *reader) findHeader(ctx context.Context) error {
	limit := r.src.opts.HeaderSearchRows
	if limit <= 0 {
		limit = DefaultHeaderSearchRows
	}
	specs := r.src.def.FieldSpecs

	var first []string
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("invalid csv while searching for header: %w", err)
		}
		if isEmptyRow(row) {
			continue
		}
		if first == nil {
			first = row
		}

		if _, complete := schema.HeaderScore(row, specs); complete {
			r.header = schema.MakeHeaderIndex(row)
			r.minCells = minCells(r.header, specs)
			return nil
		}
	}

	if first == nil {
		return errors.New("empty file: no rows found")
	}
	_, err := schema.ValidateHeaders(first, specs)
	if err == nil {
		err = errors.New("no table columns found")
	}
	return fmt.Errorf("header row not found in first %d rows: %w", limit, err)
}

func (r *reader) Read(context.Context) (core.Record, error) {
	for {
		row, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, core.FieldFailures{{
					Code:    CodeInvalidCSV,
					Value:   fmt.Sprintf("line %d", perr.StartLine),
					Message: "invalid csv: " + perr.Err.Error(),
				}}
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}

		if isEmptyRow(row) {
			continue
		}

		line, _ := r.csv.FieldPos(0)
		if len(row) < r.minCells {
			return nil, core.FieldFailures{{
				Code:    CodeShortRow,
				Value:   fmt.Sprintf("line %d", line),
				Message: fmt.Sprintf("too few columns: got %d, want at least %d", len(row), r.minCells),
			}}
		}

		return schema.RawRow{Line: line, Header: r.header, Cells: row}, nil
	}
}

func (r *reader) Close() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	return err
}

func minCells(header schema.HeaderIndex, specs []schema.FieldSpec) int {
	n := 0
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		if pos, ok := header.Lookup(spec.Name); ok && pos+1 > n {
			n = pos + 1
		}
	}
	return n
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
