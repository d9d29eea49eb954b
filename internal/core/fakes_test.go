package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
)

// journal records collaborator calls across writers in the order they
// happened.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

func (j *journal) count(call string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, c := range j.calls {
		if c == call {
			n++
		}
	}
	return n
}

// filter returns the calls that have one of the given suffixes.
func (j *journal) filter(suffixes ...string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, c := range j.calls {
		for _, s := range suffixes {
			if len(c) >= len(s) && c[len(c)-len(s):] == s {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// ============================================================================
// Source fakes
// ============================================================================

// step is one scripted Read outcome.
type step struct {
	rec Record
	err error
}

func yield(rec Record) step            { return step{rec: rec} }
func failRead(ff ...FieldFailure) step { return step{err: FieldFailures(ff)} }

type scriptSource struct {
	steps []step

	mu     sync.Mutex
	reads  int
	opened int
	closed int

	newErr   error
	openErr  error
	closeErr error

	// onRead runs before each Read with the index about to be read.
	onRead func(index int)
}

func (s *scriptSource) NewReader(context.Context) (Reader, error) {
	if s.newErr != nil {
		return nil, s.newErr
	}
	return &scriptReader{src: s}, nil
}

func (s *scriptSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type scriptReader struct {
	src *scriptSource
	pos int
}

func (r *scriptReader) Open(context.Context) error {
	r.src.mu.Lock()
	r.src.opened++
	r.src.mu.Unlock()
	return r.src.openErr
}

func (r *scriptReader) Read(context.Context) (Record, error) {
	if r.src.onRead != nil {
		r.src.onRead(r.pos)
	}
	if r.pos >= len(r.src.steps) {
		return nil, io.EOF
	}
	r.src.mu.Lock()
	r.src.reads++
	r.src.mu.Unlock()

	s := r.src.steps[r.pos]
	r.pos++
	return s.rec, s.err
}

func (r *scriptReader) Close() error {
	r.src.mu.Lock()
	r.src.closed++
	r.src.mu.Unlock()
	return r.src.closeErr
}

// records returns a script of n successful reads yielding 0..n-1.
func records(n int) []step {
	out := make([]step, n)
	for i := range out {
		out[i] = yield(i)
	}
	return out
}

// ============================================================================
// Destination fakes
// ============================================================================

type fakeWriter struct {
	name string
	j    *journal

	newErr      error
	openErr     error
	commitErr   error
	rollbackErr error
	closeErr    error

	// writeFn, when set, decides the outcome of each Write.
	writeFn func(ctx context.Context, rec Record) error

	mu      sync.Mutex
	written []Record
}

func newFakeWriter(name string, j *journal) *fakeWriter {
	return &fakeWriter{name: name, j: j}
}

func (w *fakeWriter) NewWriter(context.Context, Source) (Writer, error) {
	if w.newErr != nil {
		return nil, w.newErr
	}
	w.j.add("%s.new", w.name)
	return w, nil
}

func (w *fakeWriter) Open(context.Context) error {
	w.j.add("%s.open", w.name)
	return w.openErr
}

func (w *fakeWriter) Write(ctx context.Context, rec Record) error {
	if w.writeFn != nil {
		if err := w.writeFn(ctx, rec); err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.written = append(w.written, rec)
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) Commit(context.Context) error {
	w.j.add("%s.commit", w.name)
	return w.commitErr
}

func (w *fakeWriter) Rollback(context.Context) error {
	w.j.add("%s.rollback", w.name)
	return w.rollbackErr
}

func (w *fakeWriter) Close() error {
	w.j.add("%s.close", w.name)
	return w.closeErr
}

func (w *fakeWriter) records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Record(nil), w.written...)
}

func target(w *fakeWriter) Target {
	return Target{Name: w.name, Destination: w}
}

// rejectIndices fails validation for the listed integer records.
func rejectIndices(indices ...int) Validator {
	bad := make(map[int]bool, len(indices))
	for _, i := range indices {
		bad[i] = true
	}
	return ValidatorFunc(func(_ context.Context, rec Record) error {
		if bad[rec.(int)] {
			return FieldFailures{{Field: "value", Code: "VAL001", Message: "rejected"}}
		}
		return nil
	})
}

func mustNew(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func failureIndices(failures []RecordFailure) []int {
	out := make([]int, len(failures))
	for i, f := range failures {
		out[i] = f.Index
	}
	return out
}

var errBoom = errors.New("boom")
