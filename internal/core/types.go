package core

import (
	"context"
	"fmt"
	"strings"
)

// Record is one unit of data moving through the pipeline. The orchestrator
// never inspects it; raw, mapped and formatted records are distinct values.
type Record = any

// Stage identifies where in the per-record pipeline something happened.
type Stage string

const (
	StageRead     Stage = "read"
	StageMap      Stage = "map"
	StageValidate Stage = "validate"
	StageFormat   Stage = "format"
	StageWrite    Stage = "write"
)

// FieldFailure is the reason a single field of a record was rejected.
type FieldFailure struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (f FieldFailure) Error() string {
	if f.Field != "" {
		return fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return f.Message
}

// FieldFailures is returned (directly or wrapped) by readers, mappers and
// validators to reject a record without aborting the run.
type FieldFailures []FieldFailure

func (ff FieldFailures) Error() string {
	switch len(ff) {
	case 0:
		return "record rejected"
	case 1:
		return ff[0].Error()
	}
	parts := make([]string, len(ff))
	for i, f := range ff {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

// RecordFailure is the bookkeeping entry for one rejected record.
type RecordFailure struct {
	Index  int           `json:"index"`
	Stage  Stage         `json:"stage"`
	Fields FieldFailures `json:"fields"`
}

// Result is the outcome of one run.
type Result struct {
	Success  bool            `json:"success"`
	Failures []RecordFailure `json:"failures"`

	// Records counts every record read, including rejected ones.
	Records int `json:"records"`
}

// Source produces the reader for one run.
type Source interface {
	NewReader(ctx context.Context) (Reader, error)
}

// Reader is a forward-only record stream.
//
// Read returns io.EOF once the stream is exhausted and a FieldFailures error
// when a single record could not be read. Any other error aborts the run.
type Reader interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (Record, error)
	Close() error
}

// Destination produces the writer for one run. The writer is bound to the
// run's source so destinations may derive their shape from it.
type Destination interface {
	NewWriter(ctx context.Context, src Source) (Writer, error)
}

// Writer is the transactional handle to a destination for one run.
//
// Write may be called concurrently when the write concurrency bound exceeds
// one. Commit, Rollback and Close are only called after every Write returned.
// Close must tolerate being called after a failed Open, Commit or Rollback.
type Writer interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, rec Record) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// Mapper turns a raw record into a destination-shaped record.
type Mapper interface {
	Map(ctx context.Context, rec Record) (Record, error)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc func(ctx context.Context, rec Record) (Record, error)

func (f MapperFunc) Map(ctx context.Context, rec Record) (Record, error) { return f(ctx, rec) }

// Validator checks a mapped record.
type Validator interface {
	Validate(ctx context.Context, rec Record) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, rec Record) error

func (f ValidatorFunc) Validate(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Formatter serializes a mapped record into what writers expect. Formatting
// cannot fail.
type Formatter interface {
	Format(rec Record) Record
}

// FormatterFunc adapts a function to the Formatter interface.
type FormatterFunc func(rec Record) Record

func (f FormatterFunc) Format(rec Record) Record { return f(rec) }

// RecordFilter decides whether a mapped record is routed to a target.
type RecordFilter func(rec Record) bool

// Target binds a destination to its identity and optional filter.
type Target struct {
	Name        string
	Destination Destination
	Filter      RecordFilter
}
