package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Options configures an Orchestrator.
type Options struct {
	Source  Source
	Targets []Target

	// Optional stages. A nil stage passes records through unchanged.
	Mapper    Mapper
	Validator Validator
	Formatter Formatter

	Hooks Hooks

	// TolerateFailures commits even when records were rejected.
	TolerateFailures bool

	// MaxConcurrentWrites bounds the writer calls in flight for one record.
	// Zero means unbounded.
	MaxConcurrentWrites int

	// WriteLimiter bounds writer calls across every orchestrator sharing it.
	// It applies on top of MaxConcurrentWrites.
	WriteLimiter *semaphore.Weighted

	Logger *slog.Logger
}

// Orchestrator runs imports. It is safe to reuse across runs but runs one
// import at a time.
type Orchestrator struct {
	source    Source
	targets   []Target
	mapper    Mapper
	validator Validator
	formatter Formatter
	hooks     Hooks
	tolerate  bool
	perRecord *semaphore.Weighted
	shared    *semaphore.Weighted
	logger    *slog.Logger

	bus     Bus
	running atomic.Bool
}

// New validates opts and returns an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Source == nil {
		return nil, errors.New("source is required")
	}
	if len(opts.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}
	if opts.MaxConcurrentWrites < 0 {
		return nil, fmt.Errorf("max concurrent writes must not be negative, got %d", opts.MaxConcurrentWrites)
	}

	seen := make(map[string]bool, len(opts.Targets))
	for i, t := range opts.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("target %d: name is required", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("target %q: duplicate name", t.Name)
		}
		if t.Destination == nil {
			return nil, fmt.Errorf("target %q: destination is required", t.Name)
		}
		seen[t.Name] = true
	}

	o := &Orchestrator{
		source:    opts.Source,
		targets:   append([]Target(nil), opts.Targets...),
		mapper:    opts.Mapper,
		validator: opts.Validator,
		formatter: opts.Formatter,
		hooks:     opts.Hooks,
		tolerate:  opts.TolerateFailures,
		shared:    opts.WriteLimiter,
		logger:    opts.Logger,
	}

	if o.mapper == nil {
		o.mapper = identityMapper{}
	}
	if o.validator == nil {
		o.validator = acceptAll{}
	}
	if o.formatter == nil {
		o.formatter = identityFormatter{}
	}
	if o.hooks == nil {
		o.hooks = NopHooks{}
	}
	if opts.MaxConcurrentWrites > 0 {
		o.perRecord = semaphore.NewWeighted(int64(opts.MaxConcurrentWrites))
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return o, nil
}

// Events returns the bus on which the orchestrator publishes record events.
func (o *Orchestrator) Events() *Bus {
	return &o.bus
}

// Run performs one import. Rejected records are reported through an
// *ImportError (matching ErrImportFailed) in addition to the result.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	result, err := o.TryRun(ctx)
	if err != nil {
		return result, err
	}
	if !result.Success {
		return result, &ImportError{Failures: result.Failures}
	}
	return result, nil
}

// TryRun performs one import. It only returns an error for write, commit,
// rollback, hook, cancellation and collaborator failures; rejected records
// are reported through the result alone.
//
// Cancelling ctx stops the run before the next record is read. Calls already
// in flight are not interrupted.
func (o *Orchestrator) TryRun(ctx context.Context) (Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	start := time.Now()
	r := &run{
		o:        o,
		ctx:      ctx,
		work:     context.WithoutCancel(ctx),
		failures: []RecordFailure{},
	}

	if err := o.hooks.BeforeRun(r.work); err != nil {
		return r.result(false), fmt.Errorf("before run: %w", err)
	}

	ws, err := openWriters(r.work, o.source, o.targets, o.logger)
	if err != nil {
		return r.result(false), err
	}
	defer ws.dispose(r.work)

	o.logger.DebugContext(ctx, "import started", "targets", len(o.targets))

	result, err := r.execute(ws)

	o.logger.DebugContext(ctx, "import finished",
		"success", result.Success,
		"records", result.Records,
		"failures", len(result.Failures),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return result, err
}

// run is the state of one TryRun call.
type run struct {
	o *Orchestrator

	// ctx carries the caller's cancellation; work is detached from it and is
	// what collaborators receive.
	ctx  context.Context
	work context.Context

	records  int
	failures []RecordFailure
}

func (r *run) result(success bool) Result {
	return Result{Success: success, Failures: r.failures, Records: r.records}
}

// execute runs the record loop and settles the writers.
func (r *run) execute(ws *writerSet) (Result, error) {
	if err := r.loop(ws); err != nil {
		return r.result(false), r.abort(ws, err)
	}

	if err := r.o.hooks.BeforeFinish(r.work, r.failures); err != nil {
		return r.result(false), r.abort(ws, fmt.Errorf("before finish: %w", err))
	}

	if len(r.failures) == 0 || r.o.tolerate {
		if err := ws.commit(r.work); err != nil {
			return r.result(false), err
		}
		return r.result(true), nil
	}

	if rb := ws.rollback(r.work); rb != nil {
		return r.result(false), rb
	}
	return r.result(false), nil
}

// abort rolls every writer back after an unexpected error.
func (r *run) abort(ws *writerSet, cause error) error {
	rb := ws.rollback(r.work)
	if rb == nil {
		return cause
	}
	return &AbortError{Err: cause, Rollback: rb}
}

// loop reads the source to exhaustion. The reader is closed on every path.
func (r *run) loop(ws *writerSet) (err error) {
	reader, err := r.o.source.NewReader(r.work)
	if err != nil {
		return fmt.Errorf("create reader: %w", err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			if err == nil {
				err = fmt.Errorf("close reader: %w", cerr)
				return
			}
			r.o.logger.WarnContext(r.work, "close reader", "error", cerr)
		}
	}()

	if err := reader.Open(r.work); err != nil {
		return fmt.Errorf("open reader: %w", err)
	}

	for index := 0; ; index++ {
		if cerr := r.ctx.Err(); cerr != nil {
			return fmt.Errorf("%w before record %d: %w", ErrCancelled, index, cerr)
		}

		rec, rerr := reader.Read(r.work)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			ff, ok := AsFieldFailures(rerr)
			if !ok {
				return fmt.Errorf("read record %d: %w", index, rerr)
			}
			if len(ff) == 0 {
				// A failed read without reasons ends the stream.
				return nil
			}
			r.records++
			r.reject(index, StageRead, ff)
			r.o.bus.Publish(r.work, Event{
				Kind:     EventRecordRead,
				Index:    index,
				Failures: ff,
			})
			continue
		}

		r.records++
		r.o.bus.Publish(r.work, Event{
			Kind:    EventRecordRead,
			Index:   index,
			Output:  rec,
			Success: true,
		})

		formatted, targets, ok, perr := r.process(index, rec, ws)
		if perr != nil {
			return perr
		}
		if !ok {
			continue
		}
		if err := r.write(index, formatted, targets); err != nil {
			return err
		}
	}
}

// reject records a failure for the record at index and notifies the hooks.
func (r *run) reject(index int, stage Stage, ff FieldFailures) {
	f := RecordFailure{Index: index, Stage: stage, Fields: ff}
	r.failures = append(r.failures, f)
	r.o.hooks.RecordFailed(r.work, f)
}

type identityMapper struct{}

func (identityMapper) Map(_ context.Context, rec Record) (Record, error) { return rec, nil }

type acceptAll struct{}

func (acceptAll) Validate(context.Context, Record) error { return nil }

type identityFormatter struct{}

func (identityFormatter) Format(rec Record) Record { return rec }
