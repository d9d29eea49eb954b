package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/source/csvsource"
)

// ErrRunNotFound is returned for unknown or expired run ids.
var ErrRunNotFound = errors.New("import run not found")

const (
	// DefaultTimeout bounds a single run.
	DefaultTimeout = 10 * time.Minute

	// DefaultResultTTL is how long a finished run stays queryable.
	DefaultResultTTL = 15 * time.Minute
)

// Options configures a Service.
type Options struct {
	MaxConcurrentRuns int
	MaxWaitTime       time.Duration

	// MaxConcurrentWrites bounds writer calls across all runs. Zero means
	// unbounded.
	MaxConcurrentWrites int

	Timeout   time.Duration
	ResultTTL time.Duration

	Resources *Resources
	History   *History
	Logger    *slog.Logger
}

// Input is the file a run reads. Either Path or Reader must be set; a Reader
// is consumed once.
type Input struct {
	Name   string
	Path   string
	Reader io.Reader
	Size   int64

	// Remove deletes Path after the run.
	Remove bool
}

// Service runs jobs, tracks their progress and keeps their results for a
// while after they finish.
type Service struct {
	opts    Options
	limiter *RunLimiter
	writes  *semaphore.Weighted
	logger  *slog.Logger

	jobs map[string]*Job

	mu   sync.RWMutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// NewService returns a service for jobs.
func NewService(jobs []*Job, opts Options) (*Service, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.Resources == nil {
		opts.Resources = &Resources{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Service{
		opts:    opts,
		limiter: NewRunLimiter(opts.MaxConcurrentRuns, opts.MaxWaitTime),
		logger:  opts.Logger,
		jobs:    make(map[string]*Job, len(jobs)),
		runs:    make(map[string]*run),
	}
	if opts.MaxConcurrentWrites > 0 {
		s.writes = semaphore.NewWeighted(int64(opts.MaxConcurrentWrites))
	}

	for _, j := range jobs {
		if _, ok := s.jobs[j.Name]; ok {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		s.jobs[j.Name] = j
	}
	return s, nil
}

// Jobs returns the configured jobs sorted by name.
func (s *Service) Jobs() []*Job {
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Job returns the named job.
func (s *Service) Job(name string) (*Job, error) {
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return j, nil
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// Start begins an import in the background and returns its run id. It waits
// for a run slot and fails with ErrTooManyImports if none frees up in time.
// The run is not bound to ctx; use Cancel to stop it.
func (s *Service) Start(ctx context.Context, jobName string, in Input) (string, error) {
	r, p, err := s.prepare(ctx, context.Background(), jobName, in)
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in import", "run_id", r.id, "job", r.job.Name, "panic", rec)
				if r.result() == nil {
					s.complete(r, p, core.Result{}, fmt.Errorf("internal error: %v", rec), in)
				}
			}
		}()
		s.execute(r, p, in)
	}()

	return r.id, nil
}

// Run imports in the calling goroutine and returns the summary. Cancelling
// ctx cancels the import.
func (s *Service) Run(ctx context.Context, jobName string, in Input) (*Summary, error) {
	r, p, err := s.prepare(ctx, ctx, jobName, in)
	if err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	s.wg.Add(1)
	defer s.wg.Done()
	s.execute(r, p, in)
	return r.result(), nil
}

// prepare validates the input, takes a run slot and registers the run. The
// run's context derives from parent.
func (s *Service) prepare(ctx, parent context.Context, jobName string, in Input) (*run, *plan, error) {
	job, err := s.Job(jobName)
	if err != nil {
		return nil, nil, err
	}
	def, err := job.Definition()
	if err != nil {
		return nil, nil, err
	}

	var src *csvsource.Source
	switch {
	case in.Path != "":
		src, err = csvsource.FromFile(in.Path, def, job.SourceOptions(in.Size))
	case in.Reader != nil:
		src, err = csvsource.FromReader(in.Reader, def, job.SourceOptions(in.Size))
	default:
		err = errors.New("no file provided")
	}
	if err != nil {
		return nil, nil, err
	}

	id := uuid.New().String()
	logger := s.logger.With("run_id", id, "job", job.Name)
	p, err := job.buildPlan(src, s.opts.Resources, id, logger)
	if err != nil {
		return nil, nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, nil, err
	}

	r := newRun(id, job, in.Name)
	r.src = src
	r.ctx, r.cancel = context.WithTimeout(parent, s.opts.Timeout)

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	return r, p, nil
}

// execute runs the orchestrator and records the outcome.
func (s *Service) execute(r *run, p *plan, in Input) {
	defer r.cancel()

	ctx := core.ContextWithRunID(r.ctx, r.id)
	ctx = core.ContextWithJob(ctx, r.job.Name)
	logger := p.options.Logger

	o, err := core.New(s.orchestratorOptions(r, p))
	if err != nil {
		s.complete(r, p, core.Result{}, err, in)
		return
	}
	o.Events().Subscribe(r)
	o.Events().Subscribe(core.LogObserver(logger))

	res, err := o.TryRun(ctx)
	s.complete(r, p, res, err, in)
}

// orchestratorOptions completes the plan's options for r. The job's
// per-record write bound is kept alongside the service-wide limiter.
func (s *Service) orchestratorOptions(r *run, p *plan) core.Options {
	logger := p.options.Logger

	opts := p.options
	opts.WriteLimiter = s.writes
	opts.Hooks = core.HookFuncs{
		OnBeforeRun: func(context.Context) error {
			r.setStatus(StatusRunning)
			logger.Info("import started", "file", r.fileName, "table", p.def.Info.Key)
			return nil
		},
		OnBeforeFinish: func(_ context.Context, failures []core.RecordFailure) error {
			r.setStatus(StatusFinishing)
			logger.Debug("finishing import", "rejected", len(failures))
			return nil
		},
	}
	return opts
}

// complete builds the summary, stores it and schedules the run's removal.
func (s *Service) complete(r *run, p *plan, res core.Result, err error, in Input) {
	progress := r.snapshot()
	progress.Records = res.Records
	progress.Rejected = len(res.Failures)

	switch {
	case err == nil && res.Success:
		progress.Status = StatusSucceeded
	case err == nil:
		progress.Status = StatusRejected
		err = &core.ImportError{Failures: res.Failures}
	case errors.Is(err, context.DeadlineExceeded):
		progress.Status = StatusFailed
	case errors.Is(err, core.ErrCancelled):
		progress.Status = StatusCancelled
	default:
		progress.Status = StatusFailed
	}
	if progress.Status == StatusSucceeded || progress.Status == StatusRejected {
		progress.Percent = 100
	}

	finished := time.Now()
	sum := &Summary{
		Progress:   progress,
		FileName:   r.fileName,
		Table:      p.def.Info.Key,
		Failures:   res.Failures,
		StartedAt:  r.startedAt,
		FinishedAt: finished,
		DurationMs: finished.Sub(r.startedAt).Milliseconds(),
	}
	for _, t := range p.options.Targets {
		sum.Destinations = append(sum.Destinations, t.Name)
	}
	if err != nil {
		sum.Error = err.Error()
		msg := MapError(err)
		sum.UserError = &msg
	}

	logger := p.options.Logger
	logger.Info("import finished",
		"status", sum.Status,
		"records", sum.Records,
		"rejected", sum.Rejected,
		"duration_ms", sum.DurationMs,
	)

	if s.opts.History != nil {
		hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if herr := s.opts.History.Record(hctx, sum); herr != nil {
			logger.Warn("record import history", "error", herr)
		}
		cancel()
	}

	if in.Remove && in.Path != "" {
		if rerr := os.Remove(in.Path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			logger.Warn("remove input file", "path", in.Path, "error", rerr)
		}
	}

	r.finish(sum)
	s.cleanup(r.id, s.opts.ResultTTL)
}

// cleanup forgets the run after delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
	})
}

func (s *Service) lookup(id string) (*run, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, nil
}

// Progress returns the current progress of a run without blocking.
func (s *Service) Progress(id string) (Progress, error) {
	r, err := s.lookup(id)
	if err != nil {
		return Progress{}, err
	}
	return r.snapshot(), nil
}

// Subscribe returns a channel of progress updates for a run. The current
// progress is sent at once and the channel is closed after the final update.
// Call cancel to stop listening early.
func (s *Service) Subscribe(id string) (updates <-chan Progress, cancel func(), err error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	updates, cancel = r.subscribe()
	return updates, cancel, nil
}

// Cancel stops a running import. Every destination is rolled back. Cancelling
// a finished run is a no-op.
func (s *Service) Cancel(id string) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

// Result waits for a run to finish and returns its summary.
func (s *Service) Result(ctx context.Context, id string) (*Summary, error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return r.result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForRuns blocks until every started run finished or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels every unfinished run.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		r.cancel()
	}
}
