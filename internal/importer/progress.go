package importer

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/source/csvsource"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusFinishing Status = "finishing"
	StatusSucceeded Status = "succeeded"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	switch s {
	case StatusSucceeded, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Progress is a point-in-time view of a run, sent to subscribers.
type Progress struct {
	RunID      string `json:"run_id"`
	Job        string `json:"job"`
	Status     Status `json:"status"`
	Records    int    `json:"records"`
	Rejected   int    `json:"rejected"`
	Written    int    `json:"written"`
	BytesRead  int64  `json:"bytes_read"`
	BytesTotal int64  `json:"bytes_total"`
	Percent    int    `json:"percent"`
	Error      string `json:"error,omitempty"`
}

// Summary is the final report of a run.
type Summary struct {
	Progress

	FileName     string               `json:"file_name"`
	Table        string               `json:"table"`
	Destinations []string             `json:"destinations"`
	Failures     []core.RecordFailure `json:"failures,omitempty"`
	UserError    *UserMessage         `json:"user_error,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
	DurationMs   int64                `json:"duration_ms"`
}

// notifyEvery is how many records pass between progress notifications.
const notifyEvery = 100

// run tracks one import from start to cleanup.
type run struct {
	id        string
	job       *Job
	fileName  string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	src *csvsource.Source

	mu        sync.Mutex
	progress  Progress
	summary   *Summary
	listeners map[int]chan Progress
	nextID    int
}

func newRun(id string, job *Job, fileName string) *run {
	return &run{
		id:        id,
		job:       job,
		fileName:  fileName,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		progress:  Progress{RunID: id, Job: job.Name, Status: StatusQueued},
		listeners: make(map[int]chan Progress),
	}
}

// Observe counts orchestrator events into the run's progress.
func (r *run) Observe(_ context.Context, ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	notify := false
	switch ev.Kind {
	case core.EventRecordRead:
		r.progress.Records++
		notify = r.progress.Records%notifyEvery == 0
	case core.EventRecordWritten:
		r.progress.Written++
	}
	if !ev.Success {
		r.progress.Rejected++
		notify = true
	}
	if notify {
		r.notifyLocked()
	}
}

func (r *run) setStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Status = s
	r.notifyLocked()
}

// snapshotLocked returns the current progress with byte counts filled in.
func (r *run) snapshotLocked() Progress {
	p := r.progress
	if r.src != nil {
		sp := r.src.Progress()
		p.BytesRead, p.BytesTotal, p.Percent = sp.BytesRead, sp.BytesTotal, sp.Percent()
	}
	if p.Status == StatusSucceeded || p.Status == StatusRejected {
		p.Percent = 100
	}
	return p
}

func (r *run) snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// notifyLocked sends the current progress to every listener, skipping slow
// ones.
func (r *run) notifyLocked() {
	p := r.snapshotLocked()
	for _, ch := range r.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

// subscribe registers a listener. It receives the current progress at once
// and is closed when the run finishes or cancel is called.
func (r *run) subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 16)

	r.mu.Lock()
	defer r.mu.Unlock()

	ch <- r.snapshotLocked()
	if r.summary != nil {
		close(ch)
		return ch, func() {}
	}

	id := r.nextID
	r.nextID++
	r.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.listeners[id]; ok {
				delete(r.listeners, id)
				close(c)
			}
		})
	}
}

// finish stores the summary, sends it to listeners and closes them. Only the
// first call has any effect.
func (r *run) finish(s *Summary) {
	r.mu.Lock()
	if r.summary != nil {
		r.mu.Unlock()
		return
	}
	r.progress = s.Progress
	r.summary = s
	final := r.snapshotLocked()
	for id, ch := range r.listeners {
		select {
		case ch <- final:
		default:
			// Make room so the terminal update is never lost.
			select {
			case <-ch:
			default:
			}
			ch <- final
		}
		close(ch)
		delete(r.listeners, id)
	}
	r.mu.Unlock()

	close(r.done)
}

func (r *run) result() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}
