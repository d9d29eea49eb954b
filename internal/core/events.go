package core

// events.go implements the observation channel of a run.
//
// Five event kinds are published per record, in pipeline order:
//
//	RecordRead -> RecordMapped -> RecordValidated -> RecordFormatted -> RecordWritten
//
// A record that fails a stage produces that stage's event with Success=false
// and nothing after it. Publishing is synchronous so observers see events in
// exactly the order the single-threaded record loop produced them.

import (
	"context"
	"log/slog"
	"sync"
)

// EventKind tags an Event.
type EventKind int

const (
	EventRecordRead EventKind = iota
	EventRecordMapped
	EventRecordValidated
	EventRecordFormatted
	EventRecordWritten
)

func (k EventKind) String() string {
	switch k {
	case EventRecordRead:
		return "record_read"
	case EventRecordMapped:
		return "record_mapped"
	case EventRecordValidated:
		return "record_validated"
	case EventRecordFormatted:
		return "record_formatted"
	case EventRecordWritten:
		return "record_written"
	default:
		return "unknown"
	}
}

// Event is a passive notification about one record at one stage.
type Event struct {
	Kind  EventKind
	Index int

	// Input is the record the stage received; Output what it produced.
	Input  Record
	Output Record

	Success  bool
	Failures FieldFailures

	// Destinations lists the targets a record was written to
	// (EventRecordWritten only).
	Destinations []string
}

// Observer receives events. Implementations must not block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Bus fans events out to subscribed observers.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	observers []subscription
}

type subscription struct {
	id int
	o  Observer
}

// Subscribe registers an observer and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, subscription{id: id, o: o})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.observers {
			if s.id == id {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every observer in subscription order.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	for i, s := range b.observers {
		observers[i] = s.o
	}
	b.mu.RUnlock()

	for _, o := range observers {
		o.Observe(ctx, ev)
	}
}

// Len returns the number of subscribed observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// LogObserver logs every event at debug level and failed stages at warn.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ctx context.Context, ev Event) {
		if !ev.Success {
			logger.WarnContext(ctx, "record rejected",
				"event", ev.Kind.String(),
				"index", ev.Index,
				"reason", ev.Failures.Error(),
			)
			return
		}
		logger.DebugContext(ctx, "record event",
			"event", ev.Kind.String(),
			"index", ev.Index,
			"destinations", ev.Destinations,
		)
	})
}
