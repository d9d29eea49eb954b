package core

import (
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// write delivers one formatted record to every routed writer and waits for
// all of them. Each call holds a per-record slot and then a shared slot. The
// first failure is returned; writers still waiting for a slot are skipped.
func (r *run) write(index int, rec Record, targets []*writerEntry) error {
	if len(targets) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(r.work)
	for _, e := range targets {
		g.Go(func() error {
			for _, sem := range []*semaphore.Weighted{r.o.perRecord, r.o.shared} {
				if sem == nil {
					continue
				}
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}
			if err := e.writer.Write(r.work, rec); err != nil {
				return &WriteError{Destination: e.name, Index: index, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.o.bus.Publish(r.work, Event{
		Kind:         EventRecordWritten,
		Index:        index,
		Input:        rec,
		Success:      true,
		Destinations: names(targets),
	})
	return nil
}

func names(entries []*writerEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}
