package core

import "context"

// Hooks are the extension points of a run. An error from BeforeRun or
// BeforeFinish is treated as an unexpected error.
type Hooks interface {
	// BeforeRun is called once, before any writer is opened.
	BeforeRun(ctx context.Context) error

	// BeforeFinish is called after the record loop and before the
	// commit/rollback decision. It is not called when the loop aborted.
	BeforeFinish(ctx context.Context, failures []RecordFailure) error

	// RecordFailed is called for every rejected record, in index order.
	RecordFailed(ctx context.Context, failure RecordFailure)
}

// NopHooks does nothing.
type NopHooks struct{}

func (NopHooks) BeforeRun(context.Context) error                     { return nil }
func (NopHooks) BeforeFinish(context.Context, []RecordFailure) error { return nil }
func (NopHooks) RecordFailed(context.Context, RecordFailure)         {}

// HookFuncs implements Hooks with optional function fields. Nil fields are
// no-ops.
type HookFuncs struct {
	OnBeforeRun    func(ctx context.Context) error
	OnBeforeFinish func(ctx context.Context, failures []RecordFailure) error
	OnRecordFailed func(ctx context.Context, failure RecordFailure)
}

func (h HookFuncs) BeforeRun(ctx context.Context) error {
	if h.OnBeforeRun == nil {
		return nil
	}
	return h.OnBeforeRun(ctx)
}

func (h HookFuncs) BeforeFinish(ctx context.Context, failures []RecordFailure) error {
	if h.OnBeforeFinish == nil {
		return nil
	}
	return h.OnBeforeFinish(ctx, failures)
}

func (h HookFuncs) RecordFailed(ctx context.Context, failure RecordFailure) {
	if h.OnRecordFailed != nil {
		h.OnRecordFailed(ctx, failure)
	}
}
