package core

import "context"

type contextKey string

const (
	ctxKeyRunID contextKey = "run_id"
	ctxKeyJob   contextKey = "job"
)

// ContextWithRunID tags ctx with the id of the run it belongs to. Writers
// receive the tagged context and may stamp rows with it.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, id)
}

// ContextWithJob tags ctx with the name of the job being run.
func ContextWithJob(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxKeyJob, name)
}

// RunIDFromContext extracts the run id from ctx.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}

// JobFromContext extracts the job name from ctx.
func JobFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyJob).(string); ok {
		return v
	}
	return ""
}
