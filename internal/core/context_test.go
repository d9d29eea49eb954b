package core

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if RunIDFromContext(ctx) != "" || JobFromContext(ctx) != "" {
		t.Error("empty context returned values")
	}

	ctx = ContextWithJob(ContextWithRunID(ctx, "run-1"), "nightly")
	if got := RunIDFromContext(ctx); got != "run-1" {
		t.Errorf("RunIDFromContext() = %q", got)
	}
	if got := JobFromContext(ctx); got != "nightly" {
		t.Errorf("JobFromContext() = %q", got)
	}

	// Detached contexts keep their values.
	if got := RunIDFromContext(context.WithoutCancel(ctx)); got != "run-1" {
		t.Errorf("detached RunIDFromContext() = %q", got)
	}
}
