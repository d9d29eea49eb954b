package core

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
)

// ============================================================================
// Orchestrator Benchmarks
// ============================================================================

func benchOptions(targets int, limit int) Options {
	ts := make([]Target, targets)
	for i := range ts {
		ts[i] = target(newFakeWriter("w"+strconv.Itoa(i), &journal{}))
	}
	return Options{
		Source:              &scriptSource{steps: records(1000)},
		Targets:             ts,
		MaxConcurrentWrites: limit,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// BenchmarkRun_SingleTarget measures per-record overhead of the pipeline.
func BenchmarkRun_SingleTarget(b *testing.B) {
	o, err := New(benchOptions(1, 0))
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := o.Run(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRun_FanOut measures the parallel write to several targets.
func BenchmarkRun_FanOut(b *testing.B) {
	for _, n := range []int{2, 4, 8} {
		b.Run(strconv.Itoa(n), func(b *testing.B) {
			o, err := New(benchOptions(n, 0))
			if err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := o.Run(context.Background()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkRun_Limited measures fan-out with writes bounded to one at a time.
func BenchmarkRun_Limited(b *testing.B) {
	o, err := New(benchOptions(4, 1))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := o.Run(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
