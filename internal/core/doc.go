// Package core runs record imports: one source fanned out to many
// transactional destinations with all-or-nothing commit.
//
// The package holds no knowledge of file formats or databases. Sources,
// destinations and the optional map/validate/format stages are supplied by the
// caller through small interfaces, so the same orchestrator serves CSV uploads,
// CLI imports and tests.
//
// # Run Lifecycle
//
// A single [Orchestrator.Run] performs:
//
//  1. Open one [Writer] per configured [Target] (in target order)
//  2. Open the [Reader] produced by the [Source]
//  3. For each record: read, map, validate, filter, format, write
//  4. Close the reader
//  5. Commit every writer, or roll every writer back
//  6. Close (dispose) every writer, whatever happened
//
// Records are processed strictly one at a time. The only parallelism is the
// fan-out of one formatted record to its destinations, bounded by
// [Options.MaxConcurrentWrites] or a shared [Options.WriteLimiter].
//
// # Failures
//
// Collaborators report an expected, per-record problem by returning a
// [FieldFailures] error. Such records are collected into the [Result] and the
// run continues. Any other error aborts the run: all writers are rolled back
// and the error is returned, joined with rollback errors in an [AbortError]
// when the rollback also failed.
//
// Whether record failures block the commit is controlled by
// [Options.TolerateFailures]:
//
//	orch, err := core.New(core.Options{
//	    Source:  src,
//	    Targets: []core.Target{{Name: "warehouse", Destination: pg}},
//	    Mapper:  mapper,
//	})
//	result, err := orch.TryRun(ctx)
//	if err != nil {
//	    // write, commit, rollback or cancellation failure
//	}
//	for _, f := range result.Failures {
//	    log.Printf("record %d rejected at %s: %v", f.Index, f.Stage, f.Fields)
//	}
//
// # Observation
//
// Every stage transition is published on the orchestrator's [Bus] as an
// [Event]. Observers run synchronously in subscription order and must return
// quickly; they cannot influence control flow.
package core
