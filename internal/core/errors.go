package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrImportFailed is matched by the error Run returns when records were
	// rejected and failures are not tolerated.
	ErrImportFailed = errors.New("import failed")

	// ErrCancelled is wrapped by the error returned when the caller's context
	// was cancelled between records.
	ErrCancelled = errors.New("import cancelled")

	// ErrRunInProgress is returned when Run is called on an orchestrator that
	// is already running.
	ErrRunInProgress = errors.New("import already running")
)

// ImportError carries the rejected records of an unsuccessful run.
type ImportError struct {
	Failures []RecordFailure
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import failed: %d record(s) rejected", len(e.Failures))
}

func (e *ImportError) Is(target error) bool { return target == ErrImportFailed }

// DestinationError attributes an error to one target.
type DestinationError struct {
	Destination string
	Op          string
	Err         error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Destination, e.Err)
}

func (e *DestinationError) Unwrap() error { return e.Err }

// WriteError is returned when a writer rejects a record.
type WriteError struct {
	Destination string
	Index       int
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write record %d to %s: %v", e.Index, e.Destination, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CommitError is returned when a writer fails to commit. Writers committed
// before it stay committed.
type CommitError struct {
	Destination string
	Committed   []string
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Destination, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// RollbackError bundles every rollback failure of one sweep.
type RollbackError struct {
	Errs []error
}

func (e *RollbackError) Error() string {
	if len(e.Errs) == 1 {
		return "rollback failed: " + e.Errs[0].Error()
	}
	parts := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("rollback failed for %d destinations: %s", len(e.Errs), strings.Join(parts, "; "))
}

func (e *RollbackError) Unwrap() []error { return e.Errs }

// AbortError is returned when a run aborted and the rollback that followed
// failed as well. Both errors stay reachable through errors.Is and errors.As.
type AbortError struct {
	Err      error
	Rollback *RollbackError
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%v (%v)", e.Err, e.Rollback)
}

func (e *AbortError) Unwrap() []error { return []error{e.Err, e.Rollback} }

// AsFieldFailures reports whether err carries record-level failures.
func AsFieldFailures(err error) (FieldFailures, bool) {
	var ff FieldFailures
	if errors.As(err, &ff) {
		return ff, true
	}
	var f FieldFailure
	if errors.As(err, &f) {
		return FieldFailures{f}, true
	}
	return nil, false
}
