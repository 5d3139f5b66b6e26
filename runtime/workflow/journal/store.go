package journal

import (
	"context"
	"errors"

	"goa.design/loom/runtime/workflow/promise"
)

var (
	// ErrSequenceConflict indicates an append whose sequence is already
	// persisted for the execution. Hosts treat it as a lost ownership race.
	ErrSequenceConflict = errors.New("journal: sequence already appended")

	// ErrExecutionExists indicates a first entry whose execution root is
	// already persisted. Cross-execution promise-id uniqueness is delegated to
	// store implementations through this error.
	ErrExecutionExists = errors.New("journal: execution already exists")
)

// Store persists journal entries durably. Implementations must provide
// append-with-sequence semantics: an append for an already-persisted sequence
// fails with ErrSequenceConflict rather than overwriting, and the first entry
// of an already-known execution fails with ErrExecutionExists.
type Store interface {
	// AppendEntry durably appends one entry for the execution. Failures are
	// surfaced to callers so hosts can fail fast when canonical logging is
	// unavailable.
	AppendEntry(ctx context.Context, executionID promise.ExecutionID, e Entry) error

	// ReadRange returns entries with from <= sequence < to in sequence order.
	// A to of zero means no upper bound. A missing execution yields an empty
	// slice.
	ReadRange(ctx context.Context, executionID promise.ExecutionID, from, to uint64) ([]Entry, error)
}
