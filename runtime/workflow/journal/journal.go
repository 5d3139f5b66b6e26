// Package journal implements the append-only execution journal that is the
// single source of truth for a deterministic workflow execution.
//
// A journal is created with its ExecutionStarted event and grows append-only
// until a terminal event, after which it is immutable. Every append is checked
// against the local invariants before it is admitted; status is always derived
// by folding the event sequence, never stored.
package journal

import (
	"errors"
	"time"

	"goa.design/loom/runtime/workflow/promise"
)

var (
	// ErrEmptyJournal indicates a load with no entries.
	ErrEmptyJournal = errors.New("journal: no entries")

	// ErrNilEvent indicates an append of a nil event.
	ErrNilEvent = errors.New("journal: event is required")
)

// Journal is the validated append-only event log of a single execution. A
// journal is owned by exactly one logical worker at a time; the type itself is
// not synchronized.
type Journal struct {
	executionID promise.ExecutionID
	entries     []Entry
	progress    *progress
}

// New creates a journal for the given execution with its mandatory first
// event.
func New(executionID promise.ExecutionID, started *ExecutionStartedEvent) (*Journal, error) {
	j := &Journal{
		executionID: executionID,
		progress:    newProgress(),
	}
	if err := j.Append(started); err != nil {
		return nil, err
	}
	return j, nil
}

// Load rebuilds a journal from stored entries, re-validating every event. The
// entries must carry the sequences assigned at append time; any violation is
// reported with its sequence number, which is how stored journals are
// diagnosed.
func Load(executionID promise.ExecutionID, entries []Entry) (*Journal, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyJournal
	}
	j := &Journal{
		executionID: executionID,
		progress:    newProgress(),
		entries:     make([]Entry, 0, len(entries)),
	}
	for _, e := range entries {
		if err := j.appendEntry(e); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// ExecutionID returns the execution this journal belongs to.
func (j *Journal) ExecutionID() promise.ExecutionID { return j.executionID }

// Append validates the event against the current state and appends it,
// stamping the next sequence number and a diagnostic wall-clock timestamp.
// On a validation error the journal is unchanged.
func (j *Journal) Append(e Event) error {
	if e == nil {
		return ErrNilEvent
	}
	return j.appendEntry(Entry{
		Sequence:  uint64(len(j.entries)),
		Timestamp: time.Now().UTC(),
		Event:     e,
	})
}

func (j *Journal) appendEntry(entry Entry) error {
	if entry.Event == nil {
		return ErrNilEvent
	}
	if verr := j.progress.validate(entry, uint64(len(j.entries))); verr != nil {
		return verr
	}
	j.progress.record(entry)
	j.entries = append(j.entries, entry)
	return nil
}

// Events returns a copy of the entry sequence in append order.
func (j *Journal) Events() []Entry {
	return append([]Entry(nil), j.entries...)
}

// Last returns the most recent entry.
func (j *Journal) Last() Entry {
	return j.entries[len(j.entries)-1]
}

// Version returns the number of entries.
func (j *Journal) Version() uint64 {
	return uint64(len(j.entries))
}

// Status derives the current state by a pure fold over the entries. The
// validator maintains an incremental copy for its own checks; folding from
// scratch here keeps the public answer independent of any cache.
func (j *Journal) Status() Status {
	return Fold(j.entries)
}
