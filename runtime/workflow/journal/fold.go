package journal

import "goa.design/loom/runtime/workflow/promise"

// Phase is the coarse lifecycle state derived from the event sequence. It is
// never persisted separately: the journal is the single source of truth and
// the phase is recomputed by folding.
type Phase string

const (
	// PhaseUnset is the sentinel for an empty entry sequence, which has no
	// status.
	PhaseUnset Phase = ""
	// PhaseRunning indicates the guest is executing (or runnable).
	PhaseRunning Phase = "running"
	// PhaseBlocked indicates the guest suspended on a wait set.
	PhaseBlocked Phase = "blocked"
	// PhaseCancelling indicates cancellation was requested and cleanup may run.
	PhaseCancelling Phase = "cancelling"
	// PhaseCompleted indicates the execution finished successfully. Terminal.
	PhaseCompleted Phase = "completed"
	// PhaseFailed indicates the execution failed. Terminal.
	PhaseFailed Phase = "failed"
	// PhaseCancelled indicates cancellation finalized. Terminal.
	PhaseCancelled Phase = "cancelled"
)

// Status is the derived state of a journal: the phase plus, when blocked, the
// wait set and its kind.
type Status struct {
	// Phase is the lifecycle phase.
	Phase Phase
	// WaitingOn lists the awaited promise ids. Set only when Phase is
	// PhaseBlocked.
	WaitingOn []promise.ID
	// Await describes the wait-satisfaction predicate. Meaningful only when
	// Phase is PhaseBlocked.
	Await AwaitKind
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s.Phase {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Fold derives the status of an entry sequence by applying the transition
// table left to right. It is pure and total: events outside the table, or
// transition events whose precondition does not hold, leave the status
// unchanged. An empty sequence folds to the PhaseUnset sentinel.
func Fold(entries []Entry) Status {
	var s Status
	for _, e := range entries {
		s = transition(s, e.Event)
	}
	return s
}

// transition applies a single event to a status per the derivation table.
func transition(s Status, e Event) Status {
	switch evt := e.(type) {
	case *ExecutionStartedEvent:
		return Status{Phase: PhaseRunning}
	case *CancelRequestedEvent:
		if s.Phase == PhaseRunning || s.Phase == PhaseBlocked {
			return Status{Phase: PhaseCancelling}
		}
	case *ExecutionAwaitingEvent:
		if !s.Terminal() {
			return Status{
				Phase:     PhaseBlocked,
				WaitingOn: append([]promise.ID(nil), evt.WaitingOn...),
				Await:     evt.Await,
			}
		}
	case *ExecutionResumedEvent:
		if s.Phase == PhaseBlocked {
			return Status{Phase: PhaseRunning}
		}
	case *ExecutionCompletedEvent:
		return Status{Phase: PhaseCompleted}
	case *ExecutionFailedEvent:
		return Status{Phase: PhaseFailed}
	case *ExecutionCancelledEvent:
		if s.Phase == PhaseCancelling {
			return Status{Phase: PhaseCancelled}
		}
	}
	return s
}
