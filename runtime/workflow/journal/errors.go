package journal

import "fmt"

// Code identifies which invariant an append violated. Codes are stable and
// suitable for surfacing to operators or mapping to process exit codes.
type Code string

const (
	// CodeNonMonotonicSequence: the entry's sequence is not previous+1.
	CodeNonMonotonicSequence Code = "non_monotonic_sequence"
	// CodeBadFirstEvent: event 0 is not ExecutionStarted, or ExecutionStarted
	// appears later than event 0.
	CodeBadFirstEvent Code = "bad_first_event"
	// CodeMultipleTerminals: a second terminal event was appended.
	CodeMultipleTerminals Code = "multiple_terminals"
	// CodeEventAfterTerminal: a non-terminal event follows a terminal one.
	CodeEventAfterTerminal Code = "event_after_terminal"
	// CodeCancelledWithoutRequested: ExecutionCancelled without a prior
	// CancelRequested.
	CodeCancelledWithoutRequested Code = "cancelled_without_requested"
	// CodeStartedWithoutScheduled: InvokeStarted for an unscheduled promise.
	CodeStartedWithoutScheduled Code = "started_without_scheduled"
	// CodeCompletedWithoutStarted: InvokeCompleted with no matching
	// InvokeStarted for the same attempt.
	CodeCompletedWithoutStarted Code = "completed_without_started"
	// CodeRetryingWithoutStarted: InvokeRetrying with no matching
	// InvokeStarted for the failed attempt.
	CodeRetryingWithoutStarted Code = "retrying_without_started"
	// CodeEventAfterCompleted: an invoke phase event after InvokeCompleted for
	// the same promise.
	CodeEventAfterCompleted Code = "event_after_completed"
	// CodeTimerFiredWithoutScheduled: TimerFired for an unscheduled timer.
	CodeTimerFiredWithoutScheduled Code = "timer_fired_without_scheduled"
	// CodeSignalReceivedWithoutDelivery: SignalReceived with no prior matching
	// delivery triple.
	CodeSignalReceivedWithoutDelivery Code = "signal_received_without_delivery"
	// CodeSignalConsumedTwice: a (name, delivery id) pair consumed twice.
	CodeSignalConsumedTwice Code = "signal_consumed_twice"
	// CodeAwaitSignalInconsistent: a Signal await whose waiting set is not a
	// singleton, or a SignalReceived that does not carry the waiting promise.
	CodeAwaitSignalInconsistent Code = "await_signal_inconsistent"
	// CodeSubmitWithoutCreate: JoinSetSubmitted into an uncreated join set.
	CodeSubmitWithoutCreate Code = "submit_without_create"
	// CodeSubmitAfterAwait: JoinSetSubmitted after the join set was first
	// awaited.
	CodeSubmitAfterAwait Code = "submit_after_await"
	// CodeAwaitedNotMember: JoinSetAwaited for a promise never submitted to
	// that join set.
	CodeAwaitedNotMember Code = "awaited_not_member"
	// CodeAwaitedNotCompleted: JoinSetAwaited for a promise with no
	// InvokeCompleted.
	CodeAwaitedNotCompleted Code = "awaited_not_completed"
	// CodeDoubleConsume: two JoinSetAwaited events share (join set, promise).
	CodeDoubleConsume Code = "double_consume"
	// CodeConsumeExceedsSubmit: more JoinSetAwaited than JoinSetSubmitted for
	// a join set.
	CodeConsumeExceedsSubmit Code = "consume_exceeds_submit"
	// CodePromiseInMultipleJoinSets: a promise submitted to more than one join
	// set.
	CodePromiseInMultipleJoinSets Code = "promise_in_multiple_join_sets"
	// CodeAwaitWaitingOnDuplicate: duplicate ids in an ExecutionAwaiting wait
	// set.
	CodeAwaitWaitingOnDuplicate Code = "await_waiting_on_duplicate"
)

// ValidationError reports the first invariant violated by an append. The
// journal is left unchanged when an append returns one.
type ValidationError struct {
	// Code identifies the violated invariant.
	Code Code
	// Sequence is the sequence number the rejected event would have occupied.
	Sequence uint64
	// EventKind is the kind of the rejected event.
	EventKind Kind
	// Detail is a human-readable elaboration.
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("journal: %s rejected at sequence %d: %s: %s", e.EventKind, e.Sequence, e.Code, e.Detail)
}

func reject(code Code, seq uint64, kind Kind, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:      code,
		Sequence:  seq,
		EventKind: kind,
		Detail:    fmt.Sprintf(format, args...),
	}
}
