package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/loom/runtime/workflow/promise"
)

func TestFoldEmptySentinel(t *testing.T) {
	st := Fold(nil)
	assert.Equal(t, PhaseUnset, st.Phase)
	assert.False(t, st.Terminal())
}

func TestFoldTransitionTable(t *testing.T) {
	execID := testExecutionID(t)
	p0 := child(t, execID.ID(), 0)

	started := NewExecutionStartedEvent(promise.DigestOf([]byte("component")), nil, nil, "")
	awaiting := NewExecutionAwaitingEvent([]promise.ID{p0}, AwaitKind{Mode: AwaitSingle})

	cases := []struct {
		name   string
		events []Event
		want   Phase
	}{
		{"started", []Event{started}, PhaseRunning},
		{"awaiting", []Event{started, awaiting}, PhaseBlocked},
		{"resumed", []Event{started, awaiting, &ExecutionResumedEvent{}}, PhaseRunning},
		{"cancel_from_running", []Event{started, &CancelRequestedEvent{}}, PhaseCancelling},
		{"cancel_from_blocked", []Event{started, awaiting, &CancelRequestedEvent{}}, PhaseCancelling},
		{"completed", []Event{started, &ExecutionCompletedEvent{}}, PhaseCompleted},
		{"failed", []Event{started, &ExecutionFailedEvent{Error: "x"}}, PhaseFailed},
		{"cancelled", []Event{started, &CancelRequestedEvent{}, &ExecutionCancelledEvent{}}, PhaseCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries := make([]Entry, len(tc.events))
			for i, e := range tc.events {
				entries[i] = Entry{Sequence: uint64(i), Event: e}
			}
			assert.Equal(t, tc.want, Fold(entries).Phase)
		})
	}
}

func TestFoldBlockedCarriesWaitSet(t *testing.T) {
	execID := testExecutionID(t)
	p0 := child(t, execID.ID(), 0)
	p1 := child(t, execID.ID(), 1)

	entries := []Entry{
		{Sequence: 0, Event: NewExecutionStartedEvent(promise.DigestOf([]byte("component")), nil, nil, "")},
		{Sequence: 1, Event: NewExecutionAwaitingEvent([]promise.ID{p0, p1}, AwaitKind{Mode: AwaitAll})},
	}
	st := Fold(entries)
	require.Equal(t, PhaseBlocked, st.Phase)
	require.Len(t, st.WaitingOn, 2)
	assert.True(t, st.WaitingOn[0].Equal(p0))
	assert.True(t, st.WaitingOn[1].Equal(p1))
	assert.Equal(t, AwaitAll, st.Await.Mode)
}

func TestFoldMatchesIncrementalStatus(t *testing.T) {
	// The journal may cache status incrementally for validation; the public
	// answer must always match a from-scratch fold.
	j := newTestJournal(t)
	pid := child(t, j.ExecutionID().ID(), 0)
	steps := []Event{
		NewInvokeScheduledEvent(pid, InvokeKindFunction, "f", nil, RetryPolicy{}),
		NewExecutionAwaitingEvent([]promise.ID{pid}, AwaitKind{Mode: AwaitSingle}),
		&InvokeStartedEvent{PromiseID: pid, Attempt: 1},
		&InvokeCompletedEvent{PromiseID: pid, Result: OK(nil), Attempt: 1},
		&ExecutionResumedEvent{},
		&ExecutionCompletedEvent{Result: OK(nil)},
	}
	for _, e := range steps {
		require.NoError(t, j.Append(e))
		assert.Equal(t, Fold(j.Events()), j.Status())
	}
}

func TestFoldIdempotent(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.Append(&CancelRequestedEvent{Reason: "op"}))
	entries := j.Events()
	assert.Equal(t, Fold(entries), Fold(entries))
}
