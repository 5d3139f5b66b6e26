package replay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/loom/runtime/workflow/journal"
)

func newPass(t *testing.T, j *journal.Journal) *Context {
	t.Helper()
	c, err := NewContext(Options{
		Journal: j,
		Rand:    func() uint64 { return 4242 },
		Clock:   func() time.Time { return time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return c
}

func TestInvokeSuspendsThenReplays(t *testing.T) {
	j := testJournal(t)
	req := InvokeRequest{Function: "billing.charge", Input: json.RawMessage(`{"cents":4200}`)}

	// First pass: miss journals the intent and suspends.
	pass1 := newPass(t, j)
	_, err := pass1.Invoke(req)
	susp, ok := AsSuspension(err)
	require.True(t, ok, "want suspension, got %v", err)
	require.Len(t, susp.WaitingOn, 1)
	assert.Equal(t, journal.AwaitSingle, susp.Await.Mode)
	assert.Equal(t, journal.PhaseBlocked, j.Status().Phase)

	pid := susp.WaitingOn[0]

	// Host side: executor completes the invoke, wait becomes satisfiable.
	require.NoError(t, j.Append(&journal.InvokeStartedEvent{PromiseID: pid, Attempt: 1}))
	require.NoError(t, j.Append(&journal.InvokeCompletedEvent{PromiseID: pid, Result: journal.OK(json.RawMessage(`42`)), Attempt: 1}))
	require.NoError(t, j.Append(&journal.ExecutionResumedEvent{}))

	// Second pass: hit returns the recorded result with no appends.
	before := j.Version()
	pass2 := newPass(t, j)
	res, err := pass2.Invoke(req)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`42`), res.Value)
	assert.Equal(t, before, j.Version())
}

func TestRandomAndNowAreStableAcrossPasses(t *testing.T) {
	j := testJournal(t)

	pass1 := newPass(t, j)
	v1, err := pass1.Random()
	require.NoError(t, err)
	t1, err := pass1.Now()
	require.NoError(t, err)

	// Replay with a different entropy source and clock: recorded values win.
	pass2, err := NewContext(Options{
		Journal: j,
		Rand:    func() uint64 { return 1 },
		Clock:   func() time.Time { return time.Unix(0, 0) },
	})
	require.NoError(t, err)
	v2, err := pass2.Random()
	require.NoError(t, err)
	t2, err := pass2.Now()
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.True(t, t1.Equal(t2))
}

func TestSleepSuspendsUntilTimerFires(t *testing.T) {
	j := testJournal(t)

	pass1 := newPass(t, j)
	err := pass1.Sleep(5 * time.Second)
	susp, ok := AsSuspension(err)
	require.True(t, ok)
	pid := susp.WaitingOn[0]

	require.NoError(t, j.Append(&journal.TimerFiredEvent{PromiseID: pid}))
	require.NoError(t, j.Append(&journal.ExecutionResumedEvent{}))

	pass2 := newPass(t, j)
	require.NoError(t, pass2.Sleep(5*time.Second))
}

func TestAwaitSignalBuffered(t *testing.T) {
	j := testJournal(t)
	payload := json.RawMessage(`{"p":1}`)
	require.NoError(t, j.Append(journal.NewSignalDeliveredEvent("go", payload, 1)))

	// A buffered delivery is consumed without blocking.
	pass := newPass(t, j)
	got, err := pass.AwaitSignal("go")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, journal.PhaseRunning, j.Status().Phase)

	// The consumption is journaled and replays as a hit.
	pass2 := newPass(t, j)
	got, err = pass2.AwaitSignal("go")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAwaitSignalBlocking(t *testing.T) {
	j := testJournal(t)
	payload := json.RawMessage(`"p"`)

	pass1 := newPass(t, j)
	_, err := pass1.AwaitSignal("go")
	susp, ok := AsSuspension(err)
	require.True(t, ok)
	assert.Equal(t, journal.AwaitSignal, susp.Await.Mode)
	assert.Equal(t, "go", susp.Await.Signal)
	pid := susp.WaitingOn[0]

	require.NoError(t, j.Append(journal.NewSignalDeliveredEvent("go", payload, 7)))
	require.NoError(t, j.Append(journal.NewSignalReceivedEvent(pid, "go", payload, 7)))
	require.NoError(t, j.Append(&journal.ExecutionResumedEvent{}))

	pass2 := newPass(t, j)
	got, err := pass2.AwaitSignal("go")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestJoinSetConsumptionOrderIsReplayed(t *testing.T) {
	j := testJournal(t)
	guest := func() (*JoinSet, *Context, error) {
		pass := newPass(t, j)
		js, err := pass.NewJoinSet()
		if err != nil {
			return nil, nil, err
		}
		if _, err := js.Submit(InvokeRequest{Function: "worker.shard"}); err != nil {
			return nil, nil, err
		}
		if _, err := js.Submit(InvokeRequest{Function: "worker.shard"}); err != nil {
			return nil, nil, err
		}
		return js, pass, nil
	}

	// First pass: both submissions journal, Next suspends with Any semantics.
	js1, _, err := guest()
	require.NoError(t, err)
	_, _, nerr := js1.Next()
	susp, ok := AsSuspension(nerr)
	require.True(t, ok)
	assert.Equal(t, journal.AwaitAny, susp.Await.Mode)
	require.Len(t, susp.WaitingOn, 2)
	first, second := susp.WaitingOn[0], susp.WaitingOn[1]

	// The second submission completes first.
	require.NoError(t, j.Append(&journal.InvokeStartedEvent{PromiseID: second, Attempt: 1}))
	require.NoError(t, j.Append(&journal.InvokeCompletedEvent{PromiseID: second, Result: journal.OK(json.RawMessage(`"b"`)), Attempt: 1}))
	require.NoError(t, j.Append(&journal.ExecutionResumedEvent{}))

	// Second pass: Next consumes the completed member and journals the order.
	js2, _, err := guest()
	require.NoError(t, err)
	pid, res, err := js2.Next()
	require.NoError(t, err)
	assert.True(t, pid.Equal(second))
	assert.Equal(t, json.RawMessage(`"b"`), res.Value)

	// Next again suspends on the remaining member.
	_, _, nerr = js2.Next()
	susp, ok = AsSuspension(nerr)
	require.True(t, ok)
	require.Len(t, susp.WaitingOn, 1)
	assert.True(t, susp.WaitingOn[0].Equal(first))

	require.NoError(t, j.Append(&journal.InvokeStartedEvent{PromiseID: first, Attempt: 1}))
	require.NoError(t, j.Append(&journal.InvokeCompletedEvent{PromiseID: first, Result: journal.OK(json.RawMessage(`"a"`)), Attempt: 1}))
	require.NoError(t, j.Append(&journal.ExecutionResumedEvent{}))

	// Third pass: the recorded order replays exactly, then the set drains.
	js3, _, err := guest()
	require.NoError(t, err)
	pid, res, err = js3.Next()
	require.NoError(t, err)
	assert.True(t, pid.Equal(second))
	assert.Equal(t, json.RawMessage(`"b"`), res.Value)

	pid, res, err = js3.Next()
	require.NoError(t, err)
	assert.True(t, pid.Equal(first))
	assert.Equal(t, json.RawMessage(`"a"`), res.Value)

	_, _, err = js3.Next()
	require.ErrorIs(t, err, ErrJoinSetDrained)
}

func TestReplayKindMismatchIsAnError(t *testing.T) {
	j := testJournal(t)
	pid := mustChild(t, j.ExecutionID().ID(), 0)
	require.NoError(t, j.Append(&journal.RandomGeneratedEvent{PromiseID: pid, Value: 7}))

	// The first SDK call derives pid but asks for an invoke: the recorded
	// history disagrees, which is guest nondeterminism.
	pass := newPass(t, j)
	_, err := pass.Invoke(InvokeRequest{Function: "f"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replayed as")
}

func TestSuspendIsIdempotentAcrossPasses(t *testing.T) {
	j := testJournal(t)

	pass1 := newPass(t, j)
	_, err := pass1.Invoke(InvokeRequest{Function: "f"})
	_, ok := AsSuspension(err)
	require.True(t, ok)
	version := j.Version()

	// Re-entering without satisfaction appends nothing new.
	pass2 := newPass(t, j)
	_, err = pass2.Invoke(InvokeRequest{Function: "f"})
	_, ok = AsSuspension(err)
	require.True(t, ok)
	assert.Equal(t, version, j.Version())
}

func TestNewContextRequiresJournal(t *testing.T) {
	_, err := NewContext(Options{})
	require.Error(t, err)
}
