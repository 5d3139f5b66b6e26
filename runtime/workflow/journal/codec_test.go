package journal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/loom/runtime/workflow/promise"
)

func TestEntryRoundTrip(t *testing.T) {
	execID := testExecutionID(t)
	root := execID.ID()
	p0 := child(t, root, 0)
	p1 := child(t, root, 1)
	js := promise.NewJoinSetID(child(t, root, 2))
	parent := child(t, root, 9)
	at := time.Date(2025, 11, 3, 12, 30, 0, 0, time.UTC)

	events := []Event{
		NewExecutionStartedEvent(promise.DigestOf([]byte("component")), json.RawMessage(`{"a":1}`), &parent, "key-1"),
		&ExecutionCompletedEvent{Result: OK(json.RawMessage(`"done"`))},
		&ExecutionFailedEvent{Error: "boom"},
		&CancelRequestedEvent{Reason: "operator"},
		&ExecutionCancelledEvent{Reason: "operator"},
		NewInvokeScheduledEvent(p0, InvokeKindHTTP, "geo.lookup", json.RawMessage(`{"q":"x"}`), RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffFactor: 2}),
		&InvokeStartedEvent{PromiseID: p0, Attempt: 2},
		&InvokeCompletedEvent{PromiseID: p0, Result: Failure("bad gateway"), Attempt: 2},
		&InvokeRetryingEvent{PromiseID: p0, FailedAttempt: 1, Error: "reset", RetryAt: at},
		&RandomGeneratedEvent{PromiseID: p1, Value: 0xdeadbeef},
		&TimeRecordedEvent{PromiseID: p1, Time: at},
		&TimerScheduledEvent{PromiseID: p1, Duration: 5 * time.Second, FireAt: at},
		&TimerFiredEvent{PromiseID: p1},
		NewSignalDeliveredEvent("go", json.RawMessage(`{"p":1}`), 7),
		NewSignalReceivedEvent(p1, "go", json.RawMessage(`{"p":1}`), 7),
		NewExecutionAwaitingEvent([]promise.ID{p0, p1}, AwaitKind{Mode: AwaitAll}),
		&ExecutionResumedEvent{},
		&JoinSetCreatedEvent{JoinSetID: js},
		&JoinSetSubmittedEvent{JoinSetID: js, PromiseID: p0},
		&JoinSetAwaitedEvent{JoinSetID: js, PromiseID: p0, Result: OK(json.RawMessage(`1`))},
	}
	require.Len(t, events, 20)

	for i, evt := range events {
		entry := Entry{Sequence: uint64(i), Timestamp: at, Event: evt}
		encoded, err := EncodeEntry(entry)
		require.NoError(t, err, "encode %s", evt.Kind())

		decoded, err := DecodeEntry(encoded)
		require.NoError(t, err, "decode %s", evt.Kind())
		assert.Equal(t, entry.Sequence, decoded.Sequence)
		assert.True(t, entry.Timestamp.Equal(decoded.Timestamp))
		assert.Equal(t, evt.Kind(), decoded.Event.Kind())
		assert.Equal(t, evt, decoded.Event, "round-trip %s", evt.Kind())

		// Canonical form is stable: re-encoding yields identical bytes.
		reencoded, err := EncodeEntry(decoded)
		require.NoError(t, err)
		assert.Equal(t, encoded, reencoded, "canonical bytes %s", evt.Kind())
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := DecodeEvent(Kind("wormhole_opened"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported event kind")
}

func TestDecodeEntryBadPayload(t *testing.T) {
	_, err := DecodeEntry([]byte(`{"sequence":0,"kind":"invoke_started","payload":"nope"}`))
	require.Error(t, err)
}

func TestEncodeNilEvent(t *testing.T) {
	_, err := EncodeEntry(Entry{})
	require.ErrorIs(t, err, ErrNilEvent)
}
