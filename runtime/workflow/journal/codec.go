package journal

import (
	"encoding/json"
	"fmt"
	"time"
)

// entryDocument is the canonical serialized form of an Entry. The event
// payload is encoded separately from the envelope so stores and streams can
// route on the kind without decoding the payload.
type entryDocument struct {
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EncodeEntry serializes an entry to its canonical JSON form.
func EncodeEntry(e Entry) ([]byte, error) {
	if e.Event == nil {
		return nil, ErrNilEvent
	}
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Event.Kind(), err)
	}
	doc := entryDocument{
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp.UTC(),
		Kind:      e.Event.Kind(),
		Payload:   payload,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal entry %d: %w", e.Sequence, err)
	}
	return b, nil
}

// DecodeEntry reconstructs an entry from its canonical JSON form.
func DecodeEntry(data []byte) (Entry, error) {
	var doc entryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Entry{}, fmt.Errorf("decode entry envelope: %w", err)
	}
	evt, err := DecodeEvent(doc.Kind, doc.Payload)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Sequence:  doc.Sequence,
		Timestamp: doc.Timestamp,
		Event:     evt,
	}, nil
}

// EncodeEvent serializes a bare event payload.
func EncodeEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, ErrNilEvent
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return b, nil
}

// DecodeEvent reconstructs a typed event from its kind tag and payload.
func DecodeEvent(kind Kind, payload json.RawMessage) (Event, error) {
	var evt Event
	switch kind {
	case ExecutionStarted:
		evt = &ExecutionStartedEvent{}
	case ExecutionCompleted:
		evt = &ExecutionCompletedEvent{}
	case ExecutionFailed:
		evt = &ExecutionFailedEvent{}
	case CancelRequested:
		evt = &CancelRequestedEvent{}
	case ExecutionCancelled:
		evt = &ExecutionCancelledEvent{}
	case InvokeScheduled:
		evt = &InvokeScheduledEvent{}
	case InvokeStarted:
		evt = &InvokeStartedEvent{}
	case InvokeCompleted:
		evt = &InvokeCompletedEvent{}
	case InvokeRetrying:
		evt = &InvokeRetryingEvent{}
	case RandomGenerated:
		evt = &RandomGeneratedEvent{}
	case TimeRecorded:
		evt = &TimeRecordedEvent{}
	case TimerScheduled:
		evt = &TimerScheduledEvent{}
	case TimerFired:
		evt = &TimerFiredEvent{}
	case SignalDelivered:
		evt = &SignalDeliveredEvent{}
	case SignalReceived:
		evt = &SignalReceivedEvent{}
	case ExecutionAwaiting:
		evt = &ExecutionAwaitingEvent{}
	case ExecutionResumed:
		evt = &ExecutionResumedEvent{}
	case JoinSetCreated:
		evt = &JoinSetCreatedEvent{}
	case JoinSetSubmitted:
		evt = &JoinSetSubmittedEvent{}
	case JoinSetAwaited:
		evt = &JoinSetAwaitedEvent{}
	default:
		return nil, fmt.Errorf("unsupported event kind %q", kind)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, evt); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return evt, nil
}
