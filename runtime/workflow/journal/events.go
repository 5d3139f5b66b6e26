package journal

import (
	"encoding/json"
	"time"

	"goa.design/loom/runtime/workflow/promise"
)

// Kind tags the event variants a journal can record. The set is closed: new
// side-effect categories extend InvokeKind, not this enumeration.
type Kind string

const (
	// ExecutionStarted is always the first event of a journal. It pins the
	// component digest, the original input, and the optional parent/idempotency
	// lineage of the execution.
	ExecutionStarted Kind = "execution_started"

	// ExecutionCompleted records the successful terminal result.
	ExecutionCompleted Kind = "execution_completed"

	// ExecutionFailed records a terminal failure, including guest traps and
	// epoch interruptions.
	ExecutionFailed Kind = "execution_failed"

	// CancelRequested begins the two-phase cancellation protocol. The guest
	// may continue to append cleanup events until ExecutionCancelled.
	CancelRequested Kind = "cancel_requested"

	// ExecutionCancelled finalizes a cancellation.
	ExecutionCancelled Kind = "execution_cancelled"

	// InvokeScheduled records the intent to perform a side effect. It is the
	// only phase that carries the invoke kind, function name, input, and retry
	// policy; later phases inherit them through the promise ID.
	InvokeScheduled Kind = "invoke_scheduled"

	// InvokeStarted records that an executor picked up a scheduled invoke for
	// a specific attempt.
	InvokeStarted Kind = "invoke_started"

	// InvokeCompleted records the final result of an invoke. Only this phase
	// contributes to the replay cache.
	InvokeCompleted Kind = "invoke_completed"

	// InvokeRetrying records a transient per-attempt failure and when the next
	// attempt becomes due.
	InvokeRetrying Kind = "invoke_retrying"

	// RandomGenerated captures host-supplied entropy so replay never consults
	// a live RNG.
	RandomGenerated Kind = "random_generated"

	// TimeRecorded captures a host clock reading so replay never consults the
	// wall clock.
	TimeRecorded Kind = "time_recorded"

	// TimerScheduled records the intent to sleep until a deadline.
	TimerScheduled Kind = "timer_scheduled"

	// TimerFired records that a scheduled timer elapsed.
	TimerFired Kind = "timer_fired"

	// SignalDelivered records an external signal arriving at the execution.
	// Deliveries buffer until a SignalReceived consumes them.
	SignalDelivered Kind = "signal_delivered"

	// SignalReceived records the guest consuming a buffered delivery.
	SignalReceived Kind = "signal_received"

	// ExecutionAwaiting records the guest suspending on a set of promises.
	ExecutionAwaiting Kind = "execution_awaiting"

	// ExecutionResumed records that the awaited condition became satisfiable
	// and replay re-entered the guest.
	ExecutionResumed Kind = "execution_resumed"

	// JoinSetCreated opens a structured-concurrency region.
	JoinSetCreated Kind = "join_set_created"

	// JoinSetSubmitted adds a child promise to a join set.
	JoinSetSubmitted Kind = "join_set_submitted"

	// JoinSetAwaited records which completed member the guest consumed next,
	// fixing the replay order regardless of wall-clock completion order.
	JoinSetAwaited Kind = "join_set_awaited"
)

// InvokeKind classifies the transport of a side effect. The type is open:
// adding a new category (gRPC, queue, ...) means adding a value here, never a
// new event variant.
type InvokeKind string

const (
	// InvokeKindFunction targets another hosted component function.
	InvokeKindFunction InvokeKind = "function"

	// InvokeKindHTTP targets an outbound HTTP call.
	InvokeKindHTTP InvokeKind = "http"
)

// AwaitMode enumerates the wait-satisfaction predicates.
type AwaitMode string

const (
	// AwaitSingle waits for one promise to complete.
	AwaitSingle AwaitMode = "single"

	// AwaitAny waits for at least one of several promises.
	AwaitAny AwaitMode = "any"

	// AwaitAll waits for every listed promise.
	AwaitAll AwaitMode = "all"

	// AwaitSignal waits for a named signal delivery.
	AwaitSignal AwaitMode = "signal"
)

type (
	// Event is the interface all journal event variants implement. Concrete
	// types carry the payload for one of the twenty variants; Kind identifies
	// the variant for codecs and validators.
	Event interface {
		// Kind returns the variant tag for this event.
		Kind() Kind
	}

	// Entry is a single journal record: an event plus its position and a
	// diagnostic timestamp. Timestamps never influence validation, status
	// derivation, or replay.
	Entry struct {
		// Sequence is the zero-based position of the entry.
		Sequence uint64 `json:"sequence"`
		// Timestamp is the wall-clock append time. Diagnostic only.
		Timestamp time.Time `json:"timestamp"`
		// Event is the typed payload.
		Event Event `json:"-"`
	}

	// Result is the outcome of an operation: a JSON-encoded value on success
	// or an error message on failure.
	Result struct {
		// Value is the JSON-encoded success value. Nil when Error is set.
		Value json.RawMessage `json:"value,omitempty"`
		// Error describes the failure. Empty on success.
		Error string `json:"error,omitempty"`
	}

	// RetryPolicy describes how an executor should retry a failing invoke.
	// The journal records the policy verbatim; interpreting it is an executor
	// concern.
	RetryPolicy struct {
		// MaxAttempts bounds the number of physical attempts. Zero means the
		// executor default.
		MaxAttempts uint32 `json:"max_attempts,omitempty"`
		// InitialInterval is the delay before the first retry.
		InitialInterval time.Duration `json:"initial_interval,omitempty"`
		// BackoffFactor multiplies the interval after each failed attempt.
		BackoffFactor float64 `json:"backoff_factor,omitempty"`
	}

	// AwaitKind describes what an ExecutionAwaiting event waits for. Signal is
	// set only when Mode is AwaitSignal.
	AwaitKind struct {
		Mode   AwaitMode `json:"mode"`
		Signal string    `json:"signal,omitempty"`
	}

	// ExecutionStartedEvent is the mandatory first event of every journal.
	ExecutionStartedEvent struct {
		// ComponentDigest pins the journal to the guest binary version.
		ComponentDigest promise.Digest `json:"component_digest"`
		// Input is the original JSON input to the execution.
		Input json.RawMessage `json:"input,omitempty"`
		// ParentID links a child execution to the promise that spawned it.
		// Nil for top-level executions.
		ParentID *promise.ID `json:"parent_id,omitempty"`
		// IdempotencyKey is the caller-supplied dedup key, if any.
		IdempotencyKey string `json:"idempotency_key,omitempty"`
	}

	// ExecutionCompletedEvent is the successful terminal event.
	ExecutionCompletedEvent struct {
		Result Result `json:"result"`
	}

	// ExecutionFailedEvent is the failing terminal event.
	ExecutionFailedEvent struct {
		Error string `json:"error"`
	}

	// CancelRequestedEvent transitions the execution to Cancelling.
	CancelRequestedEvent struct {
		Reason string `json:"reason,omitempty"`
	}

	// ExecutionCancelledEvent is the cancellation terminal event. It requires
	// a prior CancelRequested.
	ExecutionCancelledEvent struct {
		Reason string `json:"reason,omitempty"`
	}

	// InvokeScheduledEvent records the intent phase of a side effect.
	InvokeScheduledEvent struct {
		PromiseID    promise.ID      `json:"promise_id"`
		InvokeKind   InvokeKind      `json:"kind"`
		FunctionName string          `json:"function_name"`
		Input        json.RawMessage `json:"input,omitempty"`
		Retry        RetryPolicy     `json:"retry_policy"`
	}

	// InvokeStartedEvent records an executor starting an attempt.
	InvokeStartedEvent struct {
		PromiseID promise.ID `json:"promise_id"`
		Attempt   uint32     `json:"attempt"`
	}

	// InvokeCompletedEvent records the final outcome of an invoke.
	InvokeCompletedEvent struct {
		PromiseID promise.ID `json:"promise_id"`
		Result    Result     `json:"result"`
		Attempt   uint32     `json:"attempt"`
	}

	// InvokeRetryingEvent records a transient attempt failure.
	InvokeRetryingEvent struct {
		PromiseID     promise.ID `json:"promise_id"`
		FailedAttempt uint32     `json:"failed_attempt"`
		Error         string     `json:"error"`
		RetryAt       time.Time  `json:"retry_at"`
	}

	// RandomGeneratedEvent captures one entropy draw.
	RandomGeneratedEvent struct {
		PromiseID promise.ID `json:"promise_id"`
		Value     uint64     `json:"value"`
	}

	// TimeRecordedEvent captures one clock reading.
	TimeRecordedEvent struct {
		PromiseID promise.ID `json:"promise_id"`
		Time      time.Time  `json:"time"`
	}

	// TimerScheduledEvent records the intent phase of a sleep.
	TimerScheduledEvent struct {
		PromiseID promise.ID    `json:"promise_id"`
		Duration  time.Duration `json:"duration"`
		FireAt    time.Time     `json:"fire_at"`
	}

	// TimerFiredEvent records a timer elapsing.
	TimerFiredEvent struct {
		PromiseID promise.ID `json:"promise_id"`
	}

	// SignalDeliveredEvent records an external signal arriving. DeliveryID is
	// an unsigned monotonic counter scoped per (execution, signal name).
	SignalDeliveredEvent struct {
		SignalName string          `json:"signal_name"`
		Payload    json.RawMessage `json:"payload,omitempty"`
		DeliveryID uint64          `json:"delivery_id"`
	}

	// SignalReceivedEvent records the guest consuming one delivery. The
	// (name, delivery id, payload) triple must match a prior delivery exactly.
	SignalReceivedEvent struct {
		PromiseID  promise.ID      `json:"promise_id"`
		SignalName string          `json:"signal_name"`
		Payload    json.RawMessage `json:"payload,omitempty"`
		DeliveryID uint64          `json:"delivery_id"`
	}

	// ExecutionAwaitingEvent records the guest suspending. WaitingOn has set
	// semantics: duplicates are rejected by the validator.
	ExecutionAwaitingEvent struct {
		WaitingOn []promise.ID `json:"waiting_on"`
		Await     AwaitKind    `json:"kind"`
	}

	// ExecutionResumedEvent records replay re-entering the guest.
	ExecutionResumedEvent struct{}

	// JoinSetCreatedEvent opens a join set.
	JoinSetCreatedEvent struct {
		JoinSetID promise.JoinSetID `json:"join_set_id"`
	}

	// JoinSetSubmittedEvent adds a member promise to a join set.
	JoinSetSubmittedEvent struct {
		JoinSetID promise.JoinSetID `json:"join_set_id"`
		PromiseID promise.ID        `json:"promise_id"`
	}

	// JoinSetAwaitedEvent records the guest consuming a completed member.
	JoinSetAwaitedEvent struct {
		JoinSetID promise.JoinSetID `json:"join_set_id"`
		PromiseID promise.ID        `json:"promise_id"`
		Result    Result            `json:"result"`
	}
)

// OK wraps a JSON value as a successful Result.
func OK(value json.RawMessage) Result {
	return Result{Value: append(json.RawMessage(nil), value...)}
}

// Failure wraps an error message as a failed Result.
func Failure(msg string) Result {
	return Result{Error: msg}
}

// IsError reports whether the result is a failure.
func (r Result) IsError() bool { return r.Error != "" }

// SignalAwait builds the AwaitKind for a named signal wait.
func SignalAwait(name string) AwaitKind {
	return AwaitKind{Mode: AwaitSignal, Signal: name}
}

// NewExecutionStartedEvent constructs the first event of a journal. parent may
// be nil for top-level executions; idempotencyKey may be empty.
func NewExecutionStartedEvent(component promise.Digest, input json.RawMessage, parent *promise.ID, idempotencyKey string) *ExecutionStartedEvent {
	var pid *promise.ID
	if parent != nil {
		p := *parent
		pid = &p
	}
	return &ExecutionStartedEvent{
		ComponentDigest: component,
		Input:           append(json.RawMessage(nil), input...),
		ParentID:        pid,
		IdempotencyKey:  idempotencyKey,
	}
}

// NewInvokeScheduledEvent constructs the intent event for a side effect.
func NewInvokeScheduledEvent(pid promise.ID, kind InvokeKind, function string, input json.RawMessage, retry RetryPolicy) *InvokeScheduledEvent {
	return &InvokeScheduledEvent{
		PromiseID:    pid,
		InvokeKind:   kind,
		FunctionName: function,
		Input:        append(json.RawMessage(nil), input...),
		Retry:        retry,
	}
}

// NewExecutionAwaitingEvent constructs a suspension event over the given wait
// set. The slice is copied.
func NewExecutionAwaitingEvent(waitingOn []promise.ID, await AwaitKind) *ExecutionAwaitingEvent {
	return &ExecutionAwaitingEvent{
		WaitingOn: append([]promise.ID(nil), waitingOn...),
		Await:     await,
	}
}

// NewSignalDeliveredEvent constructs a buffered signal delivery.
func NewSignalDeliveredEvent(name string, payload json.RawMessage, deliveryID uint64) *SignalDeliveredEvent {
	return &SignalDeliveredEvent{
		SignalName: name,
		Payload:    append(json.RawMessage(nil), payload...),
		DeliveryID: deliveryID,
	}
}

// NewSignalReceivedEvent constructs a signal consumption. The triple must
// match the delivery being consumed.
func NewSignalReceivedEvent(pid promise.ID, name string, payload json.RawMessage, deliveryID uint64) *SignalReceivedEvent {
	return &SignalReceivedEvent{
		PromiseID:  pid,
		SignalName: name,
		Payload:    append(json.RawMessage(nil), payload...),
		DeliveryID: deliveryID,
	}
}

// Terminal reports whether the kind ends a journal.
func (k Kind) Terminal() bool {
	switch k {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Kind method implementations

func (e *ExecutionStartedEvent) Kind() Kind   { return ExecutionStarted }
func (e *ExecutionCompletedEvent) Kind() Kind { return ExecutionCompleted }
func (e *ExecutionFailedEvent) Kind() Kind    { return ExecutionFailed }
func (e *CancelRequestedEvent) Kind() Kind    { return CancelRequested }
func (e *ExecutionCancelledEvent) Kind() Kind { return ExecutionCancelled }
func (e *InvokeScheduledEvent) Kind() Kind    { return InvokeScheduled }
func (e *InvokeStartedEvent) Kind() Kind      { return InvokeStarted }
func (e *InvokeCompletedEvent) Kind() Kind    { return InvokeCompleted }
func (e *InvokeRetryingEvent) Kind() Kind     { return InvokeRetrying }
func (e *RandomGeneratedEvent) Kind() Kind    { return RandomGenerated }
func (e *TimeRecordedEvent) Kind() Kind       { return TimeRecorded }
func (e *TimerScheduledEvent) Kind() Kind     { return TimerScheduled }
func (e *TimerFiredEvent) Kind() Kind         { return TimerFired }
func (e *SignalDeliveredEvent) Kind() Kind    { return SignalDelivered }
func (e *SignalReceivedEvent) Kind() Kind     { return SignalReceived }
func (e *ExecutionAwaitingEvent) Kind() Kind  { return ExecutionAwaiting }
func (e *ExecutionResumedEvent) Kind() Kind   { return ExecutionResumed }
func (e *JoinSetCreatedEvent) Kind() Kind     { return JoinSetCreated }
func (e *JoinSetSubmittedEvent) Kind() Kind   { return JoinSetSubmitted }
func (e *JoinSetAwaitedEvent) Kind() Kind     { return JoinSetAwaited }
