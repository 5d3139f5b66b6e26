// Package host drives deterministic executions against their journals.
//
// A Host owns exactly one journal and serializes every append and replay pass
// for it, per the single-writer ownership model of the core. Executors,
// timers, and signal sources call back into the Host to record completion
// events; the Host evaluates the wait predicate and re-enters replay when the
// awaited condition becomes satisfiable.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/loom/runtime/workflow/hooks"
	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
	"goa.design/loom/runtime/workflow/replay"
	"goa.design/loom/runtime/workflow/telemetry"
)

type (
	// GuestFunc is the guest entry point. It is re-executed from the top on
	// every replay pass; all interaction with the outside world goes through
	// the replay Context. A GuestFunc must propagate suspension errors
	// unchanged.
	GuestFunc func(ctx context.Context, wf *replay.Context) (journal.Result, error)

	// Options configures a Host.
	Options struct {
		// Component is the digest of the guest binary. Required.
		Component promise.Digest
		// Input is the JSON-encoded execution input.
		Input json.RawMessage
		// Parent links a child execution to the promise that spawned it.
		// Nil for top-level executions.
		Parent *promise.ID
		// IdempotencyKey dedups executions sharing a component and parent.
		// A random key is generated when empty.
		IdempotencyKey string
		// Guest is the entry point. Required.
		Guest GuestFunc
		// InputSchema, when set, validates Input before the journal is
		// created.
		InputSchema *jsonschema.Schema
		// Store, when set, mirrors every appended entry durably.
		Store journal.Store
		// Bus, when set, receives every appended entry.
		Bus hooks.Bus
		// EpochInterval bounds a single guest pass. The deadline is exposed
		// to the guest through its context; an expired pass is journaled as
		// an execution failure. Defaults to one second.
		EpochInterval time.Duration
		// Rand supplies entropy for first-execution Random calls.
		Rand func() uint64
		// Clock supplies the wall clock for first-execution Now calls.
		Clock func() time.Time

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Host owns one journal and the replay protocol around it.
	Host struct {
		mu sync.Mutex

		journal *journal.Journal
		guest   GuestFunc
		store   journal.Store
		bus     hooks.Bus
		epoch   time.Duration
		rand    func() uint64
		clock   func() time.Time

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		attempts     map[string]uint32 // promise id -> last started attempt
		deliverySeq  map[string]uint64 // signal name -> last delivery id
		cancelReason string
		runnable     chan struct{}
	}
)

// New creates a host and the journal for a fresh execution, recording its
// ExecutionStarted event.
func New(ctx context.Context, opts Options) (*Host, error) {
	if opts.Guest == nil {
		return nil, errors.New("guest function is required")
	}
	if opts.InputSchema != nil {
		var doc any
		if err := json.Unmarshal(opts.Input, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
		if err := opts.InputSchema.Validate(doc); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}
	key := opts.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	var parentExec *promise.ExecutionID
	if opts.Parent != nil {
		root := opts.Parent.ExecutionRoot()
		parentExec = &root
	}
	executionID := promise.RootFor(opts.Component, parentExec, key)

	j, err := journal.New(executionID, journal.NewExecutionStartedEvent(opts.Component, opts.Input, opts.Parent, key))
	if err != nil {
		return nil, err
	}
	h := newHost(j, opts)
	if err := h.flush(ctx, 0); err != nil {
		return nil, err
	}
	h.logger.Info(ctx, "execution started", "execution_id", executionID.String())
	return h, nil
}

// Attach rebuilds a host over a journal loaded from storage, re-deriving the
// attempt counters and signal delivery sequences from the entries.
func Attach(opts Options, entries []journal.Entry) (*Host, error) {
	if opts.Guest == nil {
		return nil, errors.New("guest function is required")
	}
	started, ok := firstEvent(entries)
	if !ok {
		return nil, journal.ErrEmptyJournal
	}
	key := started.IdempotencyKey
	var parentExec *promise.ExecutionID
	if started.ParentID != nil {
		root := started.ParentID.ExecutionRoot()
		parentExec = &root
	}
	executionID := promise.RootFor(started.ComponentDigest, parentExec, key)
	j, err := journal.Load(executionID, entries)
	if err != nil {
		return nil, err
	}
	h := newHost(j, opts)
	for _, e := range entries {
		switch evt := e.Event.(type) {
		case *journal.InvokeStartedEvent:
			if evt.Attempt > h.attempts[evt.PromiseID.String()] {
				h.attempts[evt.PromiseID.String()] = evt.Attempt
			}
		case *journal.SignalDeliveredEvent:
			if evt.DeliveryID > h.deliverySeq[evt.SignalName] {
				h.deliverySeq[evt.SignalName] = evt.DeliveryID
			}
		case *journal.CancelRequestedEvent:
			h.cancelReason = evt.Reason
		}
	}
	return h, nil
}

func newHost(j *journal.Journal, opts Options) *Host {
	epoch := opts.EpochInterval
	if epoch <= 0 {
		epoch = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Host{
		journal:     j,
		guest:       opts.Guest,
		store:       opts.Store,
		bus:         opts.Bus,
		epoch:       epoch,
		rand:        opts.Rand,
		clock:       opts.Clock,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		attempts:    make(map[string]uint32),
		deliverySeq: make(map[string]uint64),
		runnable:    make(chan struct{}, 1),
	}
}

func firstEvent(entries []journal.Entry) (*journal.ExecutionStartedEvent, bool) {
	if len(entries) == 0 {
		return nil, false
	}
	started, ok := entries[0].Event.(*journal.ExecutionStartedEvent)
	return started, ok
}

// ExecutionID returns the execution this host drives.
func (h *Host) ExecutionID() promise.ExecutionID {
	return h.journal.ExecutionID()
}

// Journal returns the journal. The caller must not append to it directly.
func (h *Host) Journal() *journal.Journal {
	return h.journal
}

// Status returns the current derived status.
func (h *Host) Status() journal.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.journal.Status()
}

// Runnable signals when an append made the execution runnable again. Workers
// block on it while the execution is suspended.
func (h *Host) Runnable() <-chan struct{} {
	return h.runnable
}

// Resume runs one replay pass: it rebuilds the cache, re-executes the guest,
// and journals the outcome. A suspended guest leaves the journal Blocked; a
// returning guest appends the terminal event (ExecutionCancelled when the
// phase is Cancelling, ExecutionCompleted otherwise); a guest error or an
// expired epoch appends ExecutionFailed.
func (h *Host) Resume(ctx context.Context) (journal.Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.journal.Status()
	if st.Terminal() {
		return st, nil
	}
	if st.Phase == journal.PhaseBlocked {
		// A journal reloaded from storage may already hold the satisfying
		// events without its ExecutionResumed.
		if !replay.Satisfied(h.journal) {
			return st, nil
		}
		if err := h.append(ctx, &journal.ExecutionResumedEvent{}); err != nil {
			return h.journal.Status(), err
		}
	}

	ctx, span := h.tracer.Start(ctx, "loom.replay_pass")
	defer span.End()
	start := time.Now()
	from := h.journal.Version()

	wf, err := replay.NewContext(replay.Options{
		Journal: h.journal,
		Rand:    h.rand,
		Clock:   h.clock,
	})
	if err != nil {
		return st, err
	}

	gctx, cancel := context.WithTimeout(ctx, h.epoch)
	result, gerr := h.guest(gctx, wf)
	cancel()
	h.metrics.RecordTimer("loom_replay_pass_duration", time.Since(start))

	switch {
	case gerr == nil:
		if h.journal.Status().Phase == journal.PhaseCancelling {
			err = h.journal.Append(&journal.ExecutionCancelledEvent{Reason: h.cancelReason})
		} else {
			err = h.journal.Append(&journal.ExecutionCompletedEvent{Result: result})
		}
	case isSuspension(gerr):
		susp, _ := replay.AsSuspension(gerr)
		h.logger.Debug(ctx, "execution suspended",
			"execution_id", h.journal.ExecutionID().String(),
			"waiting", len(susp.WaitingOn),
			"mode", string(susp.Await.Mode))
	case errors.Is(gerr, context.DeadlineExceeded):
		h.logger.Warn(ctx, "guest interrupted",
			"execution_id", h.journal.ExecutionID().String(),
			"epoch", h.epoch.String())
		err = h.journal.Append(&journal.ExecutionFailedEvent{Error: "guest interrupted: epoch deadline exceeded"})
	default:
		err = h.journal.Append(&journal.ExecutionFailedEvent{Error: gerr.Error()})
	}
	if err != nil {
		h.rejected(err)
		return h.journal.Status(), err
	}
	if err := h.flush(ctx, from); err != nil {
		return h.journal.Status(), err
	}
	return h.journal.Status(), nil
}

func isSuspension(err error) bool {
	_, ok := replay.AsSuspension(err)
	return ok
}

// BeginAttempt journals an executor picking up a scheduled invoke and returns
// the attempt number.
func (h *Host) BeginAttempt(ctx context.Context, pid promise.ID) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	attempt := h.attempts[pid.String()] + 1
	if err := h.append(ctx, &journal.InvokeStartedEvent{PromiseID: pid, Attempt: attempt}); err != nil {
		return 0, err
	}
	h.attempts[pid.String()] = attempt
	return attempt, nil
}

// CompleteAttempt journals the final result of an invoke and resumes the
// execution when its wait becomes satisfiable.
func (h *Host) CompleteAttempt(ctx context.Context, pid promise.ID, attempt uint32, result journal.Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.append(ctx, &journal.InvokeCompletedEvent{PromiseID: pid, Result: result, Attempt: attempt}); err != nil {
		return err
	}
	return h.maybeResume(ctx)
}

// RetryAttempt journals a transient attempt failure.
func (h *Host) RetryAttempt(ctx context.Context, pid promise.ID, attempt uint32, cause string, retryAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.append(ctx, &journal.InvokeRetryingEvent{
		PromiseID:     pid,
		FailedAttempt: attempt,
		Error:         cause,
		RetryAt:       retryAt.UTC(),
	})
}

// FireTimer journals an elapsed timer and resumes the execution when its wait
// becomes satisfiable.
func (h *Host) FireTimer(ctx context.Context, pid promise.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.append(ctx, &journal.TimerFiredEvent{PromiseID: pid}); err != nil {
		return err
	}
	return h.maybeResume(ctx)
}

// DeliverSignal journals an external signal delivery with the next delivery
// id for its name. A pending signal wait for that name is satisfied
// immediately: the consuming SignalReceived and the ExecutionResumed are
// appended before DeliverSignal returns.
func (h *Host) DeliverSignal(ctx context.Context, name string, payload json.RawMessage) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq := h.deliverySeq[name] + 1
	if err := h.append(ctx, journal.NewSignalDeliveredEvent(name, payload, seq)); err != nil {
		return 0, err
	}
	h.deliverySeq[name] = seq

	st := h.journal.Status()
	if st.Phase == journal.PhaseBlocked && st.Await.Mode == journal.AwaitSignal && st.Await.Signal == name {
		if err := h.append(ctx, journal.NewSignalReceivedEvent(st.WaitingOn[0], name, payload, seq)); err != nil {
			return 0, err
		}
		if err := h.maybeResume(ctx); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

// RequestCancel begins the two-phase cancellation protocol. The guest keeps
// running cleanup passes until FinishCancel, or a guest pass that returns
// while the phase is still Cancelling, finalizes the cancellation.
func (h *Host) RequestCancel(ctx context.Context, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.append(ctx, &journal.CancelRequestedEvent{Reason: reason}); err != nil {
		return err
	}
	h.cancelReason = reason
	h.notify()
	return nil
}

// FinishCancel finalizes a requested cancellation.
func (h *Host) FinishCancel(ctx context.Context, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.append(ctx, &journal.ExecutionCancelledEvent{Reason: reason})
}

// Interrupt journals a host-initiated failure, such as a sandbox trap or an
// external watchdog firing. The append is subject to the normal terminal
// rules.
func (h *Host) Interrupt(ctx context.Context, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.append(ctx, &journal.ExecutionFailedEvent{Error: reason})
}

// maybeResume appends ExecutionResumed when the current wait is satisfiable
// and wakes the worker.
func (h *Host) maybeResume(ctx context.Context) error {
	if !replay.Satisfied(h.journal) {
		return nil
	}
	if err := h.append(ctx, &journal.ExecutionResumedEvent{}); err != nil {
		return err
	}
	h.notify()
	return nil
}

func (h *Host) notify() {
	select {
	case h.runnable <- struct{}{}:
	default:
	}
}

// append journals a single event and mirrors it to the store and bus.
func (h *Host) append(ctx context.Context, e journal.Event) error {
	from := h.journal.Version()
	if err := h.journal.Append(e); err != nil {
		h.rejected(err)
		return err
	}
	return h.flush(ctx, from)
}

// flush mirrors entries appended since version from to the store and bus.
func (h *Host) flush(ctx context.Context, from uint64) error {
	entries := h.journal.Events()
	for _, e := range entries[from:] {
		h.metrics.IncCounter("loom_journal_appends", 1, "kind", string(e.Event.Kind()))
		if h.store != nil {
			if err := h.store.AppendEntry(ctx, h.journal.ExecutionID(), e); err != nil {
				return fmt.Errorf("persist entry %d: %w", e.Sequence, err)
			}
		}
		if h.bus != nil {
			if err := h.bus.Publish(ctx, hooks.Notification{ExecutionID: h.journal.ExecutionID(), Entry: e}); err != nil {
				return fmt.Errorf("publish entry %d: %w", e.Sequence, err)
			}
		}
	}
	return nil
}

func (h *Host) rejected(err error) {
	var verr *journal.ValidationError
	if errors.As(err, &verr) {
		h.metrics.IncCounter("loom_journal_rejects", 1, "code", string(verr.Code))
	}
}
