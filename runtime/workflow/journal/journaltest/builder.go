// Package journaltest builds synthetic but valid journals from compact
// scripts. Property-based tests generate scripts and assert invariants over
// the resulting journals without hand-writing event sequences.
package journaltest

import (
	"encoding/json"
	"fmt"
	"strconv"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

// Op is one scripted guest operation. Each op expands to the admissible event
// sequence a live host would journal for it.
type Op int

const (
	// OpInvoke is a scheduled invoke that completes on its first attempt.
	OpInvoke Op = iota
	// OpInvokeRetry is an invoke that fails once and completes on the second
	// attempt.
	OpInvokeRetry
	// OpTimer is a sleep that fires.
	OpTimer
	// OpBufferedSignal is a delivery consumed without blocking.
	OpBufferedSignal
	// OpBlockedSignal is a signal wait satisfied by a later delivery.
	OpBlockedSignal
	// OpRandom is a recorded entropy draw.
	OpRandom
	// OpTime is a recorded clock reading.
	OpTime
	// OpJoinSet is a two-member join set consumed to completion.
	OpJoinSet
)

// Terminal selects how a script ends.
type Terminal int

const (
	// TerminalNone leaves the journal running.
	TerminalNone Terminal = iota
	// TerminalComplete appends ExecutionCompleted.
	TerminalComplete
	// TerminalFail appends ExecutionFailed.
	TerminalFail
	// TerminalCancel appends CancelRequested then ExecutionCancelled.
	TerminalCancel
)

// Script is a compact description of a synthetic workload.
type Script struct {
	Ops      []Op
	Terminal Terminal
}

// Stats summarizes the expected derived state of a built journal.
type Stats struct {
	// CompletionEvents counts the terminal-phase events appended: exactly the
	// expected replay cache size.
	CompletionEvents int
}

// Build expands the script into a journal, appending only sequences a live
// host would produce. Any validation error is a bug in the core and is
// returned for the property to fail on.
func Build(script Script) (*journal.Journal, Stats, error) {
	component := promise.DigestOf([]byte("journaltest"))
	execID := promise.RootFor(component, nil, "journaltest")
	j, err := journal.New(execID, journal.NewExecutionStartedEvent(component, json.RawMessage(`{}`), nil, "journaltest"))
	if err != nil {
		return nil, Stats{}, err
	}

	b := &builder{j: j, root: execID.ID()}
	for i, op := range script.Ops {
		if err := b.apply(op, i); err != nil {
			return nil, Stats{}, fmt.Errorf("op %d (%d): %w", i, op, err)
		}
	}

	switch script.Terminal {
	case TerminalComplete:
		err = j.Append(&journal.ExecutionCompletedEvent{Result: journal.OK(json.RawMessage(`"ok"`))})
	case TerminalFail:
		err = j.Append(&journal.ExecutionFailedEvent{Error: "scripted failure"})
	case TerminalCancel:
		if err = j.Append(&journal.CancelRequestedEvent{Reason: "scripted"}); err == nil {
			err = j.Append(&journal.ExecutionCancelledEvent{Reason: "scripted"})
		}
	}
	if err != nil {
		return nil, Stats{}, err
	}
	return j, Stats{CompletionEvents: b.completions}, nil
}

type builder struct {
	j           *journal.Journal
	root        promise.ID
	nextChild   uint32
	deliverySeq uint64
	completions int
}

func (b *builder) child() (promise.ID, error) {
	id, err := b.root.Child(b.nextChild)
	if err != nil {
		return promise.ID{}, err
	}
	b.nextChild++
	return id, nil
}

func (b *builder) append(events ...journal.Event) error {
	for _, e := range events {
		if err := b.j.Append(e); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) apply(op Op, i int) error {
	switch op {
	case OpInvoke:
		pid, err := b.child()
		if err != nil {
			return err
		}
		b.completions++
		return b.append(
			journal.NewInvokeScheduledEvent(pid, journal.InvokeKindFunction, "journaltest.op"+strconv.Itoa(i), nil, journal.RetryPolicy{}),
			journal.NewExecutionAwaitingEvent([]promise.ID{pid}, journal.AwaitKind{Mode: journal.AwaitSingle}),
			&journal.InvokeStartedEvent{PromiseID: pid, Attempt: 1},
			&journal.InvokeCompletedEvent{PromiseID: pid, Result: journal.OK(json.RawMessage(`1`)), Attempt: 1},
			&journal.ExecutionResumedEvent{},
		)

	case OpInvokeRetry:
		pid, err := b.child()
		if err != nil {
			return err
		}
		b.completions++
		return b.append(
			journal.NewInvokeScheduledEvent(pid, journal.InvokeKindHTTP, "journaltest.flaky", nil, journal.RetryPolicy{MaxAttempts: 2}),
			journal.NewExecutionAwaitingEvent([]promise.ID{pid}, journal.AwaitKind{Mode: journal.AwaitSingle}),
			&journal.InvokeStartedEvent{PromiseID: pid, Attempt: 1},
			&journal.InvokeRetryingEvent{PromiseID: pid, FailedAttempt: 1, Error: "transient"},
			&journal.InvokeStartedEvent{PromiseID: pid, Attempt: 2},
			&journal.InvokeCompletedEvent{PromiseID: pid, Result: journal.OK(json.RawMessage(`2`)), Attempt: 2},
			&journal.ExecutionResumedEvent{},
		)

	case OpTimer:
		pid, err := b.child()
		if err != nil {
			return err
		}
		b.completions++
		return b.append(
			&journal.TimerScheduledEvent{PromiseID: pid},
			journal.NewExecutionAwaitingEvent([]promise.ID{pid}, journal.AwaitKind{Mode: journal.AwaitSingle}),
			&journal.TimerFiredEvent{PromiseID: pid},
			&journal.ExecutionResumedEvent{},
		)

	case OpBufferedSignal:
		pid, err := b.child()
		if err != nil {
			return err
		}
		b.deliverySeq++
		b.completions++
		payload := json.RawMessage(`{"buffered":true}`)
		return b.append(
			journal.NewSignalDeliveredEvent("go", payload, b.deliverySeq),
			journal.NewSignalReceivedEvent(pid, "go", payload, b.deliverySeq),
		)

	case OpBlockedSignal:
		pid, err := b.child()
		if err != nil {
			return err
		}
		b.deliverySeq++
		b.completions++
		payload := json.RawMessage(`{"blocked":true}`)
		return b.append(
			journal.NewExecutionAwaitingEvent([]promise.ID{pid}, journal.SignalAwait("go")),
			journal.NewSignalDeliveredEvent("go", payload, b.deliverySeq),
			journal.NewSignalReceivedEvent(pid, "go", payload, b.deliverySeq),
			&journal.ExecutionResumedEvent{},
		)

	case OpRandom:
		pid, err := b.child()
		if err != nil {
			return err
		}
		b.completions++
		return b.append(&journal.RandomGeneratedEvent{PromiseID: pid, Value: uint64(i) * 2654435761})

	case OpTime:
		pid, err := b.child()
		if err != nil {
			return err
		}
		b.completions++
		return b.append(&journal.TimeRecordedEvent{PromiseID: pid})

	case OpJoinSet:
		jsID, err := b.child()
		if err != nil {
			return err
		}
		first, err := b.child()
		if err != nil {
			return err
		}
		second, err := b.child()
		if err != nil {
			return err
		}
		js := promise.NewJoinSetID(jsID)
		b.completions += 2
		return b.append(
			&journal.JoinSetCreatedEvent{JoinSetID: js},
			journal.NewInvokeScheduledEvent(first, journal.InvokeKindFunction, "journaltest.shard", nil, journal.RetryPolicy{}),
			&journal.JoinSetSubmittedEvent{JoinSetID: js, PromiseID: first},
			journal.NewInvokeScheduledEvent(second, journal.InvokeKindFunction, "journaltest.shard", nil, journal.RetryPolicy{}),
			&journal.JoinSetSubmittedEvent{JoinSetID: js, PromiseID: second},
			journal.NewExecutionAwaitingEvent([]promise.ID{first, second}, journal.AwaitKind{Mode: journal.AwaitAny}),
			&journal.InvokeStartedEvent{PromiseID: second, Attempt: 1},
			&journal.InvokeCompletedEvent{PromiseID: second, Result: journal.OK(json.RawMessage(`"second"`)), Attempt: 1},
			&journal.ExecutionResumedEvent{},
			&journal.JoinSetAwaitedEvent{JoinSetID: js, PromiseID: second, Result: journal.OK(json.RawMessage(`"second"`))},
			&journal.InvokeStartedEvent{PromiseID: first, Attempt: 1},
			&journal.InvokeCompletedEvent{PromiseID: first, Result: journal.OK(json.RawMessage(`"first"`)), Attempt: 1},
			&journal.JoinSetAwaitedEvent{JoinSetID: js, PromiseID: first, Result: journal.OK(json.RawMessage(`"first"`))},
		)
	}
	return fmt.Errorf("unknown op %d", op)
}
