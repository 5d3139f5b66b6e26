package journal

import "strconv"

// progress holds the incremental indexes the validator consults on each
// append. It is rebuilt from scratch when a journal is loaded from storage,
// and every update mirrors exactly one accepted event, so the indexes always
// agree with a from-scratch scan of the entries.
type progress struct {
	status          Status
	terminal        bool
	cancelRequested bool

	scheduled  map[string]struct{}          // promise id -> InvokeScheduled seen
	started    map[string]map[uint32]struct{} // promise id -> started attempts
	invokeDone map[string]struct{}          // promise id -> InvokeCompleted seen
	timers     map[string]struct{}          // promise id -> TimerScheduled seen

	deliveries map[string]string   // (name, delivery id) -> payload bytes
	consumed   map[string]struct{} // (name, delivery id) -> SignalReceived seen

	jsCreated   map[string]struct{}            // join set id -> created
	jsMembers   map[string]map[string]struct{} // join set id -> member promises
	jsSubmitted map[string]int                 // join set id -> submission count
	jsAwaited   map[string]struct{}            // (join set id, promise id) -> consumed
	jsConsumed  map[string]int                 // join set id -> consumption count
	jsSealed    map[string]struct{}            // join set id -> first await seen
	owner       map[string]string              // promise id -> owning join set
}

func newProgress() *progress {
	return &progress{
		scheduled:   make(map[string]struct{}),
		started:     make(map[string]map[uint32]struct{}),
		invokeDone:  make(map[string]struct{}),
		timers:      make(map[string]struct{}),
		deliveries:  make(map[string]string),
		consumed:    make(map[string]struct{}),
		jsCreated:   make(map[string]struct{}),
		jsMembers:   make(map[string]map[string]struct{}),
		jsSubmitted: make(map[string]int),
		jsAwaited:   make(map[string]struct{}),
		jsConsumed:  make(map[string]int),
		jsSealed:    make(map[string]struct{}),
		owner:       make(map[string]string),
	}
}

func deliveryKey(name string, id uint64) string {
	return name + "\x00" + strconv.FormatUint(id, 10)
}

func consumeKey(js, pid string) string {
	return js + "\x00" + pid
}

// validate checks an entry against every local invariant and returns the
// first violation. size is the current number of entries, which is also the
// sequence the entry must occupy.
func (p *progress) validate(entry Entry, size uint64) *ValidationError {
	kind := entry.Event.Kind()

	// Sequences are dense and monotonic.
	if entry.Sequence != size {
		return reject(CodeNonMonotonicSequence, entry.Sequence, kind,
			"want sequence %d", size)
	}

	// A journal starts with ExecutionStarted and records it exactly once.
	if size == 0 {
		if kind != ExecutionStarted {
			return reject(CodeBadFirstEvent, entry.Sequence, kind,
				"first event must be %s", ExecutionStarted)
		}
	} else if kind == ExecutionStarted {
		return reject(CodeBadFirstEvent, entry.Sequence, kind,
			"%s allowed only at sequence 0", ExecutionStarted)
	}

	// Terminal events are unique and final.
	if p.terminal {
		if kind.Terminal() {
			return reject(CodeMultipleTerminals, entry.Sequence, kind,
				"journal already holds a terminal event")
		}
		return reject(CodeEventAfterTerminal, entry.Sequence, kind,
			"no events may follow a terminal event")
	}

	switch evt := entry.Event.(type) {
	case *ExecutionCancelledEvent:
		// Finalizing requires a prior cancel request.
		if !p.cancelRequested {
			return reject(CodeCancelledWithoutRequested, entry.Sequence, kind,
				"no prior %s", CancelRequested)
		}

	case *InvokeStartedEvent:
		pid := evt.PromiseID.String()
		// A completed invoke admits no further phases.
		if _, done := p.invokeDone[pid]; done {
			return reject(CodeEventAfterCompleted, entry.Sequence, kind,
				"invoke %s already completed", pid)
		}
		// Starting requires a prior schedule.
		if _, ok := p.scheduled[pid]; !ok {
			return reject(CodeStartedWithoutScheduled, entry.Sequence, kind,
				"invoke %s was never scheduled", pid)
		}

	case *InvokeCompletedEvent:
		pid := evt.PromiseID.String()
		if _, done := p.invokeDone[pid]; done {
			return reject(CodeEventAfterCompleted, entry.Sequence, kind,
				"invoke %s already completed", pid)
		}
		// The completing attempt must have started.
		if _, ok := p.started[pid][evt.Attempt]; !ok {
			return reject(CodeCompletedWithoutStarted, entry.Sequence, kind,
				"attempt %d of invoke %s never started", evt.Attempt, pid)
		}

	case *InvokeRetryingEvent:
		pid := evt.PromiseID.String()
		if _, done := p.invokeDone[pid]; done {
			return reject(CodeEventAfterCompleted, entry.Sequence, kind,
				"invoke %s already completed", pid)
		}
		// The failed attempt must have started.
		if _, ok := p.started[pid][evt.FailedAttempt]; !ok {
			return reject(CodeRetryingWithoutStarted, entry.Sequence, kind,
				"attempt %d of invoke %s never started", evt.FailedAttempt, pid)
		}

	case *TimerFiredEvent:
		// Firing requires a prior schedule.
		if _, ok := p.timers[evt.PromiseID.String()]; !ok {
			return reject(CodeTimerFiredWithoutScheduled, entry.Sequence, kind,
				"timer %s was never scheduled", evt.PromiseID)
		}

	case *SignalReceivedEvent:
		key := deliveryKey(evt.SignalName, evt.DeliveryID)
		// The exact (name, delivery id, payload) triple must exist.
		payload, ok := p.deliveries[key]
		if !ok || payload != string(evt.Payload) {
			return reject(CodeSignalReceivedWithoutDelivery, entry.Sequence, kind,
				"no matching delivery %d of signal %q", evt.DeliveryID, evt.SignalName)
		}
		// Each delivery is consumed at most once.
		if _, dup := p.consumed[key]; dup {
			return reject(CodeSignalConsumedTwice, entry.Sequence, kind,
				"delivery %d of signal %q already consumed", evt.DeliveryID, evt.SignalName)
		}
		// A pending signal wait must be satisfied by the waiting promise.
		if p.status.Phase == PhaseBlocked && p.status.Await.Mode == AwaitSignal && p.status.Await.Signal == evt.SignalName {
			if len(p.status.WaitingOn) != 1 || !p.status.WaitingOn[0].Equal(evt.PromiseID) {
				return reject(CodeAwaitSignalInconsistent, entry.Sequence, kind,
					"signal %q consumed by %s instead of the waiting promise", evt.SignalName, evt.PromiseID)
			}
		}

	case *ExecutionAwaitingEvent:
		// Wait sets have set semantics.
		seen := make(map[string]struct{}, len(evt.WaitingOn))
		for _, id := range evt.WaitingOn {
			key := id.String()
			if _, dup := seen[key]; dup {
				return reject(CodeAwaitWaitingOnDuplicate, entry.Sequence, kind,
					"duplicate id %s in waiting_on", key)
			}
			seen[key] = struct{}{}
		}
		// Signal waits are singletons.
		if evt.Await.Mode == AwaitSignal && len(evt.WaitingOn) != 1 {
			return reject(CodeAwaitSignalInconsistent, entry.Sequence, kind,
				"signal wait must have exactly one waiting id, got %d", len(evt.WaitingOn))
		}

	case *JoinSetSubmittedEvent:
		js := evt.JoinSetID.String()
		pid := evt.PromiseID.String()
		// Submitting requires a created join set.
		if _, ok := p.jsCreated[js]; !ok {
			return reject(CodeSubmitWithoutCreate, entry.Sequence, kind,
				"join set %s was never created", js)
		}
		// A join set admits no submissions once awaited.
		if _, sealed := p.jsSealed[js]; sealed {
			return reject(CodeSubmitAfterAwait, entry.Sequence, kind,
				"join set %s already awaited", js)
		}
		// A promise belongs to at most one join set.
		if owner, ok := p.owner[pid]; ok && owner != js {
			return reject(CodePromiseInMultipleJoinSets, entry.Sequence, kind,
				"promise %s already belongs to join set %s", pid, owner)
		}

	case *JoinSetAwaitedEvent:
		js := evt.JoinSetID.String()
		pid := evt.PromiseID.String()
		// Only members can be awaited.
		if _, ok := p.jsMembers[js][pid]; !ok {
			return reject(CodeAwaitedNotMember, entry.Sequence, kind,
				"promise %s was never submitted to join set %s", pid, js)
		}
		// Only completed members can be consumed.
		if _, ok := p.invokeDone[pid]; !ok {
			return reject(CodeAwaitedNotCompleted, entry.Sequence, kind,
				"promise %s has not completed", pid)
		}
		// Each member is consumed at most once.
		if _, dup := p.jsAwaited[consumeKey(js, pid)]; dup {
			return reject(CodeDoubleConsume, entry.Sequence, kind,
				"promise %s already consumed from join set %s", pid, js)
		}
		// Consumption is bounded by submission.
		if p.jsConsumed[js]+1 > p.jsSubmitted[js] {
			return reject(CodeConsumeExceedsSubmit, entry.Sequence, kind,
				"join set %s has only %d submissions", js, p.jsSubmitted[js])
		}
	}

	return nil
}

// record updates the indexes after an entry has been accepted.
func (p *progress) record(entry Entry) {
	p.status = transition(p.status, entry.Event)
	if entry.Event.Kind().Terminal() {
		p.terminal = true
	}

	switch evt := entry.Event.(type) {
	case *CancelRequestedEvent:
		p.cancelRequested = true
	case *InvokeScheduledEvent:
		p.scheduled[evt.PromiseID.String()] = struct{}{}
	case *InvokeStartedEvent:
		pid := evt.PromiseID.String()
		if p.started[pid] == nil {
			p.started[pid] = make(map[uint32]struct{})
		}
		p.started[pid][evt.Attempt] = struct{}{}
	case *InvokeCompletedEvent:
		p.invokeDone[evt.PromiseID.String()] = struct{}{}
	case *TimerScheduledEvent:
		p.timers[evt.PromiseID.String()] = struct{}{}
	case *SignalDeliveredEvent:
		p.deliveries[deliveryKey(evt.SignalName, evt.DeliveryID)] = string(evt.Payload)
	case *SignalReceivedEvent:
		p.consumed[deliveryKey(evt.SignalName, evt.DeliveryID)] = struct{}{}
	case *JoinSetCreatedEvent:
		p.jsCreated[evt.JoinSetID.String()] = struct{}{}
	case *JoinSetSubmittedEvent:
		js := evt.JoinSetID.String()
		pid := evt.PromiseID.String()
		if p.jsMembers[js] == nil {
			p.jsMembers[js] = make(map[string]struct{})
		}
		p.jsMembers[js][pid] = struct{}{}
		p.jsSubmitted[js]++
		p.owner[pid] = js
	case *JoinSetAwaitedEvent:
		js := evt.JoinSetID.String()
		p.jsAwaited[consumeKey(js, evt.PromiseID.String())] = struct{}{}
		p.jsConsumed[js]++
		p.jsSealed[js] = struct{}{}
	}
}
