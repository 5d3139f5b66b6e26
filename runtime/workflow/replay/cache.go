// Package replay implements the cached-result lookup table and the host/guest
// replay protocol of the journal core.
//
// A Cache is derived state owned by the replayer for the duration of a single
// replay pass and rebuilt on each resume. It maps every operation's promise ID
// to the recorded result so that re-executed guest code is answered
// synchronously for everything the journal already holds, and suspends at the
// first operation it does not.
package replay

import (
	"encoding/json"
	"strconv"
	"time"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

// ResultKind tags the variants a cache entry can hold.
type ResultKind string

const (
	// ResultInvoke is the final result of a side effect.
	ResultInvoke ResultKind = "invoke"
	// ResultRandom is a recorded entropy draw.
	ResultRandom ResultKind = "random"
	// ResultTime is a recorded clock reading.
	ResultTime ResultKind = "time"
	// ResultTimer marks an elapsed timer.
	ResultTimer ResultKind = "timer"
	// ResultSignal is a consumed signal payload.
	ResultSignal ResultKind = "signal"
)

type (
	// Result is one cached operation outcome. Exactly the field selected by
	// Kind is meaningful.
	Result struct {
		Kind   ResultKind
		Invoke journal.Result
		Random uint64
		Time   time.Time
		Signal json.RawMessage
	}

	// Awaited is one recorded join-set consumption, in guest observation
	// order.
	Awaited struct {
		Promise promise.ID
		Result  journal.Result
	}

	// Delivery is one buffered signal delivery.
	Delivery struct {
		Payload    json.RawMessage
		DeliveryID uint64
	}

	// Cache is the replay lookup table plus the recorded-intent indexes the
	// SDK needs to keep replay idempotent. It is built in one pass over the
	// journal and mutated only by the owning replay Context as it appends new
	// events, so it always mirrors the journal it was built from.
	Cache struct {
		results map[string]Result

		scheduled map[string]struct{}
		timers    map[string]struct{}
		joinSets  map[string]struct{}
		submitted map[string][]promise.ID
		memberOf  map[string]string
		awaited   map[string][]Awaited

		deliveries map[string][]Delivery // per signal name, FIFO by delivery id
		consumed   map[string]struct{}   // (name, delivery id)
	}
)

// FromJournal builds the cache by folding the journal once. Every
// terminal-phase event (InvokeCompleted, RandomGenerated, TimeRecorded,
// TimerFired, SignalReceived) populates exactly one entry; intent-phase events
// populate the idempotency indexes.
func FromJournal(j *journal.Journal) *Cache {
	c := &Cache{
		results:    make(map[string]Result),
		scheduled:  make(map[string]struct{}),
		timers:     make(map[string]struct{}),
		joinSets:   make(map[string]struct{}),
		submitted:  make(map[string][]promise.ID),
		memberOf:   make(map[string]string),
		awaited:    make(map[string][]Awaited),
		deliveries: make(map[string][]Delivery),
		consumed:   make(map[string]struct{}),
	}
	for _, entry := range j.Events() {
		c.apply(entry.Event)
	}
	return c
}

func (c *Cache) apply(e journal.Event) {
	switch evt := e.(type) {
	case *journal.InvokeScheduledEvent:
		c.scheduled[evt.PromiseID.String()] = struct{}{}
	case *journal.InvokeCompletedEvent:
		// Retries share the promise ID; the final completion wins.
		c.results[evt.PromiseID.String()] = Result{Kind: ResultInvoke, Invoke: evt.Result}
	case *journal.RandomGeneratedEvent:
		c.results[evt.PromiseID.String()] = Result{Kind: ResultRandom, Random: evt.Value}
	case *journal.TimeRecordedEvent:
		c.results[evt.PromiseID.String()] = Result{Kind: ResultTime, Time: evt.Time}
	case *journal.TimerScheduledEvent:
		c.timers[evt.PromiseID.String()] = struct{}{}
	case *journal.TimerFiredEvent:
		c.results[evt.PromiseID.String()] = Result{Kind: ResultTimer}
	case *journal.SignalDeliveredEvent:
		c.deliveries[evt.SignalName] = append(c.deliveries[evt.SignalName], Delivery{
			Payload:    evt.Payload,
			DeliveryID: evt.DeliveryID,
		})
	case *journal.SignalReceivedEvent:
		c.results[evt.PromiseID.String()] = Result{Kind: ResultSignal, Signal: evt.Payload}
		c.consumed[deliveryKey(evt.SignalName, evt.DeliveryID)] = struct{}{}
	case *journal.JoinSetCreatedEvent:
		c.joinSets[evt.JoinSetID.String()] = struct{}{}
	case *journal.JoinSetSubmittedEvent:
		js := evt.JoinSetID.String()
		c.submitted[js] = append(c.submitted[js], evt.PromiseID)
		c.memberOf[evt.PromiseID.String()] = js
	case *journal.JoinSetAwaitedEvent:
		js := evt.JoinSetID.String()
		c.awaited[js] = append(c.awaited[js], Awaited{Promise: evt.PromiseID, Result: evt.Result})
	}
}

// Lookup returns the cached result for an operation.
func (c *Cache) Lookup(id promise.ID) (Result, bool) {
	r, ok := c.results[id.String()]
	return r, ok
}

// Len returns the number of cached results.
func (c *Cache) Len() int { return len(c.results) }

// Scheduled reports whether InvokeScheduled was recorded for the promise.
func (c *Cache) Scheduled(id promise.ID) bool {
	_, ok := c.scheduled[id.String()]
	return ok
}

// TimerScheduled reports whether TimerScheduled was recorded for the promise.
func (c *Cache) TimerScheduled(id promise.ID) bool {
	_, ok := c.timers[id.String()]
	return ok
}

// JoinSetCreated reports whether the join set was recorded.
func (c *Cache) JoinSetCreated(id promise.JoinSetID) bool {
	_, ok := c.joinSets[id.String()]
	return ok
}

// Submitted returns the members of a join set in submission order.
func (c *Cache) Submitted(id promise.JoinSetID) []promise.ID {
	return c.submitted[id.String()]
}

// Member reports whether the promise was submitted to the join set.
func (c *Cache) Member(js promise.JoinSetID, id promise.ID) bool {
	return c.memberOf[id.String()] == js.String()
}

// AwaitedOrder returns the recorded consumption order of a join set.
func (c *Cache) AwaitedOrder(id promise.JoinSetID) []Awaited {
	return c.awaited[id.String()]
}

// NextDelivery returns the oldest unconsumed delivery buffered for the signal
// name, if any. FIFO order is by delivery id, which is monotonic per name.
func (c *Cache) NextDelivery(name string) (Delivery, bool) {
	for _, d := range c.deliveries[name] {
		if _, done := c.consumed[deliveryKey(name, d.DeliveryID)]; !done {
			return d, true
		}
	}
	return Delivery{}, false
}

func deliveryKey(name string, id uint64) string {
	return name + "\x00" + strconv.FormatUint(id, 10)
}
