package replay

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

var (
	// ErrJoinSetDrained indicates a Next call on a join set whose every
	// submission has already been consumed.
	ErrJoinSetDrained = errors.New("replay: join set has no remaining submissions")
)

type (
	// Options configures a replay Context.
	Options struct {
		// Journal is the execution's journal. Required.
		Journal *journal.Journal
		// Cache is the lookup table for this pass. Built from Journal when
		// nil. A supplied cache must have been built from the same journal.
		Cache *Cache
		// Rand supplies entropy for first-execution Random calls. Defaults to
		// a crypto/rand reader. Never consulted on a cache hit.
		Rand func() uint64
		// Clock supplies the wall clock for first-execution Now calls and
		// timer deadlines. Defaults to time.Now. Never consulted on a cache
		// hit.
		Clock func() time.Time
	}

	// Context is the SDK surface the guest sees during a replay pass. Each
	// operation derives its promise ID from a per-frame counter, so identical
	// guest code always asks about identical IDs: recorded operations are
	// answered from the cache with no append, and the first unrecorded
	// operation journals its intent and suspends the guest.
	//
	// A Context is created per replay pass and must not be retained across
	// passes.
	Context struct {
		j     *journal.Journal
		cache *Cache
		rand  func() uint64
		clock func() time.Time

		frame frame
	}

	// frame tracks the current position in the call tree and the next child
	// index. Every SDK call that names an operation advances the counter.
	frame struct {
		current promise.ID
		next    uint32
	}

	// InvokeRequest describes a side effect to schedule.
	InvokeRequest struct {
		// Function is the fully qualified function name.
		Function string
		// Kind classifies the transport. Defaults to InvokeKindFunction.
		Kind journal.InvokeKind
		// Input is the JSON-encoded argument payload.
		Input json.RawMessage
		// Retry is the retry policy recorded for the executor.
		Retry journal.RetryPolicy
	}

	// JoinSet is the guest handle for a structured-concurrency region. Handles
	// are pass-scoped like the Context that created them.
	JoinSet struct {
		ctx    *Context
		id     promise.JoinSetID
		cursor int
	}
)

// NewContext builds the SDK surface for one replay pass.
func NewContext(opts Options) (*Context, error) {
	if opts.Journal == nil {
		return nil, errors.New("journal is required")
	}
	cache := opts.Cache
	if cache == nil {
		cache = FromJournal(opts.Journal)
	}
	randFn := opts.Rand
	if randFn == nil {
		randFn = cryptoRand
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Context{
		j:     opts.Journal,
		cache: cache,
		rand:  randFn,
		clock: clock,
		frame: frame{current: opts.Journal.ExecutionID().ID()},
	}, nil
}

func cryptoRand() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("replay: entropy source failed: %v", err))
	}
	return binary.BigEndian.Uint64(b[:])
}

// child derives the next operation ID in the current frame.
func (c *Context) child() (promise.ID, error) {
	id, err := c.frame.current.Child(c.frame.next)
	if err != nil {
		return promise.ID{}, err
	}
	c.frame.next++
	return id, nil
}

// suspend journals the wait and returns the trap. The awaiting event is
// skipped when the journal is already blocked on the identical wait, which
// keeps a host re-entry without satisfaction from growing the journal.
func (c *Context) suspend(waitingOn []promise.ID, await journal.AwaitKind) error {
	if !c.alreadyBlocked(waitingOn, await) {
		if err := c.j.Append(journal.NewExecutionAwaitingEvent(waitingOn, await)); err != nil {
			return err
		}
	}
	return &Suspension{WaitingOn: waitingOn, Await: await}
}

func (c *Context) alreadyBlocked(waitingOn []promise.ID, await journal.AwaitKind) bool {
	st := c.j.Status()
	if st.Phase != journal.PhaseBlocked || st.Await != await || len(st.WaitingOn) != len(waitingOn) {
		return false
	}
	for i, id := range waitingOn {
		if !st.WaitingOn[i].Equal(id) {
			return false
		}
	}
	return true
}

// Invoke performs a side effect. On a cache hit the recorded final result is
// returned synchronously. On a miss the intent is journaled and the guest is
// suspended until an executor completes the invoke.
func (c *Context) Invoke(req InvokeRequest) (journal.Result, error) {
	id, err := c.child()
	if err != nil {
		return journal.Result{}, err
	}
	if res, ok := c.cache.Lookup(id); ok {
		if res.Kind != ResultInvoke {
			return journal.Result{}, fmt.Errorf("replay: operation %s replayed as %s, want %s", id, res.Kind, ResultInvoke)
		}
		return res.Invoke, nil
	}
	if kind := req.Kind; kind == "" {
		req.Kind = journal.InvokeKindFunction
	}
	if !c.cache.Scheduled(id) {
		if err := c.j.Append(journal.NewInvokeScheduledEvent(id, req.Kind, req.Function, req.Input, req.Retry)); err != nil {
			return journal.Result{}, err
		}
		c.cache.scheduled[id.String()] = struct{}{}
	}
	return journal.Result{}, c.suspend([]promise.ID{id}, journal.AwaitKind{Mode: journal.AwaitSingle})
}

// Random returns recorded entropy on replay, or draws from the host source
// and journals it on first execution. Random never suspends.
func (c *Context) Random() (uint64, error) {
	id, err := c.child()
	if err != nil {
		return 0, err
	}
	if res, ok := c.cache.Lookup(id); ok {
		if res.Kind != ResultRandom {
			return 0, fmt.Errorf("replay: operation %s replayed as %s, want %s", id, res.Kind, ResultRandom)
		}
		return res.Random, nil
	}
	v := c.rand()
	if err := c.j.Append(&journal.RandomGeneratedEvent{PromiseID: id, Value: v}); err != nil {
		return 0, err
	}
	c.cache.results[id.String()] = Result{Kind: ResultRandom, Random: v}
	return v, nil
}

// Now returns the recorded clock reading on replay, or reads the host clock
// and journals it on first execution. Now never suspends.
func (c *Context) Now() (time.Time, error) {
	id, err := c.child()
	if err != nil {
		return time.Time{}, err
	}
	if res, ok := c.cache.Lookup(id); ok {
		if res.Kind != ResultTime {
			return time.Time{}, fmt.Errorf("replay: operation %s replayed as %s, want %s", id, res.Kind, ResultTime)
		}
		return res.Time, nil
	}
	now := c.clock().UTC()
	if err := c.j.Append(&journal.TimeRecordedEvent{PromiseID: id, Time: now}); err != nil {
		return time.Time{}, err
	}
	c.cache.results[id.String()] = Result{Kind: ResultTime, Time: now}
	return now, nil
}

// Sleep suspends the guest until the timer fires. A fired timer replays as an
// immediate return.
func (c *Context) Sleep(d time.Duration) error {
	id, err := c.child()
	if err != nil {
		return err
	}
	if res, ok := c.cache.Lookup(id); ok {
		if res.Kind != ResultTimer {
			return fmt.Errorf("replay: operation %s replayed as %s, want %s", id, res.Kind, ResultTimer)
		}
		return nil
	}
	if !c.cache.TimerScheduled(id) {
		evt := &journal.TimerScheduledEvent{PromiseID: id, Duration: d, FireAt: c.clock().UTC().Add(d)}
		if err := c.j.Append(evt); err != nil {
			return err
		}
		c.cache.timers[id.String()] = struct{}{}
	}
	return c.suspend([]promise.ID{id}, journal.AwaitKind{Mode: journal.AwaitSingle})
}

// AwaitSignal consumes the next delivery of the named signal. A buffered
// unconsumed delivery is consumed immediately without blocking; otherwise the
// guest suspends until one arrives.
func (c *Context) AwaitSignal(name string) (json.RawMessage, error) {
	id, err := c.child()
	if err != nil {
		return nil, err
	}
	if res, ok := c.cache.Lookup(id); ok {
		if res.Kind != ResultSignal {
			return nil, fmt.Errorf("replay: operation %s replayed as %s, want %s", id, res.Kind, ResultSignal)
		}
		return res.Signal, nil
	}
	if d, ok := c.cache.NextDelivery(name); ok {
		if err := c.j.Append(journal.NewSignalReceivedEvent(id, name, d.Payload, d.DeliveryID)); err != nil {
			return nil, err
		}
		c.cache.results[id.String()] = Result{Kind: ResultSignal, Signal: d.Payload}
		c.cache.consumed[deliveryKey(name, d.DeliveryID)] = struct{}{}
		return d.Payload, nil
	}
	return nil, c.suspend([]promise.ID{id}, journal.SignalAwait(name))
}

// NewJoinSet opens a structured-concurrency region. Creation is journaled
// once; replay returns a handle over the recorded region.
func (c *Context) NewJoinSet() (*JoinSet, error) {
	id, err := c.child()
	if err != nil {
		return nil, err
	}
	js := promise.NewJoinSetID(id)
	if !c.cache.JoinSetCreated(js) {
		if err := c.j.Append(&journal.JoinSetCreatedEvent{JoinSetID: js}); err != nil {
			return nil, err
		}
		c.cache.joinSets[js.String()] = struct{}{}
	}
	return &JoinSet{ctx: c, id: js}, nil
}

// ID returns the join set identifier.
func (s *JoinSet) ID() promise.JoinSetID { return s.id }

// Submit schedules a side effect as a member of the join set without
// awaiting it. The returned promise ID is consumed later through Next.
func (s *JoinSet) Submit(req InvokeRequest) (promise.ID, error) {
	c := s.ctx
	id, err := c.child()
	if err != nil {
		return promise.ID{}, err
	}
	if c.cache.Member(s.id, id) {
		return id, nil
	}
	if kind := req.Kind; kind == "" {
		req.Kind = journal.InvokeKindFunction
	}
	if !c.cache.Scheduled(id) {
		if err := c.j.Append(journal.NewInvokeScheduledEvent(id, req.Kind, req.Function, req.Input, req.Retry)); err != nil {
			return promise.ID{}, err
		}
		c.cache.scheduled[id.String()] = struct{}{}
	}
	if err := c.j.Append(&journal.JoinSetSubmittedEvent{JoinSetID: s.id, PromiseID: id}); err != nil {
		return promise.ID{}, err
	}
	c.cache.submitted[s.id.String()] = append(c.cache.submitted[s.id.String()], id)
	c.cache.memberOf[id.String()] = s.id.String()
	return id, nil
}

// Next consumes the next completed member of the join set. Replay follows the
// recorded consumption order exactly; on first execution the earliest
// submitted member with a completed invoke is consumed and journaled, fixing
// that order for every future replay. When no member has completed, the guest
// suspends on the remaining submissions with Any semantics.
func (s *JoinSet) Next() (promise.ID, journal.Result, error) {
	c := s.ctx
	recorded := c.cache.AwaitedOrder(s.id)
	if s.cursor < len(recorded) {
		e := recorded[s.cursor]
		s.cursor++
		return e.Promise, e.Result, nil
	}

	consumed := make(map[string]struct{}, len(recorded))
	for _, e := range recorded {
		consumed[e.Promise.String()] = struct{}{}
	}
	var remaining []promise.ID
	for _, pid := range c.cache.Submitted(s.id) {
		if _, done := consumed[pid.String()]; done {
			continue
		}
		if res, ok := c.cache.Lookup(pid); ok && res.Kind == ResultInvoke {
			evt := &journal.JoinSetAwaitedEvent{JoinSetID: s.id, PromiseID: pid, Result: res.Invoke}
			if err := c.j.Append(evt); err != nil {
				return promise.ID{}, journal.Result{}, err
			}
			c.cache.awaited[s.id.String()] = append(c.cache.awaited[s.id.String()], Awaited{Promise: pid, Result: res.Invoke})
			s.cursor++
			return pid, res.Invoke, nil
		}
		remaining = append(remaining, pid)
	}
	if len(remaining) == 0 {
		return promise.ID{}, journal.Result{}, ErrJoinSetDrained
	}
	return promise.ID{}, journal.Result{}, c.suspend(remaining, journal.AwaitKind{Mode: journal.AwaitAny})
}
