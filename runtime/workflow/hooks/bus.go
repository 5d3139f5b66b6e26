// Package hooks implements fan-out hooks for journal observability.
//
// Hosts publish every successfully appended journal entry to a Bus so that
// subscribers (streaming sinks, metrics drains, audit stores) can observe
// executions without coupling to the host. Delivery is synchronous and
// fail-fast: a subscriber error halts delivery and is surfaced to the
// publisher, which lets critical subscribers stop an execution whose
// canonical side channels are unavailable.
package hooks

import (
	"context"
	"errors"
	"sync"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

type (
	// Notification is one appended journal entry together with the execution
	// that owns it.
	Notification struct {
		// ExecutionID identifies the journal the entry belongs to.
		ExecutionID promise.ExecutionID
		// Entry is the appended entry.
		Entry journal.Entry
	}

	// Bus publishes appended entries to registered subscribers in a fan-out
	// pattern. The bus is thread-safe and supports concurrent Publish,
	// Register, and Close operations.
	Bus interface {
		// Publish delivers the notification to every currently registered
		// subscriber in registration order, stopping at the first error.
		Publish(ctx context.Context, n Notification) error

		// Register adds a subscriber to the bus and returns a Subscription
		// that can be closed to unregister. Register returns an error if sub
		// is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published journal entries. Implementations must be
	// thread-safe if registered with multiple buses. HandleEntry should return
	// an error only when processing fails in a way that should halt the
	// execution; non-critical failures should be logged and ignored.
	Subscriber interface {
		HandleEntry(ctx context.Context, n Notification) error
	}

	// SubscriberFunc adapts an ordinary function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, n Notification) error

	// Subscription represents an active registration on a Bus. Close is
	// idempotent and thread-safe.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		order       []*subscription
		subscribers map[*subscription]Subscriber
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEntry implements Subscriber by invoking the function.
func (fn SubscriberFunc) HandleEntry(ctx context.Context, n Notification) error {
	return fn(ctx, n)
}

// NewBus constructs a new in-memory bus. The returned bus is thread-safe and
// ready for immediate use.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

// Publish delivers the notification to every registered subscriber in
// registration order. The snapshot of subscribers is captured before
// iteration, so registrations during Publish do not affect the current
// delivery.
func (b *bus) Publish(ctx context.Context, n Notification) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.order))
	for _, s := range b.order {
		if sub, ok := b.subscribers[s]; ok {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEntry(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a subscriber and returns its subscription handle.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.order = append(b.order, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Always returns nil.
func (s *subscription) Close() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		delete(b.subscribers, s)
		for i, cur := range b.order {
			if cur == s {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	})
	return nil
}
