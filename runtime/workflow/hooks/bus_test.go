package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

func testNotification(t *testing.T) Notification {
	t.Helper()
	component := promise.DigestOf([]byte("component"))
	execID := promise.RootFor(component, nil, "bus-test")
	return Notification{
		ExecutionID: execID,
		Entry: journal.Entry{
			Sequence: 0,
			Event:    journal.NewExecutionStartedEvent(component, nil, nil, "bus-test"),
		},
	}
}

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, n Notification) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	n := testNotification(t)
	require.NoError(t, bus.Publish(ctx, n))
	require.NoError(t, bus.Publish(ctx, n))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	count := 0
	sub := SubscriberFunc(func(ctx context.Context, n Notification) error {
		count++
		return nil
	})
	subscription, err := bus.Register(sub)
	require.NoError(t, err)

	n := testNotification(t)
	require.NoError(t, bus.Publish(ctx, n))
	require.NoError(t, subscription.Close())
	require.NoError(t, bus.Publish(ctx, n))
	require.Equal(t, 1, count)

	// Close is idempotent.
	require.NoError(t, subscription.Close())
}

func TestBusFailFast(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	boom := errors.New("sink unavailable")
	_, err := bus.Register(SubscriberFunc(func(ctx context.Context, n Notification) error {
		return boom
	}))
	require.NoError(t, err)

	reached := false
	_, err = bus.Register(SubscriberFunc(func(ctx context.Context, n Notification) error {
		reached = true
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(ctx, testNotification(t))
	require.ErrorIs(t, err, boom)
	assert.False(t, reached)
}
