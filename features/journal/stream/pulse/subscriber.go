package pulse

import (
	"context"
	"errors"
	"fmt"

	clientspulse "goa.design/loom/features/journal/stream/pulse/clients/pulse"
	"goa.design/loom/runtime/workflow/hooks"
	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

type (
	// SubscriberOptions configures a journal stream subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume entries. Required.
		Client clientspulse.Client
		// ExecutionID selects the execution stream to follow. Required.
		ExecutionID promise.ExecutionID
		// SinkName is the consumer-group name. Required so independent
		// consumers (UI fan-out, audit drain) keep separate read positions.
		SinkName string
		// StreamName overrides the stream naming scheme. Defaults to
		// DefaultStreamName.
		StreamName func(promise.ExecutionID) string
	}

	// Subscriber consumes a journal stream and hands decoded entries to a
	// handler. Events are acknowledged only after the handler returns nil so
	// a crashed consumer resumes from its last unacknowledged entry.
	Subscriber struct {
		executionID promise.ExecutionID
		sink        clientspulse.Sink
	}
)

// NewSubscriber opens a consumer group on the execution's journal stream.
func NewSubscriber(ctx context.Context, opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.ExecutionID.IsZero() {
		return nil, errors.New("execution id is required")
	}
	if opts.SinkName == "" {
		return nil, errors.New("sink name is required")
	}
	name := opts.StreamName
	if name == nil {
		name = DefaultStreamName
	}
	stream, err := opts.Client.Stream(name(opts.ExecutionID))
	if err != nil {
		return nil, err
	}
	sink, err := stream.NewSink(ctx, opts.SinkName)
	if err != nil {
		return nil, fmt.Errorf("create pulse sink: %w", err)
	}
	return &Subscriber{executionID: opts.ExecutionID, sink: sink}, nil
}

// Consume delivers decoded entries to handle until the context is canceled or
// the stream channel closes. A handler error stops consumption and leaves the
// event unacknowledged.
func (s *Subscriber) Consume(ctx context.Context, handle func(context.Context, hooks.Notification) error) error {
	events := s.sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			entry, err := journal.DecodeEntry(evt.Payload)
			if err != nil {
				return err
			}
			if err := handle(ctx, hooks.Notification{ExecutionID: s.executionID, Entry: entry}); err != nil {
				return err
			}
			if err := s.sink.Ack(ctx, evt); err != nil {
				return fmt.Errorf("ack journal entry %d: %w", entry.Sequence, err)
			}
		}
	}
}

// Close stops the subscriber and releases the consumer group resources.
func (s *Subscriber) Close(ctx context.Context) {
	s.sink.Close(ctx)
}
