// Package pulse exposes a hooks.Subscriber implementation that publishes
// appended journal entries to goa.design/pulse streams, plus a subscriber
// that turns the stream back into typed entries. Services build a Redis
// client, pass it to the Pulse client, and register the sink on the host bus.
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
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish entries. Required.
		Client clientspulse.Client
		// StreamName derives the target Pulse stream from an execution.
		// Defaults to "journal.<execution_id>".
		StreamName func(promise.ExecutionID) string
	}

	// Sink publishes journal entries into per-execution Pulse streams. It
	// implements hooks.Subscriber so hosts can register it on their bus.
	// Thread-safe for concurrent HandleEntry calls.
	Sink struct {
		client clientspulse.Client
		name   func(promise.ExecutionID) string
	}
)

// NewSink constructs a Pulse-backed journal stream sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.StreamName
	if name == nil {
		name = DefaultStreamName
	}
	return &Sink{client: opts.Client, name: name}, nil
}

// DefaultStreamName returns "journal.<execution_id>".
func DefaultStreamName(executionID promise.ExecutionID) string {
	return "journal." + executionID.String()
}

// HandleEntry implements hooks.Subscriber by publishing the canonical encoded
// entry to the execution's stream. The Pulse event name is the journal kind
// so consumers can filter without decoding payloads. Errors propagate to the
// bus, halting the execution when canonical streaming is required and
// unavailable.
func (s *Sink) HandleEntry(ctx context.Context, n hooks.Notification) error {
	payload, err := journal.EncodeEntry(n.Entry)
	if err != nil {
		return err
	}
	stream, err := s.client.Stream(s.name(n.ExecutionID))
	if err != nil {
		return err
	}
	if _, err := stream.Add(ctx, string(n.Entry.Event.Kind()), payload); err != nil {
		return fmt.Errorf("publish journal entry %d: %w", n.Entry.Sequence, err)
	}
	return nil
}

// Close shuts down the underlying Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
