package pulse

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/loom/features/journal/stream/pulse/clients/pulse"
	"goa.design/loom/runtime/workflow/hooks"
	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

type fakeClient struct {
	streams map[string]*fakeStream
}

func newFakeClient() *fakeClient {
	return &fakeClient{streams: make(map[string]*fakeStream)}
}

func (c *fakeClient) Stream(name string, opts ...streamopts.Stream) (clientspulse.Stream, error) {
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(ctx context.Context) error { return nil }

type fakeStream struct {
	events   []string
	payloads [][]byte
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
	return "1-0", nil
}

func (s *fakeStream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
	return nil, nil
}

func (s *fakeStream) Destroy(ctx context.Context) error { return nil }

func testNotification(t *testing.T) hooks.Notification {
	t.Helper()
	component := promise.DigestOf([]byte("component"))
	execID := promise.RootFor(component, nil, "pulse-test")
	return hooks.Notification{
		ExecutionID: execID,
		Entry: journal.Entry{
			Sequence: 0,
			Event:    journal.NewExecutionStartedEvent(component, json.RawMessage(`{}`), nil, "pulse-test"),
		},
	}
}

func TestSinkPublishesCanonicalEntries(t *testing.T) {
	client := newFakeClient()
	sink, err := NewSink(Options{Client: client})
	require.NoError(t, err)

	n := testNotification(t)
	require.NoError(t, sink.HandleEntry(context.Background(), n))

	stream, ok := client.streams[DefaultStreamName(n.ExecutionID)]
	require.True(t, ok)
	require.Len(t, stream.events, 1)
	assert.Equal(t, string(journal.ExecutionStarted), stream.events[0])

	// The payload is the canonical entry encoding.
	decoded, err := journal.DecodeEntry(stream.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, n.Entry.Sequence, decoded.Sequence)
	assert.Equal(t, journal.ExecutionStarted, decoded.Event.Kind())
}

func TestSinkCustomStreamName(t *testing.T) {
	client := newFakeClient()
	sink, err := NewSink(Options{
		Client:     client,
		StreamName: func(promise.ExecutionID) string { return "audit" },
	})
	require.NoError(t, err)

	require.NoError(t, sink.HandleEntry(context.Background(), testNotification(t)))
	_, ok := client.streams["audit"]
	assert.True(t, ok)
}

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := NewSink(Options{})
	require.Error(t, err)
}
