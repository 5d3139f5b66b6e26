package mongo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

type fakeCollection struct {
	docs      []entryDocument
	insertErr error
	findErr   error
}

func (f *fakeCollection) InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	d, ok := doc.(entryDocument)
	if !ok {
		panic("unexpected document type")
	}
	for _, existing := range f.docs {
		if existing.ExecutionID == d.ExecutionID && existing.Sequence == d.Sequence {
			return nil, mongodriver.WriteException{
				WriteErrors: mongodriver.WriteErrors{{Code: 11000}},
			}
		}
	}
	f.docs = append(f.docs, d)
	return &mongodriver.InsertOneResult{}, nil
}

func (f *fakeCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	docs := append([]entryDocument(nil), f.docs...)
	for i := 0; i < len(docs); i++ {
		for k := i + 1; k < len(docs); k++ {
			if docs[k].Sequence < docs[i].Sequence {
				docs[i], docs[k] = docs[k], docs[i]
			}
		}
	}
	return &fakeCursor{docs: docs, pos: -1}, nil
}

type fakeCursor struct {
	docs []entryDocument
	pos  int
}

func (c *fakeCursor) Next(ctx context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *fakeCursor) Decode(v any) error {
	*(v.(*entryDocument)) = c.docs[c.pos]
	return nil
}

func (c *fakeCursor) Err() error               { return nil }
func (c *fakeCursor) Close(context.Context) error { return nil }

func testExecutionID(t *testing.T) promise.ExecutionID {
	t.Helper()
	return promise.RootFor(promise.DigestOf([]byte("component")), nil, "mongo-test")
}

func testEntry(t *testing.T, seq uint64) journal.Entry {
	t.Helper()
	var evt journal.Event
	if seq == 0 {
		evt = journal.NewExecutionStartedEvent(promise.DigestOf([]byte("component")), json.RawMessage(`{}`), nil, "mongo-test")
	} else {
		evt = &journal.CancelRequestedEvent{Reason: "test"}
	}
	return journal.Entry{Sequence: seq, Timestamp: time.Unix(int64(seq), 0).UTC(), Event: evt}
}

func TestClientAppendAndReadRange(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	c := &client{coll: coll}
	execID := testExecutionID(t)
	ctx := context.Background()

	require.NoError(t, c.AppendEntry(ctx, execID, testEntry(t, 0)))
	require.NoError(t, c.AppendEntry(ctx, execID, testEntry(t, 1)))

	entries, err := c.ReadRange(ctx, execID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(0), entries[0].Sequence)
	assert.Equal(t, journal.ExecutionStarted, entries[0].Event.Kind())
	assert.Equal(t, journal.CancelRequested, entries[1].Event.Kind())

	// The decoded entries revalidate as a journal.
	j, err := journal.Load(execID, entries)
	require.NoError(t, err)
	assert.Equal(t, journal.PhaseCancelling, j.Status().Phase)
}

func TestClientAppendSequenceConflict(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	c := &client{coll: coll}
	execID := testExecutionID(t)
	ctx := context.Background()

	require.NoError(t, c.AppendEntry(ctx, execID, testEntry(t, 0)))
	require.ErrorIs(t, c.AppendEntry(ctx, execID, testEntry(t, 0)), journal.ErrExecutionExists)

	require.NoError(t, c.AppendEntry(ctx, execID, testEntry(t, 1)))
	require.ErrorIs(t, c.AppendEntry(ctx, execID, testEntry(t, 1)), journal.ErrSequenceConflict)
}

func TestClientAppendRequiresEvent(t *testing.T) {
	t.Parallel()

	c := &client{coll: &fakeCollection{}}
	err := c.AppendEntry(context.Background(), testExecutionID(t), journal.Entry{Sequence: 0})
	require.ErrorIs(t, err, journal.ErrNilEvent)
}

func TestClientReadRangeBounds(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	c := &client{coll: coll}
	execID := testExecutionID(t)
	ctx := context.Background()

	for seq := uint64(0); seq < 4; seq++ {
		require.NoError(t, c.AppendEntry(ctx, execID, testEntry(t, seq)))
	}

	// The fake ignores the filter document, so only the unbounded read
	// (to == 0) is checked here: it returns every appended entry. The
	// $gte/$lt range filter itself is not exercised by this test.
	entries, err := c.ReadRange(ctx, execID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Client: &mongodriver.Client{}})
	require.Error(t, err)
}
