// Package mongo implements the low-level MongoDB client used by the journal
// store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

type (
	// Client exposes Mongo-backed operations for the execution journal.
	Client interface {
		health.Pinger

		AppendEntry(ctx context.Context, executionID promise.ExecutionID, e journal.Entry) error
		ReadRange(ctx context.Context, executionID promise.ExecutionID, from, to uint64) ([]journal.Entry, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	// collection abstracts the subset of the driver collection the client
	// uses so tests can substitute fakes.
	collection interface {
		InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error)
		Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	}

	// cursor abstracts driver cursors.
	cursor interface {
		Next(ctx context.Context) bool
		Decode(v any) error
		Err() error
		Close(ctx context.Context) error
	}

	mongoCollection struct {
		coll *mongodriver.Collection
	}

	entryDocument struct {
		ID          primitive.ObjectID `bson:"_id,omitempty"`
		ExecutionID string             `bson:"execution_id"`
		Sequence    int64              `bson:"sequence"`
		Kind        string             `bson:"kind"`
		Payload     []byte             `bson:"payload"`
		Timestamp   time.Time          `bson:"timestamp"`
	}
)

const (
	defaultCollection = "journal_entries"
	defaultTimeout    = 5 * time.Second
	clientName        = "journal-mongo"
)

// New returns a Client backed by the provided MongoDB client. It creates the
// unique (execution_id, sequence) index that gives appends their
// append-with-sequence semantics; uniqueness of sequence 0 per execution is
// what delegates cross-execution root uniqueness to storage.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, mcoll); err != nil {
		return nil, err
	}
	return &client{
		mongo:   opts.Client,
		coll:    mongoCollection{coll: mcoll},
		timeout: timeout,
	}, nil
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "execution_id", Value: 1},
			{Key: "sequence", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create journal index: %w", err)
	}
	return nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// AppendEntry persists one journal entry. A duplicate (execution_id, sequence)
// maps to journal.ErrSequenceConflict, or journal.ErrExecutionExists for the
// first entry of an execution.
func (c *client) AppendEntry(ctx context.Context, executionID promise.ExecutionID, e journal.Entry) error {
	if executionID.IsZero() {
		return errors.New("execution id is required")
	}
	if e.Event == nil {
		return journal.ErrNilEvent
	}
	payload, err := journal.EncodeEvent(e.Event)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := entryDocument{
		ExecutionID: executionID.String(),
		Sequence:    int64(e.Sequence),
		Kind:        string(e.Event.Kind()),
		Payload:     payload,
		Timestamp:   e.Timestamp.UTC(),
	}
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			if e.Sequence == 0 {
				return journal.ErrExecutionExists
			}
			return journal.ErrSequenceConflict
		}
		return err
	}
	return nil
}

// ReadRange returns entries with from <= sequence < to in sequence order. A
// to of zero means no upper bound.
func (c *client) ReadRange(ctx context.Context, executionID promise.ExecutionID, from, to uint64) ([]journal.Entry, error) {
	if executionID.IsZero() {
		return nil, errors.New("execution id is required")
	}
	seq := bson.D{{Key: "$gte", Value: int64(from)}}
	if to > 0 {
		seq = append(seq, bson.E{Key: "$lt", Value: int64(to)})
	}
	filter := bson.D{
		{Key: "execution_id", Value: executionID.String()},
		{Key: "sequence", Value: seq},
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []journal.Entry
	for cur.Next(ctx) {
		var doc entryDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode entry document: %w", err)
		}
		evt, err := journal.DecodeEvent(journal.Kind(doc.Kind), doc.Payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, journal.Entry{
			Sequence:  uint64(doc.Sequence),
			Timestamp: doc.Timestamp,
			Event:     evt,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// InsertOne implements collection.
func (m mongoCollection) InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error) {
	return m.coll.InsertOne(ctx, doc)
}

// Find implements collection.
func (m mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	return m.coll.Find(ctx, filter, opts...)
}
