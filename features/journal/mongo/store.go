// Package mongo wires the journal.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/loom/features/journal/mongo/clients/mongo"
	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/promise"
)

// Store implements journal.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed journal store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// AppendEntry implements journal.Store.
func (s *Store) AppendEntry(ctx context.Context, executionID promise.ExecutionID, e journal.Entry) error {
	return s.client.AppendEntry(ctx, executionID, e)
}

// ReadRange implements journal.Store.
func (s *Store) ReadRange(ctx context.Context, executionID promise.ExecutionID, from, to uint64) ([]journal.Entry, error) {
	return s.client.ReadRange(ctx, executionID, from, to)
}
