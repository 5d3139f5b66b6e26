// Package mongo registers MongoDB-backed journal storage for loom hosts.
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain a journal.Store that persists entries with append-with-sequence
// semantics.
package mongo
