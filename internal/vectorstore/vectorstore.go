// Package vectorstore defines the interface for fingerprint persistence and
// nearest-neighbor retrieval.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRecord indicates a record that cannot be stored, such as a
	// vector whose dimensionality does not match the store's configuration.
	// Mismatched vectors are never padded or truncated.
	ErrInvalidRecord = errors.New("invalid embedding record")

	// ErrMissingOwner indicates an operation without an owner scope.
	// Owner scoping is fail-closed: no operation runs unscoped.
	ErrMissingOwner = errors.New("owner ID is required")

	// ErrUnavailable indicates the store could not serve the request.
	// Callers treat this as degrade-and-continue.
	ErrUnavailable = errors.New("vector store unavailable")
)

// SourceType identifies what kind of material produced an embedding record.
type SourceType string

const (
	// SourceJournal marks records derived from free-form journal entries.
	SourceJournal SourceType = "journal"
	// SourceTherapy marks records derived from finalized therapy sessions.
	SourceTherapy SourceType = "therapy"
)

// Record is one persisted embedding with its provenance.
//
// ID is derived from (SourceType, SourceID) by the caller so that re-storing
// the same source replaces the earlier record instead of duplicating it.
type Record struct {
	ID         string
	OwnerID    string
	SourceType SourceType
	SourceID   string
	Text       string

	// Vector is the fixed-dimensionality fingerprint. Nil means the
	// fingerprint service was unavailable when the record was persisted;
	// such records are kept for later backfill but excluded from
	// neighbor queries.
	Vector []float32

	Tags      []string
	CreatedAt time.Time
}

// Embedded reports whether the record carries a real fingerprint.
func (r Record) Embedded() bool {
	return len(r.Vector) > 0
}

// Neighbor is one nearest-neighbor query result.
type Neighbor struct {
	Record Record

	// Score is the similarity score (higher = more similar).
	Score float32
}

// Query configures a nearest-neighbor retrieval.
type Query struct {
	// K is the maximum number of neighbors to return.
	K int

	// SourceType, when non-empty, restricts results to one source type.
	// Empty matches both journal and therapy records.
	SourceType SourceType
}

// Store persists embedding records and retrieves comparable neighbors.
//
// All operations are scoped to an owner (the user); records from one owner
// are never visible to queries for another.
type Store interface {
	// Upsert stores a record, replacing any prior record with the same ID.
	Upsert(ctx context.Context, rec Record) error

	// QueryNearest returns up to q.K records owned by ownerID, ranked by
	// similarity to vector (most similar first). Records persisted without
	// a fingerprint are excluded.
	QueryNearest(ctx context.Context, ownerID string, vector []float32, q Query) ([]Neighbor, error)

	// Delete removes the owner's records with the given IDs.
	Delete(ctx context.Context, ownerID string, ids []string) error

	// Close releases store resources.
	Close() error
}
