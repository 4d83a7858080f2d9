// Package recordstore persists finalized sessions. The Firestore-backed
// store is the production implementation; the in-memory store backs tests
// and local development.
package recordstore

import (
	"context"
	"errors"

	"github.com/innerverselabs/reflectd/internal/session"
)

// Sentinel errors.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid record store configuration")

	// ErrNotFound indicates the requested session record does not exist.
	ErrNotFound = errors.New("session record not found")

	// ErrUnavailable indicates the backing store could not be reached.
	// Writes failing with this error are retryable via Manager.Persist.
	ErrUnavailable = errors.New("record store unavailable")
)

// Store is the durable home of finalized sessions. Implementations must be
// safe for concurrent use.
type Store interface {
	// PutSession writes a finalized session, keyed by user and session ID.
	// Rewriting the same session ID overwrites the previous record.
	PutSession(ctx context.Context, fs *session.FinalizedSession) error

	// GetSession fetches one finalized session by user and session ID.
	GetSession(ctx context.Context, userID, sessionID string) (*session.FinalizedSession, error)

	// ListSessions returns a user's finalized sessions, most recent first.
	// A limit of 0 means no limit.
	ListSessions(ctx context.Context, userID string, limit int) ([]*session.FinalizedSession, error)

	// Close releases the store's resources.
	Close() error
}
