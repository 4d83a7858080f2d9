package recordstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/innerverselabs/reflectd/internal/session"
)

// MemoryStore is an in-memory Store for tests and local development. It
// mirrors the Firestore store's semantics: keyed by user and session ID,
// overwrite on repeated put, listed most recent first.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*session.FinalizedSession // userID -> sessionID -> record
	failPuts bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[string]*session.FinalizedSession),
	}
}

// FailPuts toggles write-failure injection. While enabled, PutSession
// returns ErrUnavailable.
func (s *MemoryStore) FailPuts(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = fail
}

// PutSession stores a copy of the finalized session.
func (s *MemoryStore) PutSession(_ context.Context, fs *session.FinalizedSession) error {
	if fs.UserID == "" || fs.SessionID == "" {
		return fmt.Errorf("%w: user ID and session ID are required", ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPuts {
		return fmt.Errorf("%w: writes disabled", ErrUnavailable)
	}

	user, ok := s.sessions[fs.UserID]
	if !ok {
		user = make(map[string]*session.FinalizedSession)
		s.sessions[fs.UserID] = user
	}
	cp := *fs
	cp.Phases = append([]session.PhaseRecord(nil), fs.Phases...)
	user[fs.SessionID] = &cp
	return nil
}

// GetSession fetches one finalized session.
func (s *MemoryStore) GetSession(_ context.Context, userID, sessionID string) (*session.FinalizedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fs, ok := s.sessions[userID][sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	cp := *fs
	cp.Phases = append([]session.PhaseRecord(nil), fs.Phases...)
	return &cp, nil
}

// ListSessions returns a user's finalized sessions, most recent first.
func (s *MemoryStore) ListSessions(_ context.Context, userID string, limit int) ([]*session.FinalizedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session.FinalizedSession
	for _, fs := range s.sessions[userID] {
		cp := *fs
		cp.Phases = append([]session.PhaseRecord(nil), fs.Phases...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
