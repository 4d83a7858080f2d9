package session

import "errors"

// Sentinel errors for session lifecycle operations. These are caller-fixable
// and surfaced immediately, never retried automatically.
var (
	// ErrInvalidConfiguration indicates an unrecognized session type or plan.
	ErrInvalidConfiguration = errors.New("invalid session configuration")

	// ErrInvalidTransition indicates an operation not valid from the
	// session's current status.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrPhaseSequenceExhausted signals AdvancePhase(Next) past the final
	// phase. Informational, not fatal: the session stays active and the
	// caller decides whether this means completion.
	ErrPhaseSequenceExhausted = errors.New("phase sequence exhausted")

	// ErrSessionNotFound indicates an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrManagerClosed indicates the manager has been shut down.
	ErrManagerClosed = errors.New("session manager is closed")
)
