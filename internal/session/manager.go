// Package session tracks wall-clock progress of timed sessions entirely in
// memory. A session incurs exactly one durable write, at completion; status
// reads are free and safe to poll at any rate.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innerverselabs/reflectd/internal/logging"
)

const instrumentationName = "github.com/innerverselabs/reflectd/internal/session"

// RecordStore is the durable sink for finalized sessions. Only Complete and
// Persist touch it; nothing in the per-tick path does.
type RecordStore interface {
	PutSession(ctx context.Context, fs *FinalizedSession) error
}

// Config configures the session manager.
type Config struct {
	// MaxDurationFactor bounds a session's wall-clock lifetime at
	// factor x planned total. Sessions past the bound are abandoned on
	// the next mutating call. Default: 2.
	MaxDurationFactor float64 `koanf:"max_duration_factor"`

	// CompletedBuffer is the capacity of the finalized-session channel.
	// Default: 64.
	CompletedBuffer int `koanf:"completed_buffer"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxDurationFactor: 2,
		CompletedBuffer:   64,
	}
}

// state is the mutable per-session record. Guarded by its entry's mutex.
type state struct {
	id          string
	userID      string
	sessionType Type
	plan        Plan
	phases      []PhaseDefinition
	status      Status

	startedAt   time.Time
	pausedAt    time.Time // zero unless paused
	pausedTotal time.Duration
	maxDuration time.Duration

	phaseIndex          int
	phaseEnteredAt      time.Time
	phaseEnteredElapsed time.Duration
	records             []PhaseRecord
}

// entry pairs a session with its own lock. Operations on independent
// sessions never contend; calls against the same session serialize here.
type entry struct {
	mu sync.Mutex
	st *state
}

// Manager owns all in-flight sessions, keyed by session ID.
type Manager struct {
	config *Config
	store  RecordStore
	logger *logging.Logger
	now    func() time.Time

	tracer          trace.Tracer
	meter           metric.Meter
	startCounter    metric.Int64Counter
	completeCounter metric.Int64Counter
	abandonCounter  metric.Int64Counter

	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool

	completed chan *FinalizedSession
}

// NewManager creates a session manager. The store receives exactly one write
// per completed session; pass nil only in tests that never complete.
func NewManager(cfg *Config, store RecordStore, logger *logging.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxDurationFactor <= 0 {
		cfg.MaxDurationFactor = 2
	}
	if cfg.CompletedBuffer <= 0 {
		cfg.CompletedBuffer = 64
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &Manager{
		config:    cfg,
		store:     store,
		logger:    logger,
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		sessions:  make(map[string]*entry),
		completed: make(chan *FinalizedSession, cfg.CompletedBuffer),
	}
	m.initMetrics()
	return m
}

// initMetrics initializes OpenTelemetry metrics.
func (m *Manager) initMetrics() {
	var err error

	m.startCounter, err = m.meter.Int64Counter(
		"reflectd.session.starts_total",
		metric.WithDescription("Total number of sessions started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create start counter", zap.Error(err))
	}

	m.completeCounter, err = m.meter.Int64Counter(
		"reflectd.session.completions_total",
		metric.WithDescription("Total number of sessions completed"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create complete counter", zap.Error(err))
	}

	m.abandonCounter, err = m.meter.Int64Counter(
		"reflectd.session.abandons_total",
		metric.WithDescription("Total number of sessions abandoned"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create abandon counter", zap.Error(err))
	}
}

// Completed exposes finalized sessions for downstream consumers (pattern
// analysis). The manager knows nothing about what happens on the other end.
func (m *Manager) Completed() <-chan *FinalizedSession {
	return m.completed
}

// Start allocates a new session in Active at phase index 0.
func (m *Manager) Start(ctx context.Context, userID string, t Type, plan Plan) (*Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "session.start")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_type", string(t)),
		attribute.String("plan", string(plan)),
	)

	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidConfiguration)
	}

	phases, err := PhaseSequence(t, plan)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if t == TypeTherapy && plan == "" {
		plan = PlanStandard60
	}
	if t == TypeExercise {
		plan = ""
	}

	now := m.now()
	st := &state{
		id:             uuid.New().String(),
		userID:         userID,
		sessionType:    t,
		plan:           plan,
		phases:         phases,
		status:         StatusActive,
		startedAt:      now,
		maxDuration:    time.Duration(float64(PlannedTotal(phases)) * m.config.MaxDurationFactor),
		phaseEnteredAt: now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.sessions[st.id] = &entry{st: st}
	m.mu.Unlock()

	if m.startCounter != nil {
		m.startCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("session_type", string(t)),
		))
	}

	ctx = logging.WithUserID(logging.WithSessionID(ctx, st.id), userID)
	m.logger.Info(ctx, "session started",
		zap.String("session_type", string(t)),
		zap.String("plan", string(plan)),
		zap.Duration("planned", PlannedTotal(phases)),
	)

	span.SetAttributes(attribute.String("session_id", st.id))
	snap := m.snapshot(st, now)
	return &snap, nil
}

// withSession runs fn with the session's entry locked. The manager map lock
// is released before the entry lock is taken; locks are never nested.
func (m *Manager) withSession(sessionID string, fn func(st *state) error) error {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return ErrManagerClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.st)
}

// activeElapsed is elapsed wall time minus accumulated pauses. Frozen while
// paused.
func (m *Manager) activeElapsed(st *state, now time.Time) time.Duration {
	if st.status == StatusPaused {
		return st.pausedAt.Sub(st.startedAt) - st.pausedTotal
	}
	return now.Sub(st.startedAt) - st.pausedTotal
}

// enforceBound abandons a session that has exceeded its maximum allowed
// wall-clock duration. Returns true if the session was abandoned.
func (m *Manager) enforceBound(ctx context.Context, st *state, now time.Time) bool {
	if st.status.Terminal() {
		return false
	}
	if now.Sub(st.startedAt) <= st.maxDuration {
		return false
	}
	st.status = StatusAbandoned
	if m.abandonCounter != nil {
		m.abandonCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "max_duration")))
	}
	m.logger.Warn(logging.WithSessionID(ctx, st.id), "session exceeded maximum duration, abandoned",
		zap.Duration("max_duration", st.maxDuration),
	)
	return true
}

// Pause suspends an active session. Paused time is excluded from all
// reported durations.
func (m *Manager) Pause(ctx context.Context, sessionID string) (*Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "session.pause")
	defer span.End()

	var snap Snapshot
	err := m.withSession(sessionID, func(st *state) error {
		now := m.now()
		if m.enforceBound(ctx, st, now) {
			return fmt.Errorf("%w: session abandoned after exceeding maximum duration", ErrInvalidTransition)
		}
		if st.status != StatusActive {
			return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, st.status)
		}
		st.pausedAt = now
		st.status = StatusPaused
		snap = m.snapshot(st, now)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &snap, nil
}

// Resume reactivates a paused session, folding the pause interval into the
// accumulated pause total.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "session.resume")
	defer span.End()

	var snap Snapshot
	err := m.withSession(sessionID, func(st *state) error {
		now := m.now()
		if m.enforceBound(ctx, st, now) {
			return fmt.Errorf("%w: session abandoned after exceeding maximum duration", ErrInvalidTransition)
		}
		if st.status != StatusPaused {
			return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, st.status)
		}
		st.pausedTotal += now.Sub(st.pausedAt)
		st.pausedAt = time.Time{}
		st.status = StatusActive
		snap = m.snapshot(st, now)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &snap, nil
}

// AdvancePhase closes the current phase record and opens the adjacent one.
// Next past the final phase is a no-op returning ErrPhaseSequenceExhausted;
// Previous before the first phase is an invalid transition.
func (m *Manager) AdvancePhase(ctx context.Context, sessionID string, dir Direction) (*Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "session.advance_phase")
	defer span.End()

	span.SetAttributes(attribute.String("direction", string(dir)))

	var snap Snapshot
	err := m.withSession(sessionID, func(st *state) error {
		now := m.now()
		if m.enforceBound(ctx, st, now) {
			return fmt.Errorf("%w: session abandoned after exceeding maximum duration", ErrInvalidTransition)
		}
		if st.status != StatusActive {
			return fmt.Errorf("%w: cannot advance phase from %s", ErrInvalidTransition, st.status)
		}

		switch dir {
		case Next:
			if st.phaseIndex >= len(st.phases)-1 {
				snap = m.snapshot(st, now)
				return ErrPhaseSequenceExhausted
			}
			m.closePhase(st, now)
			st.phaseIndex++
		case Previous:
			if st.phaseIndex == 0 {
				return fmt.Errorf("%w: already at first phase", ErrInvalidTransition)
			}
			m.closePhase(st, now)
			st.phaseIndex--
		default:
			return fmt.Errorf("%w: unknown direction %q", ErrInvalidTransition, dir)
		}

		m.openPhase(st, now)
		snap = m.snapshot(st, now)

		m.logger.Debug(logging.WithSessionID(ctx, st.id), "phase advanced",
			zap.String("direction", string(dir)),
			zap.String("phase", st.phases[st.phaseIndex].Name),
		)
		return nil
	})
	if err != nil && !errors.Is(err, ErrPhaseSequenceExhausted) {
		span.RecordError(err)
		return nil, err
	}
	// ErrPhaseSequenceExhausted is informational: return the snapshot too.
	return &snap, err
}

// Status returns a point-in-time snapshot. Pure read: never mutates state,
// never touches durable storage.
func (m *Manager) Status(ctx context.Context, sessionID string) (*Snapshot, error) {
	var snap Snapshot
	err := m.withSession(sessionID, func(st *state) error {
		snap = m.snapshot(st, m.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Complete closes the open phase, transitions to Completed, issues the one
// durable write, and emits the finalized session for analysis.
//
// If the durable write fails, the result still carries the computed timing
// with PersistenceDeferred set; the caller retries via Persist. Timing is
// never recomputed from storage.
func (m *Manager) Complete(ctx context.Context, sessionID, notes string) (*FinalizedSession, error) {
	ctx, span := m.tracer.Start(ctx, "session.complete")
	defer span.End()

	var fs *FinalizedSession
	err := m.withSession(sessionID, func(st *state) error {
		now := m.now()
		if m.enforceBound(ctx, st, now) {
			return fmt.Errorf("%w: session abandoned after exceeding maximum duration", ErrInvalidTransition)
		}
		if st.status != StatusActive && st.status != StatusPaused {
			return fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, st.status)
		}

		if st.status == StatusPaused {
			st.pausedTotal += now.Sub(st.pausedAt)
			st.pausedAt = time.Time{}
			st.status = StatusActive
		}

		m.closePhase(st, now)
		st.status = StatusCompleted

		phases := make([]PhaseRecord, len(st.records))
		copy(phases, st.records)

		fs = &FinalizedSession{
			SessionID:     st.id,
			UserID:        st.userID,
			Type:          st.sessionType,
			Plan:          st.plan,
			Notes:         notes,
			StartedAt:     st.startedAt,
			CompletedAt:   now,
			Phases:        phases,
			TotalDuration: now.Sub(st.startedAt),
			PausedTotal:   st.pausedTotal,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ctx = logging.WithUserID(logging.WithSessionID(ctx, fs.SessionID), fs.UserID)

	if m.store != nil {
		if perr := m.store.PutSession(ctx, fs); perr != nil {
			fs.PersistenceDeferred = true
			m.logger.Warn(ctx, "durable session write failed, persistence deferred", zap.Error(perr))
		}
	}

	if m.completeCounter != nil {
		m.completeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("session_type", string(fs.Type)),
			attribute.Bool("persistence_deferred", fs.PersistenceDeferred),
		))
	}

	m.logger.Info(ctx, "session completed",
		zap.Duration("total", fs.TotalDuration),
		zap.Duration("paused", fs.PausedTotal),
		zap.Int("phases", len(fs.Phases)),
		zap.Bool("persistence_deferred", fs.PersistenceDeferred),
	)

	m.emit(fs)
	return fs, nil
}

// Persist retries the durable write for a finalized session whose write was
// deferred. The timing in fs is authoritative; nothing is recomputed.
func (m *Manager) Persist(ctx context.Context, fs *FinalizedSession) error {
	if m.store == nil {
		return fmt.Errorf("%w: no record store configured", ErrInvalidConfiguration)
	}
	if err := m.store.PutSession(ctx, fs); err != nil {
		return err
	}
	fs.PersistenceDeferred = false
	return nil
}

// Abandon forcibly terminates an active or paused session. No durable write,
// no analysis.
func (m *Manager) Abandon(ctx context.Context, sessionID string) error {
	ctx, span := m.tracer.Start(ctx, "session.abandon")
	defer span.End()

	err := m.withSession(sessionID, func(st *state) error {
		if st.status != StatusActive && st.status != StatusPaused {
			return fmt.Errorf("%w: cannot abandon from %s", ErrInvalidTransition, st.status)
		}
		st.status = StatusAbandoned
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if m.abandonCounter != nil {
		m.abandonCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "explicit")))
	}
	m.logger.Info(logging.WithSessionID(ctx, sessionID), "session abandoned")
	return nil
}

// Discard drops a terminal session from memory. The finalized copy, if any,
// already left through Complete.
func (m *Manager) Discard(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	e.mu.Lock()
	terminal := e.st.status.Terminal()
	e.mu.Unlock()
	if !terminal {
		return fmt.Errorf("%w: cannot discard %s session", ErrInvalidTransition, e.st.status)
	}
	delete(m.sessions, sessionID)
	return nil
}

// Close shuts the manager down. In-flight sessions stay readable until the
// process exits; the completed channel is closed so consumers drain and stop.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.completed)
	return nil
}

// emit hands a finalized session to the completed channel without blocking.
// Analysis is best-effort: if the buffer is full the event is dropped and
// logged, never allowed to stall completion.
func (m *Manager) emit(fs *FinalizedSession) {
	// The read lock must span the send: Close sets closed and closes the
	// channel under the write lock, so releasing early would let a send
	// race the close. The send never blocks, so Close cannot deadlock
	// waiting on us.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.completed <- fs:
	default:
		m.logger.Warn(context.Background(), "completed-session buffer full, dropping analysis event",
			zap.String("session_id", fs.SessionID),
		)
	}
}

// closePhase seals the current phase into an immutable record. Durations
// exclude paused intervals.
func (m *Manager) closePhase(st *state, now time.Time) {
	elapsed := m.activeElapsed(st, now)
	st.records = append(st.records, PhaseRecord{
		Name:            st.phases[st.phaseIndex].Name,
		EnteredAt:       st.phaseEnteredAt,
		ExitedAt:        now,
		DurationSeconds: (elapsed - st.phaseEnteredElapsed).Seconds(),
	})
}

// openPhase marks entry into the phase at the current index.
func (m *Manager) openPhase(st *state, now time.Time) {
	st.phaseEnteredAt = now
	st.phaseEnteredElapsed = m.activeElapsed(st, now)
}

// snapshot builds a read-only view of the session at the given instant.
func (m *Manager) snapshot(st *state, now time.Time) Snapshot {
	elapsed := m.activeElapsed(st, now)
	planned := PlannedTotal(st.phases)

	phase := st.phases[st.phaseIndex]
	remain := phase.Duration - (elapsed - st.phaseEnteredElapsed)
	if remain < 0 {
		remain = 0
	}

	completion := 0.0
	if planned > 0 {
		completion = float64(elapsed) / float64(planned)
		if completion > 1 {
			completion = 1
		}
	}

	return Snapshot{
		SessionID:   st.id,
		UserID:      st.userID,
		Type:        st.sessionType,
		Plan:        st.plan,
		Status:      st.status,
		PhaseIndex:  st.phaseIndex,
		Phase:       phase.Name,
		PhaseRemain: remain,
		Elapsed:     elapsed,
		PausedTotal: st.pausedTotal,
		Planned:     planned,
		Completion:  completion,
	}
}
