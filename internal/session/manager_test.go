package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic timing tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore records finalized sessions and can be told to fail writes.
type fakeStore struct {
	mu       sync.Mutex
	sessions []*FinalizedSession
	failPuts bool
}

func (s *fakeStore) PutSession(_ context.Context, fs *FinalizedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts {
		return errors.New("store unavailable")
	}
	s.sessions = append(s.sessions, fs)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func newTestManager(t *testing.T) (*Manager, *fakeClock, *fakeStore) {
	t.Helper()
	clock := newFakeClock()
	store := &fakeStore{}
	m := NewManager(DefaultConfig(), store, nil)
	m.now = clock.Now
	t.Cleanup(func() { _ = m.Close() })
	return m, clock, store
}

func TestStart(t *testing.T) {
	tests := []struct {
		name        string
		userID      string
		sessionType Type
		plan        Plan
		wantErr     error
		wantPhase   string
		wantPlanned time.Duration
	}{
		{
			name:        "therapy standard plan",
			userID:      "user-1",
			sessionType: TypeTherapy,
			plan:        PlanStandard60,
			wantPhase:   "pre_session",
			wantPlanned: 60 * time.Minute,
		},
		{
			name:        "therapy defaults to standard plan",
			userID:      "user-1",
			sessionType: TypeTherapy,
			plan:        "",
			wantPhase:   "pre_session",
			wantPlanned: 60 * time.Minute,
		},
		{
			name:        "therapy short plan",
			userID:      "user-1",
			sessionType: TypeTherapy,
			plan:        PlanShort30,
			wantPhase:   "pre_session",
			wantPlanned: 30 * time.Minute,
		},
		{
			name:        "exercise single phase",
			userID:      "user-1",
			sessionType: TypeExercise,
			wantPhase:   "exercise",
			wantPlanned: 10 * time.Minute,
		},
		{
			name:        "unknown plan rejected",
			userID:      "user-1",
			sessionType: TypeTherapy,
			plan:        Plan("marathon_90"),
			wantErr:     ErrInvalidConfiguration,
		},
		{
			name:        "unknown type rejected",
			userID:      "user-1",
			sessionType: Type("meditation"),
			wantErr:     ErrInvalidConfiguration,
		},
		{
			name:        "missing user rejected",
			sessionType: TypeTherapy,
			plan:        PlanStandard60,
			wantErr:     ErrInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t)

			snap, err := m.Start(context.Background(), tt.userID, tt.sessionType, tt.plan)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			assert.NotEmpty(t, snap.SessionID)
			assert.Equal(t, StatusActive, snap.Status)
			assert.Equal(t, 0, snap.PhaseIndex)
			assert.Equal(t, tt.wantPhase, snap.Phase)
			assert.Equal(t, tt.wantPlanned, snap.Planned)
			assert.Equal(t, time.Duration(0), snap.Elapsed)
		})
	}
}

func TestExerciseFullLifecycle(t *testing.T) {
	m, clock, store := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeExercise, "")
	require.NoError(t, err)
	require.Equal(t, "exercise", snap.Phase)

	clock.Advance(10 * time.Minute)

	fs, err := m.Complete(ctx, snap.SessionID, "felt calmer afterwards")
	require.NoError(t, err)

	assert.Equal(t, snap.SessionID, fs.SessionID)
	assert.Equal(t, TypeExercise, fs.Type)
	assert.Equal(t, "felt calmer afterwards", fs.Notes)
	assert.False(t, fs.PersistenceDeferred)
	assert.Equal(t, 10*time.Minute, fs.TotalDuration)
	assert.Equal(t, time.Duration(0), fs.PausedTotal)

	require.Len(t, fs.Phases, 1)
	assert.Equal(t, "exercise", fs.Phases[0].Name)
	assert.InDelta(t, 600, fs.Phases[0].DurationSeconds, 0.001)

	assert.Equal(t, 1, store.count())
}

func TestPauseResumeExcludesPausedTime(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeTherapy, PlanShort30)
	require.NoError(t, err)
	id := snap.SessionID

	clock.Advance(1 * time.Minute)

	paused, err := m.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Equal(t, 1*time.Minute, paused.Elapsed)

	// Elapsed is frozen during the pause.
	clock.Advance(7 * time.Minute)
	st, err := m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1*time.Minute, st.Elapsed)

	resumed, err := m.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
	assert.Equal(t, 7*time.Minute, resumed.PausedTotal)
	assert.Equal(t, 1*time.Minute, resumed.Elapsed)

	clock.Advance(2 * time.Minute)
	fs, err := m.Complete(ctx, id, "")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, fs.TotalDuration)
	assert.Equal(t, 7*time.Minute, fs.PausedTotal)
	assert.Equal(t, 3*time.Minute, fs.ActiveDuration())
}

func TestZeroDelayPauseResume(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeExercise, "")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)

	_, err = m.Pause(ctx, snap.SessionID)
	require.NoError(t, err)
	resumed, err := m.Resume(ctx, snap.SessionID)
	require.NoError(t, err)

	// A pause followed immediately by a resume leaves all timing intact.
	assert.Equal(t, time.Duration(0), resumed.PausedTotal)
	assert.Equal(t, 30*time.Second, resumed.Elapsed)
}

func TestInvalidTransitions(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeExercise, "")
	require.NoError(t, err)
	id := snap.SessionID

	// Resume while active.
	_, err = m.Resume(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Double pause.
	_, err = m.Pause(ctx, id)
	require.NoError(t, err)
	_, err = m.Pause(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Advance while paused.
	_, err = m.AdvancePhase(ctx, id, Next)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Complete from paused is allowed.
	_, err = m.Complete(ctx, id, "")
	require.NoError(t, err)

	// Everything after completion is rejected.
	_, err = m.Pause(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Complete(ctx, id, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = m.Abandon(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvancePhase(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeTherapy, PlanStandard60)
	require.NoError(t, err)
	id := snap.SessionID

	clock.Advance(2 * time.Minute)

	next, err := m.AdvancePhase(ctx, id, Next)
	require.NoError(t, err)
	assert.Equal(t, 1, next.PhaseIndex)
	assert.Equal(t, "opening", next.Phase)
	assert.Equal(t, 6*time.Minute, next.PhaseRemain)

	clock.Advance(1 * time.Minute)

	prev, err := m.AdvancePhase(ctx, id, Previous)
	require.NoError(t, err)
	assert.Equal(t, 0, prev.PhaseIndex)
	assert.Equal(t, "pre_session", prev.Phase)

	// Backing out of the first phase is invalid.
	_, err = m.AdvancePhase(ctx, id, Previous)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvancePastFinalPhase(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeExercise, "")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	// The exercise plan has one phase, so Next is already exhausted. The
	// session stays active and the snapshot is still usable.
	got, err := m.AdvancePhase(ctx, snap.SessionID, Next)
	require.ErrorIs(t, err, ErrPhaseSequenceExhausted)
	require.NotNil(t, got)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 0, got.PhaseIndex)

	st, err := m.Status(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st.Status)
}

func TestRevisitedPhaseProducesSecondRecord(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeTherapy, PlanShort30)
	require.NoError(t, err)
	id := snap.SessionID

	clock.Advance(1 * time.Minute)
	_, err = m.AdvancePhase(ctx, id, Next)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.AdvancePhase(ctx, id, Previous)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	fs, err := m.Complete(ctx, id, "")
	require.NoError(t, err)

	require.Len(t, fs.Phases, 3)
	assert.Equal(t, "pre_session", fs.Phases[0].Name)
	assert.Equal(t, "opening", fs.Phases[1].Name)
	assert.Equal(t, "pre_session", fs.Phases[2].Name)
	assert.InDelta(t, 60, fs.Phases[0].DurationSeconds, 0.001)
	assert.InDelta(t, 120, fs.Phases[1].DurationSeconds, 0.001)
	assert.InDelta(t, 30, fs.Phases[2].DurationSeconds, 0.001)
}

func TestPhaseDurationsSumToActiveTime(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeTherapy, PlanStandard60)
	require.NoError(t, err)
	id := snap.SessionID

	clock.Advance(2 * time.Minute)
	_, err = m.AdvancePhase(ctx, id, Next)
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	_, err = m.Pause(ctx, id)
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)
	_, err = m.Resume(ctx, id)
	require.NoError(t, err)

	clock.Advance(1 * time.Minute)
	fs, err := m.Complete(ctx, id, "")
	require.NoError(t, err)

	var phaseSum float64
	for _, p := range fs.Phases {
		phaseSum += p.DurationSeconds
	}
	assert.InDelta(t, fs.ActiveDuration().Seconds(), phaseSum, 0.001)
	assert.Equal(t, 10*time.Minute, fs.TotalDuration)
	assert.Equal(t, 4*time.Minute, fs.PausedTotal)
}

func TestCompleteEmitsFinalizedSession(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeExercise, "")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	fs, err := m.Complete(ctx, snap.SessionID, "")
	require.NoError(t, err)

	select {
	case got := <-m.Completed():
		assert.Equal(t, fs.SessionID, got.SessionID)
	default:
		t.Fatal("expected a finalized session on the completed channel")
	}
}

func TestCompleteWithFailingStore(t *testing.T) {
	m, clock, store := newTestManager(t)
	ctx := context.Background()
	store.failPuts = true

	snap, err := m.Start(ctx, "user-1", TypeExercise, "")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	// The write fails but the result is still returned, timing intact,
	// and the analysis event is still emitted.
	fs, err := m.Complete(ctx, snap.SessionID, "")
	require.NoError(t, err)
	assert.True(t, fs.PersistenceDeferred)
	assert.Equal(t, 10*time.Minute, fs.TotalDuration)

	select {
	case got := <-m.Completed():
		assert.Equal(t, fs.SessionID, got.SessionID)
	default:
		t.Fatal("expected a finalized session despite the failed write")
	}

	// Retry once the store recovers.
	store.failPuts = false
	require.NoError(t, m.Persist(ctx, fs))
	assert.False(t, fs.PersistenceDeferred)
	assert.Equal(t, 1, store.count())
}

func TestAutoAbandonAfterMaxDuration(t *testing.T) {
	m, clock, store := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeExercise, "")
	require.NoError(t, err)
	id := snap.SessionID

	// Exercise plan is 10 minutes; the bound is twice that.
	clock.Advance(21 * time.Minute)

	_, err = m.Pause(ctx, id)
	require.ErrorIs(t, err, ErrInvalidTransition)

	st, err := m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, st.Status)

	// Abandoned sessions never reach the record store.
	assert.Equal(t, 0, store.count())
}

func TestAbandonAndDiscard(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Start(ctx, "user-1", TypeTherapy, PlanStandard60)
	require.NoError(t, err)
	id := snap.SessionID

	// Active sessions cannot be discarded.
	err = m.Discard(id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, m.Abandon(ctx, id))
	assert.Equal(t, 0, store.count())

	require.NoError(t, m.Discard(id))
	_, err = m.Status(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Status(ctx, "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Pause(ctx, "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	err = m.Discard("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerClose(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close()) // idempotent

	_, err := m.Start(ctx, "user-1", TypeExercise, "")
	assert.ErrorIs(t, err, ErrManagerClosed)

	// The completed channel is closed so consumers drain and exit.
	_, open := <-m.Completed()
	assert.False(t, open)
}

func TestCompleteRacingCloseDoesNotPanic(t *testing.T) {
	ctx := context.Background()

	// Complete can pass the closed check, then reach the emit while Close
	// is closing the completed channel. Hammer that window; the only
	// acceptable outcomes are a delivered event or ErrManagerClosed.
	for i := 0; i < 200; i++ {
		clock := newFakeClock()
		m := NewManager(DefaultConfig(), &fakeStore{}, nil)
		m.now = clock.Now

		ids := make([]string, 4)
		for j := range ids {
			snap, err := m.Start(ctx, "user-1", TypeExercise, "")
			require.NoError(t, err)
			ids[j] = snap.SessionID
		}
		clock.Advance(10 * time.Minute)

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				<-start
				if _, err := m.Complete(ctx, id, ""); err != nil {
					assert.ErrorIs(t, err, ErrManagerClosed)
				}
			}(id)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, m.Close())
		}()
		close(start)
		wg.Wait()
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Start(ctx, "user-a", TypeExercise, "")
	require.NoError(t, err)
	b, err := m.Start(ctx, "user-b", TypeExercise, "")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.Pause(ctx, a.SessionID)
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)

	stA, err := m.Status(ctx, a.SessionID)
	require.NoError(t, err)
	stB, err := m.Status(ctx, b.SessionID)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, stA.Elapsed)
	assert.Equal(t, 5*time.Minute, stB.Elapsed)
}
