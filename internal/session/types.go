package session

import (
	"fmt"
	"time"
)

// Type identifies the kind of timed activity.
type Type string

const (
	// TypeTherapy is a guided multi-phase therapy session.
	TypeTherapy Type = "therapy"
	// TypeExercise is a single-phase focused exercise session.
	TypeExercise Type = "exercise"
)

// Plan selects one of the fixed therapy session configurations.
type Plan string

const (
	// PlanStandard60 is the full 60-minute therapy session.
	PlanStandard60 Plan = "standard_60"
	// PlanShort30 is the condensed 30-minute therapy session.
	PlanShort30 Plan = "short_30"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Direction selects which way AdvancePhase moves.
type Direction string

const (
	// Next closes the current phase and opens the following one.
	Next Direction = "next"
	// Previous closes the current phase and reopens the preceding one.
	Previous Direction = "previous"
)

// PhaseDefinition is one named, timed sub-segment of a session plan.
type PhaseDefinition struct {
	Name        string
	Duration    time.Duration
	Description string
}

// Fixed phase sequences. Therapy plans follow the standard five-phase arc;
// exercise sessions are a single focused block.
var (
	standard60Phases = []PhaseDefinition{
		{Name: "pre_session", Duration: 2 * time.Minute, Description: "Context review and preparation"},
		{Name: "opening", Duration: 6 * time.Minute, Description: "Check-in, mood assessment, safety screening"},
		{Name: "working", Duration: 40 * time.Minute, Description: "Main therapeutic work and exploration"},
		{Name: "integration", Duration: 6 * time.Minute, Description: "Empowerment insights and integration"},
		{Name: "closing", Duration: 6 * time.Minute, Description: "Summary, homework, and scheduling"},
	}

	short30Phases = []PhaseDefinition{
		{Name: "pre_session", Duration: 1 * time.Minute, Description: "Quick context review"},
		{Name: "opening", Duration: 3 * time.Minute, Description: "Brief check-in and assessment"},
		{Name: "working", Duration: 20 * time.Minute, Description: "Focused therapeutic work"},
		{Name: "integration", Duration: 3 * time.Minute, Description: "Key insights and empowerment"},
		{Name: "closing", Duration: 3 * time.Minute, Description: "Quick summary and next steps"},
	}

	exercisePhases = []PhaseDefinition{
		{Name: "exercise", Duration: 10 * time.Minute, Description: "10-minute focused exercise session"},
	}
)

// PhaseSequence returns the fixed phase definitions for a session type and
// plan. The plan is ignored for exercise sessions; an empty plan defaults to
// standard_60 for therapy.
func PhaseSequence(t Type, plan Plan) ([]PhaseDefinition, error) {
	switch t {
	case TypeExercise:
		return exercisePhases, nil
	case TypeTherapy:
		switch plan {
		case PlanStandard60, "":
			return standard60Phases, nil
		case PlanShort30:
			return short30Phases, nil
		default:
			return nil, fmt.Errorf("%w: unknown therapy plan %q", ErrInvalidConfiguration, plan)
		}
	default:
		return nil, fmt.Errorf("%w: unknown session type %q", ErrInvalidConfiguration, t)
	}
}

// PlannedTotal sums the target durations of a phase sequence.
func PlannedTotal(phases []PhaseDefinition) time.Duration {
	var total time.Duration
	for _, p := range phases {
		total += p.Duration
	}
	return total
}

// PhaseRecord is the immutable result of one completed phase visit.
// A phase revisited via AdvancePhase(Previous) produces a second record.
type PhaseRecord struct {
	Name            string    `json:"name"`
	EnteredAt       time.Time `json:"entered_at"`
	ExitedAt        time.Time `json:"exited_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Snapshot is a point-in-time read of a session. Computed from wall-clock
// time minus accumulated pauses; producing one never mutates state and never
// touches durable storage.
type Snapshot struct {
	SessionID   string
	UserID      string
	Type        Type
	Plan        Plan
	Status      Status
	PhaseIndex  int
	Phase       string
	PhaseRemain time.Duration
	Elapsed     time.Duration
	PausedTotal time.Duration
	Planned     time.Duration
	Completion  float64
}

// FinalizedSession is the terminal result of a completed session: the full
// phase history plus total timing. This is the value handed to the record
// store and, afterwards, to pattern analysis. Timing is computed once, in
// memory; it is never recomputed from storage.
type FinalizedSession struct {
	SessionID   string        `json:"session_id"`
	UserID      string        `json:"user_id"`
	Type        Type          `json:"type"`
	Plan        Plan          `json:"plan,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Phases      []PhaseRecord `json:"phases"`

	// TotalDuration is wall-clock time from start to completion.
	// TotalDuration minus PausedTotal equals the sum of phase durations,
	// within timer resolution.
	TotalDuration time.Duration `json:"total_duration"`
	PausedTotal   time.Duration `json:"paused_total"`

	// PersistenceDeferred is set when the durable write failed at
	// completion time. The timing above is still valid; the caller may
	// retry the write via Manager.Persist without recomputing anything.
	PersistenceDeferred bool `json:"-"`
}

// ActiveDuration is total duration excluding paused intervals.
func (f *FinalizedSession) ActiveDuration() time.Duration {
	return f.TotalDuration - f.PausedTotal
}
