package recordstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/innerverselabs/reflectd/internal/logging"
	"github.com/innerverselabs/reflectd/internal/session"
)

// FirestoreConfig configures the Firestore-backed record store.
type FirestoreConfig struct {
	// ProjectID is the GCP project hosting the Firestore database.
	ProjectID string `koanf:"project_id"`

	// UsersCollection is the top-level collection holding per-user
	// documents. Sessions live in a subcollection underneath. Default:
	// "users".
	UsersCollection string `koanf:"users_collection"`
}

// ApplyDefaults fills in default values for unset fields.
func (c *FirestoreConfig) ApplyDefaults() {
	if c.UsersCollection == "" {
		c.UsersCollection = "users"
	}
}

// Validate checks the configuration.
func (c *FirestoreConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("%w: project ID is required", ErrInvalidConfig)
	}
	return nil
}

// FirestoreStore persists finalized sessions under
// {users}/{userID}/sessions/{sessionID}.
type FirestoreStore struct {
	client *firestore.Client
	config *FirestoreConfig
	logger *logging.Logger
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore connects to Firestore and returns a record store.
func NewFirestoreStore(ctx context.Context, cfg *FirestoreConfig, logger *logging.Logger) (*FirestoreStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &FirestoreStore{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

func (s *FirestoreStore) sessionsCol(userID string) *firestore.CollectionRef {
	return s.client.Collection(s.config.UsersCollection).Doc(userID).Collection("sessions")
}

// sessionRecord is the Firestore document shape. Durations are stored as
// seconds so the records stay readable in the console.
type sessionRecord struct {
	UserID       string        `firestore:"user_id"`
	Type         string        `firestore:"type"`
	Plan         string        `firestore:"plan,omitempty"`
	Notes        string        `firestore:"notes,omitempty"`
	StartedAt    time.Time     `firestore:"started_at"`
	CompletedAt  time.Time     `firestore:"completed_at"`
	Phases       []phaseRecord `firestore:"phases"`
	TotalSeconds float64       `firestore:"total_seconds"`
	PausedSecs   float64       `firestore:"paused_seconds"`
}

type phaseRecord struct {
	Name      string    `firestore:"name"`
	EnteredAt time.Time `firestore:"entered_at"`
	ExitedAt  time.Time `firestore:"exited_at"`
	Seconds   float64   `firestore:"seconds"`
}

func toRecord(fs *session.FinalizedSession) sessionRecord {
	phases := make([]phaseRecord, len(fs.Phases))
	for i, p := range fs.Phases {
		phases[i] = phaseRecord{
			Name:      p.Name,
			EnteredAt: p.EnteredAt,
			ExitedAt:  p.ExitedAt,
			Seconds:   p.DurationSeconds,
		}
	}
	return sessionRecord{
		UserID:       fs.UserID,
		Type:         string(fs.Type),
		Plan:         string(fs.Plan),
		Notes:        fs.Notes,
		StartedAt:    fs.StartedAt,
		CompletedAt:  fs.CompletedAt,
		Phases:       phases,
		TotalSeconds: fs.TotalDuration.Seconds(),
		PausedSecs:   fs.PausedTotal.Seconds(),
	}
}

func fromRecord(sessionID string, rec sessionRecord) *session.FinalizedSession {
	phases := make([]session.PhaseRecord, len(rec.Phases))
	for i, p := range rec.Phases {
		phases[i] = session.PhaseRecord{
			Name:            p.Name,
			EnteredAt:       p.EnteredAt,
			ExitedAt:        p.ExitedAt,
			DurationSeconds: p.Seconds,
		}
	}
	return &session.FinalizedSession{
		SessionID:     sessionID,
		UserID:        rec.UserID,
		Type:          session.Type(rec.Type),
		Plan:          session.Plan(rec.Plan),
		Notes:         rec.Notes,
		StartedAt:     rec.StartedAt,
		CompletedAt:   rec.CompletedAt,
		Phases:        phases,
		TotalDuration: time.Duration(rec.TotalSeconds * float64(time.Second)),
		PausedTotal:   time.Duration(rec.PausedSecs * float64(time.Second)),
	}
}

// PutSession writes a finalized session. Set overwrites, so retried writes
// for the same session ID are idempotent.
func (s *FirestoreStore) PutSession(ctx context.Context, fs *session.FinalizedSession) error {
	if fs.UserID == "" || fs.SessionID == "" {
		return fmt.Errorf("%w: user ID and session ID are required", ErrInvalidConfig)
	}

	_, err := s.sessionsCol(fs.UserID).Doc(fs.SessionID).Set(ctx, toRecord(fs))
	if err != nil {
		return fmt.Errorf("%w: firestore PutSession: %v", ErrUnavailable, err)
	}

	s.logger.Debug(ctx, "finalized session written",
		zap.String("session_id", fs.SessionID),
		zap.String("user_id", fs.UserID),
	)
	return nil
}

// GetSession fetches one finalized session.
func (s *FirestoreStore) GetSession(ctx context.Context, userID, sessionID string) (*session.FinalizedSession, error) {
	snap, err := s.sessionsCol(userID).Doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: firestore GetSession: %v", ErrUnavailable, err)
	}

	var rec sessionRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("firestore GetSession decode: %w", err)
	}
	return fromRecord(sessionID, rec), nil
}

// ListSessions returns a user's finalized sessions, most recent first.
func (s *FirestoreStore) ListSessions(ctx context.Context, userID string, limit int) ([]*session.FinalizedSession, error) {
	q := s.sessionsCol(userID).OrderBy("completed_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*session.FinalizedSession
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("%w: firestore ListSessions: %v", ErrUnavailable, err)
		}

		var rec sessionRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode sessionRecord: %w", err)
		}
		out = append(out, fromRecord(snap.Ref.ID, rec))
	}
	return out, nil
}

// Close releases the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
