// Package analysis turns finalized sessions and journal entries into
// embedding records, detects recurring patterns via density clustering over
// a user's history, and selects a recommendation. Analysis is best-effort:
// dependency failures degrade to a skipped outcome and never fail the flow
// that produced the data.
package analysis

import (
	"errors"
	"time"

	"github.com/innerverselabs/reflectd/internal/vectorstore"
)

// Sentinel errors.
var (
	// ErrInvalidInput indicates an unanalyzable source, such as empty
	// text. Fails fast, never retried.
	ErrInvalidInput = errors.New("invalid analysis input")

	// ErrInvalidConfig indicates invalid analysis configuration.
	ErrInvalidConfig = errors.New("invalid analysis configuration")
)

// Source is one analyzable unit: a finalized session's notes or a journal
// entry's reflection text.
type Source struct {
	// UserID scopes the fingerprint to its owner.
	UserID string

	// Type distinguishes journal entries from therapy sessions.
	Type vectorstore.SourceType

	// ID is the originating session or entry ID. Analysis is idempotent
	// per (Type, ID): retries replace the stored fingerprint instead of
	// duplicating it.
	ID string

	// Text is the material to fingerprint.
	Text string

	// Tags are caller-supplied theme tags attached to the stored record
	// and counted during the plurality vote of future analyses.
	Tags []string

	// SameTypeOnly restricts neighbor retrieval to records of the same
	// source type. Default compares across both types.
	SameTypeOnly bool

	// CreatedAt stamps the stored record. Zero means now.
	CreatedAt time.Time
}

// SkipReason explains why an analysis produced no recommendation.
type SkipReason string

const (
	// SkipEmbeddingUnavailable: the fingerprint service was down. The raw
	// text was persisted without a vector for later backfill.
	SkipEmbeddingUnavailable SkipReason = "embedding_unavailable"

	// SkipVectorStoreUnavailable: the vector store was down, so neighbor
	// retrieval and clustering were skipped.
	SkipVectorStoreUnavailable SkipReason = "vector_store_unavailable"

	// SkipInsufficientData: too few prior fingerprints to cluster.
	SkipInsufficientData SkipReason = "insufficient_data"

	// SkipNoCluster: clustering ran but every point was noise.
	SkipNoCluster SkipReason = "no_cluster"

	// SkipNoText: the source carried no analyzable text.
	SkipNoText SkipReason = "no_text"

	// SkipInFlight: an analysis for the same source is already running.
	SkipInFlight SkipReason = "in_flight"
)

// Outcome is the result of one analysis run.
//
// Skipped outcomes are successes from the caller's point of view: the
// user-facing action already completed, and the only user-visible effect is
// "no new recommendation available this time".
type Outcome struct {
	UserID     string                 `json:"user_id"`
	SourceType vectorstore.SourceType `json:"source_type"`
	SourceID   string                 `json:"source_id"`

	Skipped bool       `json:"skipped"`
	Reason  SkipReason `json:"reason,omitempty"`

	Recommendation Recommendation `json:"recommendation,omitempty"`
	ClusterSize    int            `json:"cluster_size,omitempty"`
	ThemeTags      []string       `json:"theme_tags,omitempty"`

	// Neighborhood is how many points entered clustering, the new
	// fingerprint included.
	Neighborhood int `json:"neighborhood,omitempty"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

func skipped(src Source, reason SkipReason, at time.Time) *Outcome {
	return &Outcome{
		UserID:     src.UserID,
		SourceType: src.Type,
		SourceID:   src.ID,
		Skipped:    true,
		Reason:     reason,
		AnalyzedAt: at,
	}
}
