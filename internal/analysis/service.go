package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innerverselabs/reflectd/internal/artifacts"
	"github.com/innerverselabs/reflectd/internal/embeddings"
	"github.com/innerverselabs/reflectd/internal/logging"
	"github.com/innerverselabs/reflectd/internal/session"
	"github.com/innerverselabs/reflectd/internal/vectorstore"
)

const instrumentationName = "github.com/innerverselabs/reflectd/internal/analysis"

// Config configures the pattern analysis pipeline.
type Config struct {
	// TopK is how many prior fingerprints to retrieve per analysis.
	// Default: 20.
	TopK int `koanf:"top_k"`

	// Eps is the DBSCAN neighborhood radius. Default: 0.5.
	Eps float64 `koanf:"eps"`

	// MinSamples is the minimum neighborhood size, self included, for a
	// core point. Default: 5.
	MinSamples int `koanf:"min_samples"`

	// Metric selects the distance function. Default: cosine.
	Metric Metric `koanf:"metric"`

	// PreviewTTL bounds the lifetime of preview artifacts. Default: the
	// artifact store's default.
	PreviewTTL time.Duration `koanf:"preview_ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TopK:       20,
		Eps:        0.5,
		MinSamples: 5,
		Metric:     MetricCosine,
	}
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 20
	}
	if c.Eps <= 0 {
		c.Eps = 0.5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.Metric == "" {
		c.Metric = MetricCosine
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := distanceFor(c.Metric); err != nil {
		return err
	}
	return nil
}

// Service coordinates the fingerprint service, vector store, clustering,
// and recommendation selection. Dependencies are injected so tests run
// against fakes.
type Service struct {
	config    *Config
	embedder  embeddings.Embedder
	vectors   vectorstore.Store
	artifacts *artifacts.Store
	logger    *logging.Logger
	dist      DistanceFunc

	tracer        trace.Tracer
	ingestCounter metric.Int64Counter
	skipCounter   metric.Int64Counter

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService creates the analysis service. The artifact store is optional;
// without it BuildPreview fails and everything else works.
func NewService(cfg *Config, embedder embeddings.Embedder, vectors vectorstore.Store, arts *artifacts.Store, logger *logging.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	dist, err := distanceFor(cfg.Metric)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:    cfg,
		embedder:  embedder,
		vectors:   vectors,
		artifacts: arts,
		logger:    logger,
		dist:      dist,
		tracer:    otel.Tracer(instrumentationName),
		inflight:  make(map[string]struct{}),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	s.ingestCounter, err = meter.Int64Counter(
		"reflectd.analysis.ingests_total",
		metric.WithDescription("Total number of analysis ingests"),
		metric.WithUnit("{ingest}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create ingest counter", zap.Error(err))
	}

	s.skipCounter, err = meter.Int64Counter(
		"reflectd.analysis.skips_total",
		metric.WithDescription("Total number of skipped analyses by reason"),
		metric.WithUnit("{ingest}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create skip counter", zap.Error(err))
	}
}

// recordSkip counts and logs a degraded outcome.
func (s *Service) recordSkip(ctx context.Context, out *Outcome) *Outcome {
	if s.skipCounter != nil {
		s.skipCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(out.Reason)),
		))
	}
	s.logger.Info(ctx, "analysis skipped",
		zap.String("source_id", out.SourceID),
		zap.String("reason", string(out.Reason)),
	)
	return out
}

// AnalyzeSession adapts a finalized session into an analysis source.
// Sessions without notes skip analysis rather than failing the pipeline.
func (s *Service) AnalyzeSession(ctx context.Context, fs *session.FinalizedSession) (*Outcome, error) {
	src := Source{
		UserID:    fs.UserID,
		Type:      vectorstore.SourceTherapy,
		ID:        fs.SessionID,
		Text:      fs.Notes,
		CreatedAt: fs.CompletedAt,
	}
	if src.Text == "" {
		return s.recordSkip(ctx, skipped(src, SkipNoText, time.Now())), nil
	}
	return s.Ingest(ctx, src)
}

// Ingest runs the full pipeline for one source: embed, upsert, retrieve
// neighbors, cluster, recommend.
//
// Dependency outages degrade to a skipped outcome with a nil error; the
// only hard failures are invalid input and fingerprint dimensionality
// mismatch.
func (s *Service) Ingest(ctx context.Context, src Source) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.ingest")
	defer span.End()

	span.SetAttributes(
		attribute.String("source_type", string(src.Type)),
		attribute.String("source_id", src.ID),
	)

	if src.UserID == "" || src.ID == "" {
		return nil, fmt.Errorf("%w: user ID and source ID are required", ErrInvalidInput)
	}
	if src.Text == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	if src.Type != vectorstore.SourceJournal && src.Type != vectorstore.SourceTherapy {
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, src.Type)
	}

	now := time.Now()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}

	key := string(src.Type) + "_" + src.ID
	if !s.acquire(key) {
		return s.recordSkip(ctx, skipped(src, SkipInFlight, now)), nil
	}
	defer s.release(key)

	ctx = logging.WithUserID(logging.WithSourceID(ctx, src.ID), src.UserID)
	if s.ingestCounter != nil {
		s.ingestCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source_type", string(src.Type)),
		))
	}

	rec := vectorstore.Record{
		ID:         key,
		OwnerID:    src.UserID,
		SourceType: src.Type,
		SourceID:   src.ID,
		Text:       src.Text,
		Tags:       src.Tags,
		CreatedAt:  src.CreatedAt,
	}

	vec, err := s.embedder.EmbedQuery(ctx, src.Text)
	switch {
	case errors.Is(err, embeddings.ErrUnavailable):
		// Keep the raw text so the fingerprint can be backfilled once
		// the service recovers. The record carries no vector and is
		// excluded from neighbor queries.
		if uerr := s.vectors.Upsert(ctx, rec); uerr != nil {
			s.logger.Warn(ctx, "failed to persist unembedded record", zap.Error(uerr))
		}
		return s.recordSkip(ctx, skipped(src, SkipEmbeddingUnavailable, now)), nil
	case err != nil:
		span.RecordError(err)
		return nil, fmt.Errorf("embedding source %s: %w", src.ID, err)
	}
	rec.Vector = vec

	if err := s.vectors.Upsert(ctx, rec); err != nil {
		if errors.Is(err, vectorstore.ErrUnavailable) {
			return s.recordSkip(ctx, skipped(src, SkipVectorStoreUnavailable, now)), nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("storing fingerprint for %s: %w", src.ID, err)
	}

	q := vectorstore.Query{K: s.config.TopK}
	if src.SameTypeOnly {
		q.SourceType = src.Type
	}
	neighbors, err := s.vectors.QueryNearest(ctx, src.UserID, vec, q)
	if err != nil {
		if errors.Is(err, vectorstore.ErrUnavailable) {
			return s.recordSkip(ctx, skipped(src, SkipVectorStoreUnavailable, now)), nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("retrieving neighbors for %s: %w", src.ID, err)
	}

	// The just-upserted record normally comes back as its own neighbor;
	// include it explicitly if the store truncated it out.
	points := make([][]float32, 0, len(neighbors)+1)
	tagsets := make([][]string, 0, len(neighbors)+1)
	seen := false
	for _, n := range neighbors {
		points = append(points, n.Record.Vector)
		tagsets = append(tagsets, n.Record.Tags)
		if n.Record.ID == rec.ID {
			seen = true
		}
	}
	if !seen {
		points = append(points, rec.Vector)
		tagsets = append(tagsets, rec.Tags)
	}

	if len(points) < s.config.MinSamples {
		out := skipped(src, SkipInsufficientData, now)
		out.Neighborhood = len(points)
		return s.recordSkip(ctx, out), nil
	}

	labels := Cluster(points, s.config.Eps, s.config.MinSamples, s.dist)
	best, size := largestCluster(labels)
	if best == Noise {
		out := skipped(src, SkipNoCluster, now)
		out.Neighborhood = len(points)
		return s.recordSkip(ctx, out), nil
	}

	var memberTags []string
	for i, l := range labels {
		if l != best {
			continue
		}
		memberTags = append(memberTags, tagsets[i]...)
	}
	dominant := DominantTags(memberTags)
	recommendation := Recommend(dominant)

	out := &Outcome{
		UserID:         src.UserID,
		SourceType:     src.Type,
		SourceID:       src.ID,
		Recommendation: recommendation,
		ClusterSize:    size,
		ThemeTags:      dominant,
		Neighborhood:   len(points),
		AnalyzedAt:     now,
	}

	span.SetAttributes(
		attribute.String("recommendation", string(recommendation)),
		attribute.Int("cluster_size", size),
	)
	s.logger.Info(ctx, "analysis completed",
		zap.String("recommendation", string(recommendation)),
		zap.Int("cluster_size", size),
		zap.Strings("theme_tags", dominant),
	)
	return out, nil
}

// preview is the rendered artifact payload.
type preview struct {
	Recommendation Recommendation `json:"recommendation"`
	ClusterSize    int            `json:"cluster_size"`
	ThemeTags      []string       `json:"theme_tags,omitempty"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// BuildPreview renders an outcome into a shareable artifact and returns its
// ID. Pure rendering and storage, no analysis logic.
func (s *Service) BuildPreview(ctx context.Context, out *Outcome) (string, error) {
	if s.artifacts == nil {
		return "", fmt.Errorf("%w: no artifact store configured", ErrInvalidConfig)
	}
	if out == nil || out.Skipped {
		return "", fmt.Errorf("%w: nothing to preview", ErrInvalidInput)
	}

	payload, err := json.Marshal(preview{
		Recommendation: out.Recommendation,
		ClusterSize:    out.ClusterSize,
		ThemeTags:      out.ThemeTags,
		GeneratedAt:    out.AnalyzedAt,
	})
	if err != nil {
		return "", fmt.Errorf("rendering preview: %w", err)
	}

	id, err := s.artifacts.Put(payload, "application/json", s.config.PreviewTTL)
	if err != nil {
		return "", fmt.Errorf("staging preview: %w", err)
	}

	s.logger.Debug(ctx, "preview artifact staged",
		zap.String("artifact_id", id),
		zap.String("source_id", out.SourceID),
	)
	return id, nil
}

func (s *Service) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Service) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}
