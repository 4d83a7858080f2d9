package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("reflectd.vectorstore.chromem")

// Metadata keys used for payload scoping and provenance.
const (
	metaOwner      = "owner"
	metaSourceType = "source_type"
	metaSourceID   = "source_id"
	metaTags       = "tags"
	metaCreatedAt  = "created_at"
	metaEmbedded   = "embedded"
)

// ChromemConfig holds configuration for the chromem-go embedded vector store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means a purely
	// in-memory store (tests, local runs).
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// Collection is the collection name holding all embedding records.
	// Default: "reflectd_fingerprints"
	Collection string `koanf:"collection"`

	// VectorSize is the expected embedding dimension.
	// Must match the embedder's output dimension.
	// Default: 768 (text-embedding-004)
	VectorSize int `koanf:"vector_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "reflectd_fingerprints"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 768
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, optional gob persistence.
// Owner scoping is enforced through payload metadata: every record carries
// its owner ID and every query injects an owner filter, fail-closed.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expanded, err := expandHome(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expanded, 0700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
		}
		db, err = chromem.NewPersistentDB(expanded, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	store := &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Int("vector_size", config.VectorSize),
		zap.String("collection", config.Collection),
	)

	return store, nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbedFunc rejects text embedding. All records carry precomputed vectors;
// chromem must never fall back to its default remote embedder.
func noEmbedFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectorstore: text embedding not supported, vectors are precomputed")
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	coll, err := s.db.GetOrCreateCollection(s.config.Collection, nil, noEmbedFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: getting collection %s: %v", ErrUnavailable, s.config.Collection, err)
	}
	return coll, nil
}

// Upsert stores a record, replacing any prior record with the same ID.
// A nil vector is stored as a zero vector flagged embedded=false so the raw
// text survives a fingerprint-service outage without polluting queries.
func (s *ChromemStore) Upsert(ctx context.Context, rec Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("record_id", rec.ID),
		attribute.String("source_type", string(rec.SourceType)),
	)

	if rec.OwnerID == "" {
		return ErrMissingOwner
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: record ID is required", ErrInvalidRecord)
	}
	if rec.SourceID == "" {
		return fmt.Errorf("%w: source ID is required", ErrInvalidRecord)
	}

	vector := rec.Vector
	embedded := "true"
	if vector == nil {
		vector = make([]float32, s.config.VectorSize)
		embedded = "false"
	} else if len(vector) != s.config.VectorSize {
		return fmt.Errorf("%w: vector size %d does not match configured size %d",
			ErrInvalidRecord, len(vector), s.config.VectorSize)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	coll, err := s.collection()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: vector,
		Metadata: map[string]string{
			metaOwner:      rec.OwnerID,
			metaSourceType: string(rec.SourceType),
			metaSourceID:   rec.SourceID,
			metaTags:       strings.Join(rec.Tags, ","),
			metaCreatedAt:  strconv.FormatInt(createdAt.Unix(), 10),
			metaEmbedded:   embedded,
		},
	}

	if err := coll.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: adding document: %v", ErrUnavailable, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted embedding record",
		zap.String("id", rec.ID),
		zap.String("owner", rec.OwnerID),
		zap.String("embedded", embedded),
	)
	return nil
}

// QueryNearest returns up to q.K of the owner's records ranked by similarity.
func (s *ChromemStore) QueryNearest(ctx context.Context, ownerID string, vector []float32, q Query) ([]Neighbor, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.QueryNearest")
	defer span.End()

	span.SetAttributes(
		attribute.Int("k", q.K),
		attribute.String("source_type", string(q.SourceType)),
	)

	if ownerID == "" {
		return nil, ErrMissingOwner
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query vector size %d does not match configured size %d",
			ErrInvalidRecord, len(vector), s.config.VectorSize)
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidRecord, q.K)
	}

	coll, err := s.collection()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// chromem requires nResults <= document count.
	k := q.K
	if count := coll.Count(); count == 0 {
		return []Neighbor{}, nil
	} else if k > count {
		k = count
	}

	where := map[string]string{
		metaOwner:    ownerID,
		metaEmbedded: "true",
	}
	if q.SourceType != "" {
		where[metaSourceType] = string(q.SourceType)
	}

	results, err := coll.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying collection: %v", ErrUnavailable, err)
	}

	neighbors := make([]Neighbor, len(results))
	for i, r := range results {
		neighbors[i] = Neighbor{
			Record: recordFromResult(r),
			Score:  r.Similarity,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(neighbors)))
	span.SetStatus(codes.Ok, "success")
	return neighbors, nil
}

// Delete removes the owner's records with the given IDs.
func (s *ChromemStore) Delete(ctx context.Context, ownerID string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if ownerID == "" {
		return ErrMissingOwner
	}
	if len(ids) == 0 {
		return nil
	}

	coll, err := s.collection()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := coll.Delete(ctx, map[string]string{metaOwner: ownerID}, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting documents: %v", ErrUnavailable, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close closes the store. chromem-go persists incrementally, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// recordFromResult rebuilds a Record from a chromem query result.
func recordFromResult(r chromem.Result) Record {
	rec := Record{
		ID:         r.ID,
		OwnerID:    r.Metadata[metaOwner],
		SourceType: SourceType(r.Metadata[metaSourceType]),
		SourceID:   r.Metadata[metaSourceID],
		Text:       r.Content,
		Vector:     r.Embedding,
	}
	if tags := r.Metadata[metaTags]; tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	if ts, err := strconv.ParseInt(r.Metadata[metaCreatedAt], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(ts, 0)
	}
	return rec
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
