package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
)

// StaticEmbedder is a deterministic in-process embedder. It returns fixture
// vectors registered for exact texts and falls back to hash-seeded vectors
// otherwise, so tests and local runs never need a live fingerprint service.
type StaticEmbedder struct {
	dimension int

	mu       sync.RWMutex
	fixtures map[string][]float32
	fail     error
}

// NewStaticEmbedder creates a StaticEmbedder producing vectors of the given
// dimension.
func NewStaticEmbedder(dimension int) *StaticEmbedder {
	return &StaticEmbedder{
		dimension: dimension,
		fixtures:  make(map[string][]float32),
	}
}

// Register pins an exact vector for a text. The vector length must match the
// embedder's dimension.
func (e *StaticEmbedder) Register(text string, vector []float32) error {
	if len(vector) != e.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), e.dimension)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixtures[text] = vector
	return nil
}

// SetError makes every subsequent call fail with err. Pass nil to clear.
// Used to simulate an unavailable fingerprint service.
func (e *StaticEmbedder) SetError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

// Dimension returns the fixed vector size.
func (e *StaticEmbedder) Dimension() int {
	return e.dimension
}

// EmbedDocuments generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single text.
func (e *StaticEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	e.mu.RLock()
	fail := e.fail
	fixture, ok := e.fixtures[text]
	e.mu.RUnlock()

	if fail != nil {
		return nil, fail
	}
	if ok {
		out := make([]float32, len(fixture))
		copy(out, fixture)
		return out, nil
	}
	return e.hashVector(text), nil
}

// hashVector derives a unit vector from the text's FNV hash via an LCG, so
// the same text always embeds to the same point.
func (e *StaticEmbedder) hashVector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dimension)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec)
}

// normalize converts a vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

// Ensure StaticEmbedder implements Embedder.
var _ Embedder = (*StaticEmbedder)(nil)
