// Package embeddings generates semantic fingerprints from free text.
//
// The engine treats the fingerprint service as an external collaborator: it
// can be down, and callers are expected to degrade rather than fail. The
// Embedder interface is the only surface the rest of the engine sees.
package embeddings

import (
	"context"
	"errors"
)

// Sentinel errors for embedding operations.
var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnavailable indicates the fingerprint service could not be reached
	// or returned a failure. Callers treat this as degrade-and-continue.
	ErrUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch indicates the service returned vectors whose
	// dimensionality does not match the configured vector size. This is a
	// hard error: vectors are never padded or truncated.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder generates fixed-length vector embeddings from text.
//
// All vectors from one Embedder have the same dimensionality, matching the
// vector store's configured size.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one embedding per input text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed vector size this embedder produces.
	Dimension() int
}
