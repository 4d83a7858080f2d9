package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embedHandler returns a TEI-style handler producing vectors of the given
// dimension, one per input.
func embedHandler(t *testing.T, dimension int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs interface{} `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		count := 1
		if inputs, ok := req.Inputs.([]interface{}); ok {
			count = len(inputs)
		}

		vectors := make([][]float32, count)
		for i := range vectors {
			vec := make([]float32, dimension)
			vec[0] = float32(i + 1)
			vectors[i] = vec
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}
}

func newTestService(t *testing.T, handler http.Handler, dimension int) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewService(Config{BaseURL: srv.URL, Dimension: dimension}, nil)
	require.NoError(t, err)
	return svc
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "text-embedding-004", cfg.Model)
	assert.Equal(t, 768, cfg.Dimension)
	assert.NotZero(t, cfg.Timeout)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{BaseURL: "http://localhost:8080", Dimension: -1}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestEmbedQuery(t *testing.T) {
	svc := newTestService(t, embedHandler(t, 4), 4)

	vec, err := svc.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestEmbedQueryEmptyText(t *testing.T) {
	svc := newTestService(t, embedHandler(t, 4), 4)

	_, err := svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocuments(t *testing.T) {
	svc := newTestService(t, embedHandler(t, 4), 4)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

func TestEmbedDocumentsRejectsEmptyElements(t *testing.T) {
	svc := newTestService(t, embedHandler(t, 4), 4)

	_, err := svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedDocuments(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	// The server produces 8-wide vectors against a 4-wide config; the
	// mismatch is a hard error, never padded or truncated.
	svc := newTestService(t, embedHandler(t, 8), 4)

	_, err := svc.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedServerError(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}), 4)

	_, err := svc.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbedServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, 4))
	svc, err := NewService(Config{BaseURL: srv.URL, Dimension: 4}, nil)
	require.NoError(t, err)
	srv.Close()

	_, err = svc.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAPIKeyHeader(t *testing.T) {
	var gotAuth string
	handler := func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		embedHandler(t, 4)(w, r)
	}

	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	svc, err := NewService(Config{BaseURL: srv.URL, Dimension: 4, APIKey: "sekret"}, nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sekret", gotAuth)
}
