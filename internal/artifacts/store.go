// Package artifacts is an ephemeral, in-memory store for analysis preview
// artifacts. Entries expire on a TTL and are reaped both lazily on access
// and by a background sweeper. Nothing here is durable: a restart empties
// the store by design of the privacy model, so no persistence hooks exist.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/innerverselabs/reflectd/internal/logging"
)

const instrumentationName = "github.com/innerverselabs/reflectd/internal/artifacts"

// Sentinel errors.
var (
	// ErrNotFound indicates no artifact exists under the given ID.
	ErrNotFound = errors.New("artifact not found")

	// ErrExpired indicates the artifact existed but its TTL has passed.
	// Distinct from ErrNotFound so callers can tell "never existed" from
	// "you were too late".
	ErrExpired = errors.New("artifact expired")

	// ErrEmptyPayload indicates a Put with no payload.
	ErrEmptyPayload = errors.New("artifact payload is empty")

	// ErrStoreClosed indicates the store has been stopped.
	ErrStoreClosed = errors.New("artifact store is closed")
)

// Config configures the artifact store.
type Config struct {
	// DefaultTTL applies when Put is called with a non-positive TTL.
	// Default: 1 hour.
	DefaultTTL time.Duration `koanf:"default_ttl"`

	// SweepInterval is how often the background sweeper runs. Default:
	// 5 minutes. Zero disables the sweeper; lazy expiry still applies.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// SweepBatch bounds how many expired entries one sweep pass removes
	// while holding the write lock. Default: 256.
	SweepBatch int `koanf:"sweep_batch"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:    time.Hour,
		SweepInterval: 5 * time.Minute,
		SweepBatch:    256,
	}
}

// Artifact is a stored preview payload with its expiry bookkeeping.
type Artifact struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Views       int64     `json:"views"`
}

// Info is artifact metadata without the payload, for listings.
type Info struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	SizeBytes   int       `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Views       int64     `json:"views"`
}

// Stats summarizes the live contents of the store.
type Stats struct {
	Count           int   `json:"count"`
	TotalViews      int64 `json:"total_views"`
	ApproxSizeBytes int64 `json:"approx_size_bytes"`
}

// Store holds artifacts in memory with TTL expiry.
type Store struct {
	config *Config
	logger *logging.Logger
	now    func() time.Time

	mu     sync.RWMutex
	items  map[string]*Artifact
	closed bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	putCounter     metric.Int64Counter
	expiredCounter metric.Int64Counter
}

// NewStore creates an artifact store and starts its background sweeper.
// Call Stop when done.
func NewStore(cfg *Config, logger *logging.Logger) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 256
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Store{
		config: cfg,
		logger: logger,
		now:    time.Now,
		items:  make(map[string]*Artifact),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.initMetrics()

	if cfg.SweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}
	return s
}

func (s *Store) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	s.putCounter, err = meter.Int64Counter(
		"reflectd.artifacts.puts_total",
		metric.WithDescription("Total number of artifacts stored"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create put counter", zap.Error(err))
	}

	s.expiredCounter, err = meter.Int64Counter(
		"reflectd.artifacts.expired_total",
		metric.WithDescription("Total number of artifacts removed after expiry"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create expired counter", zap.Error(err))
	}
}

// Put stores a payload and returns its generated ID. A non-positive TTL
// falls back to the configured default.
func (s *Store) Put(payload []byte, contentType string, ttl time.Duration) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}
	if contentType == "" {
		contentType = "application/json"
	}

	now := s.now()
	art := &Artifact{
		ID:          uuid.New().String(),
		ContentType: contentType,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrStoreClosed
	}
	s.items[art.ID] = art
	s.mu.Unlock()

	if s.putCounter != nil {
		s.putCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("content_type", contentType),
		))
	}
	return art.ID, nil
}

// Get returns a copy of the artifact and counts the view. Expired entries
// are removed on access and reported as ErrExpired.
func (s *Store) Get(id string) (*Artifact, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	art, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !now.Before(art.ExpiresAt) {
		delete(s.items, id)
		if s.expiredCounter != nil {
			s.expiredCounter.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("path", "lazy"),
			))
		}
		return nil, fmt.Errorf("%w: %s", ErrExpired, id)
	}

	art.Views++
	cp := *art
	cp.Payload = append([]byte(nil), art.Payload...)
	return &cp, nil
}

// Delete removes an artifact regardless of expiry.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	return nil
}

// List returns metadata for unexpired artifacts, newest first.
func (s *Store) List() []Info {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.items))
	for _, art := range s.items {
		if !now.Before(art.ExpiresAt) {
			continue
		}
		out = append(out, Info{
			ID:          art.ID,
			ContentType: art.ContentType,
			SizeBytes:   len(art.Payload),
			CreatedAt:   art.CreatedAt,
			ExpiresAt:   art.ExpiresAt,
			Views:       art.Views,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stats summarizes live entries. Expired-but-unswept entries are excluded.
func (s *Store) Stats() Stats {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, art := range s.items {
		if !now.Before(art.ExpiresAt) {
			continue
		}
		st.Count++
		st.TotalViews += art.Views
		st.ApproxSizeBytes += int64(len(art.Payload))
	}
	return st
}

// Stop halts the sweeper and rejects further operations. Idempotent.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCh)
	})
	<-s.done
}

// sweepLoop removes expired entries in bounded batches so the write lock is
// never held across an unbounded scan.
func (s *Store) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			removed := s.sweepOnce()
			if removed > 0 {
				s.logger.Debug(context.Background(), "swept expired artifacts",
					zap.Int("removed", removed),
				)
			}
		}
	}
}

// sweepOnce removes up to SweepBatch expired entries per lock acquisition,
// looping until none remain. Returns the total removed.
func (s *Store) sweepOnce() int {
	total := 0
	for {
		now := s.now()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return total
		}
		removed := 0
		for id, art := range s.items {
			if now.Before(art.ExpiresAt) {
				continue
			}
			delete(s.items, id)
			removed++
			if removed >= s.config.SweepBatch {
				break
			}
		}
		s.mu.Unlock()

		total += removed
		if removed < s.config.SweepBatch {
			break
		}
	}
	if total > 0 && s.expiredCounter != nil {
		s.expiredCounter.Add(context.Background(), int64(total), metric.WithAttributes(
			attribute.String("path", "sweep"),
		))
	}
	return total
}
