// Package config provides configuration loading for reflectd.
package config

import (
	"fmt"
	"time"

	"github.com/innerverselabs/reflectd/internal/analysis"
	"github.com/innerverselabs/reflectd/internal/artifacts"
	"github.com/innerverselabs/reflectd/internal/embeddings"
	"github.com/innerverselabs/reflectd/internal/logging"
	"github.com/innerverselabs/reflectd/internal/recordstore"
	"github.com/innerverselabs/reflectd/internal/session"
	"github.com/innerverselabs/reflectd/internal/vectorstore"
)

// Record store providers.
const (
	RecordStoreMemory    = "memory"
	RecordStoreFirestore = "firestore"
)

// Config is the complete reflectd configuration.
type Config struct {
	Logging     logging.Config            `koanf:"logging"`
	Session     session.Config            `koanf:"session"`
	Analysis    analysis.Config           `koanf:"analysis"`
	Artifacts   artifacts.Config          `koanf:"artifacts"`
	Embeddings  embeddings.Config         `koanf:"embeddings"`
	VectorStore vectorstore.ChromemConfig `koanf:"vectorstore"`
	RecordStore RecordStoreConfig         `koanf:"recordstore"`
	Shutdown    ShutdownConfig            `koanf:"shutdown"`
}

// RecordStoreConfig selects and configures the durable session store.
type RecordStoreConfig struct {
	// Provider is "memory" or "firestore". Default: memory.
	Provider string `koanf:"provider"`

	Firestore recordstore.FirestoreConfig `koanf:"firestore"`
}

// ShutdownConfig controls graceful shutdown.
type ShutdownConfig struct {
	// Timeout bounds how long shutdown waits for in-flight analysis.
	// Default: 10s.
	Timeout time.Duration `koanf:"timeout"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" && cfg.Logging.Format == "" {
		cfg.Logging = *logging.NewDefaultConfig()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Session.MaxDurationFactor == 0 {
		cfg.Session.MaxDurationFactor = 2
	}
	if cfg.Session.CompletedBuffer == 0 {
		cfg.Session.CompletedBuffer = 64
	}

	cfg.Analysis.ApplyDefaults()

	if cfg.Artifacts.DefaultTTL == 0 {
		cfg.Artifacts.DefaultTTL = time.Hour
	}
	if cfg.Artifacts.SweepInterval == 0 {
		cfg.Artifacts.SweepInterval = 5 * time.Minute
	}
	if cfg.Artifacts.SweepBatch == 0 {
		cfg.Artifacts.SweepBatch = 256
	}

	// The fingerprint dimension and the store's vector size describe the
	// same deployment constant; let either one stand in for the other
	// before per-package defaults fill both with 768.
	if cfg.VectorStore.VectorSize == 0 && cfg.Embeddings.Dimension != 0 {
		cfg.VectorStore.VectorSize = cfg.Embeddings.Dimension
	}
	if cfg.Embeddings.Dimension == 0 && cfg.VectorStore.VectorSize != 0 {
		cfg.Embeddings.Dimension = cfg.VectorStore.VectorSize
	}
	cfg.Embeddings.ApplyDefaults()
	cfg.VectorStore.ApplyDefaults()

	if cfg.RecordStore.Provider == "" {
		cfg.RecordStore.Provider = RecordStoreMemory
	}
	cfg.RecordStore.Firestore.ApplyDefaults()

	if cfg.Shutdown.Timeout == 0 {
		cfg.Shutdown.Timeout = 10 * time.Second
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vectorstore: %w", err)
	}

	switch c.RecordStore.Provider {
	case RecordStoreMemory:
	case RecordStoreFirestore:
		if err := c.RecordStore.Firestore.Validate(); err != nil {
			return fmt.Errorf("recordstore: %w", err)
		}
	default:
		return fmt.Errorf("recordstore: unknown provider %q", c.RecordStore.Provider)
	}

	if c.Embeddings.Dimension != c.VectorStore.VectorSize {
		return fmt.Errorf("embedding dimension %d does not match vector store size %d",
			c.Embeddings.Dimension, c.VectorStore.VectorSize)
	}
	return nil
}
