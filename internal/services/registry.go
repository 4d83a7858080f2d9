// Package services wires reflectd's components together behind a single
// registry, so the entrypoint and any outer request-handling layer share one
// view of the running system.
package services

import (
	"github.com/innerverselabs/reflectd/internal/analysis"
	"github.com/innerverselabs/reflectd/internal/artifacts"
	"github.com/innerverselabs/reflectd/internal/embeddings"
	"github.com/innerverselabs/reflectd/internal/recordstore"
	"github.com/innerverselabs/reflectd/internal/session"
	"github.com/innerverselabs/reflectd/internal/vectorstore"
)

// Registry provides access to all reflectd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Sessions() *session.Manager
	Analysis() *analysis.Service
	Artifacts() *artifacts.Store
	Embedder() embeddings.Embedder
	VectorStore() vectorstore.Store
	RecordStore() recordstore.Store
}

// Options configures the registry with service instances.
type Options struct {
	Sessions    *session.Manager
	Analysis    *analysis.Service
	Artifacts   *artifacts.Store
	Embedder    embeddings.Embedder
	VectorStore vectorstore.Store
	RecordStore recordstore.Store
}

// registry is the concrete implementation of Registry.
type registry struct {
	sessions    *session.Manager
	analysis    *analysis.Service
	artifacts   *artifacts.Store
	embedder    embeddings.Embedder
	vectorStore vectorstore.Store
	recordStore recordstore.Store
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		sessions:    opts.Sessions,
		analysis:    opts.Analysis,
		artifacts:   opts.Artifacts,
		embedder:    opts.Embedder,
		vectorStore: opts.VectorStore,
		recordStore: opts.RecordStore,
	}
}

func (r *registry) Sessions() *session.Manager     { return r.sessions }
func (r *registry) Analysis() *analysis.Service    { return r.analysis }
func (r *registry) Artifacts() *artifacts.Store    { return r.artifacts }
func (r *registry) Embedder() embeddings.Embedder  { return r.embedder }
func (r *registry) VectorStore() vectorstore.Store { return r.vectorStore }
func (r *registry) RecordStore() recordstore.Store { return r.recordStore }
