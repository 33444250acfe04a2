// Package vectorindex manages the lifecycle of the vector index and exposes
// similarity search over it. Storage engines plug in through Backend.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/llm"
	"github.com/starford/ragsync/internal/models"
)

const (
	DefaultBatchSize       = 100
	DefaultPropagationWait = 10 * time.Second
	DefaultTopK            = 4
	defaultEmbedWorkers    = 4
)

// Record is a chunk with its embedding.
type Record struct {
	Chunk  models.Chunk
	Vector []float32
}

// Backend is a vector storage engine. Implementations must be safe for
// concurrent use.
type Backend interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, desc models.IndexDescriptor) error
	Delete(ctx context.Context, name string) error
	Upsert(ctx context.Context, name string, records []Record) error
	Query(ctx context.Context, name string, vector []float32, k int) ([]models.ScoredChunk, error)
	Count(ctx context.Context, name string) (int, error)
}

// Manager binds to one index and serves reads and writes against it.
// Every operation except EnsureIndex and Bind fails with
// apperr.ErrNotInitialized until the index has been confirmed or created.
type Manager struct {
	backend  Backend
	embedder llm.Embedder
	desc     models.IndexDescriptor

	batchSize       int
	embedWorkers    int
	propagationWait time.Duration
	sleep           func(time.Duration)
	logger          *slog.Logger

	lifecycle sync.Mutex // serializes EnsureIndex, Bind and DeleteIndex
	mu        sync.RWMutex
	bound     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBatchSize sets the number of records per backend upsert call.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithEmbedWorkers bounds concurrent embedding calls during Upsert.
func WithEmbedWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.embedWorkers = n
		}
	}
}

// WithPropagationWait sets how long EnsureIndex waits after creating an
// index before it is used.
func WithPropagationWait(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.propagationWait = d
		}
	}
}

// WithSleep replaces time.Sleep for the propagation wait.
func WithSleep(fn func(time.Duration)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates an unbound Manager for the index described by desc.
// embedder vectorizes queries.
func NewManager(backend Backend, embedder llm.Embedder, desc models.IndexDescriptor, opts ...Option) *Manager {
	m := &Manager{
		backend:         backend,
		embedder:        embedder,
		desc:            desc,
		batchSize:       DefaultBatchSize,
		embedWorkers:    defaultEmbedWorkers,
		propagationWait: DefaultPropagationWait,
		sleep:           time.Sleep,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Descriptor returns the managed index descriptor.
func (m *Manager) Descriptor() models.IndexDescriptor { return m.desc }

// Bound reports whether the index has been confirmed or created.
func (m *Manager) Bound() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bound
}

func (m *Manager) setBound(v bool) {
	m.mu.Lock()
	m.bound = v
	m.mu.Unlock()
}

// EnsureIndex creates the index if it does not exist and binds to it. After
// a creation it blocks for the propagation wait. created reports whether the
// index was created by this call.
func (m *Manager) EnsureIndex(ctx context.Context) (created bool, err error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	exists, err := m.backend.Exists(ctx, m.desc.Name)
	if err != nil {
		return false, fmt.Errorf("vectorindex: check %s: %w: %w", m.desc.Name, apperr.ErrIndexCreationFailed, err)
	}
	if !exists {
		if err := m.backend.Create(ctx, m.desc); err != nil {
			return false, fmt.Errorf("vectorindex: create %s: %w: %w", m.desc.Name, apperr.ErrIndexCreationFailed, err)
		}
		m.logger.Info("vectorindex: index created",
			slog.String("name", m.desc.Name),
			slog.Int("dimension", m.desc.Dimension),
			slog.String("metric", string(m.desc.Metric)))
		if m.propagationWait > 0 {
			m.sleep(m.propagationWait)
		}
		created = true
	}
	m.setBound(true)
	return created, nil
}

// Bind binds to the index if it already exists. It never creates one.
func (m *Manager) Bind(ctx context.Context) (bool, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.Bound() {
		return true, nil
	}
	exists, err := m.backend.Exists(ctx, m.desc.Name)
	if err != nil {
		return false, fmt.Errorf("vectorindex: check %s: %w", m.desc.Name, err)
	}
	m.setBound(exists)
	return exists, nil
}

// DeleteIndex drops the index and unbinds the manager.
func (m *Manager) DeleteIndex(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if err := m.backend.Delete(ctx, m.desc.Name); err != nil {
		return fmt.Errorf("vectorindex: delete %s: %w", m.desc.Name, err)
	}
	m.setBound(false)
	m.logger.Info("vectorindex: index deleted", slog.String("name", m.desc.Name))
	return nil
}

// Count returns the number of stored vectors.
func (m *Manager) Count(ctx context.Context) (int, error) {
	if !m.Bound() {
		return 0, apperr.ErrNotInitialized
	}
	return m.backend.Count(ctx, m.desc.Name)
}

// Upsert embeds chunks with embedder (the manager's own when nil) and writes
// them in batches keyed by chunk id. Existing ids are overwritten.
func (m *Manager) Upsert(ctx context.Context, chunks []models.Chunk, embedder llm.Embedder) error {
	if !m.Bound() {
		return apperr.ErrNotInitialized
	}
	if len(chunks) == 0 {
		return nil
	}
	if embedder == nil {
		embedder = m.embedder
	}

	records := make([]Record, len(chunks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.embedWorkers)
	for i := range chunks {
		g.Go(func() error {
			vec, err := embedder.Embed(gCtx, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", chunks[i].ID, err)
			}
			if m.desc.Dimension > 0 && len(vec) != m.desc.Dimension {
				return fmt.Errorf("embed chunk %s: dimension %d, index expects %d", chunks[i].ID, len(vec), m.desc.Dimension)
			}
			records[i] = Record{Chunk: chunks[i], Vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("vectorindex: %w: %w", apperr.ErrUpsertFailed, err)
	}

	for start := 0; start < len(records); start += m.batchSize {
		end := min(start+m.batchSize, len(records))
		if err := m.backend.Upsert(ctx, m.desc.Name, records[start:end]); err != nil {
			return fmt.Errorf("vectorindex: batch %d-%d: %w: %w", start, end, apperr.ErrUpsertFailed, err)
		}
	}
	m.logger.Debug("vectorindex: upserted", slog.Int("chunks", len(records)))
	return nil
}

// Search returns up to k chunks most similar to query, best first.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if !m.Bound() {
		return nil, apperr.ErrNotInitialized
	}
	if k <= 0 {
		k = DefaultTopK
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: embed query: %w", err)
	}
	hits, err := m.backend.Query(ctx, m.desc.Name, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	return hits, nil
}

// Retriever is a fixed-k view over a Manager.
type Retriever struct {
	m *Manager
	k int
}

// AsRetriever returns a Retriever yielding up to k chunks per query.
func (m *Manager) AsRetriever(k int) (*Retriever, error) {
	if !m.Bound() {
		return nil, apperr.ErrNotInitialized
	}
	if k <= 0 {
		k = DefaultTopK
	}
	return &Retriever{m: m, k: k}, nil
}

// K returns the retriever's result limit.
func (r *Retriever) K() int { return r.k }

// Retrieve returns the chunks most similar to query.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.ScoredChunk, error) {
	return r.m.Search(ctx, query, r.k)
}
