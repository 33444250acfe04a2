// Package indexsync brings the vector index up to date with the corpus.
package indexsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ragsync/internal/loader"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/splitter"
	"github.com/starford/ragsync/internal/storage"
	"github.com/starford/ragsync/internal/tracker"
	"github.com/starford/ragsync/internal/vectorindex"
)

const defaultConcurrency = 4

// SourceError records a source that failed to load during a cycle.
type SourceError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Report summarizes one sync cycle.
type Report struct {
	Pruned       []string      `json:"pruned"`
	Scanned      int           `json:"scanned"`
	Unchanged    int           `json:"unchanged"`
	Ingested     []string      `json:"ingested"`
	Failed       []SourceError `json:"failed"`
	Chunks       int           `json:"chunks"`
	IndexCreated bool          `json:"index_created"`
	Bound        bool          `json:"bound"`
	Duration     time.Duration `json:"duration_ns"`
}

// Pipeline runs sync cycles. Cycles are serialized.
type Pipeline struct {
	store      storage.Provider
	tracker    *tracker.Tracker
	loaders    *loader.Registry
	classifier loader.Classifier
	splitter   *splitter.Splitter
	index      *vectorindex.Manager

	textMode    splitter.Mode
	pdfMode     splitter.Mode
	concurrency int
	logger      *slog.Logger

	mu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTextMode sets the split mode for text sources.
func WithTextMode(m splitter.Mode) Option {
	return func(p *Pipeline) {
		if m != "" {
			p.textMode = m
		}
	}
}

// WithPDFMode sets the split mode for PDF sources.
func WithPDFMode(m splitter.Mode) Option {
	return func(p *Pipeline) {
		if m != "" {
			p.pdfMode = m
		}
	}
}

// WithConcurrency bounds how many sources are loaded at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Pipeline.
func New(store storage.Provider, tr *tracker.Tracker, loaders *loader.Registry, classifier loader.Classifier,
	sp *splitter.Splitter, index *vectorindex.Manager, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		tracker:     tr,
		loaders:     loaders,
		classifier:  classifier,
		splitter:    sp,
		index:       index,
		textMode:    splitter.ModeFlat,
		pdfMode:     splitter.ModeRecursive,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Index returns the managed vector index.
func (p *Pipeline) Index() *vectorindex.Manager { return p.index }

// Supports reports whether a corpus path has a loadable kind.
func (p *Pipeline) Supports(path string) bool {
	_, ok := p.classifier.Kind(path)
	return ok
}

// Tracked returns the recorded fingerprints, sorted by path.
func (p *Pipeline) Tracked() []models.FileRecord { return p.tracker.Records() }

type loaded struct {
	src  models.Source
	docs []models.Document
	err  error
}

// Run executes one sync cycle:
//   - fingerprints of files gone from disk are pruned (their vectors stay)
//   - changed files are loaded concurrently; a failing file is skipped
//   - chunks of the cycle are upserted together, creating the index first if needed
//   - files are marked processed only after a successful upsert, with the
//     fingerprint they had before loading
//
// A cycle without chunks only binds to an existing index. Index creation and
// upsert failures abort the cycle and are returned.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	report := Report{Pruned: []string{}, Ingested: []string{}, Failed: []SourceError{}}

	pruned, err := p.tracker.PruneMissing()
	if err != nil {
		return report, fmt.Errorf("indexsync: prune: %w", err)
	}
	report.Pruned = pruned
	for _, path := range pruned {
		p.logger.Info("sync: pruned missing file", slog.String("path", path))
	}

	entries, err := p.store.List("")
	if err != nil {
		return report, fmt.Errorf("indexsync: list corpus: %w", err)
	}

	var candidates []models.Source
	fingerprints := make(map[string]models.FileRecord)
	for _, e := range entries {
		kind, ok := p.classifier.Kind(e.Path)
		if !ok {
			continue
		}
		report.Scanned++
		// Taken before loading: the recorded fingerprint must describe the
		// content that was actually indexed.
		fp, err := p.tracker.Fingerprint(e.Path)
		if err != nil || !p.tracker.HasChanged(e.Path) {
			report.Unchanged++
			p.logger.Debug("sync: unchanged", slog.String("path", e.Path))
			continue
		}
		fingerprints[e.Path] = fp
		candidates = append(candidates, models.Source{Location: e.Path, Kind: kind})
	}

	results := p.loadAll(ctx, candidates)

	var chunks []models.Chunk
	var done []string
	for _, r := range results {
		if r.err != nil {
			p.logger.Warn("sync: source skipped",
				slog.String("path", r.src.Location),
				slog.String("error", r.err.Error()))
			report.Failed = append(report.Failed, SourceError{Source: r.src.Location, Error: r.err.Error()})
			continue
		}
		split := p.splitter.Split(r.docs, p.modeFor(r.src.Kind))
		chunks = append(chunks, split...)
		done = append(done, r.src.Location)
		if len(split) > 0 {
			report.Ingested = append(report.Ingested, r.src.Location)
		}
	}
	report.Chunks = len(chunks)

	if len(chunks) == 0 {
		bound, err := p.index.Bind(ctx)
		if err != nil {
			return report, fmt.Errorf("indexsync: bind: %w", err)
		}
		report.Bound = bound
		if err := p.mark(done, fingerprints); err != nil {
			return report, err
		}
		report.Duration = time.Since(start)
		p.logCycle(report)
		return report, nil
	}

	created, err := p.index.EnsureIndex(ctx)
	if err != nil {
		return report, err
	}
	report.IndexCreated = created
	report.Bound = true

	if err := p.index.Upsert(ctx, chunks, nil); err != nil {
		return report, err
	}
	if err := p.mark(done, fingerprints); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	p.logCycle(report)
	return report, nil
}

// IngestURL loads a remote web page or PDF, splits it recursively, and
// upserts its chunks, creating the index if needed.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := models.Source{Location: rawURL, Kind: loader.ClassifyURL(rawURL)}
	docs, err := p.loaders.Load(ctx, src)
	if err != nil {
		return 0, err
	}
	chunks := p.splitter.Split(docs, splitter.ModeRecursive)
	if len(chunks) == 0 {
		p.logger.Warn("ingest: no content", slog.String("url", rawURL))
		return 0, nil
	}
	if _, err := p.index.EnsureIndex(ctx); err != nil {
		return 0, err
	}
	if err := p.index.Upsert(ctx, chunks, nil); err != nil {
		return 0, err
	}
	p.logger.Info("ingest: url indexed", slog.String("url", rawURL), slog.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// loadAll loads every source with bounded concurrency. Results keep the
// order of srcs; per-source errors are captured, never returned.
func (p *Pipeline) loadAll(ctx context.Context, srcs []models.Source) []loaded {
	out := make([]loaded, len(srcs))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, src := range srcs {
		g.Go(func() error {
			docs, err := p.loaders.Load(ctx, src)
			out[i] = loaded{src: src, docs: docs, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Pipeline) mark(paths []string, fps map[string]models.FileRecord) error {
	for _, path := range paths {
		if err := p.tracker.Record(fps[path]); err != nil {
			return fmt.Errorf("indexsync: mark %s: %w", path, err)
		}
	}
	return nil
}

func (p *Pipeline) modeFor(kind models.Kind) splitter.Mode {
	if kind == models.KindPDF {
		return p.pdfMode
	}
	return p.textMode
}

func (p *Pipeline) logCycle(r Report) {
	p.logger.Info("sync: cycle complete",
		slog.Int("scanned", r.Scanned),
		slog.Int("unchanged", r.Unchanged),
		slog.Int("ingested", len(r.Ingested)),
		slog.Int("failed", len(r.Failed)),
		slog.Int("pruned", len(r.Pruned)),
		slog.Int("chunks", r.Chunks),
		slog.Bool("index_created", r.IndexCreated),
		slog.Bool("bound", r.Bound),
		slog.Duration("duration", r.Duration))
}
