// Package loader turns sources (corpus files, web pages, PDFs) into documents.
package loader

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/models"
)

// Loader reads one source into zero or more documents.
type Loader interface {
	Load(ctx context.Context, src models.Source) ([]models.Document, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, src models.Source) ([]models.Document, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, src models.Source) ([]models.Document, error) {
	return f(ctx, src)
}

// Registry dispatches sources to the loader registered for their kind.
type Registry struct {
	loaders map[models.Kind]Loader
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[models.Kind]Loader)}
}

// Register sets the loader for kind, replacing any previous one.
func (r *Registry) Register(kind models.Kind, l Loader) {
	r.loaders[kind] = l
}

// Has reports whether a loader is registered for kind.
func (r *Registry) Has(kind models.Kind) bool {
	_, ok := r.loaders[kind]
	return ok
}

// Load delegates to the registered loader. Every failure is wrapped with
// apperr.ErrSourceUnavailable.
func (r *Registry) Load(ctx context.Context, src models.Source) ([]models.Document, error) {
	l, ok := r.loaders[src.Kind]
	if !ok {
		return nil, fmt.Errorf("loader: no loader for kind %q (%s): %w", src.Kind, src.Location, apperr.ErrSourceUnavailable)
	}
	docs, err := l.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w: %w", src.Location, apperr.ErrSourceUnavailable, err)
	}
	return docs, nil
}

// Classifier maps file extensions to kinds.
type Classifier map[string]models.Kind

// NewClassifier builds a Classifier from per-kind extension lists.
// Extensions are matched case-insensitively and may omit the leading dot.
func NewClassifier(text, pdf []string) Classifier {
	c := make(Classifier, len(text)+len(pdf))
	for _, ext := range text {
		c[normalizeExt(ext)] = models.KindText
	}
	for _, ext := range pdf {
		c[normalizeExt(ext)] = models.KindPDF
	}
	return c
}

// Kind returns the kind of p and whether it is supported.
func (c Classifier) Kind(p string) (models.Kind, bool) {
	k, ok := c[normalizeExt(path.Ext(p))]
	return k, ok
}

// ClassifyURL picks the kind of a remote source: PDF when the URL path ends
// in .pdf, web page otherwise.
func ClassifyURL(rawURL string) models.Kind {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if strings.EqualFold(path.Ext(p), ".pdf") {
		return models.KindPDF
	}
	return models.KindWeb
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func isRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
