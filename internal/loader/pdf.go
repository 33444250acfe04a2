package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/docintel"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/storage"
)

// Analyzer extracts page text from PDF documents (OCR).
type Analyzer interface {
	AnalyzeFile(ctx context.Context, r io.Reader) ([]docintel.Page, error)
	AnalyzeURL(ctx context.Context, url string) ([]docintel.Page, error)
}

// PDFLoader produces one document per page.
type PDFLoader struct {
	analyzer Analyzer
	store    storage.Provider
}

// NewPDFLoader creates a PDFLoader. store resolves corpus-relative locations
// and may be nil when only URLs are loaded.
func NewPDFLoader(analyzer Analyzer, store storage.Provider) *PDFLoader {
	return &PDFLoader{analyzer: analyzer, store: store}
}

// Load analyzes a corpus file or, for http(s) locations, a remote document.
func (l *PDFLoader) Load(ctx context.Context, src models.Source) ([]models.Document, error) {
	if l.analyzer == nil {
		return nil, errors.New("document analysis is not configured")
	}

	var (
		pages []docintel.Page
		err   error
	)
	if isRemote(src.Location) {
		pages, err = l.analyzer.AnalyzeURL(ctx, src.Location)
	} else {
		if l.store == nil {
			return nil, errors.New("no corpus store for local pdf")
		}
		var data []byte
		data, err = l.store.Read(src.Location)
		if err != nil {
			return nil, err
		}
		pages, err = l.analyzer.AnalyzeFile(ctx, bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	docs := make([]models.Document, 0, len(pages))
	for _, p := range pages {
		docs = append(docs, models.Document{
			Content: strings.Join(p.Lines, "\n"),
			Metadata: map[string]any{
				models.MetaSource:     src.Location,
				models.MetaPageNumber: p.Number,
				"width":               p.Width,
				"height":              p.Height,
				"unit":                p.Unit,
			},
		})
	}
	return docs, nil
}

func wrapTimeout(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
	}
	return err
}
