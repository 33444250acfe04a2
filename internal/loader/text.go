package loader

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/storage"
)

// TextLoader reads UTF-8 text files from the corpus. Markdown files have
// their frontmatter parsed into title and tags metadata.
type TextLoader struct {
	store  storage.Provider
	logger *slog.Logger
}

// NewTextLoader creates a TextLoader reading through store.
func NewTextLoader(store storage.Provider, logger *slog.Logger) *TextLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextLoader{store: store, logger: logger}
}

// Load returns one document, or none for an empty or whitespace-only file.
func (l *TextLoader) Load(_ context.Context, src models.Source) ([]models.Document, error) {
	data, err := l.store.Read(src.Location)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}

	meta := map[string]any{models.MetaSource: src.Location}
	content := string(data)
	switch strings.ToLower(path.Ext(src.Location)) {
	case ".md", ".markdown":
		md := parseMarkdown(data)
		content = md.Body
		if md.Title != "" {
			meta[models.MetaTitle] = md.Title
		}
		if len(md.Tags) > 0 {
			meta[models.MetaTags] = md.Tags
		}
	}

	if strings.TrimSpace(content) == "" {
		l.logger.Warn("loader: empty file skipped", slog.String("path", src.Location))
		return nil, nil
	}
	l.logger.Debug("loader: text loaded",
		slog.String("path", src.Location),
		slog.Int("chars", utf8.RuneCountInString(content)))
	return []models.Document{{Content: content, Metadata: meta}}, nil
}
