// Package splitter cuts documents into bounded, overlapping chunks.
//
// Two modes are supported. Recursive mode tries separators in priority order
// (paragraph, line, word, character) and only descends to a finer separator
// for pieces that are still too large. Flat mode splits on one fixed
// separator. In both modes adjacent pieces are greedily merged up to the chunk
// size, and the tail of each emitted chunk is carried into the next one as
// overlap. Lengths are measured in characters (runes).
package splitter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/starford/ragsync/internal/models"
)

// Mode selects a splitting strategy.
type Mode string

const (
	ModeRecursive Mode = "recursive"
	ModeFlat      Mode = "flat"
)

const (
	DefaultChunkSize     = 800
	DefaultChunkOverlap  = 100
	DefaultFlatSeparator = "\n"
)

// DefaultSeparators is the recursive separator priority list.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// chunkNamespace scopes deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c39a4-8d52-4d1e-9a67-3f0b7d2e5c11")

// Splitter is safe for concurrent use; it holds configuration only.
type Splitter struct {
	chunkSize     int
	overlap       int
	separators    []string
	flatSeparator string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between adjacent chunks in characters.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// WithSeparators replaces the recursive separator list.
func WithSeparators(seps []string) Option {
	return func(s *Splitter) {
		if len(seps) > 0 {
			s.separators = append([]string(nil), seps...)
		}
	}
}

// WithFlatSeparator sets the separator used in flat mode.
func WithFlatSeparator(sep string) Option {
	return func(s *Splitter) {
		s.flatSeparator = sep
	}
}

// New creates a Splitter. Overlap must be smaller than the chunk size.
func New(opts ...Option) (*Splitter, error) {
	s := &Splitter{
		chunkSize:     DefaultChunkSize,
		overlap:       DefaultChunkOverlap,
		separators:    DefaultSeparators,
		flatSeparator: DefaultFlatSeparator,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		return nil, fmt.Errorf("splitter: overlap %d must be smaller than chunk size %d", s.overlap, s.chunkSize)
	}
	return s, nil
}

// ChunkSize returns the configured chunk size.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Split turns documents into chunks, preserving document order and the order
// of chunks within each document. Every chunk inherits its document's
// metadata plus a chunk_index. Empty input yields an empty, non-nil slice.
func (s *Splitter) Split(docs []models.Document, mode Mode) []models.Chunk {
	out := make([]models.Chunk, 0, len(docs))
	for _, doc := range docs {
		for i, text := range s.SplitText(doc.Content, mode) {
			meta := make(map[string]any, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta[models.MetaChunkIndex] = i
			out = append(out, models.Chunk{
				ID:       ChunkID(doc, i),
				Content:  text,
				Metadata: meta,
			})
		}
	}
	return out
}

// SplitText splits a single text. Flat mode drops the separator between
// pieces; recursive mode keeps it attached to the start of the following
// piece.
func (s *Splitter) SplitText(text string, mode Mode) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if mode == ModeFlat {
		return s.mergeSplits(splitOn(text, s.flatSeparator, false), s.flatSeparator)
	}
	return s.splitRecursive(text, s.separators)
}

// ChunkID derives a stable id from the document source, page and position, so
// re-ingesting a file overwrites its earlier vectors position by position.
func ChunkID(doc models.Document, index int) string {
	key := doc.Source()
	if page, ok := doc.Metadata[models.MetaPageNumber]; ok {
		key += "#p" + fmt.Sprint(page)
	}
	key += "#" + strconv.Itoa(index)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

func (s *Splitter) splitRecursive(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitOn(text, separator, true) {
		if length(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.mergeSplits(good, "")...)
			good = nil
		}
		if len(rest) == 0 {
			// Atomic unit larger than the chunk size; kept whole.
			if t := strings.TrimSpace(piece); t != "" {
				final = append(final, t)
			}
		} else {
			final = append(final, s.splitRecursive(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.mergeSplits(good, "")...)
	}
	return final
}

// mergeSplits greedily packs pieces into chunks no longer than chunkSize,
// joined by separator, carrying up to overlap characters of trailing pieces
// into the next chunk.
func (s *Splitter) mergeSplits(splits []string, separator string) []string {
	sepLen := length(separator)
	var (
		docs    []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, d := range splits {
		n := length(d)
		if total+n+joinLen() > s.chunkSize && len(current) > 0 {
			if doc, ok := joinDocs(current, separator); ok {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+n+joinLen() > s.chunkSize && total > 0) {
				drop := length(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, d)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc, ok := joinDocs(current, separator); ok {
		docs = append(docs, doc)
	}
	return docs
}

func joinDocs(parts []string, separator string) (string, bool) {
	text := strings.TrimSpace(strings.Join(parts, separator))
	return text, text != ""
}

// splitOn splits text on separator and drops empty pieces. With keep set the
// separator is prefixed to every piece after the first. An empty separator
// splits into characters.
func splitOn(text, separator string, keep bool) []string {
	var pieces []string
	switch {
	case separator == "":
		pieces = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	case keep:
		raw := strings.Split(text, separator)
		pieces = make([]string, 0, len(raw))
		pieces = append(pieces, raw[0])
		for _, p := range raw[1:] {
			pieces = append(pieces, separator+p)
		}
	default:
		pieces = strings.Split(text, separator)
	}

	out := pieces[:0]
	for _, p := range pieces {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
