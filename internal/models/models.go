// Package models defines the domain types shared by the sync pipeline and the
// conversation layer.
package models

// Kind classifies a document source by how it is loaded.
type Kind string

const (
	KindText Kind = "text"
	KindPDF  Kind = "pdf"
	KindWeb  Kind = "web"
)

// Roles of a conversation message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Metadata keys attached to documents and chunks.
const (
	MetaSource     = "source"
	MetaPageNumber = "page_number"
	MetaTitle      = "title"
	MetaTags       = "tags"
	MetaChunkIndex = "chunk_index"
)

// FileRecord is the persisted fingerprint of an ingested corpus file.
// LastModified is seconds since the epoch with sub-second precision.
type FileRecord struct {
	Path         string  `json:"-"`
	LastModified float64 `json:"last_modified"`
	SizeBytes    int64   `json:"size"`
}

// SameFingerprint reports whether r and o describe the same file state.
func (r FileRecord) SameFingerprint(o FileRecord) bool {
	return r.LastModified == o.LastModified && r.SizeBytes == o.SizeBytes
}

// Source locates something a loader can turn into documents.
// Location is a file path for corpus files and a URL for web sources.
type Source struct {
	Location string `json:"location"`
	Kind     Kind   `json:"kind"`
}

// Document is the unit produced by a loader, before splitting.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Source returns the "source" metadata value, or "" when absent.
func (d Document) Source() string {
	s, _ := d.Metadata[MetaSource].(string)
	return s
}

// Chunk is a bounded slice of a document's content. Chunks are immutable
// once created.
type Chunk struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Source returns the "source" metadata value, or "" when absent.
func (c Chunk) Source() string {
	s, _ := c.Metadata[MetaSource].(string)
	return s
}

// ScoredChunk is a chunk returned by a similarity query.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// Metric is the similarity metric of a vector index.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotproduct"
)

// IndexDescriptor describes a vector index. Cloud and Region are passed
// through to the backend untouched.
type IndexDescriptor struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    Metric `json:"metric"`
	Cloud     string `json:"cloud"`
	Region    string `json:"region"`
}

// Message is one turn entry of a conversation thread.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
