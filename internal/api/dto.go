package api

import (
	"time"

	"github.com/starford/ragsync/internal/agent"
	"github.com/starford/ragsync/internal/models"
)

// ChatRequest is the request body for a chat turn. An empty thread id starts
// a new thread.
type ChatRequest struct {
	ThreadID string `json:"thread_id" example:"U4af4980629"`
	Message  string `json:"message" example:"What languages does Chris use?" validate:"required"`
}

// ChatResponse is the answer to a chat turn.
type ChatResponse struct {
	ThreadID   string            `json:"thread_id" validate:"required"`
	Answer     string            `json:"answer" validate:"required"`
	Reset      bool              `json:"reset"`
	ToolEvents []agent.ToolEvent `json:"tool_events"`
}

// ThreadResponse wraps a thread history.
type ThreadResponse struct {
	ThreadID string           `json:"thread_id" validate:"required"`
	Messages []models.Message `json:"messages" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	ID       string         `json:"id" validate:"required"`
	Content  string         `json:"content" validate:"required"`
	Score    float64        `json:"score" example:"0.83" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// IngestRequest is the request body for ingesting a remote source.
type IngestRequest struct {
	URL string `json:"url" example:"https://example.com/blog/post" validate:"required"`
}

// IngestResponse reports how many chunks a remote source produced.
type IngestResponse struct {
	URL    string `json:"url" validate:"required"`
	Chunks int    `json:"chunks" example:"12" validate:"required"`
}

// StatusResponse describes the index and the tracked corpus.
type StatusResponse struct {
	Ready   bool                   `json:"ready"`
	Index   models.IndexDescriptor `json:"index"`
	Vectors int                    `json:"vectors"`
	Tracked []TrackedFile          `json:"tracked"`
}

// TrackedFile is the recorded fingerprint of one corpus file.
type TrackedFile struct {
	Path         string  `json:"path" validate:"required"`
	LastModified float64 `json:"last_modified"`
	Size         int64   `json:"size"`
}

// DocumentInfo describes one corpus file.
type DocumentInfo struct {
	Path      string    `json:"path" example:"cv/resume.pdf" validate:"required"`
	Size      int64     `json:"size" example:"12345"`
	ModTime   time.Time `json:"mod_time,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
	Supported bool      `json:"supported"`
}

// DocumentListResponse wraps corpus listings.
type DocumentListResponse struct {
	Documents []DocumentInfo `json:"documents" validate:"required"`
	Total     int            `json:"total" example:"42" validate:"required"`
}
