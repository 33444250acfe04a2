package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/chat"
	"github.com/starford/ragsync/internal/checksum"
	"github.com/starford/ragsync/internal/indexsync"
	"github.com/starford/ragsync/internal/sse"
	"github.com/starford/ragsync/internal/storage"
)

const (
	maxJSONBytes     = 1 << 20
	maxDocumentBytes = 50 << 20 // 50 MB
)

// Handler holds API route handlers.
type Handler struct {
	chat     *chat.Service
	pipeline *indexsync.Pipeline
	corpus   storage.Provider
	events   *sse.Broker
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(chatSvc *chat.Service, pipeline *indexsync.Pipeline, corpus storage.Provider, events *sse.Broker) *Handler {
	return &Handler{chat: chatSvc, pipeline: pipeline, corpus: corpus, events: events}
}

// documentPath extracts the corpus path from the URL (everything after /documents/).
// Supports encoded slashes (e.g. cv%2Fresume.pdf).
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeError maps domain errors to status codes. Bodies never carry
// internal error detail.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid input"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrNotInitialized):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(apperr.UserMessage(err)))
	case errors.Is(err, apperr.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errorBody(apperr.UserMessage(err)))
	case errors.Is(err, apperr.ErrSourceUnavailable):
		writeJSON(w, http.StatusBadGateway, errorBody("source unavailable"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// Chat handles POST /api/chat.
//
//	@Summary		Send a chat message and get a grounded answer
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ChatRequest	true	"Message"
//	@Success		200		{object}	ChatResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chat [post]
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("message is required"))
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	turn, err := h.chat.Turn(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		writeError(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		ThreadID:   turn.ThreadID,
		Answer:     turn.Answer,
		Reset:      turn.Reset,
		ToolEvents: turn.Events,
	})
}

// ThreadMessages handles GET /api/threads/{id}/messages.
//
//	@Summary		Get the full history of a thread
//	@Tags			chat
//	@Produce		json
//	@Param			id	path		string	true	"Thread id"
//	@Success		200	{object}	ThreadResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id}/messages [get]
func (h *Handler) ThreadMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := h.chat.History(id)
	if err != nil {
		writeError(w, "thread history", err)
		return
	}
	writeJSON(w, http.StatusOK, ThreadResponse{ThreadID: id, Messages: msgs})
}

// ClearThread handles DELETE /api/threads/{id}.
//
//	@Summary		Clear a thread's history
//	@Tags			chat
//	@Param			id	path	string	true	"Thread id"
//	@Success		204	"Thread cleared"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id} [delete]
func (h *Handler) ClearThread(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Clear(chi.URLParam(r, "id")); err != nil {
		writeError(w, "clear thread", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Similarity search over the vector index
//	@Tags			search
//	@Produce		json
//	@Param			q	query		string	true	"Search query"
//	@Param			k	query		int		false	"Max results"
//	@Success		200	{object}	SearchResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))
	hits, err := h.chat.SimilaritySearch(r.Context(), q, k)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{ID: hit.ID, Content: hit.Content, Score: hit.Score, Metadata: hit.Metadata}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Sync handles POST /api/sync.
//
//	@Summary		Run one index sync cycle
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	indexsync.Report
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.pipeline.Run(r.Context())
	if err != nil {
		if h.events != nil {
			h.events.PublishSyncFailure("sync cycle failed")
		}
		writeError(w, "sync", err)
		return
	}
	if h.events != nil {
		h.events.PublishSync(report, report.Ingested)
	}
	writeJSON(w, http.StatusOK, report)
}

// Ingest handles POST /api/ingest.
//
//	@Summary		Index a remote web page or PDF
//	@Tags			index
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IngestRequest	true	"URL to ingest"
//	@Success		200		{object}	IngestResponse
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ingest [post]
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("an http(s) url is required"))
		return
	}
	n, err := h.pipeline.IngestURL(r.Context(), req.URL)
	if err != nil {
		writeError(w, "ingest", err)
		return
	}
	if h.events != nil && n > 0 {
		h.events.PublishSync(IngestResponse{URL: req.URL, Chunks: n}, []string{req.URL})
	}
	writeJSON(w, http.StatusOK, IngestResponse{URL: req.URL, Chunks: n})
}

// Status handles GET /api/status.
//
//	@Summary		Index and corpus status
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	idx := h.pipeline.Index()
	records := h.pipeline.Tracked()
	resp := StatusResponse{
		Ready:   idx.Bound(),
		Index:   idx.Descriptor(),
		Tracked: make([]TrackedFile, len(records)),
	}
	for i, rec := range records {
		resp.Tracked[i] = TrackedFile{Path: rec.Path, LastModified: rec.LastModified, Size: rec.SizeBytes}
	}
	if resp.Ready {
		n, err := idx.Count(r.Context())
		if err != nil {
			writeError(w, "status", err)
			return
		}
		resp.Vectors = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List corpus files
//	@Tags			documents
//	@Produce		json
//	@Success		200	{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, _ *http.Request) {
	entries, err := h.corpus.List("")
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	docs := make([]DocumentInfo, len(entries))
	for i, e := range entries {
		docs[i] = DocumentInfo{Path: e.Path, Size: e.Size, ModTime: e.ModTime, Supported: h.pipeline.Supports(e.Path)}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs, Total: len(docs)})
}

// PutDocument handles PUT /api/documents/*. The request body is the raw
// file content. The next sync cycle picks the file up. An If-Match header
// must carry the SHA-256 of the current content for the write to proceed.
//
//	@Summary		Upload or replace a corpus file
//	@Tags			documents
//	@Accept			octet-stream
//	@Produce		json
//	@Param			path		path		string	true	"Corpus path"
//	@Param			If-Match	header		string	false	"Checksum of the content being replaced"
//	@Success		201			{object}	DocumentInfo
//	@Failure		400			{object}	errResponse
//	@Failure		412			{object}	errResponse
//	@Failure		415			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [put]
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if !h.pipeline.Supports(path) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody("unsupported file type"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	if want := r.Header.Get("If-Match"); want != "" {
		current, err := h.corpus.Read(path)
		if err != nil || checksum.Sum(current) != want {
			writeJSON(w, http.StatusPreconditionFailed, errorBody("checksum mismatch"))
			return
		}
	}
	if err := h.corpus.Write(path, body); err != nil {
		slog.Error("write document failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
		return
	}
	writeJSON(w, http.StatusCreated, DocumentInfo{
		Path:      path,
		Size:      int64(len(body)),
		Checksum:  checksum.Sum(body),
		Supported: true,
	})
}

// DeleteDocument handles DELETE /api/documents/*.
//
//	@Summary		Delete a corpus file
//	@Tags			documents
//	@Param			path	path	string	true	"Corpus path"
//	@Success		204		"Document deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.corpus.Delete(path); err != nil {
		slog.Error("delete document failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
