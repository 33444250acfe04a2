package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Conversation.
	r.Post("/chat", h.Chat)
	r.Get("/threads/{id}/messages", h.ThreadMessages)
	r.Delete("/threads/{id}", h.ClearThread)

	// Retrieval.
	r.Get("/search", h.Search)

	// Index.
	r.Post("/sync", h.Sync)
	r.Post("/ingest", h.Ingest)
	r.Get("/status", h.Status)

	// Corpus files.
	r.Get("/documents", h.ListDocuments)
	r.Put("/documents/*", h.PutDocument)
	r.Delete("/documents/*", h.DeleteDocument)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
