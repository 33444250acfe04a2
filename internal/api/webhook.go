package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/starford/ragsync/internal/line"
)

// Responder produces a user-safe reply for a message on a thread.
type Responder interface {
	Respond(ctx context.Context, threadID, input string) string
}

// Replier delivers a reply to a webhook event.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// WebhookHandler serves the LINE messaging webhook. Each text message event
// is answered through the Responder with the sender id as thread id.
type WebhookHandler struct {
	responder Responder
	replier   Replier
	secret    string
}

// NewWebhookHandler creates a WebhookHandler. An empty secret disables
// signature verification.
func NewWebhookHandler(responder Responder, replier Replier, secret string) *WebhookHandler {
	return &WebhookHandler{responder: responder, replier: replier, secret: secret}
}

// ServeHTTP handles POST /webhook.
//
//	@Summary		LINE messaging webhook
//	@Tags			webhook
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	WebhookResponse
//	@Failure		400	{object}	errResponse
//	@Failure		401	{object}	errResponse
//	@Router			/webhook [post]
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if h.secret != "" && !line.VerifySignature(h.secret, body, r.Header.Get(line.SignatureHeader)) {
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid signature"))
		return
	}

	var payload line.Webhook
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	replied := 0
	for _, ev := range payload.Events {
		text, ok := ev.TextMessage()
		if !ok {
			continue
		}
		threadID := ev.ThreadID()
		reply := h.responder.Respond(r.Context(), threadID, text)
		if err := h.replier.Reply(r.Context(), ev.ReplyToken, reply); err != nil {
			slog.Error("webhook: reply failed", slog.String("thread_id", threadID), slog.String("error", err.Error()))
			continue
		}
		replied++
	}
	slog.Info("webhook: processed", slog.Int("events", len(payload.Events)), slog.Int("replied", replied))
	writeJSON(w, http.StatusOK, WebhookResponse{Status: "received", Message: "Webhook processed successfully"})
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status  string `json:"status" example:"received"`
	Message string `json:"message"`
}
