// Package intent decides whether a chat message asks to reset the
// conversation.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/llm"
)

// Router classifies utterances.
type Router interface {
	IsResetIntent(ctx context.Context, utterance string) (bool, error)
}

const systemPrompt = `You are a message intent classifier.
Your task is to determine if a message expresses an intent to clear chat history, memory, or start a new conversation.
Respond with just 'true' if the intent is to clear memory/chat, or 'false' otherwise.
This should work across all languages.`

const userPromptFormat = `Determine if this message expresses an intent to clear chat history or memory: "%s"
Remember to respond with just 'true' or 'false'.`

// LLMRouter asks a chat model for a strict true/false answer. It is a
// best-effort classifier: answers may differ across model versions.
type LLMRouter struct {
	model           llm.ChatModel
	fallbackOnError bool
	logger          *slog.Logger
}

// LLMOption configures an LLMRouter.
type LLMOption func(*LLMRouter)

// WithFallbackOnError makes classification failures count as "not a reset"
// instead of returning apperr.ErrClassificationUnavailable. Failures are
// still logged.
func WithFallbackOnError(enabled bool) LLMOption {
	return func(r *LLMRouter) { r.fallbackOnError = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) LLMOption {
	return func(r *LLMRouter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewLLMRouter creates an LLMRouter backed by model.
func NewLLMRouter(model llm.ChatModel, opts ...LLMOption) *LLMRouter {
	r := &LLMRouter{model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsResetIntent implements Router.
func (r *LLMRouter) IsResetIntent(ctx context.Context, utterance string) (bool, error) {
	resp, err := r.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf(userPromptFormat, utterance)},
		},
		Temperature: llm.Float(0),
	})
	if err != nil {
		if r.fallbackOnError {
			r.logger.Warn("intent: classification failed, assuming no reset", slog.String("error", err.Error()))
			return false, nil
		}
		return false, fmt.Errorf("intent: %w: %w", apperr.ErrClassificationUnavailable, err)
	}
	return strings.ToLower(strings.TrimSpace(resp.Message.Content)) == "true", nil
}

// DefaultResetPhrases are matched by KeywordRouter.
var DefaultResetPhrases = []string{
	"forget everything",
	"forget our conversation",
	"clear memory",
	"clear your memory",
	"clear history",
	"clear chat",
	"clear the chat",
	"reset",
	"reset chat",
	"start over",
	"new conversation",
	"start a new conversation",
}

// KeywordRouter is a deterministic phrase matcher.
type KeywordRouter struct {
	phrases []string
}

// NewKeywordRouter creates a KeywordRouter. Empty phrases selects
// DefaultResetPhrases.
func NewKeywordRouter(phrases ...string) *KeywordRouter {
	if len(phrases) == 0 {
		phrases = DefaultResetPhrases
	}
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			norm = append(norm, n)
		}
	}
	return &KeywordRouter{phrases: norm}
}

// IsResetIntent implements Router. Phrases match on whole words.
func (r *KeywordRouter) IsResetIntent(_ context.Context, utterance string) (bool, error) {
	text := " " + normalize(utterance) + " "
	for _, p := range r.phrases {
		if strings.Contains(text, " "+p+" ") {
			return true, nil
		}
	}
	return false, nil
}

func normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}
