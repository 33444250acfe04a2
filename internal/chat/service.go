// Package chat orchestrates conversation turns: reset detection, grounded
// answering, direct search, and history.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/starford/ragsync/internal/agent"
	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/conversation"
	"github.com/starford/ragsync/internal/intent"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/vectorindex"
)

// Fixed replies.
const (
	ResetAck       = "Memory cleared. Starting a new conversation."
	NothingToClear = "No conversation history found to clear."
	NoResults      = "No results found"
)

// Defaults for the search shortcut.
const (
	SearchPrefix       = "search:"
	searchShortcutK    = 2
	searchPreviewRunes = 800
)

// Turn is the outcome of one chat turn.
type Turn struct {
	ThreadID string            `json:"thread_id"`
	Answer   string            `json:"answer"`
	Reset    bool              `json:"reset"`
	Events   []agent.ToolEvent `json:"tool_events"`
}

// Service is the conversation boundary.
type Service struct {
	index   *vectorindex.Manager
	store   *conversation.Store
	router  intent.Router
	agent   *agent.Agent
	toolK   int
	searchK int
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithToolTopK sets k for the retrieval tool.
func WithToolTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.toolK = k
		}
	}
}

// WithSearchTopK sets the default k for SimilaritySearch.
func WithSearchTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.searchK = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service.
func NewService(index *vectorindex.Manager, store *conversation.Store, router intent.Router, ag *agent.Agent, opts ...Option) *Service {
	s := &Service{
		index:   index,
		store:   store,
		router:  router,
		agent:   ag,
		toolK:   vectorindex.DefaultTopK,
		searchK: vectorindex.DefaultTopK,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether the index is bound.
func (s *Service) Ready() bool { return s.index.Bound() }

// Chat answers message on thread threadID.
func (s *Service) Chat(ctx context.Context, threadID, message string) (string, error) {
	t, err := s.Turn(ctx, threadID, message)
	if err != nil {
		return "", err
	}
	return t.Answer, nil
}

// Turn runs one turn. Turns on the same thread are serialized. A reset
// intent clears the thread and never reaches retrieval. Otherwise the last
// window messages are passed to the agent and the question and answer are
// appended, in that order.
func (s *Service) Turn(ctx context.Context, threadID, message string) (Turn, error) {
	threadID = strings.TrimSpace(threadID)
	message = strings.TrimSpace(message)
	if threadID == "" || message == "" {
		return Turn{}, fmt.Errorf("chat: thread id and message are required: %w", apperr.ErrInvalidInput)
	}
	if !s.index.Bound() {
		return Turn{}, apperr.ErrNotInitialized
	}

	unlock := s.store.Lock(threadID)
	defer unlock()

	reset, err := s.router.IsResetIntent(ctx, message)
	if err != nil {
		return Turn{}, err
	}
	if reset {
		answer := NothingToClear
		if s.store.Clear(threadID) {
			answer = ResetAck
			s.logger.Info("chat: history cleared", slog.String("thread_id", threadID))
		}
		return Turn{ThreadID: threadID, Answer: answer, Reset: true, Events: []agent.ToolEvent{}}, nil
	}

	retriever, err := s.index.AsRetriever(s.toolK)
	if err != nil {
		return Turn{}, err
	}
	history := s.store.Context(threadID, 0)
	res, err := s.agent.Run(ctx, retriever, history, message)
	if err != nil {
		return Turn{}, err
	}

	s.store.Append(threadID, models.RoleUser, message)
	s.store.Append(threadID, models.RoleAssistant, res.Answer)
	s.logger.Debug("chat: turn complete",
		slog.String("thread_id", threadID),
		slog.Int("iterations", res.Iterations),
		slog.Int("tool_calls", len(res.Events)))
	return Turn{ThreadID: threadID, Answer: res.Answer, Events: res.Events}, nil
}

// Respond is the user-facing entry point: it never returns internal error
// detail. Input starting with "search:" runs a direct similarity search.
func (s *Service) Respond(ctx context.Context, threadID, input string) string {
	input = strings.TrimSpace(input)
	if len(input) >= len(SearchPrefix) && strings.EqualFold(input[:len(SearchPrefix)], SearchPrefix) {
		return s.searchReply(ctx, strings.TrimSpace(input[len(SearchPrefix):]))
	}
	answer, err := s.Chat(ctx, threadID, input)
	if err != nil {
		s.logger.Error("chat: turn failed", slog.String("thread_id", threadID), slog.String("error", err.Error()))
		return apperr.UserMessage(err)
	}
	return answer
}

func (s *Service) searchReply(ctx context.Context, query string) string {
	hits, err := s.SimilaritySearch(ctx, query, searchShortcutK)
	if err != nil {
		s.logger.Error("chat: search failed", slog.String("query", query), slog.String("error", err.Error()))
		return apperr.UserMessage(err)
	}
	if len(hits) == 0 {
		return NoResults
	}
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("Result %d:\n%s...", i+1, preview(h.Content, searchPreviewRunes))
	}
	return strings.Join(parts, "\n\n")
}

// SimilaritySearch returns up to k chunks for query. k <= 0 selects the
// configured default.
func (s *Service) SimilaritySearch(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("chat: empty query: %w", apperr.ErrInvalidInput)
	}
	if k <= 0 {
		k = s.searchK
	}
	return s.index.Search(ctx, query, k)
}

// History returns the full history of a thread, creating it if needed.
func (s *Service) History(threadID string) ([]models.Message, error) {
	if !s.index.Bound() {
		return nil, apperr.ErrNotInitialized
	}
	return s.store.GetOrCreate(threadID).Messages, nil
}

// Clear resets a thread once any in-flight turn on it has finished. It
// returns apperr.ErrNotFound for unknown threads.
func (s *Service) Clear(threadID string) error {
	unlock := s.store.Lock(threadID)
	defer unlock()
	if !s.store.Clear(threadID) {
		return fmt.Errorf("chat: thread %q: %w", threadID, apperr.ErrNotFound)
	}
	return nil
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
