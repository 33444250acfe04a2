// Package agent runs one retrieval-grounded reasoning turn as a bounded
// tool-calling loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/llm"
	"github.com/starford/ragsync/internal/models"
)

// DefaultMaxIterations caps model calls per turn.
const DefaultMaxIterations = 10

// Retrieval tool surface.
const (
	ToolName        = "document_retriever"
	ToolDescription = "Searches the database for information about Chris (Teetat Karuhawanit). Always use this tool first before answering any question."
)

// NoResults is the tool output when retrieval finds nothing.
const NoResults = "No relevant documents found."

// toolSchema is the JSON schema of the retrieval tool arguments.
var toolSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "query to look up in retriever",
		},
	},
	"required": []any{"query"},
}

// ToolDefinition returns the retrieval tool as offered to the model.
func ToolDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: ToolName, Description: ToolDescription, Parameters: toolSchema}
}

// State is a step of the turn state machine.
type State string

const (
	StateStart       State = "start"
	StateRetrieve    State = "retrieve"
	StateReasoning   State = "reasoning"
	StateFinalAnswer State = "final_answer"
)

// Retriever is the capability exposed to the model as the retrieval tool.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]models.ScoredChunk, error)
}

// ToolEvent records one tool invocation.
type ToolEvent struct {
	Iteration int           `json:"iteration"`
	CallID    string        `json:"call_id"`
	Tool      string        `json:"tool"`
	Query     string        `json:"query,omitempty"`
	Results   int           `json:"results"`
	Sources   []string      `json:"sources,omitempty"`
	Injected  bool          `json:"injected,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Result is the outcome of a turn.
type Result struct {
	Answer     string      `json:"answer"`
	Iterations int         `json:"iterations"`
	States     []State     `json:"states"`
	Events     []ToolEvent `json:"events"`
}

// Agent drives the model through Start, Retrieve, Reasoning and FinalAnswer.
// Until the first retrieval has happened the model is forced to call the
// retrieval tool; if it still answers directly, a retrieval with the user
// question is injected.
type Agent struct {
	model         llm.ChatModel
	persona       string
	maxIterations int
	temperature   *float64
	logger        *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithPersona replaces the system instruction.
func WithPersona(p string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(p) != "" {
			a.persona = p
		}
	}
}

// WithMaxIterations sets the model call cap.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = llm.Float(t) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Agent.
func New(model llm.ChatModel, opts ...Option) *Agent {
	a := &Agent{
		model:         model,
		persona:       Persona,
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxIterations returns the model call cap.
func (a *Agent) MaxIterations() int { return a.maxIterations }

// Run answers question given prior messages. history roles are
// models.RoleUser or models.RoleAssistant.
func (a *Agent) Run(ctx context.Context, retriever Retriever, history []models.Message, question string) (Result, error) {
	res := Result{States: []State{StateStart}, Events: []ToolEvent{}}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.persona})
	for _, m := range history {
		role := llm.RoleAssistant
		if m.Role == models.RoleUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	tools := []llm.ToolDefinition{ToolDefinition()}
	retrieved := false

	for iter := 1; iter <= a.maxIterations; iter++ {
		res.Iterations = iter
		req := llm.Request{Messages: msgs, Tools: tools, Temperature: a.temperature}
		if !retrieved {
			req.ToolChoice = ToolName
		}
		resp, err := a.model.Complete(ctx, req)
		if err != nil {
			return res, fmt.Errorf("agent: iteration %d: %w", iter, err)
		}

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		injected := false
		if len(msg.ToolCalls) == 0 {
			if retrieved {
				res.States = append(res.States, StateFinalAnswer)
				res.Answer = strings.TrimSpace(msg.Content)
				return res, nil
			}
			args, _ := json.Marshal(map[string]string{"query": question})
			msg = llm.Message{
				Role:      llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{ID: fmt.Sprintf("injected-%d", iter), Name: ToolName, Arguments: args}},
			}
			injected = true
			a.logger.Debug("agent: model skipped retrieval, injecting", slog.Int("iteration", iter))
		}

		res.States = append(res.States, StateRetrieve)
		msgs = append(msgs, msg)
		for _, call := range msg.ToolCalls {
			content, ev, ok, err := a.invoke(ctx, retriever, call)
			ev.Iteration = iter
			ev.Injected = injected
			res.Events = append(res.Events, ev)
			if err != nil {
				return res, err
			}
			// Only a completed retrieval lifts the forced tool choice.
			retrieved = retrieved || ok
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content})
		}
		res.States = append(res.States, StateReasoning)
	}
	return res, fmt.Errorf("agent: %w (%d)", apperr.ErrIterationLimit, a.maxIterations)
}

// invoke runs one tool call and reports whether the retriever ran. Bad calls
// are reported back to the model as tool output; retrieval failures abort the
// turn.
func (a *Agent) invoke(ctx context.Context, retriever Retriever, call llm.ToolCall) (string, ToolEvent, bool, error) {
	start := time.Now()
	ev := ToolEvent{CallID: call.ID, Tool: call.Name}

	if call.Name != ToolName {
		ev.Error = "unknown tool"
		a.logger.Warn("agent: unknown tool", slog.String("tool", call.Name))
		return fmt.Sprintf("Error: unknown tool %q. Available tool: %s.", call.Name, ToolName), ev, false, nil
	}

	query, err := parseQuery(call.Arguments)
	if err != nil {
		ev.Error = err.Error()
		a.logger.Warn("agent: invalid tool arguments", slog.String("error", err.Error()))
		return "Error: " + err.Error(), ev, false, nil
	}
	ev.Query = query

	hits, err := retriever.Retrieve(ctx, query)
	ev.Duration = time.Since(start)
	if err != nil {
		ev.Error = err.Error()
		return "", ev, false, fmt.Errorf("agent: retrieve: %w", err)
	}
	ev.Results = len(hits)

	parts := make([]string, 0, len(hits))
	seen := make(map[string]bool)
	for _, h := range hits {
		parts = append(parts, h.Content)
		if src := h.Source(); src != "" && !seen[src] {
			seen[src] = true
			ev.Sources = append(ev.Sources, src)
		}
	}
	a.logger.Info("agent: tool call",
		slog.String("tool", call.Name),
		slog.String("query", query),
		slog.Int("results", len(hits)),
		slog.Duration("duration", ev.Duration))

	if len(parts) == 0 {
		return NoResults, ev, true, nil
	}
	return strings.Join(parts, "\n\n"), ev, true, nil
}

// parseQuery decodes and validates retrieval tool arguments.
func parseQuery(raw json.RawMessage) (string, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage("{}")
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(toolSchema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return "", fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return "", fmt.Errorf("arguments failed validation: %s", strings.Join(details, "; "))
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return strings.TrimSpace(args.Query), nil
}
