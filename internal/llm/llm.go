// Package llm defines the language-model and embedding capabilities the rest
// of the application depends on. Concrete providers live in subpackages.
package llm

import (
	"context"
	"encoding/json"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool choice values other than a tool name.
const (
	ToolChoiceAuto = ""
	ToolChoiceNone = "none"
)

// Message is one entry of a chat completion exchange.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a tool the model may call. Parameters is a JSON
// schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is a single chat completion request.
//
// ToolChoice is ToolChoiceAuto, ToolChoiceNone, or the name of a tool the
// model is required to call.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  string
	Temperature *float64
}

// Response is the model's reply to a Request.
type Response struct {
	Message      Message
	FinishReason string
}

// ChatModel produces chat completions.
type ChatModel interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }
