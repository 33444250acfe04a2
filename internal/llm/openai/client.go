// Package openai implements llm.ChatModel and llm.Embedder against the
// OpenAI chat completions and embeddings REST APIs, including Azure OpenAI
// deployments.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/llm"
)

// Flavors.
const (
	FlavorAzure  = "azure"
	FlavorOpenAI = "openai"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultAPIVersion = "2024-05-01-preview"
)

// Config configures a Client.
type Config struct {
	Flavor     string
	Endpoint   string // e.g. https://myres.openai.azure.com or https://api.openai.com/v1
	APIKey     string
	APIVersion string // Azure only

	ChatModel      string // deployment name on Azure, model name otherwise
	EmbeddingModel string

	Timeout           time.Duration // per call
	RequestsPerSecond float64       // 0 disables limiting
	HTTPClient        *http.Client
}

// Client talks to an OpenAI-compatible endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

var (
	_ llm.ChatModel = (*Client)(nil)
	_ llm.Embedder  = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("openai: endpoint is required")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Flavor == "" {
		cfg.Flavor = FlavorAzure
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{cfg: cfg, http: hc}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends one chat completion request.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	body := chatRequest{
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
	}
	if c.cfg.Flavor == FlavorOpenAI {
		body.Model = c.cfg.ChatModel
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toWireMessage(m))
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(req.Tools) > 0 {
		switch req.ToolChoice {
		case llm.ToolChoiceAuto:
			body.ToolChoice = "auto"
		case llm.ToolChoiceNone:
			body.ToolChoice = "none"
		default:
			body.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]string{"name": req.ToolChoice},
			}
		}
	}

	var out chatResponse
	if err := c.post(ctx, c.endpoint("chat/completions", c.cfg.ChatModel), body, &out); err != nil {
		return llm.Response{}, fmt.Errorf("openai: chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return llm.Response{}, errors.New("openai: chat: response has no choices")
	}
	choice := out.Choices[0]
	return llm.Response{
		Message:      fromWireMessage(choice.Message),
		FinishReason: choice.FinishReason,
	}, nil
}

type embeddingRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body := embeddingRequest{Input: text}
	if c.cfg.Flavor == FlavorOpenAI {
		body.Model = c.cfg.EmbeddingModel
	}
	var out embeddingResponse
	if err := c.post(ctx, c.endpoint("embeddings", c.cfg.EmbeddingModel), body, &out); err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, errors.New("openai: embed: empty vector")
	}
	return out.Data[0].Embedding, nil
}

func (c *Client) endpoint(op, deployment string) string {
	if c.cfg.Flavor == FlavorOpenAI {
		return c.cfg.Endpoint + "/" + op
	}
	return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
		c.cfg.Endpoint, url.PathEscape(deployment), op, url.QueryEscape(c.cfg.APIVersion))
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return timeoutErr(ctx, err)
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		if c.cfg.Flavor == FlavorOpenAI {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		} else {
			req.Header.Set("api-key", c.cfg.APIKey)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return timeoutErr(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return timeoutErr(ctx, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
	}
	return err
}

func toWireMessage(m llm.Message) wireMessage {
	w := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID}
	if m.Content != "" || len(m.ToolCalls) == 0 {
		content := m.Content
		w.Content = &content
	}
	for _, tc := range m.ToolCalls {
		var call wireToolCall
		call.ID = tc.ID
		call.Type = "function"
		call.Function.Name = tc.Name
		call.Function.Arguments = string(tc.Arguments)
		w.ToolCalls = append(w.ToolCalls, call)
	}
	return w
}

func fromWireMessage(w wireMessage) llm.Message {
	m := llm.Message{Role: w.Role, ToolCallID: w.ToolCallID}
	if w.Content != nil {
		m.Content = *w.Content
	}
	for _, tc := range w.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return m
}
