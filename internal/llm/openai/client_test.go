package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/llm"
)

func TestComplete_AzureForcedToolChoice(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-05-01-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"document_retriever","arguments":"{\"query\":\"skills\"}"}}]}}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, APIKey: "secret", ChatModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), llm.Request{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "What are Chris's skills?"}},
		Tools:      []llm.ToolDefinition{{Name: "document_retriever", Parameters: map[string]any{"type": "object"}}},
		ToolChoice: "document_retriever",
	})
	require.NoError(t, err)

	choice := got["tool_choice"].(map[string]any)
	assert.Equal(t, "function", choice["type"])
	assert.Equal(t, "document_retriever", choice["function"].(map[string]any)["name"])
	_, hasModel := got["model"]
	assert.False(t, hasModel, "azure requests carry the deployment in the path")

	require.Len(t, resp.Message.ToolCalls, 1)
	call := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "document_retriever", call.Name)
	assert.JSONEq(t, `{"query":"skills"}`, string(call.Arguments))
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestComplete_OpenAIToolMessages(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"Chris knows Go."}}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{Flavor: FlavorOpenAI, Endpoint: srv.URL + "/", APIKey: "sk-test", ChatModel: "gpt-4o-mini"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "skills?"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "document_retriever", Arguments: json.RawMessage(`{"query":"skills"}`)}}},
			{Role: llm.RoleTool, ToolCallID: "c1", Content: "Go, Python"},
		},
		Tools: []llm.ToolDefinition{{Name: "document_retriever"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Chris knows Go.", resp.Message.Content)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, "auto", got.ToolChoice)
	require.Len(t, got.Messages, 3)
	assert.Nil(t, got.Messages[1].Content, "tool-call-only message has null content")
	assert.Equal(t, `{"query":"skills"}`, got.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "c1", got.Messages[2].ToolCallID)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/text-embedding-ada-002/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.25,-0.5,1]}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, EmbeddingModel: "text-embedding-ada-002"})
	require.NoError(t, err)
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
}

func TestTimeoutMapsToErrTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, EmbeddingModel: "e", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTimeout), "got %v", err)
}

func TestHTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad deployment"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, ChatModel: "nope"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.False(t, errors.Is(err, apperr.ErrTimeout))
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
