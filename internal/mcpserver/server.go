// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes retrieval, chat and corpus tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ragsync/internal/agent"
	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/chat"
	"github.com/starford/ragsync/internal/indexsync"
	"github.com/starford/ragsync/internal/storage"
)

const personaURI = "ragsync://persona"

// Server wraps the MCP server with the application tools.
type Server struct {
	mcp      *server.MCPServer
	chat     *chat.Service
	pipeline *indexsync.Pipeline
	store    storage.Provider
}

// New creates a new MCP server with all tools registered.
func New(chatSvc *chat.Service, pipeline *indexsync.Pipeline, store storage.Provider) *Server {
	s := &Server{chat: chatSvc, pipeline: pipeline, store: store}

	s.mcp = server.NewMCPServer(
		"ragsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool(agent.ToolName,
		mcp.WithDescription(agent.ToolDescription),
		mcp.WithString("query", mcp.Required(), mcp.Description("query to look up in retriever")),
	), s.documentRetriever)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Similarity search over the indexed corpus. Returns chunks with scores and metadata."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("k", mcp.Description("Maximum number of results (default 4)")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Ask the persona assistant a question. Answers are grounded in the indexed corpus. "+
			"Reuse thread_id to continue a conversation."),
		mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
		mcp.WithString("thread_id", mcp.Description("Conversation thread id (default \"mcp\")")),
	), s.chatTool)

	s.mcp.AddTool(mcp.NewTool("sync_corpus",
		mcp.WithDescription("Run one sync cycle: ingest new or changed corpus files into the vector index."),
	), s.syncCorpus)

	s.mcp.AddTool(mcp.NewTool("ingest_url",
		mcp.WithDescription("Fetch a web page or PDF by URL and add it to the vector index."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL of the page or PDF")),
	), s.ingestURL)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List corpus files or files in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the raw content of a text or Markdown corpus file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path within the corpus")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("upload_document",
		mcp.WithDescription("Save a PDF, text or Markdown file into the corpus from an http(s) URL or a base64 data URI. "+
			"Run sync_corpus afterwards to index it."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data> URI")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when empty")),
	), s.uploadDocument)

	// Resource: persona instruction.
	s.mcp.AddResource(
		mcp.NewResource(personaURI, "Assistant Persona",
			mcp.WithResourceDescription("System instruction the chat assistant answers under."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readPersonaResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) documentRetriever(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.chat.SimilaritySearch(ctx, query, 0)
	if err != nil {
		return mcp.NewToolResultError(apperr.UserMessage(err)), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText(agent.NoResults), nil
	}
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Content
	}
	return mcp.NewToolResultText(strings.Join(parts, "\n\n")), nil
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.chat.SimilaritySearch(ctx, query, req.GetInt("k", 0))
	if err != nil {
		return mcp.NewToolResultError(apperr.UserMessage(err)), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) chatTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threadID := req.GetString("thread_id", "mcp")
	answer, err := s.chat.Chat(ctx, threadID, message)
	if err != nil {
		return mcp.NewToolResultError(apperr.UserMessage(err)), nil
	}
	return mcp.NewToolResultText(answer), nil
}

func (s *Server) syncCorpus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.pipeline.Run(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) ingestURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.pipeline.IngestURL(ctx, rawURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.Marshal(map[string]any{"url": rawURL, "chunks": n})
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDocuments(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.store.List(req.GetString("folder", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if s.pipeline.Supports(e.Path) {
			paths = append(paths, e.Path)
		}
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readDocument(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.EqualFold(filepath.Ext(p), ".pdf") {
		return mcp.NewToolResultError("binary documents cannot be read as text: " + p), nil
	}
	data, err := s.store.Read(p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) readPersonaResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      personaURI,
			MIMEType: "text/plain",
			Text:     agent.Persona,
		},
	}, nil
}
