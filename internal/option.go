package internal

import (
	"io"

	"github.com/starford/ragsync/internal/llm"
	"github.com/starford/ragsync/internal/loader"
	"github.com/starford/ragsync/internal/vectorindex"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	chatModel llm.ChatModel
	embedder  llm.Embedder
	analyzer  loader.Analyzer
	backend   vectorindex.Backend
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput redirects the JSON log stream. Stdio transports pass
// os.Stderr so logs never mix with protocol output.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithChatModel replaces the configured OpenAI chat model.
func WithChatModel(m llm.ChatModel) Option {
	return func(a *application) {
		a.chatModel = m
	}
}

// WithEmbedder replaces the configured OpenAI embedder.
func WithEmbedder(e llm.Embedder) Option {
	return func(a *application) {
		a.embedder = e
	}
}

// WithAnalyzer replaces the document analysis client used for PDFs.
func WithAnalyzer(an loader.Analyzer) Option {
	return func(a *application) {
		a.analyzer = an
	}
}

// WithBackend replaces the configured vector index backend.
func WithBackend(b vectorindex.Backend) Option {
	return func(a *application) {
		a.backend = b
	}
}
