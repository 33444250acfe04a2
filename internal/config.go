package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Vector index backends.
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Intent router modes.
const (
	IntentModeLLM     = "llm"
	IntentModeKeyword = "keyword"
)

// Config represents the application configuration.
type Config struct {
	App                  ApplicationConfig  `yaml:"app"`
	Corpus               CorpusConfig       `yaml:"corpus"`
	Chunking             ChunkingConfig     `yaml:"chunking"`
	Index                IndexConfig        `yaml:"index"`
	OpenAI               OpenAIConfig       `yaml:"openai"`
	DocumentIntelligence DocIntelConfig     `yaml:"document_intelligence"`
	Web                  WebConfig          `yaml:"web"`
	Conversation         ConversationConfig `yaml:"conversation"`
	Intent               IntentConfig       `yaml:"intent"`
	Agent                AgentConfig        `yaml:"agent"`
	LINE                 LINEConfig         `yaml:"line"`
	Auth                 AuthConfig         `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Corpus, &c.Chunking, &c.Index, &c.OpenAI, &c.DocumentIntelligence,
		&c.Web, &c.Conversation, &c.Intent, &c.Agent, &c.LINE, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// CorpusConfig describes the watched document directory and where file
// fingerprints are persisted.
type CorpusConfig struct {
	Path           string        `yaml:"path"`
	MetadataFile   string        `yaml:"metadata_file"`
	Watch          bool          `yaml:"watch"`
	Debounce       time.Duration `yaml:"debounce"`
	TextExtensions []string      `yaml:"text_extensions"`
	PDFExtensions  []string      `yaml:"pdf_extensions"`
	Concurrency    int           `yaml:"concurrency"`
}

// Validate validates the corpus configuration.
func (c *CorpusConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.MetadataFile, validation.Required),
		validation.Field(&c.TextExtensions, validation.Required),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
		validation.Field(&c.Concurrency, validation.Min(0)),
	)
}

// ChunkingConfig controls the text splitter.
type ChunkingConfig struct {
	Size     int    `yaml:"size"`
	Overlap  int    `yaml:"overlap"`
	TextMode string `yaml:"text_mode"`
	PDFMode  string `yaml:"pdf_mode"`
}

// Validate validates the chunking configuration.
func (c *ChunkingConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Size, validation.Required, validation.Min(1)),
		validation.Field(&c.Overlap, validation.Min(0)),
		validation.Field(&c.TextMode, validation.In("flat", "recursive")),
		validation.Field(&c.PDFMode, validation.In("flat", "recursive")),
	); err != nil {
		return err
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("chunking: overlap %d must be smaller than size %d", c.Overlap, c.Size)
	}
	return nil
}

// IndexConfig describes the vector index and its backend.
type IndexConfig struct {
	Backend         string        `yaml:"backend"`
	Name            string        `yaml:"name"`
	Dimension       int           `yaml:"dimension"`
	Metric          string        `yaml:"metric"`
	Cloud           string        `yaml:"cloud"`
	Region          string        `yaml:"region"`
	PropagationWait time.Duration `yaml:"propagation_wait"`
	BatchSize       int           `yaml:"batch_size"`
	EmbedWorkers    int           `yaml:"embed_workers"`
	SQLite          SQLiteConfig  `yaml:"sqlite"`
	Qdrant          QdrantConfig  `yaml:"qdrant"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendSQLite, BackendQdrant)),
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Dimension, validation.Required, validation.Min(1)),
		validation.Field(&c.Metric, validation.Required, validation.In("cosine", "euclidean", "dotproduct")),
		validation.Field(&c.PropagationWait, validation.Min(time.Duration(0))),
		validation.Field(&c.BatchSize, validation.Min(0)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case BackendSQLite:
		return c.SQLite.Validate()
	default:
		return c.Qdrant.Validate()
	}
}

// SQLiteConfig holds the local vector store database path.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// QdrantConfig holds the Qdrant REST endpoint.
type QdrantConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the Qdrant configuration.
func (c *QdrantConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, is.URL),
	)
}

// OpenAIConfig configures the chat and embedding endpoint. Flavor "azure"
// addresses deployments; "openai" addresses models.
type OpenAIConfig struct {
	Flavor            string        `yaml:"flavor"`
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"api_key"`
	APIVersion        string        `yaml:"api_version"`
	ChatModel         string        `yaml:"chat_model"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// Validate validates the OpenAI configuration. An empty endpoint is allowed
// when the chat model and embedder are injected.
func (c *OpenAIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Flavor, validation.Required, validation.In("azure", "openai")),
		validation.Field(&c.ChatModel, validation.Required),
		validation.Field(&c.EmbeddingModel, validation.Required),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
	)
}

// DocIntelConfig configures the document analysis service used for PDFs.
// PDF ingestion is disabled when Endpoint is empty.
type DocIntelConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Key          string        `yaml:"key"`
	APIVersion   string        `yaml:"api_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Validate validates the document analysis configuration.
func (c *DocIntelConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, is.URL),
		validation.Field(&c.Key, validation.When(c.Endpoint != "", validation.Required)),
	)
}

// Enabled reports whether PDF analysis is configured.
func (c *DocIntelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// WebConfig configures the web page loader.
type WebConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Classes   []string      `yaml:"classes"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate validates the web configuration.
func (c *WebConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// ConversationConfig controls how much history reaches the model.
type ConversationConfig struct {
	Window int `yaml:"window"`
}

// Validate validates the conversation configuration.
func (c *ConversationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Window, validation.Required, validation.Min(1)),
	)
}

// IntentConfig selects the reset-intent classifier.
type IntentConfig struct {
	Mode            string   `yaml:"mode"`
	FallbackOnError bool     `yaml:"fallback_on_error"`
	Phrases         []string `yaml:"phrases"`
}

// Validate validates the intent configuration.
func (c *IntentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(IntentModeLLM, IntentModeKeyword)),
	)
}

// AgentConfig controls the retrieval agent.
type AgentConfig struct {
	MaxIterations int      `yaml:"max_iterations"`
	Temperature   *float64 `yaml:"temperature"`
	Persona       string   `yaml:"persona"`
	ToolTopK      int      `yaml:"tool_top_k"`
	SearchTopK    int      `yaml:"search_top_k"`
}

// Validate validates the agent configuration.
func (c *AgentConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MaxIterations, validation.Required, validation.Min(1)),
		validation.Field(&c.ToolTopK, validation.Required, validation.Min(1)),
		validation.Field(&c.SearchTopK, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return errors.New("agent: temperature must be between 0 and 2")
	}
	return nil
}

// LINEConfig configures the LINE messaging webhook.
type LINEConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ChannelSecret string        `yaml:"channel_secret"`
	AccessToken   string        `yaml:"access_token"`
	Endpoint      string        `yaml:"endpoint"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Validate validates the LINE configuration.
func (c *LINEConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChannelSecret, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.AccessToken, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Endpoint, is.URL),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Corpus: CorpusConfig{
			Path:           "./data",
			MetadataFile:   "./processed_files.json",
			Watch:          true,
			Debounce:       200 * time.Millisecond,
			TextExtensions: []string{".txt", ".md"},
			PDFExtensions:  []string{".pdf"},
			Concurrency:    4,
		},
		Chunking: ChunkingConfig{
			Size:     800,
			Overlap:  100,
			TextMode: "flat",
			PDFMode:  "recursive",
		},
		Index: IndexConfig{
			Backend:         BackendSQLite,
			Name:            "chris-data",
			Dimension:       1536,
			Metric:          "cosine",
			Cloud:           "aws",
			Region:          "us-east-1",
			PropagationWait: 10 * time.Second,
			BatchSize:       100,
			EmbedWorkers:    4,
			SQLite:          SQLiteConfig{Path: "./ragsync.db"},
			Qdrant:          QdrantConfig{URL: "http://localhost:6333", Timeout: 15 * time.Second},
		},
		OpenAI: OpenAIConfig{
			Flavor:            "azure",
			APIVersion:        "2024-05-01-preview",
			ChatModel:         "gpt-4o",
			EmbeddingModel:    "text-embedding-ada-002",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 5,
		},
		DocumentIntelligence: DocIntelConfig{
			PollInterval: time.Second,
			Timeout:      2 * time.Minute,
		},
		Web: WebConfig{
			UserAgent: "ChrisBot/1.0",
			Classes:   []string{"post-content", "post-title", "post-header"},
			Timeout:   30 * time.Second,
		},
		Conversation: ConversationConfig{Window: 3},
		Intent:       IntentConfig{Mode: IntentModeLLM},
		Agent: AgentConfig{
			MaxIterations: 10,
			ToolTopK:      2,
			SearchTopK:    4,
		},
		LINE: LINEConfig{
			Endpoint: "https://api.line.me",
			Timeout:  10 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
