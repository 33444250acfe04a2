// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ragsync/internal/agent"
	"github.com/starford/ragsync/internal/api"
	"github.com/starford/ragsync/internal/chat"
	"github.com/starford/ragsync/internal/conversation"
	"github.com/starford/ragsync/internal/docintel"
	"github.com/starford/ragsync/internal/indexsync"
	"github.com/starford/ragsync/internal/intent"
	"github.com/starford/ragsync/internal/line"
	"github.com/starford/ragsync/internal/llm/openai"
	"github.com/starford/ragsync/internal/loader"
	"github.com/starford/ragsync/internal/mcpserver"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/splitter"
	"github.com/starford/ragsync/internal/sse"
	"github.com/starford/ragsync/internal/storage"
	"github.com/starford/ragsync/internal/tracker"
	"github.com/starford/ragsync/internal/vectorindex"
	"github.com/starford/ragsync/internal/vectorindex/qdrant"
	"github.com/starford/ragsync/internal/vectorindex/sqlitestore"
)

// App holds the wired components shared by every command.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Corpus   storage.Provider
	Index    *vectorindex.Manager
	Pipeline *indexsync.Pipeline
	Chat     *chat.Service

	closers []func() error
}

// Close releases the resources opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Build wires the application from the given options without starting any
// server or background work.
func Build(opts ...Option) (*App, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	out := app.logOutput
	if out == nil {
		out = os.Stdout
	}
	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("corpus_path", cfg.Corpus.Path),
		slog.String("index_backend", cfg.Index.Backend),
		slog.String("index_name", cfg.Index.Name),
		slog.String("log_level", cfg.App.LogLevel.String()))

	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	// Ensure corpus directory exists.
	if err := os.MkdirAll(cfg.Corpus.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create corpus dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Corpus.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.Corpus = store

	if dir := filepath.Dir(cfg.Corpus.MetadataFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}
	tr, err := tracker.Open(cfg.Corpus.MetadataFile, store.Root(), logger)
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}

	chatModel, embedder := app.chatModel, app.embedder
	if chatModel == nil || embedder == nil {
		client, err := openai.New(openai.Config{
			Flavor:            cfg.OpenAI.Flavor,
			Endpoint:          cfg.OpenAI.Endpoint,
			APIKey:            cfg.OpenAI.APIKey,
			APIVersion:        cfg.OpenAI.APIVersion,
			ChatModel:         cfg.OpenAI.ChatModel,
			EmbeddingModel:    cfg.OpenAI.EmbeddingModel,
			Timeout:           cfg.OpenAI.Timeout,
			RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai: %w", err)
		}
		if chatModel == nil {
			chatModel = client
		}
		if embedder == nil {
			embedder = client
		}
	}

	analyzer := app.analyzer
	if analyzer == nil && cfg.DocumentIntelligence.Enabled() {
		client, err := docintel.New(docintel.Config{
			Endpoint:     cfg.DocumentIntelligence.Endpoint,
			Key:          cfg.DocumentIntelligence.Key,
			APIVersion:   cfg.DocumentIntelligence.APIVersion,
			PollInterval: cfg.DocumentIntelligence.PollInterval,
			Timeout:      cfg.DocumentIntelligence.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init document intelligence: %w", err)
		}
		analyzer = client
	}

	registry := loader.NewRegistry()
	registry.Register(models.KindText, loader.NewTextLoader(store, logger))
	registry.Register(models.KindWeb, loader.NewWebLoader(
		loader.WithUserAgent(cfg.Web.UserAgent),
		loader.WithClasses(cfg.Web.Classes),
		loader.WithFetchTimeout(cfg.Web.Timeout),
	))
	pdfExts := cfg.Corpus.PDFExtensions
	if analyzer != nil {
		registry.Register(models.KindPDF, loader.NewPDFLoader(analyzer, store))
	} else {
		logger.Warn("document analysis not configured, PDF files are skipped")
		pdfExts = nil
	}

	sp, err := splitter.New(
		splitter.WithChunkSize(cfg.Chunking.Size),
		splitter.WithOverlap(cfg.Chunking.Overlap),
	)
	if err != nil {
		return nil, err
	}

	backend := app.backend
	if backend == nil {
		switch cfg.Index.Backend {
		case BackendQdrant:
			backend = qdrant.New(qdrant.Config{
				URL:     cfg.Index.Qdrant.URL,
				APIKey:  cfg.Index.Qdrant.APIKey,
				Timeout: cfg.Index.Qdrant.Timeout,
			})
		default:
			db, err := sqlitestore.Open(cfg.Index.SQLite.Path)
			if err != nil {
				return nil, fmt.Errorf("init vector store: %w", err)
			}
			a.closers = append(a.closers, db.Close)
			backend = db
		}
	}

	a.Index = vectorindex.NewManager(backend, embedder, models.IndexDescriptor{
		Name:      cfg.Index.Name,
		Dimension: cfg.Index.Dimension,
		Metric:    models.Metric(cfg.Index.Metric),
		Cloud:     cfg.Index.Cloud,
		Region:    cfg.Index.Region,
	},
		vectorindex.WithBatchSize(cfg.Index.BatchSize),
		vectorindex.WithEmbedWorkers(cfg.Index.EmbedWorkers),
		vectorindex.WithPropagationWait(cfg.Index.PropagationWait),
		vectorindex.WithLogger(logger),
	)

	a.Pipeline = indexsync.New(store, tr, registry,
		loader.NewClassifier(cfg.Corpus.TextExtensions, pdfExts), sp, a.Index,
		indexsync.WithTextMode(splitter.Mode(cfg.Chunking.TextMode)),
		indexsync.WithPDFMode(splitter.Mode(cfg.Chunking.PDFMode)),
		indexsync.WithConcurrency(cfg.Corpus.Concurrency),
		indexsync.WithLogger(logger),
	)

	var router intent.Router
	switch cfg.Intent.Mode {
	case IntentModeKeyword:
		router = intent.NewKeywordRouter(cfg.Intent.Phrases...)
	default:
		router = intent.NewLLMRouter(chatModel,
			intent.WithFallbackOnError(cfg.Intent.FallbackOnError),
			intent.WithLogger(logger))
	}

	agentOpts := []agent.Option{
		agent.WithPersona(cfg.Agent.Persona),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithLogger(logger),
	}
	if cfg.Agent.Temperature != nil {
		agentOpts = append(agentOpts, agent.WithTemperature(*cfg.Agent.Temperature))
	}

	a.Chat = chat.NewService(a.Index,
		conversation.NewStore(cfg.Conversation.Window),
		router,
		agent.New(chatModel, agentOpts...),
		chat.WithToolTopK(cfg.Agent.ToolTopK),
		chat.WithSearchTopK(cfg.Agent.SearchTopK),
		chat.WithLogger(logger),
	)

	ok = true
	return a, nil
}

// Bind attaches to an existing index without creating one.
func (a *App) Bind(ctx context.Context) {
	bound, err := a.Index.Bind(ctx)
	if err != nil {
		a.Logger.Warn("bind index failed", slog.String("error", err.Error()))
		return
	}
	if !bound {
		a.Logger.Info("index does not exist yet, run a sync first", slog.String("index", a.Index.Descriptor().Name))
	}
}

// MCP returns an MCP server over the application's components.
func (a *App) MCP() *mcpserver.Server {
	return mcpserver.New(a.Chat, a.Pipeline, a.Corpus)
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a, err := Build(opts...)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

// Serve runs the initial sync, then the HTTP server and the corpus watcher
// until a shutdown signal arrives or ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Run initial sync.
	if report, err := a.Pipeline.Run(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
		a.Bind(ctx)
	} else {
		broker.PublishSync(report, report.Ingested)
	}

	// Build API handler and router.
	h := api.NewHandler(a.Chat, a.Pipeline, a.Corpus, broker)
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !a.Chat.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"index not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// LINE webhook, authenticated by channel signature instead of bearer token.
	if cfg.LINE.Enabled {
		replier := line.New(line.Config{
			Endpoint:    cfg.LINE.Endpoint,
			AccessToken: cfg.LINE.AccessToken,
			Timeout:     cfg.LINE.Timeout,
		})
		r.Post("/webhook", api.NewWebhookHandler(a.Chat, replier, cfg.LINE.ChannelSecret).ServeHTTP)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start corpus watcher with SSE callback.
	if cfg.Corpus.Watch {
		g.Go(func() error {
			err := indexsync.Watch(gCtx, a.Pipeline, a.Corpus.Root(), cfg.Corpus.Debounce, logger,
				func(report indexsync.Report, err error) {
					if err != nil {
						broker.PublishSyncFailure("sync cycle failed")
						return
					}
					broker.PublishSync(report, report.Ingested)
				})
			if err != nil {
				return fmt.Errorf("corpus watcher: %w", err)
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")
