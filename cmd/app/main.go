package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ragsync/internal"
	pkgconfig "github.com/starford/ragsync/pkg/config"
)

const defaultConfigFile = "config/config.yaml"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(configPath, defaultConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// build loads the config and wires the application. Logs go to stderr so
// command output on stdout stays machine readable.
func build(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return internal.Build(internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func syncOnce(ctx context.Context, cmd *cli.Command) error {
	app, err := build(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return printJSON(report)
}

func ingestURL(ctx context.Context, cmd *cli.Command) error {
	rawURL := cmd.Args().First()
	if rawURL == "" {
		return errors.New("usage: ingest-url <url>")
	}
	app, err := build(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.Pipeline.IngestURL(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	fmt.Printf("Indexed %d chunks from %s\n", n, rawURL)
	return nil
}

func search(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("usage: search <query>")
	}
	app, err := build(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Bind(ctx)
	hits, err := app.Chat.SimilaritySearch(ctx, query, int(cmd.Int("k")))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return printJSON(hits)
}

type statusOutput struct {
	Bound   bool   `json:"bound"`
	Index   any    `json:"index"`
	Vectors int    `json:"vectors"`
	Tracked int    `json:"tracked"`
	Corpus  string `json:"corpus"`
}

func status(ctx context.Context, cmd *cli.Command) error {
	app, err := build(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Bind(ctx)
	out := statusOutput{
		Bound:   app.Index.Bound(),
		Index:   app.Index.Descriptor(),
		Tracked: len(app.Pipeline.Tracked()),
		Corpus:  app.Corpus.Root(),
	}
	if out.Bound {
		if out.Vectors, err = app.Index.Count(ctx); err != nil {
			return fmt.Errorf("count vectors: %w", err)
		}
	}
	return printJSON(out)
}

func dropIndex(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return errors.New("refusing to drop the index without --yes")
	}
	app, err := build(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Index.DeleteIndex(ctx); err != nil {
		return err
	}
	fmt.Printf("Dropped index %s\n", app.Index.Descriptor().Name)
	return nil
}

func chatREPL(ctx context.Context, cmd *cli.Command) error {
	app, err := build(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Bind(ctx)
	threadID := cmd.String("thread")
	if threadID == "" {
		threadID = uuid.NewString()
	}

	prompt := color.New(color.FgGreen, color.Bold)
	bot := color.New(color.FgCyan)
	color.New(color.Faint).Printf("Thread %s. Prefix with \"search:\" for raw results, \"quit\" to leave.\n", threadID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		_, _ = prompt.Print("You: ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "":
			continue
		case "quit", "exit":
			return nil
		}
		_, _ = bot.Println("Bot: " + app.Chat.Respond(ctx, threadID, input))
	}
}

func mcpServe(ctx context.Context, cmd *cli.Command) error {
	app, err := build(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Bind(ctx)
	return app.MCP().ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:   "ragsync",
		Usage:  "Keep a vector index in sync with a document corpus and chat over it",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigFile,
				Value:       defaultConfigFile,
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, the LINE webhook and the corpus watcher",
				Action: serve,
			},
			{
				Name:   "sync",
				Usage:  "Run one sync cycle and print the report",
				Action: syncOnce,
			},
			{
				Name:      "ingest-url",
				Usage:     "Index a web page or PDF by URL",
				ArgsUsage: "<url>",
				Action:    ingestURL,
			},
			{
				Name:  "chat",
				Usage: "Interactive chat in the terminal",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "thread", Usage: "Thread id to resume (default: new)"},
				},
				Action: chatREPL,
			},
			{
				Name:      "search",
				Usage:     "Similarity search over the index",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "k", Usage: "Number of results", Value: 4},
				},
				Action: search,
			},
			{
				Name:   "status",
				Usage:  "Show index and tracker state",
				Action: status,
			},
			{
				Name:  "drop-index",
				Usage: "Delete the vector index",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm deletion"},
				},
				Action: dropIndex,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcpServe,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
