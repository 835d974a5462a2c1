package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/talkbase/talkbase/internal/models"
	"github.com/talkbase/talkbase/internal/types"
	"github.com/talkbase/talkbase/pkg/answer"
	"github.com/talkbase/talkbase/pkg/chunker"
	"github.com/talkbase/talkbase/pkg/config"
	"github.com/talkbase/talkbase/pkg/dataset"
	"github.com/talkbase/talkbase/pkg/ingest"
	"github.com/talkbase/talkbase/pkg/llm"
	"github.com/talkbase/talkbase/pkg/retriever"
	"github.com/talkbase/talkbase/pkg/store"
	"github.com/talkbase/talkbase/server"
)

const usage = `Usage: talkbase <command> [flags]

Commands:
  ingest    Load a talk corpus into the vector index
  ask       Answer one question against the indexed corpus
  serve     Run the HTTP API

Run "talkbase <command> -h" for command flags.
`

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, os.Args[2:])
	case "ask":
		err = runAsk(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s", e.Error())
		}
		return nil, fmt.Errorf("invalid configuration (%d problems)", len(errs))
	}
	return cfg, nil
}

func buildChunker(cfg *config.Config) (*chunker.Chunker, error) {
	var tokenizer types.Tokenizer
	if cfg.Chunker.Encoding == "words" {
		tokenizer = chunker.Words{}
	} else {
		tk, err := chunker.NewTiktoken(cfg.Chunker.Encoding)
		if err != nil {
			return nil, err
		}
		tokenizer = tk
	}
	return chunker.NewWithConfig(chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		OverlapRatio: *cfg.Chunker.OverlapRatio,
		Tokenizer:    tokenizer,
	})
}

func buildIndex(ctx context.Context, cfg *config.Config, log zerolog.Logger) (types.VectorIndex, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required (set DATABASE_URL or the config file)")
	}
	return store.NewPGVectorIndex(ctx, store.PGVectorConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Embedding.Dimension,
		Logger:     log,
	})
}

func buildEmbedder(cfg *config.Config, log zerolog.Logger) (*llm.Embedder, error) {
	return llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:     cfg.Embedding.Provider,
		Model:        cfg.Embedding.Model,
		BaseURL:      cfg.Embedding.BaseURL,
		APIKey:       cfg.Embedding.APIKey,
		Dimension:    cfg.Embedding.Dimension,
		MaxBatchSize: cfg.Embedding.BatchSize,
		RateLimit:    cfg.Embedding.RateLimit,
		Logger:       log,
	})
}

func buildGenerator(cfg *config.Config, log zerolog.Logger) (*llm.ChatGenerator, error) {
	return llm.NewGeneratorWithConfig(llm.GeneratorConfig{
		Provider:    cfg.Generation.Provider,
		Model:       cfg.Generation.Model,
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: *cfg.Generation.Temperature,
		Logger:      log,
	})
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dataPath := fs.String("data", "", "Corpus file to ingest (.csv or .json)")
	urls := fs.String("urls", "", "Comma-separated talk page URLs to fetch and ingest")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Parse(args)

	if *dataPath == "" && *urls == "" {
		return fmt.Errorf("one of -data or -urls is required")
	}

	log := newLogger(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	talks, fetchFailures, err := collectTalks(ctx, cfg, *dataPath, *urls, log)
	if err != nil {
		return err
	}
	if len(talks) == 0 {
		return fmt.Errorf("no talks to ingest")
	}

	ch, err := buildChunker(cfg)
	if err != nil {
		return err
	}
	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		return err
	}
	index, err := buildIndex(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer index.Close()

	color.Blue("\nIngesting %d talks\n", len(talks))
	bar := getProgressBar(len(talks), "Indexing talks...")

	pipeline := ingest.New(ch, embedder, index, ingest.Config{
		BatchSize: cfg.Embedding.BatchSize,
		OnProgress: func(talkID string, chunks int) {
			bar.Add(1)
		},
		Logger: log,
	})

	report, err := pipeline.Ingest(ctx, talks)
	bar.Finish()
	fmt.Println()

	if report != nil {
		printReport(report, fetchFailures)
	}
	return err
}

func collectTalks(ctx context.Context, cfg *config.Config, dataPath, urls string, log zerolog.Logger) ([]models.Talk, []models.TalkFailure, error) {
	var talks []models.Talk
	var failures []models.TalkFailure

	if dataPath != "" {
		loaded, err := dataset.Load(dataPath)
		if err != nil {
			return nil, nil, err
		}
		talks = append(talks, loaded...)
	}

	if urls != "" {
		list := strings.Split(urls, ",")
		spinner := getSpinner(fmt.Sprintf("Fetching %d talk pages...", len(list)))
		fetcher := dataset.NewFetcher(dataset.FetcherConfig{
			RateLimit:  cfg.Fetcher.RateLimit,
			UserAgent:  cfg.Fetcher.UserAgent,
			OnProgress: func(string) { spinner.Add(1) },
			Logger:     log,
		})
		fetched, fetchFailures := fetcher.FetchAll(ctx, list)
		spinner.Finish()
		fmt.Println()
		talks = append(talks, fetched...)
		failures = append(failures, fetchFailures...)
	}

	return talks, failures, nil
}

func printReport(report *models.IngestionReport, fetchFailures []models.TalkFailure) {
	color.Green("✓ Indexed %d talks (%d chunks)", len(report.Succeeded), report.ChunksWritten)
	for _, f := range fetchFailures {
		color.Red("✗ fetch %s: %s", f.TalkID, f.Reason)
	}
	for _, f := range report.Failed {
		color.Red("✗ %s: %s", f.TalkID, f.Reason)
	}
}

func runAsk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	topK := fs.Int("top-k", 0, "Number of context chunks (default from config)")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Parse(args)

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: talkbase ask [flags] <question>")
	}

	log := newLogger(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		return err
	}
	generator, err := buildGenerator(cfg, log)
	if err != nil {
		return err
	}
	index, err := buildIndex(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer index.Close()

	r := retriever.New(embedder, index, retriever.Config{
		TopK:            cfg.Retriever.TopK,
		OverfetchFactor: cfg.Retriever.OverfetchFactor,
		Logger:          log,
	})
	synth := answer.New(generator, answer.Config{Logger: log})

	spinner := getSpinner("Searching the talk library...")
	rc, err := r.Retrieve(ctx, question, *topK)
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}

	spinner = getSpinner("Synthesizing answer...")
	resp, err := synth.Synthesize(ctx, question, rc)
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}

	fmt.Println()
	color.Cyan("%s\n", resp.Answer)

	if len(resp.Evidence) > 0 {
		color.Blue("Sources:")
		for i, e := range resp.Evidence {
			fmt.Printf("  [%d] %q by %s (score %.3f)\n      %s\n",
				i+1, e.Chunk.Meta.Title, e.Chunk.Meta.Speaker, e.Score, e.Chunk.Meta.URL)
		}
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	addr := fs.String("addr", "", "Listen address (overrides config)")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Parse(args)

	log := newLogger(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		return err
	}
	generator, err := buildGenerator(cfg, log)
	if err != nil {
		return err
	}
	index, err := buildIndex(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer index.Close()

	r := retriever.New(embedder, index, retriever.Config{
		TopK:            cfg.Retriever.TopK,
		OverfetchFactor: cfg.Retriever.OverfetchFactor,
		Logger:          log,
	})
	synth := answer.New(generator, answer.Config{Logger: log})

	srv := server.New(r, synth, server.Config{
		Addr:           cfg.Server.Addr,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		Stats: server.Stats{
			ChunkSize:    cfg.Chunker.ChunkSize,
			OverlapRatio: *cfg.Chunker.OverlapRatio,
			TopK:         r.TopK(),
		},
		Logger: log,
	})
	return srv.ListenAndServe(ctx)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("talks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
