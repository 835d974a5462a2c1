package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/talkbase/talkbase/internal/types"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// EmbedderConfig configures the embedding capability adapter.
type EmbedderConfig struct {
	Provider     string // "ollama" or "openai"
	Model        string
	BaseURL      string // Ollama server URL
	APIKey       string // OpenAI token
	Dimension    int
	MaxBatchSize int
	MaxRetries   int
	Timeout      time.Duration
	RateLimit    float64 // requests per second against the capability
	Logger       zerolog.Logger
}

// Embedder adapts an external embedding capability: batches inputs, rate
// limits, retries transient faults with bounded backoff, and validates that
// every returned vector has the declared dimension.
type Embedder struct {
	config  EmbedderConfig
	client  embeddings.Embedder
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewEmbedderWithConfig builds the provider client and wraps it.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	var client embeddings.Embedder
	switch config.Provider {
	case "", "ollama":
		model, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		client, err = embeddings.NewEmbedder(model)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case "openai":
		if config.APIKey == "" {
			return nil, &types.InvalidInputError{
				Field:   "embedding.api_key",
				Message: "OpenAI API key is required",
			}
		}
		model, err := openai.New(
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		client, err = embeddings.NewEmbedder(model)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	default:
		return nil, &types.InvalidInputError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unsupported embedding provider: %s", config.Provider),
		}
	}

	return NewEmbedder(client, config), nil
}

// NewEmbedder wraps an existing embeddings client. Exported so tests can
// inject a fake capability.
func NewEmbedder(client embeddings.Embedder, config EmbedderConfig) *Embedder {
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = 64
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}

	return &Embedder{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     config.Logger.With().Str("component", "embedder").Logger(),
	}
}

// Embed returns one vector per input text, order preserved. Requests are
// split to the capability's maximum batch size; each batch is retried with
// bounded backoff before the call fails as embedding-unavailable.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.MaxBatchSize {
		end := start + e.config.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, types.Unavailable(types.CapabilityEmbedding, err)
		}

		var vectors [][]float32
		started := time.Now()
		err := withRetry(ctx, e.config.MaxRetries, 500*time.Millisecond, 10*time.Second,
			func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
				defer cancel()

				v, err := e.client.EmbedDocuments(callCtx, batch)
				if err != nil {
					return err
				}
				vectors = v
				return nil
			})
		if err != nil {
			e.log.Warn().Err(err).Int("batch", len(batch)).Msg("embedding batch failed")
			return nil, types.Unavailable(types.CapabilityEmbedding, err)
		}

		if len(vectors) != len(batch) {
			return nil, types.Unavailable(types.CapabilityEmbedding,
				fmt.Errorf("count mismatch: got %d vectors for %d texts", len(vectors), len(batch)))
		}
		for i, v := range vectors {
			if len(v) != e.config.Dimension {
				return nil, types.Unavailable(types.CapabilityEmbedding,
					fmt.Errorf("vector %d dimension mismatch: got %d, want %d", start+i, len(v), e.config.Dimension))
			}
		}

		e.log.Debug().Int("batch", len(batch)).
			Dur("duration", time.Since(started)).Msg("embedded batch")
		out = append(out, vectors...)
	}

	return out, nil
}

// Dimension declares the vector dimension for index compatibility checks.
func (e *Embedder) Dimension() int {
	return e.config.Dimension
}
