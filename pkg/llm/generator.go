package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/talkbase/talkbase/internal/types"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// GeneratorConfig configures the generation capability adapter.
type GeneratorConfig struct {
	Provider    string // "ollama" or "openai"
	Model       string
	BaseURL     string // Ollama server URL
	APIKey      string // OpenAI token
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// ChatGenerator adapts an external generation capability. One call per
// request, no conversation state; transient faults retry with bounded
// backoff before surfacing as generation-unavailable.
type ChatGenerator struct {
	config GeneratorConfig
	model  llms.Model
	log    zerolog.Logger
}

// NewGeneratorWithConfig builds the provider model and wraps it.
func NewGeneratorWithConfig(config GeneratorConfig) (*ChatGenerator, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, &types.InvalidInputError{
			Field:   "generation.temperature",
			Message: "temperature must be between 0 and 2",
		}
	}
	if config.MaxTokens < 0 {
		return nil, &types.InvalidInputError{
			Field:   "generation.max_tokens",
			Message: "max tokens cannot be negative",
		}
	}

	var model llms.Model
	var err error
	switch config.Provider {
	case "", "ollama":
		model, err = ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
	case "openai":
		if config.APIKey == "" {
			return nil, &types.InvalidInputError{
				Field:   "generation.api_key",
				Message: "OpenAI API key is required",
			}
		}
		model, err = openai.New(
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
	default:
		return nil, &types.InvalidInputError{
			Field:   "generation.provider",
			Message: fmt.Sprintf("unsupported generation provider: %s", config.Provider),
		}
	}

	return NewGenerator(model, config), nil
}

// NewGenerator wraps an existing model. Exported so tests can inject a
// fake capability.
func NewGenerator(model llms.Model, config GeneratorConfig) *ChatGenerator {
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &ChatGenerator{
		config: config,
		model:  model,
		log:    config.Logger.With().Str("component", "generator").Logger(),
	}
}

// Generate produces a single answer for the given system instructions and
// user prompt.
func (g *ChatGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	var answer string
	started := time.Now()
	err := withRetry(ctx, g.config.MaxRetries, time.Second, 15*time.Second,
		func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
			defer cancel()

			resp, err := g.model.GenerateContent(callCtx, content,
				llms.WithTemperature(g.config.Temperature),
				llms.WithMaxTokens(g.config.MaxTokens),
			)
			if err != nil {
				return err
			}
			if resp == nil || len(resp.Choices) == 0 {
				return errors.New("empty response from model")
			}
			answer = resp.Choices[0].Content
			return nil
		})
	if err != nil {
		g.log.Warn().Err(err).Msg("generation failed")
		return "", types.Unavailable(types.CapabilityGeneration, err)
	}

	g.log.Debug().Dur("duration", time.Since(started)).Msg("generated answer")
	return answer, nil
}
