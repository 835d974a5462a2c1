package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns every problem found, so a
// bad config file reports all its mistakes in one pass.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Embedding.Provider != "ollama" && c.Embedding.Provider != "openai" {
		errs = append(errs, ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unsupported provider %q (ollama or openai)", c.Embedding.Provider),
		})
	}
	if c.Embedding.Dimension < 1 {
		errs = append(errs, ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "embedding.api_key",
			Message: "api_key is required for the openai provider",
		})
	}

	if c.Generation.Provider != "ollama" && c.Generation.Provider != "openai" {
		errs = append(errs, ValidationError{
			Field:   "generation.provider",
			Message: fmt.Sprintf("unsupported provider %q (ollama or openai)", c.Generation.Provider),
		})
	}
	if c.Generation.MaxTokens < 1 || c.Generation.MaxTokens > 8192 {
		errs = append(errs, ValidationError{
			Field:   "generation.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}
	if c.Generation.Temperature != nil &&
		(*c.Generation.Temperature < 0 || *c.Generation.Temperature > 2) {
		errs = append(errs, ValidationError{
			Field:   "generation.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Chunker.ChunkSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "chunker.chunk_size",
			Message: "chunk_size must be positive",
		})
	}
	if c.Chunker.OverlapRatio != nil &&
		(*c.Chunker.OverlapRatio < 0 || *c.Chunker.OverlapRatio >= 1) {
		errs = append(errs, ValidationError{
			Field:   "chunker.overlap_ratio",
			Message: "overlap_ratio must be in [0, 1)",
		})
	}

	if c.Retriever.TopK < 1 {
		errs = append(errs, ValidationError{
			Field:   "retriever.top_k",
			Message: "top_k must be positive",
		})
	}
	if c.Retriever.OverfetchFactor < 1 {
		errs = append(errs, ValidationError{
			Field:   "retriever.overfetch_factor",
			Message: "overfetch_factor must be positive",
		})
	}

	if c.Fetcher.RateLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "fetcher.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	return errs
}
