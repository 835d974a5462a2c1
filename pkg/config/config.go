package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the embedding capability.
type EmbeddingConfig struct {
	Provider  string  `yaml:"provider"`
	Model     string  `yaml:"model"`
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	Dimension int     `yaml:"dimension"`
	BatchSize int     `yaml:"batch_size"`
	RateLimit float64 `yaml:"rate_limit"`
}

// GenerationConfig configures the answer-generation capability.
// Temperature is a pointer so an explicit 0 is distinguishable from an
// unset value.
type GenerationConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// DatabaseConfig configures the pgvector index.
type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
}

// ChunkerConfig configures transcript chunking. OverlapRatio is a pointer
// because 0 (no overlap) is a valid setting that must not be confused with
// an unset value.
type ChunkerConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	OverlapRatio *float64 `yaml:"overlap_ratio"`
	Encoding     string   `yaml:"encoding"`
}

// RetrieverConfig configures query-time retrieval.
type RetrieverConfig struct {
	TopK            int `yaml:"top_k"`
	OverfetchFactor int `yaml:"overfetch_factor"`
}

// FetcherConfig configures the talk-page fetcher.
type FetcherConfig struct {
	RateLimit float64 `yaml:"rate_limit"`
	UserAgent string  `yaml:"user_agent"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
}

// Config is the full application configuration.
type Config struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Database   DatabaseConfig   `yaml:"database"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Retriever  RetrieverConfig  `yaml:"retriever"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	Server     ServerConfig     `yaml:"server"`
}

// LoadConfig reads configuration from path, falling back to conventional
// locations, then merges environment variables and fills defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/talkbase/config.yaml"),
			"/etc/talkbase/config.yaml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 64
	}
	if config.Embedding.RateLimit == 0 {
		config.Embedding.RateLimit = 5
	}

	if config.Generation.Provider == "" {
		config.Generation.Provider = "ollama"
	}
	if config.Generation.Model == "" {
		config.Generation.Model = "mistral"
	}
	if config.Generation.BaseURL == "" {
		config.Generation.BaseURL = "http://localhost:11434"
	}
	if config.Generation.MaxTokens == 0 {
		config.Generation.MaxTokens = 2000
	}
	if config.Generation.Temperature == nil {
		temperature := 0.7
		config.Generation.Temperature = &temperature
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "talk_chunks"
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 2048
	}
	if config.Chunker.OverlapRatio == nil {
		ratio := 0.2
		config.Chunker.OverlapRatio = &ratio
	}
	if config.Chunker.Encoding == "" {
		config.Chunker.Encoding = "cl100k_base"
	}

	if config.Retriever.TopK == 0 {
		config.Retriever.TopK = 5
	}
	if config.Retriever.OverfetchFactor == 0 {
		config.Retriever.OverfetchFactor = 3
	}

	if config.Fetcher.RateLimit == 0 {
		config.Fetcher.RateLimit = 2
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 60
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
		config.Generation.BaseURL = baseURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Embedding.APIKey = key
		config.Generation.APIKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if addr := os.Getenv("TALKBASE_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
}
