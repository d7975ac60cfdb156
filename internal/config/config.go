// Package config holds the engine's configuration: remote endpoints and
// credentials, chunking and retrieval tunables, and server settings. The
// Config struct is built once at process start and handed to each component;
// nothing reads the environment after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Confluence ConfluenceConfig
	Embedding  EmbeddingConfig
	Index      IndexConfig
	Chunk      ChunkConfig
	Retrieval  RetrievalConfig
	Sync       SyncConfig
	Retry      RetryConfig
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ConfluenceConfig struct {
	BaseURL            string
	Email              string
	APIToken           string
	IncludeAttachments bool
	RequestsPerSecond  float64
}

type EmbeddingConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int
	MaxBatch          int
	RequestsPerSecond float64
}

type IndexConfig struct {
	BaseURL string
	APIKey  string
}

type ChunkConfig struct {
	MaxChars int
	Overlap  int
}

type RetrievalConfig struct {
	TopK            int
	OverFetch       int
	VectorWeight    float64
	LexicalWeight   float64
	DiversifyByPage bool
	CacheTTL        time.Duration
}

type SyncConfig struct {
	Workers int
}

type RetryConfig struct {
	MaxAttempts int
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Confluence: ConfluenceConfig{
			RequestsPerSecond: 8,
		},
		Embedding: EmbeddingConfig{
			Model:             "text-embedding-3-small",
			Dimensions:        1536,
			MaxBatch:          100,
			RequestsPerSecond: 4,
		},
		Chunk: ChunkConfig{
			MaxChars: 512,
			Overlap:  50,
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			OverFetch:       2,
			VectorWeight:    0.7,
			LexicalWeight:   0.3,
			DiversifyByPage: true,
			CacheTTL:        time.Minute,
		},
		Sync: SyncConfig{
			Workers: 4,
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
		},
		Server: ServerConfig{
			Port: 4400,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "wikidex")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wikidex"
	}
	return filepath.Join(home, ".local", "share", "wikidex")
}

// Load builds the configuration from defaults overlaid with WIKIDEX_*
// environment variables, then validates it.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and cross-field invariants. A violated
// invariant here would corrupt the index or the chunk stream, so Load
// refuses the configuration outright.
func (c Config) Validate() error {
	var missing []string
	if c.Confluence.BaseURL == "" {
		missing = append(missing, "WIKIDEX_CONFLUENCE_BASE_URL")
	}
	if c.Confluence.Email == "" {
		missing = append(missing, "WIKIDEX_CONFLUENCE_EMAIL")
	}
	if c.Confluence.APIToken == "" {
		missing = append(missing, "WIKIDEX_CONFLUENCE_API_TOKEN")
	}
	if c.Embedding.BaseURL == "" {
		missing = append(missing, "WIKIDEX_EMBEDDING_BASE_URL")
	}
	if c.Index.BaseURL == "" {
		missing = append(missing, "WIKIDEX_INDEX_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.MaxBatch <= 0 {
		return fmt.Errorf("embedding max batch must be positive, got %d", c.Embedding.MaxBatch)
	}
	if c.Chunk.MaxChars <= 0 {
		return fmt.Errorf("chunk max chars must be positive, got %d", c.Chunk.MaxChars)
	}
	if c.Chunk.Overlap <= 0 || c.Chunk.Overlap >= c.Chunk.MaxChars {
		return fmt.Errorf("chunk overlap must satisfy 0 < overlap < max chars, got overlap=%d max=%d",
			c.Chunk.Overlap, c.Chunk.MaxChars)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.OverFetch < 1 {
		return fmt.Errorf("retrieval over-fetch factor must be >= 1, got %d", c.Retrieval.OverFetch)
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.LexicalWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative, got vector=%g lexical=%g",
			c.Retrieval.VectorWeight, c.Retrieval.LexicalWeight)
	}
	if c.Retrieval.VectorWeight+c.Retrieval.LexicalWeight == 0 {
		return fmt.Errorf("fusion weights must not both be zero")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync workers must be positive, got %d", c.Sync.Workers)
	}
	return nil
}
