package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "WIKIDEX_CONFLUENCE_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Confluence.BaseURL = v.(string) },
	},
	{
		env: "WIKIDEX_CONFLUENCE_EMAIL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Confluence.Email = v.(string) },
	},
	{
		env: "WIKIDEX_CONFLUENCE_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Confluence.APIToken = v.(string) },
	},
	{
		env: "WIKIDEX_CONFLUENCE_INCLUDE_ATTACHMENTS", typ: kBool,
		apply: func(cfg *Config, v any) { cfg.Confluence.IncludeAttachments = v.(bool) },
	},
	{
		env: "WIKIDEX_CONFLUENCE_REQUESTS_PER_SECOND", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Confluence.RequestsPerSecond = v.(float64) },
	},
	{
		env: "WIKIDEX_EMBEDDING_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
	},
	{
		env: "WIKIDEX_EMBEDDING_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
	},
	{
		env: "WIKIDEX_EMBEDDING_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
	},
	{
		env: "WIKIDEX_EMBEDDING_DIMENSIONS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
	},
	{
		env: "WIKIDEX_EMBEDDING_MAX_BATCH", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Embedding.MaxBatch = v.(int) },
	},
	{
		env: "WIKIDEX_EMBEDDING_REQUESTS_PER_SECOND", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Embedding.RequestsPerSecond = v.(float64) },
	},
	{
		env: "WIKIDEX_INDEX_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Index.BaseURL = v.(string) },
	},
	{
		env: "WIKIDEX_INDEX_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Index.APIKey = v.(string) },
	},
	{
		env: "WIKIDEX_CHUNK_MAX_CHARS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunk.MaxChars = v.(int) },
	},
	{
		env: "WIKIDEX_CHUNK_OVERLAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunk.Overlap = v.(int) },
	},
	{
		env: "WIKIDEX_RETRIEVAL_TOP_K", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		env: "WIKIDEX_RETRIEVAL_OVER_FETCH", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.OverFetch = v.(int) },
	},
	{
		env: "WIKIDEX_RETRIEVAL_VECTOR_WEIGHT", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Retrieval.VectorWeight = v.(float64) },
	},
	{
		env: "WIKIDEX_RETRIEVAL_LEXICAL_WEIGHT", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Retrieval.LexicalWeight = v.(float64) },
	},
	{
		env: "WIKIDEX_RETRIEVAL_DIVERSIFY_BY_PAGE", typ: kBool,
		apply: func(cfg *Config, v any) { cfg.Retrieval.DiversifyByPage = v.(bool) },
	},
	{
		env: "WIKIDEX_RETRIEVAL_CACHE_TTL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Retrieval.CacheTTL = v.(time.Duration) },
	},
	{
		env: "WIKIDEX_SYNC_WORKERS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Sync.Workers = v.(int) },
	},
	{
		env: "WIKIDEX_RETRY_MAX_ATTEMPTS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
	},
	{
		env: "WIKIDEX_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "WIKIDEX_SERVER_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		env: "WIKIDEX_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "WIKIDEX_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
