// Package config provides configuration for the memory engine. Settings are
// loaded from environment variables with the CLAWMEM_ prefix, with an
// optional YAML file overlay for retention rules and engine tuning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Config holds all settings for the memory engine.
type Config struct {
	Storage   StorageConfig
	LLM       LLMConfig
	Engine    EngineConfig
	Retention types.RetentionRules
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	// Backend is "sqlite" or "postgres" (default: sqlite).
	Backend string

	// DataPath is the sqlite data directory (default: ./data).
	DataPath string

	// PostgresDSN is the lib/pq connection string for the postgres backend.
	PostgresDSN string

	// Dimension is the embedding dimension the store enforces (default: 768).
	Dimension int
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	// Provider is "ollama" or "openai" (default: ollama).
	Provider string

	// OllamaURL is the Ollama API URL (default: http://localhost:11434).
	OllamaURL string

	// OllamaModel is the completion model (default: llama3.2).
	OllamaModel string

	// OllamaEmbedModel is the embedding model (default: nomic-embed-text).
	OllamaEmbedModel string

	// OpenAIAPIKey authenticates OpenAI requests.
	OpenAIAPIKey string

	// OpenAIModel is the chat model (default: gpt-4o-mini).
	OpenAIModel string

	// OpenAIEmbedModel is the embedding model (default: text-embedding-3-small).
	OpenAIEmbedModel string

	// Timeout is the per-request deadline (default: 30s).
	Timeout time.Duration
}

// EngineConfig carries the engine tuning knobs the YAML overlay can adjust.
type EngineConfig struct {
	SemanticThreshold  float64 `yaml:"semantic_threshold"`
	MaxCandidates      int     `yaml:"max_candidates"`
	SearchLimit        int     `yaml:"search_limit"`
	SearchThreshold    float64 `yaml:"search_threshold"`
	MaxMemoriesPerUser int     `yaml:"max_memories_per_user"`
	EnableQueryRewrite bool    `yaml:"enable_query_rewrite"`
	EmbedWorkers       int     `yaml:"embed_workers"`
}

// fileOverlay is the shape of the optional YAML config file.
type fileOverlay struct {
	Engine    EngineConfig   `yaml:"engine"`
	Retention map[string]int `yaml:"retention_days"`
}

// Load builds the configuration from environment variables, then applies the
// YAML overlay named by CLAWMEM_CONFIG_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Backend:     getEnv("CLAWMEM_STORAGE_BACKEND", "sqlite"),
			DataPath:    getEnv("CLAWMEM_DATA_PATH", "./data"),
			PostgresDSN: getEnv("CLAWMEM_POSTGRES_DSN", ""),
			Dimension:   getEnvInt("CLAWMEM_EMBEDDING_DIMENSION", 768),
		},
		LLM: LLMConfig{
			Provider:         getEnv("CLAWMEM_LLM_PROVIDER", "ollama"),
			OllamaURL:        getEnv("CLAWMEM_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:      getEnv("CLAWMEM_OLLAMA_MODEL", "llama3.2"),
			OllamaEmbedModel: getEnv("CLAWMEM_OLLAMA_EMBED_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:     getEnv("CLAWMEM_OPENAI_API_KEY", ""),
			OpenAIModel:      getEnv("CLAWMEM_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIEmbedModel: getEnv("CLAWMEM_OPENAI_EMBED_MODEL", "text-embedding-3-small"),
			Timeout:          getEnvDuration("CLAWMEM_LLM_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			SemanticThreshold:  getEnvFloat("CLAWMEM_SEMANTIC_THRESHOLD", 0.85),
			MaxCandidates:      getEnvInt("CLAWMEM_MAX_CANDIDATES", 20),
			SearchLimit:        getEnvInt("CLAWMEM_SEARCH_LIMIT", 10),
			SearchThreshold:    getEnvFloat("CLAWMEM_SEARCH_THRESHOLD", 0.5),
			MaxMemoriesPerUser: getEnvInt("CLAWMEM_MAX_MEMORIES_PER_USER", 10_000),
			EnableQueryRewrite: getEnvBool("CLAWMEM_ENABLE_QUERY_REWRITE", false),
			EmbedWorkers:       getEnvInt("CLAWMEM_EMBED_WORKERS", 2),
		},
		Retention: types.DefaultRetentionRules(),
	}

	if path := os.Getenv("CLAWMEM_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyFile overlays a YAML file onto the config. Only set fields override.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if overlay.Engine.SemanticThreshold != 0 {
		c.Engine.SemanticThreshold = overlay.Engine.SemanticThreshold
	}
	if overlay.Engine.MaxCandidates != 0 {
		c.Engine.MaxCandidates = overlay.Engine.MaxCandidates
	}
	if overlay.Engine.SearchLimit != 0 {
		c.Engine.SearchLimit = overlay.Engine.SearchLimit
	}
	if overlay.Engine.SearchThreshold != 0 {
		c.Engine.SearchThreshold = overlay.Engine.SearchThreshold
	}
	if overlay.Engine.MaxMemoriesPerUser != 0 {
		c.Engine.MaxMemoriesPerUser = overlay.Engine.MaxMemoriesPerUser
	}
	if overlay.Engine.EnableQueryRewrite {
		c.Engine.EnableQueryRewrite = true
	}
	if overlay.Engine.EmbedWorkers != 0 {
		c.Engine.EmbedWorkers = overlay.Engine.EmbedWorkers
	}
	for memoryType, days := range overlay.Retention {
		if !types.IsValidMemoryType(memoryType) {
			return fmt.Errorf("config: unknown memory type %q in retention_days", memoryType)
		}
		if days < 0 {
			return fmt.Errorf("config: negative retention for %q", memoryType)
		}
		c.Retention[memoryType] = days
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
