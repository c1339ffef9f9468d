// Package config provides configuration management for Cortex.
// It loads settings from environment variables with the CORTEX_ prefix,
// optionally overlaid with a YAML config file, and provides sensible
// defaults for all options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Cortex daemon.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	User     UserConfig     `yaml:"user"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // Storage engine: sqlite, postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // SQLite data directory (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // Postgres connection string, required when engine is postgres
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider       string  `yaml:"provider"`        // LLM provider: ollama, openai (default: ollama)
	OllamaURL      string  `yaml:"ollama_url"`      // Ollama API URL (default: http://localhost:11434)
	OllamaModel    string  `yaml:"ollama_model"`    // Ollama chat model (default: qwen2.5:7b)
	EmbeddingModel string  `yaml:"embedding_model"` // Ollama embedding model (default: nomic-embed-text)
	OpenAIAPIKey   string  `yaml:"openai_api_key"`  // OpenAI API key
	OpenAIModel    string  `yaml:"openai_model"`    // OpenAI chat model (default: gpt-4o-mini)
	RequestsPerSec float64 `yaml:"requests_per_sec"` // Rate limit for LLM calls (default: 2)
}

// PipelineConfig tunes the orchestration pipeline.
type PipelineConfig struct {
	RetrievalTopK    int `yaml:"retrieval_top_k"`    // Memories surfaced per turn (default: 5)
	GraphHops        int `yaml:"graph_hops"`         // Knowledge graph traversal depth (default: 2)
	DispatchWorkers  int `yaml:"dispatch_workers"`   // Background workers for linking and reflection (default: 2)
	StreamBudgetSecs int `yaml:"stream_budget_secs"` // Per-turn streaming deadline in seconds (default: 5)
}

// UserConfig contains settings about the deployment's single user.
type UserConfig struct {
	Name string `yaml:"name"` // Display name used in prompts (default: Boss)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the CORTEX_ prefix. If
// CORTEX_CONFIG_FILE names a YAML file, its values override the environment.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()

	if path := os.Getenv("CORTEX_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays YAML values from path onto the config. Absent keys keep
// their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
		if c.Storage.DataPath == "" {
			return errors.New("config: storage.data_path is required for the sqlite engine")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: storage.postgres_dsn is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q (expected sqlite or postgres)", c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.OllamaURL == "" {
			return errors.New("config: llm.ollama_url is required for the ollama provider")
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return errors.New("config: llm.openai_api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("config: unknown llm provider %q (expected ollama or openai)", c.LLM.Provider)
	}

	if c.LLM.RequestsPerSec <= 0 {
		return errors.New("config: llm.requests_per_sec must be positive")
	}
	if c.Pipeline.RetrievalTopK < 1 {
		return errors.New("config: pipeline.retrieval_top_k must be at least 1")
	}
	if c.Pipeline.GraphHops < 1 {
		return errors.New("config: pipeline.graph_hops must be at least 1")
	}
	if c.Pipeline.DispatchWorkers < 1 {
		return errors.New("config: pipeline.dispatch_workers must be at least 1")
	}
	if c.Pipeline.StreamBudgetSecs < 1 {
		return errors.New("config: pipeline.stream_budget_secs must be at least 1")
	}
	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:      getEnv("CORTEX_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("CORTEX_DATA_PATH", "./data"),
			PostgresDSN: getEnv("CORTEX_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			Provider:       getEnv("CORTEX_LLM_PROVIDER", "ollama"),
			OllamaURL:      getEnv("CORTEX_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:    getEnv("CORTEX_OLLAMA_MODEL", "qwen2.5:7b"),
			EmbeddingModel: getEnv("CORTEX_EMBEDDING_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:   getEnv("CORTEX_OPENAI_API_KEY", ""),
			OpenAIModel:    getEnv("CORTEX_OPENAI_MODEL", "gpt-4o-mini"),
			RequestsPerSec: getEnvFloat("CORTEX_LLM_REQUESTS_PER_SEC", 2),
		},
		Pipeline: PipelineConfig{
			RetrievalTopK:    getEnvInt("CORTEX_RETRIEVAL_TOP_K", 5),
			GraphHops:        getEnvInt("CORTEX_GRAPH_HOPS", 2),
			DispatchWorkers:  getEnvInt("CORTEX_DISPATCH_WORKERS", 2),
			StreamBudgetSecs: getEnvInt("CORTEX_STREAM_BUDGET_SECS", 5),
		},
		User: UserConfig{
			Name: getEnv("CORTEX_USER_NAME", "Boss"),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
