// Package config loads server configuration from an optional YAML file with
// DOCCHAT_* environment overrides. Provider keys are classified into
// credential kinds once here, not re-inspected per request.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mkovalev/docchat/internal/provider"
	"github.com/mkovalev/docchat/internal/retrieval"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Providers ProvidersConfig `yaml:"providers"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ProvidersConfig holds server-side fallback keys, used when a request
// carries no client key for the resolved family.
type ProvidersConfig struct {
	OpenAIKey    string `yaml:"openai_api_key"`
	AnthropicKey string `yaml:"anthropic_api_key"`
	GoogleKey    string `yaml:"google_api_key"`
}

type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`
	Threshold        float32 `yaml:"threshold"`
	MaxContextLength int     `yaml:"max_context_length"`
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4000},
		Storage: StorageConfig{DataDir: "./data"},
		Retrieval: RetrievalConfig{
			TopK:             retrieval.DefaultTopK,
			Threshold:        retrieval.DefaultThreshold,
			MaxContextLength: retrieval.DefaultMaxContextLength,
		},
		LogLevel: "info",
	}
}

// Load reads path (optional, "" skips the file) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(target *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*target = v
				return
			}
		}
	}

	if v := os.Getenv("DOCCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var DOCCHAT_PORT=%q: %v. Using default value.\n", v, err)
		}
	}

	setString(&cfg.Storage.DataDir, "DOCCHAT_DATA_DIR")
	setString(&cfg.LogLevel, "DOCCHAT_LOG_LEVEL")

	setString(&cfg.Embedding.APIKey, "DOCCHAT_EMBEDDING_API_KEY")
	setString(&cfg.Embedding.BaseURL, "DOCCHAT_EMBEDDING_BASE_URL")
	setString(&cfg.Embedding.Model, "DOCCHAT_EMBEDDING_MODEL")

	// DOCCHAT_-prefixed names win; the bare provider names are accepted for
	// compatibility with common deployment setups.
	setString(&cfg.Providers.OpenAIKey, "DOCCHAT_OPENAI_API_KEY", "OPENAI_API_KEY")
	setString(&cfg.Providers.AnthropicKey, "DOCCHAT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	setString(&cfg.Providers.GoogleKey, "DOCCHAT_GOOGLE_API_KEY", "GOOGLE_API_KEY")

	// The embedding service shares the OpenAI key unless given its own.
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.Providers.OpenAIKey
	}
}

// ServerCredentials classifies the fallback keys into credential kinds.
func (c Config) ServerCredentials() provider.Credentials {
	return provider.ClassifyKeys(c.Providers.OpenAIKey, c.Providers.AnthropicKey, c.Providers.GoogleKey)
}
