package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mkovalev/docchat/internal/provider"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.MaxContextLength != 5000 {
		t.Errorf("retrieval defaults = %+v", cfg.Retrieval)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9999
providers:
  openai_api_key: sk-from-file
retrieval:
  top_k: 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	// Ambient keys must not mask the file values.
	t.Setenv("DOCCHAT_OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Providers.OpenAIKey != "sk-from-file" {
		t.Errorf("openai key = %q", cfg.Providers.OpenAIKey)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("top_k = %d", cfg.Retrieval.TopK)
	}
	// Unset fields keep their defaults.
	if cfg.Storage.DataDir != "./data" {
		t.Errorf("data_dir = %q", cfg.Storage.DataDir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCCHAT_PORT", "8123")
	t.Setenv("DOCCHAT_OPENAI_API_KEY", "sk-from-env")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Providers.OpenAIKey != "sk-from-env" {
		t.Errorf("openai key = %q", cfg.Providers.OpenAIKey)
	}
	if cfg.Providers.AnthropicKey != "sk-ant-from-env" {
		t.Errorf("anthropic key = %q", cfg.Providers.AnthropicKey)
	}
	// Embedding borrows the OpenAI key when not set separately.
	if cfg.Embedding.APIKey != "sk-from-env" {
		t.Errorf("embedding key = %q", cfg.Embedding.APIKey)
	}
}

func TestServerCredentialsClassified(t *testing.T) {
	t.Setenv("DOCCHAT_OPENAI_API_KEY", "sk-real-key")
	t.Setenv("DOCCHAT_ANTHROPIC_API_KEY", "sk-ant-fallback-demo")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	creds := cfg.ServerCredentials()
	if creds.OpenAI.Kind != provider.Real {
		t.Errorf("openai kind = %v", creds.OpenAI.Kind)
	}
	if creds.Anthropic.Kind != provider.Placeholder {
		t.Errorf("anthropic kind = %v", creds.Anthropic.Kind)
	}
	if creds.Google.Kind != provider.Absent {
		t.Errorf("google kind = %v", creds.Google.Kind)
	}
}
