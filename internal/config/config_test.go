package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s
  request_timeout: 30s
  max_request_bytes: 1048576

limits:
  max_tokens_ceiling: 8192

providers:
  openai:
    enabled: true
    api_key: ${TEST_API_KEY}
    base_url: https://example.com/v1/
    models:
      - model-a
      - model-b
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("TEST_API_KEY", "my-secret-key")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, int64(1048576), cfg.Server.MaxRequestBytes)
	assert.Equal(t, 8192, cfg.Limits.MaxTokensCeiling)

	openai, ok := cfg.Providers["openai"]
	assert.True(t, ok, "openai provider should exist")
	assert.Equal(t, "my-secret-key", openai.APIKey)
	assert.Equal(t, "https://example.com/v1/", openai.BaseURL)
	assert.Equal(t, []string{"model-a", "model-b"}, openai.Models)

	// A provider with no explicit instances list gets one synthesized from
	// its top-level api_key/base_url.
	require.Len(t, openai.Instances, 1)
	assert.Equal(t, "my-secret-key", openai.Instances[0].APIKey)
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 8080
  read_timeout: 30s
  write_timeout: 120s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("AIGATEWAY_SERVER_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoad_MultipleInstances(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
providers:
  gemini:
    enabled: true
    base_url: https://generativelanguage.googleapis.com/v1beta/
    instances:
      - api_key: ${GEMINI_KEY_1}
        base_url: https://generativelanguage.googleapis.com/v1beta/
      - api_key: ${GEMINI_KEY_2}
        base_url: https://generativelanguage.googleapis.com/v1beta/
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("GEMINI_KEY_1", "key-one")
	t.Setenv("GEMINI_KEY_2", "key-two")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	gemini := cfg.Providers["gemini"]
	require.Len(t, gemini.Instances, 2)
	assert.Equal(t, "key-one", gemini.Instances[0].APIKey)
	assert.Equal(t, "key-two", gemini.Instances[1].APIKey)
}

func TestValidate_RejectsEnabledProviderWithNoKey(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderConfig{
			"openai": {Enabled: true, APIKey: ""},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsMalformedBaseURL(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderConfig{
			"openai": {Enabled: true, APIKey: "k", BaseURL: "https://example.com/v1"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_OK(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderConfig{
			"openai": {Enabled: true, APIKey: "k", BaseURL: "https://example.com/v1/", Instances: []InstanceConfig{{APIKey: "k"}}},
		},
	}
	require.NoError(t, cfg.Validate())
}
