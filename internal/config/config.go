// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Limits    LimitsConfig              `koanf:"limits"`
	Router    RouterConfig              `koanf:"router"`
	Providers map[string]ProviderConfig `koanf:"providers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	MaxRequestBytes int64         `koanf:"max_request_bytes"`
}

// LimitsConfig holds gateway-wide request limits enforced before any
// provider is consulted.
type LimitsConfig struct {
	MaxTokensCeiling int `koanf:"max_tokens_ceiling"`
}

// RouterConfig holds the optional rule-engine and semantic-selection layers
// described in §4.3. Both are optional: an empty Rules list and a
// zero-value Semantic reduce the router to explicit-map-then-prefix
// dispatch.
type RouterConfig struct {
	Rules    []RuleConfig   `koanf:"rules"`
	Semantic SemanticConfig `koanf:"semantic"`
}

// RuleConfig is one Lua-scripted dispatch rule, loaded from config in the
// order it should be evaluated.
type RuleConfig struct {
	ID       string `koanf:"id"`
	Script   string `koanf:"script"`
	Provider string `koanf:"provider"`
}

// SemanticConfig names the on-disk embedding artifacts used for model:"auto"
// selection. All fields are optional; an empty ModelPath disables the
// embedding runtime and auto falls back to DefaultModel.
type SemanticConfig struct {
	ModelPath     string `koanf:"model_path"`
	TokenizerPath string `koanf:"tokenizer_path"`
	DefaultModel  string `koanf:"default_model"`
	InputName     string `koanf:"input_name"`
	OutputName    string `koanf:"output_name"`
	Dim           int    `koanf:"dim"`
}

// InstanceConfig is one {api_key, base_url} pair backing a provider_id. A
// provider may list several to enable rendezvous-hashed load splitting.
type InstanceConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// ProviderConfig holds the settings for a single LLM provider.
type ProviderConfig struct {
	APIKey           string           `koanf:"api_key"`
	BaseURL          string           `koanf:"base_url"`
	Models           []string         `koanf:"models"`
	Enabled          bool             `koanf:"enabled"`
	Timeout          time.Duration    `koanf:"timeout"`
	MaxRetries       int              `koanf:"max_retries"`
	AnthropicVersion string           `koanf:"anthropic_version"`
	Instances        []InstanceConfig `koanf:"instances"`
}

// envPrefix namespaces environment-variable overrides for this gateway,
// distinct from the teacher's LLMROUTER_ prefix.
const envPrefix = "AIGATEWAY_"

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated, validated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// AIGATEWAY_ can override a config value, e.g.
	//   AIGATEWAY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandSecrets(&cfg)
	synthesizeInstances(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandSecrets resolves ${VAR_NAME} placeholders in provider and instance
// API keys against the process environment. koanf doesn't do this
// automatically, so the gateway handles it after unmarshaling.
func expandSecrets(cfg *Config) {
	for name, p := range cfg.Providers {
		p.APIKey = expandVar(p.APIKey)
		for i, inst := range p.Instances {
			inst.APIKey = expandVar(inst.APIKey)
			p.Instances[i] = inst
		}
		cfg.Providers[name] = p
	}
}

func expandVar(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

// synthesizeInstances gives every enabled provider with no explicit
// instances list a single implicit instance built from its top-level
// api_key/base_url, so existing single-key configs keep working unchanged
// once the multi-instance schema is introduced.
func synthesizeInstances(cfg *Config) {
	for name, p := range cfg.Providers {
		if len(p.Instances) == 0 {
			p.Instances = []InstanceConfig{{APIKey: p.APIKey, BaseURL: p.BaseURL}}
			cfg.Providers[name] = p
		}
	}
}

// Validate enforces the ProviderConfig invariants from §3: a non-empty
// api_key on every enabled provider, a base_url ending in "/", and a
// non-negative max_retries. The base_url check applies only when it is set
// and only looks at the trailing "/": the URL is not parsed, and instance
// base_urls are not checked.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		if p.APIKey == "" {
			return fmt.Errorf("provider %q: enabled but api_key is empty", name)
		}
		if p.BaseURL != "" && !strings.HasSuffix(p.BaseURL, "/") {
			return fmt.Errorf("provider %q: base_url must end in %q", name, "/")
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("provider %q: max_retries must be non-negative", name)
		}
		for i, inst := range p.Instances {
			if inst.APIKey == "" {
				return fmt.Errorf("provider %q: instance %d has empty api_key", name, i)
			}
		}
	}
	if c.Limits.MaxTokensCeiling < 0 {
		return fmt.Errorf("limits.max_tokens_ceiling must be non-negative")
	}
	return nil
}
