// Package config loads the orchestrator's runtime configuration: provider
// credentials, the local inference endpoint, server bind address, and the
// data directory, each driven by a fixed set of recognized environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	Server    ServerConfig
	Providers ProvidersConfig
	Ollama    OllamaConfig
	Telemetry TelemetryConfig
	Debug     bool
	DataDir   string
}

// TelemetryConfig controls OpenTelemetry trace export. Disabled by
// default: a research session never depends on an external collector being
// reachable.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	SampleRate   float64
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host string
	Port int

	// AuthEnabled guards /research/* with a bearer JWT when set. AuthSecret
	// is the HS256 signing key; required if AuthEnabled is true.
	AuthEnabled bool
	AuthSecret  string
}

// ProvidersConfig holds search/academic-provider credentials. An empty
// APIKey means the provider is disabled (spec §6: "providers without
// credentials are skipped, not fatal").
type ProvidersConfig struct {
	AnthropicAPIKey       string
	TavilyAPIKey          string
	BraveAPIKey           string
	ExaAPIKey             string
	SemanticScholarAPIKey string
	UnpaywallEmail        string
}

// OllamaConfig configures the local inference backend.
type OllamaConfig struct {
	BaseURL     string
	NumParallel int
}

// Load builds a Config from the recognized environment variables (spec §6),
// applying defaults for anything unset.
func Load() (*Config, error) {
	cfg := Default()

	cfg.Providers.AnthropicAPIKey = getEnvOr("ANTHROPIC_API_KEY", cfg.Providers.AnthropicAPIKey)
	cfg.Providers.TavilyAPIKey = getEnvOr("TAVILY_API_KEY", cfg.Providers.TavilyAPIKey)
	cfg.Providers.BraveAPIKey = getEnvOr("BRAVE_API_KEY", cfg.Providers.BraveAPIKey)
	cfg.Providers.ExaAPIKey = getEnvOr("EXA_API_KEY", cfg.Providers.ExaAPIKey)
	cfg.Providers.SemanticScholarAPIKey = getEnvOr("SEMANTIC_SCHOLAR_API_KEY", cfg.Providers.SemanticScholarAPIKey)
	cfg.Providers.UnpaywallEmail = getEnvOr("UNPAYWALL_EMAIL", cfg.Providers.UnpaywallEmail)

	cfg.Ollama.BaseURL = getEnvOr("OLLAMA_BASE_URL", cfg.Ollama.BaseURL)
	if v := os.Getenv("OLLAMA_NUM_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: OLLAMA_NUM_PARALLEL: %w", err)
		}
		cfg.Ollama.NumParallel = n
	}

	cfg.Server.Host = getEnvOr("HOST", cfg.Server.Host)
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: PORT: %w", err)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: AUTH_ENABLED: %w", err)
		}
		cfg.Server.AuthEnabled = b
	}
	cfg.Server.AuthSecret = getEnvOr("AUTH_SECRET", cfg.Server.AuthSecret)

	if v := os.Getenv("DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: DEBUG: %w", err)
		}
		cfg.Debug = b
	}

	cfg.DataDir = getEnvOr("DATA_DIR", cfg.DataDir)

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: OTEL_ENABLED: %w", err)
		}
		cfg.Telemetry.Enabled = b
	}
	cfg.Telemetry.OTLPEndpoint = getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no environment variable
// overrides a setting.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			NumParallel: 2,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "deepresearch-orchestrator",
			SampleRate:   0.1,
		},
		DataDir: "./data",
	}
}

// Validate checks invariants Load can't enforce while overlaying
// individual fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "invalid server port")
	}
	if c.Ollama.NumParallel <= 0 {
		errs = append(errs, "ollama num_parallel must be positive")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, "data_dir must not be empty")
	}
	if c.Server.AuthEnabled && strings.TrimSpace(c.Server.AuthSecret) == "" {
		errs = append(errs, "auth_secret must be set when auth is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnabledProviders lists the search/academic providers that have a
// credential configured, in a fixed order. The health provider probe uses
// it; search.Selector does not consult this order.
func (c *Config) EnabledProviders() []string {
	var out []string
	if c.Providers.TavilyAPIKey != "" {
		out = append(out, "tavily")
	}
	if c.Providers.BraveAPIKey != "" {
		out = append(out, "brave")
	}
	if c.Providers.ExaAPIKey != "" {
		out = append(out, "exa")
	}
	if c.Providers.SemanticScholarAPIKey != "" {
		out = append(out, "semantic_scholar")
	}
	if c.Providers.UnpaywallEmail != "" {
		out = append(out, "unpaywall")
	}
	return out
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// RequestTimeout is a default timeout for outbound provider/LLM HTTP calls.
// No component in this module reads it; each sets its own client timeout.
const RequestTimeout = 30 * time.Second
