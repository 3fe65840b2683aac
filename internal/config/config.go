package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Provider names understood by the factory.
const (
	ProviderOpenAI    = "openai"
	ProviderOpenAISDK = "openaisdk"
	ProviderClaude    = "claude"
)

const (
	culpritFirstSuspect = "first_suspect"
	culpritNone         = "none"
)

// Config represents the application configuration parsed from YAML or TOML
// and overridden from the environment.
type Config struct {
	Server          ServerConfig    `yaml:"server" toml:"server"`
	Providers       ProvidersConfig `yaml:"providers" toml:"providers"`
	DefaultProvider string          `yaml:"default_provider" toml:"default_provider" env:"CASEFILE_DEFAULT_PROVIDER"`
	Retry           RetryConfig     `yaml:"retry" toml:"retry"`
	Breaker         BreakerConfig   `yaml:"breaker" toml:"breaker"`
	AttemptTimeout  time.Duration   `yaml:"attempt_timeout" toml:"attempt_timeout" env:"CASEFILE_ATTEMPT_TIMEOUT"`
	CallTimeout     time.Duration   `yaml:"call_timeout" toml:"call_timeout" env:"CASEFILE_CALL_TIMEOUT"`
	ResponseFormat  string          `yaml:"response_format" toml:"response_format" env:"CASEFILE_RESPONSE_FORMAT"`
	Service         ServiceConfig   `yaml:"service" toml:"service"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port        int      `yaml:"port" toml:"port" env:"CASEFILE_PORT"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins" env:"CASEFILE_CORS_ORIGINS" envSeparator:","`
	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit" env:"CASEFILE_RATE_LIMIT"`
}

// ProvidersConfig catalogues configured upstream providers. A nil entry is
// not registered.
type ProvidersConfig struct {
	OpenAI    *ProviderConfig `yaml:"openai" toml:"openai" envPrefix:"CASEFILE_OPENAI_"`
	OpenAISDK *ProviderConfig `yaml:"openaisdk" toml:"openaisdk" envPrefix:"CASEFILE_OPENAISDK_"`
	Claude    *ProviderConfig `yaml:"claude" toml:"claude" envPrefix:"CASEFILE_CLAUDE_"`
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	APIKey       string            `yaml:"api_key" toml:"api_key" env:"API_KEY"`
	BaseURL      string            `yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	DefaultModel string            `yaml:"default_model" toml:"default_model" env:"DEFAULT_MODEL"`
	Models       []string          `yaml:"models" toml:"models"`
	Headers      Headers           `yaml:"headers" toml:"headers"`
	Aliases      map[string]string `yaml:"aliases" toml:"aliases"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// RetryConfig mirrors resilience.RetryPolicy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts" env:"CASEFILE_RETRY_MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" toml:"base_delay" env:"CASEFILE_RETRY_BASE_DELAY"`
	Multiplier  float64       `yaml:"multiplier" toml:"multiplier" env:"CASEFILE_RETRY_MULTIPLIER"`
	MaxDelay    time.Duration `yaml:"max_delay" toml:"max_delay" env:"CASEFILE_RETRY_MAX_DELAY"`
}

// BreakerConfig mirrors resilience.BreakerConfig.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" toml:"failure_threshold" env:"CASEFILE_BREAKER_FAILURE_THRESHOLD"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" toml:"reset_timeout" env:"CASEFILE_BREAKER_RESET_TIMEOUT"`
}

// ServiceConfig tunes the detective service.
type ServiceConfig struct {
	Fallbacks       bool   `yaml:"fallbacks" toml:"fallbacks" env:"CASEFILE_FALLBACKS"`
	Parallelism     int    `yaml:"parallelism" toml:"parallelism" env:"CASEFILE_PARALLELISM"`
	CulpritFallback string `yaml:"culprit_fallback" toml:"culprit_fallback" env:"CASEFILE_CULPRIT_FALLBACK"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:      8080,
			RateLimit: 5,
		},
		DefaultProvider: ProviderOpenAI,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		AttemptTimeout: 60 * time.Second,
		Service: ServiceConfig{
			Fallbacks:       true,
			Parallelism:     4,
			CulpritFallback: culpritFirstSuspect,
		},
	}
}

// Load reads a YAML or TOML file (by extension), applies environment
// overrides and validates the result. An empty path loads defaults and the
// environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := decode(absPath, data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// ApplyEnv overrides cfg from CASEFILE_* environment variables. Provider
// sections named in the environment but absent from the file are created.
func ApplyEnv(cfg *Config) error {
	slots := []struct {
		prefix string
		slot   **ProviderConfig
		unset  bool
	}{
		{prefix: "CASEFILE_OPENAI_", slot: &cfg.Providers.OpenAI},
		{prefix: "CASEFILE_OPENAISDK_", slot: &cfg.Providers.OpenAISDK},
		{prefix: "CASEFILE_CLAUDE_", slot: &cfg.Providers.Claude},
	}
	for i := range slots {
		if *slots[i].slot != nil {
			continue
		}
		if hasEnvPrefix(slots[i].prefix) {
			*slots[i].slot = &ProviderConfig{}
		} else {
			slots[i].unset = true
		}
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	// env may allocate nil struct pointers; keep absent providers absent.
	for _, s := range slots {
		if s.unset {
			*s.slot = nil
		}
	}
	return nil
}

func hasEnvPrefix(prefix string) bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}
	return false
}

// Enabled returns the configured providers keyed by name.
func (c Config) Enabled() map[string]ProviderConfig {
	out := make(map[string]ProviderConfig, 3)
	if c.Providers.OpenAI != nil {
		out[ProviderOpenAI] = *c.Providers.OpenAI
	}
	if c.Providers.OpenAISDK != nil {
		out[ProviderOpenAISDK] = *c.Providers.OpenAISDK
	}
	if c.Providers.Claude != nil {
		out[ProviderClaude] = *c.Providers.Claude
	}
	return out
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %g", c.Server.RateLimit)
	}

	providers := c.Enabled()
	if len(providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for name, provider := range providers {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
	}
	if _, ok := providers[c.DefaultProvider]; !ok {
		return fmt.Errorf("default_provider %q is not configured", c.DefaultProvider)
	}
	if providers[c.DefaultProvider].DefaultModel == "" {
		return fmt.Errorf("provider %s: default_model must be set on the default provider", c.DefaultProvider)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 <= base_delay <= max_delay, got %s and %s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %g", c.Retry.Multiplier)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout must be positive, got %s", c.Breaker.ResetTimeout)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt_timeout must be positive, got %s", c.AttemptTimeout)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative, got %s", c.CallTimeout)
	}

	switch c.ResponseFormat {
	case "", "text", "json_object":
	default:
		return fmt.Errorf("response_format must be empty, %q or %q, got %q", "text", "json_object", c.ResponseFormat)
	}

	if c.Service.Parallelism < 1 {
		return fmt.Errorf("service.parallelism must be at least 1, got %d", c.Service.Parallelism)
	}
	switch c.Service.CulpritFallback {
	case culpritFirstSuspect, culpritNone:
	default:
		return fmt.Errorf("service.culprit_fallback must be %q or %q, got %q", culpritFirstSuspect, culpritNone, c.Service.CulpritFallback)
	}

	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.APIKey) == "" {
		return fmt.Errorf("provider %s: api_key must be provided", name)
	}
	if name == ProviderOpenAI && strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}

	for _, model := range provider.Models {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("provider %s: model id must not be empty", name)
		}
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	for alias, target := range provider.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("provider %s: alias name must not be empty", name)
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("provider %s: alias %q target must not be empty", name, alias)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
