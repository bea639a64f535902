// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string // empty disables the gRPC health listener
	FrontendURL string
	DBPath      string
	UserTTL     time.Duration
	Model       ModelConfig
	Prompts     PromptConfig
	RateLimit   RateLimitConfig
	HTTP        HTTPConfig
}

// ModelConfig selects and configures the language model backend.
type ModelConfig struct {
	Provider string // "openai" (any OpenAI-compatible endpoint) or "mock"
	Name     string
	BaseURL  string
	APIKey   string // server default; callers normally supply their own credential
	Timeout  time.Duration
}

// PromptConfig controls prompt template overrides.
type PromptConfig struct {
	OverrideFile string
	Watch        bool
}

// RateLimitConfig bounds flow calls per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// HTTPConfig holds request body limits.
type HTTPConfig struct {
	MaxRequestBodySize int64
}

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultModelName     = "gemini-2.0-flash"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", ""),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/writer.db"),
		UserTTL:     getEnvDuration("USER_TTL", 90*24*time.Hour),
		Model: ModelConfig{
			Provider: strings.ToLower(getEnv("MODEL_PROVIDER", "openai")),
			Name:     getEnv("MODEL_NAME", defaultModelName),
			BaseURL:  getEnv("MODEL_BASE_URL", defaultGeminiBaseURL),
			APIKey:   getEnv("MODEL_API_KEY", ""),
			Timeout:  getEnvDuration("MODEL_TIMEOUT", 60*time.Second),
		},
		Prompts: PromptConfig{
			OverrideFile: getEnv("PROMPTS_FILE", ""),
			Watch:        getEnvBool("PROMPTS_WATCH", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		HTTP: HTTPConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 2<<20)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Model.Provider {
	case "openai":
		if c.Model.Name == "" {
			return fmt.Errorf("MODEL_NAME cannot be empty")
		}
	case "mock":
	default:
		return fmt.Errorf("MODEL_PROVIDER %q not supported", c.Model.Provider)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.HTTP.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
