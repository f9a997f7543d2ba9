package inference

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL string // API base URL
	APIKey  string // API key (optional for local providers)

	// Google credentials used by Gemini when APIKey is empty.
	AccessToken string // static OAuth access token
	UseADC      bool   // application default credentials

	// Model is the default chat model.
	Model string

	// Request defaults
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int

	Timeout time.Duration

	// Retry configuration
	MaxRetries int
	RetryDelay time.Duration

	// HTTPClient replaces the client built from the settings above.
	HTTPClient *http.Client

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
// Examples: "https://api.openai.com/v1", "http://localhost:11434/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithAccessToken sets a static OAuth access token.
func WithAccessToken(token string) Option {
	return func(c *Config) { c.AccessToken = token }
}

// WithADC enables application default credentials.
func WithADC(enabled bool) Option {
	return func(c *Config) { c.UseADC = enabled }
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTopP sets the default nucleus sampling value.
func WithTopP(p float64) Option {
	return func(c *Config) { c.TopP = p }
}

// WithTopK sets the default top-k sampling value.
func WithTopK(k int) Option {
	return func(c *Config) { c.TopK = k }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for OpenAI-compatible APIs.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		MaxTokens:   1024,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  200 * time.Millisecond,
		Logger:      slog.Default(),
	}
}

// Gemini defaults.
const (
	GeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	GeminiModel       = "gemini-1.5-flash"
	GeminiTemperature = 0.7
	GeminiTopK        = 40
	GeminiTopP        = 0.95
	GeminiMaxTokens   = 1024
)

// DefaultGeminiConfig returns the Gemini generation defaults.
func DefaultGeminiConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseURL = GeminiBaseURL
	cfg.Model = GeminiModel
	cfg.Temperature = GeminiTemperature
	cfg.TopK = GeminiTopK
	cfg.TopP = GeminiTopP
	cfg.MaxTokens = GeminiMaxTokens
	return cfg
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
