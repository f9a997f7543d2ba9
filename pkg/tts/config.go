package tts

import (
	"log/slog"
	"time"
)

// Config holds provider settings shared by ElevenLabs and OpenAI.
type Config struct {
	APIKey  string
	BaseURL string // empty uses the provider's public endpoint

	VoiceID       string // preset name or raw provider ID
	ModelID       string
	VoiceSettings VoiceSettings // ElevenLabs only
	OutputFormat  Encoding

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring TTS providers.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

// WithVoice sets the default voice.
func WithVoice(voiceID string) Option { return func(c *Config) { c.VoiceID = voiceID } }

// WithModel sets the synthesis model.
func WithModel(modelID string) Option { return func(c *Config) { c.ModelID = modelID } }

// WithOutputFormat sets the audio encoding. Browsers play EncodingMP3 directly.
func WithOutputFormat(format Encoding) Option { return func(c *Config) { c.OutputFormat = format } }

// WithVoiceSettings sets ElevenLabs voice characteristics.
func WithVoiceSettings(s VoiceSettings) Option { return func(c *Config) { c.VoiceSettings = s } }

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// WithRetry sets how often 429 and 5xx responses are retried.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// DefaultConfig returns MP3 output with two retries.
func DefaultConfig() *Config {
	return &Config{
		ModelID:       ModelTurboV2_5,
		OutputFormat:  EncodingMP3,
		VoiceSettings: DefaultVoiceSettings(),
		Timeout:       30 * time.Second,
		MaxRetries:    2,
		RetryDelay:    200 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate reports a missing API key, and a missing voice when needVoice is set.
func (c *Config) Validate(needVoice bool) error {
	switch {
	case c.APIKey == "":
		return ErrNoAPIKey
	case needVoice && c.VoiceID == "":
		return ErrNoVoiceID
	}
	return nil
}
