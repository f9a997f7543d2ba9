package speaker

import (
	"log/slog"
	"math"
)

// Speaking rate bounds and defaults.
const (
	DefaultRate  = 0.9
	DefaultPitch = 1.0
	MinRate      = 0.5
	MaxRate      = 1.5

	// RateStep is how much one "slower" request lowers the rate.
	RateStep = 0.1
)

// ClampRate bounds a rate to [MinRate, MaxRate], rounded to two decimals.
func ClampRate(rate float64) float64 {
	if math.IsNaN(rate) {
		return DefaultRate
	}
	rate = math.Max(MinRate, math.Min(MaxRate, rate))
	return math.Round(rate*100) / 100
}

// Config holds speaker configuration.
type Config struct {
	// Lang is the utterance language tag.
	Lang string

	// VoicePrefix selects candidate voices by language.
	VoicePrefix string

	Rate        float64
	Pitch       float64
	EventBuffer int
	Logger      *slog.Logger
}

// Option configures a Speaker.
type Option func(*Config)

// WithLang sets the utterance language.
func WithLang(lang string) Option {
	return func(c *Config) {
		c.Lang = lang
	}
}

// WithVoicePrefix sets the language prefix used for voice selection.
func WithVoicePrefix(prefix string) Option {
	return func(c *Config) {
		c.VoicePrefix = prefix
	}
}

// WithRate sets the initial speaking rate.
func WithRate(rate float64) Option {
	return func(c *Config) {
		c.Rate = rate
	}
}

// WithEventBuffer sets the subscriber buffer size.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		c.EventBuffer = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default speaker settings.
func DefaultConfig() *Config {
	return &Config{
		Lang:        "en-US",
		VoicePrefix: "en-",
		Rate:        DefaultRate,
		Pitch:       DefaultPitch,
		EventBuffer: 32,
		Logger:      slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
