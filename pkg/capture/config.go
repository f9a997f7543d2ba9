package capture

import (
	"log/slog"
	"time"
)

// Timer is a cancelable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

// Config holds adapter configuration.
type Config struct {
	// MaxRetries is how many backoff restarts are attempted before giving up.
	MaxRetries int

	// RetryDelay is the first backoff delay.
	RetryDelay time.Duration

	// Backoff multiplies the delay after each attempt.
	Backoff float64

	// EventBuffer is the per-subscriber channel capacity.
	EventBuffer int

	AfterFunc AfterFunc
	Logger    *slog.Logger
}

// Option configures an Adapter.
type Option func(*Config)

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithBackoff sets the first delay and the multiplier.
func WithBackoff(initial time.Duration, factor float64) Option {
	return func(c *Config) {
		c.RetryDelay = initial
		c.Backoff = factor
	}
}

// WithEventBuffer sets the subscriber buffer size.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		c.EventBuffer = n
	}
}

// WithAfterFunc replaces the backoff scheduler.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Config) {
		c.AfterFunc = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default retry policy: three attempts starting at
// 1.5s and growing by 1.5x.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:  3,
		RetryDelay:  1500 * time.Millisecond,
		Backoff:     1.5,
		EventBuffer: 32,
		AfterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		Logger: slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Delay returns the backoff before the restart that follows retries
// completed attempts.
func (c *Config) Delay(retries int) time.Duration {
	d := float64(c.RetryDelay)
	for i := 0; i < retries; i++ {
		d *= c.Backoff
	}
	return time.Duration(d)
}
