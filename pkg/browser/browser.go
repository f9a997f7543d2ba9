// Package browser adapts the practice page's Web Speech APIs to the capture
// and speaker engines.
//
// The page owns the microphone and loudspeaker. It relays recognition and
// synthesis events over the session socket, and the server answers with
// recognize/speak commands. A Link carries those commands to whichever
// socket is currently attached.
package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/speakfluent/pkg/protocol"
)

// ErrNotConnected is returned when no page socket is attached.
var ErrNotConnected = errors.New("browser: page not connected")

// Sender delivers a message to a connected page.
type Sender interface {
	Send(msg *protocol.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg *protocol.Message) error

// Send calls f(msg).
func (f SenderFunc) Send(msg *protocol.Message) error { return f(msg) }

// Link is a swappable route to the page. Sockets attach and detach as the
// page reconnects; engines hold the Link, not the socket.
type Link struct {
	mu     sync.RWMutex
	sender Sender
	gen    uint64
}

// NewLink creates a detached link.
func NewLink() *Link {
	return &Link{}
}

// Attach routes messages to s, replacing any previous sender. The returned
// func detaches s unless another sender attached since.
func (l *Link) Attach(s Sender) (detach func()) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.sender = s
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.gen == gen {
			l.sender = nil
		}
	}
}

// Connected reports whether a sender is attached.
func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sender != nil
}

// Send delivers msg to the attached sender.
func (l *Link) Send(msg *protocol.Message) error {
	l.mu.RLock()
	s := l.sender
	l.mu.RUnlock()

	if s == nil {
		return ErrNotConnected
	}
	return s.Send(msg)
}

// SendData wraps data in an envelope and sends it.
func (l *Link) SendData(msgType protocol.MessageType, data any) error {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	return l.Send(msg)
}

// Config holds relay configuration.
type Config struct {
	// Lang is the recognition language.
	Lang string

	// EventBuffer is the engine event channel capacity.
	EventBuffer int

	Logger *slog.Logger
}

// Option configures a relay.
type Option func(*Config)

// WithLang sets the recognition language.
func WithLang(lang string) Option {
	return func(c *Config) { c.Lang = lang }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) { c.EventBuffer = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() *Config {
	return &Config{
		Lang:        "en-US",
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

func newConfig(opts []Option) *Config {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
