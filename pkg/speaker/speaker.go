// Package speaker plays tutor replies through an opaque speech engine.
//
// At most one utterance is active. Speaking while another utterance is
// active cancels it first and fires its end callback.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/speakfluent/internal/event"
)

// Errors returned by the speaker.
var (
	// ErrUnavailable is returned when the engine cannot speak.
	ErrUnavailable = errors.New("speaker: speech output unavailable")

	// ErrEmptyText is returned for blank utterances.
	ErrEmptyText = errors.New("speaker: empty text")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("speaker: closed")
)

// Voice describes an engine voice.
type Voice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Gender  string `json:"gender,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// Female reports whether the voice is labeled female by gender or name.
func (v Voice) Female() bool {
	return strings.EqualFold(v.Gender, "female") || strings.Contains(strings.ToLower(v.Name), "female")
}

// Utterance is one request to the engine.
type Utterance struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Voice *Voice  `json:"voice,omitempty"`
	Lang  string  `json:"lang"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}

// EngineEventKind names an engine lifecycle event.
type EngineEventKind string

const (
	EngineStart EngineEventKind = "start"
	EngineEnd   EngineEventKind = "end"
	EngineError EngineEventKind = "error"
)

// EngineEvent reports progress of an utterance.
type EngineEvent struct {
	Kind  EngineEventKind
	ID    string
	Error string
}

// Engine is an opaque speech synthesizer.
type Engine interface {
	// Available reports whether the engine can speak at all.
	Available() bool

	// Voices lists the voices the engine offers.
	Voices(ctx context.Context) ([]Voice, error)

	// Speak queues an utterance. Progress arrives on Events.
	Speak(ctx context.Context, u Utterance) error

	// Cancel stops an utterance. Unknown ids are ignored.
	Cancel(id string) error

	// Events returns the engine's lifecycle stream.
	Events() <-chan EngineEvent
}

// SelectVoice picks a female voice among voices whose language starts with
// prefix, else the first such voice. It returns nil to use the engine
// default.
func SelectVoice(voices []Voice, prefix string) *Voice {
	var first *Voice
	for i := range voices {
		v := &voices[i]
		if !strings.Contains(strings.ToLower(v.Lang), strings.ToLower(prefix)) {
			continue
		}
		if v.Female() {
			return v
		}
		if first == nil {
			first = v
		}
	}
	return first
}

// State is the speaker's output state.
type State string

const (
	StateIdle     State = "idle"
	StateSpeaking State = "speaking"
)

// Event is published on each state change.
type Event struct {
	State State     `json:"state"`
	ID    string    `json:"id,omitempty"`
	Text  string    `json:"text,omitempty"`
	Time  time.Time `json:"time"`
}

type active struct {
	id      string
	text    string
	onStart func()
	onEnd   func()
	started bool
}

// Speaker owns the single active utterance.
type Speaker struct {
	cfg    *Config
	engine Engine
	logger *slog.Logger
	feed   *event.Feed[Event]

	mu      sync.Mutex
	current *active
	rate    float64
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a speaker over engine.
func New(engine Engine, opts ...Option) *Speaker {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With("component", "speaker")
	s := &Speaker{
		cfg:    cfg,
		engine: engine,
		logger: logger,
		feed:   event.NewFeed[Event]("speaker", cfg.EventBuffer, logger),
		rate:   ClampRate(cfg.Rate),
		done:   make(chan struct{}),
	}
	if engine != nil {
		go s.pump()
	}
	return s
}

// Available reports whether speech output is possible.
func (s *Speaker) Available() bool {
	return s.engine != nil && s.engine.Available()
}

// Speak starts an utterance and returns its id. onStart fires when audio
// begins; onEnd fires once when the utterance finishes, fails or is
// cancelled. Either callback may be nil.
func (s *Speaker) Speak(ctx context.Context, text string, onStart, onEnd func()) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if !s.Available() {
		return "", ErrUnavailable
	}

	voices, err := s.engine.Voices(ctx)
	if err != nil {
		s.logger.Debug("voice listing failed, using engine default", "error", err)
	}
	voice := SelectVoice(voices, s.cfg.VoicePrefix)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}

	var ended []func()
	if prev := s.current; prev != nil {
		if err := s.engine.Cancel(prev.id); err != nil {
			s.logger.Debug("cancel previous utterance failed", "id", prev.id, "error", err)
		}
		ended = append(ended, prev.onEnd)
	}

	u := Utterance{
		ID:    uuid.NewString(),
		Text:  text,
		Voice: voice,
		Lang:  s.cfg.Lang,
		Rate:  s.rate,
		Pitch: s.cfg.Pitch,
	}
	s.current = &active{id: u.ID, text: text, onStart: onStart, onEnd: onEnd}
	s.publishLocked(StateSpeaking, u.ID, text)
	s.mu.Unlock()

	runAll(ended)

	s.logger.Debug("speaking",
		"id", u.ID,
		"chars", len(text),
		"rate", u.Rate,
		"voice", voiceName(voice),
	)

	if err := s.engine.Speak(ctx, u); err != nil {
		s.finish(u.ID, "speak failed")
		return u.ID, fmt.Errorf("speaker: %w", err)
	}
	return u.ID, nil
}

// Stop cancels the active utterance. It is idempotent.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cur := s.current
	if cur == nil {
		s.mu.Unlock()
		return
	}
	if err := s.engine.Cancel(cur.id); err != nil {
		s.logger.Debug("cancel failed", "id", cur.id, "error", err)
	}
	s.current = nil
	s.publishLocked(StateIdle, cur.id, "")
	s.mu.Unlock()

	runAll([]func(){cur.onEnd})
}

// State returns the current output state.
func (s *Speaker) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return StateSpeaking
	}
	return StateIdle
}

// Rate returns the speaking rate used for new utterances.
func (s *Speaker) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// SetRate sets the speaking rate, clamped to [MinRate, MaxRate], and returns
// the stored value.
func (s *Speaker) SetRate(rate float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = ClampRate(rate)
	return s.rate
}

// Subscribe returns a channel of state changes and its cancel func.
func (s *Speaker) Subscribe() (<-chan Event, func()) {
	return s.feed.Subscribe()
}

// Close stops speech and releases subscribers.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		if s.engine != nil {
			s.Stop()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.feed.Close()
	})
	return nil
}

func (s *Speaker) pump() {
	events := s.engine.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Speaker) handle(ev EngineEvent) {
	switch ev.Kind {
	case EngineStart:
		s.mu.Lock()
		cur := s.current
		if cur == nil || cur.id != ev.ID || cur.started {
			s.mu.Unlock()
			return
		}
		cur.started = true
		s.mu.Unlock()
		runAll([]func(){cur.onStart})

	case EngineEnd, EngineError:
		if ev.Kind == EngineError {
			s.logger.Warn("utterance failed", "id", ev.ID, "error", ev.Error)
		}
		s.finish(ev.ID, string(ev.Kind))
	}
}

func (s *Speaker) finish(id, reason string) {
	s.mu.Lock()
	cur := s.current
	if cur == nil || cur.id != id {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.publishLocked(StateIdle, id, "")
	s.mu.Unlock()

	s.logger.Debug("utterance finished", "id", id, "reason", reason)
	runAll([]func(){cur.onEnd})
}

func (s *Speaker) publishLocked(state State, id, text string) {
	s.feed.Publish(Event{State: state, ID: id, Text: text, Time: time.Now()})
}

func runAll(fns []func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

func voiceName(v *Voice) string {
	if v == nil {
		return "default"
	}
	return v.Name
}
