package browser

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/speakfluent/pkg/protocol"
	"github.com/teslashibe/speakfluent/pkg/speaker"
)

// Synthesizer drives the page's speechSynthesis through a Link.
type Synthesizer struct {
	link *Link

	mu        sync.RWMutex
	voices    []speaker.Voice
	supported bool

	events chan speaker.EngineEvent
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer relaying through link. It is assumed
// supported until the page reports otherwise.
func NewSynthesizer(link *Link, opts ...Option) *Synthesizer {
	cfg := newConfig(opts)
	return &Synthesizer{
		link:      link,
		supported: true,
		events:    make(chan speaker.EngineEvent, cfg.EventBuffer),
		logger:    cfg.Logger.With("component", "browser.synthesizer"),
	}
}

// SetVoices records the page's voice list and synthesis support.
func (s *Synthesizer) SetVoices(d protocol.VoicesData) {
	voices := make([]speaker.Voice, len(d.Voices))
	for i, v := range d.Voices {
		voices[i] = speaker.Voice{ID: v.ID, Name: v.Name, Lang: v.Lang, Gender: v.Gender, Default: v.Default}
	}

	s.mu.Lock()
	s.voices = voices
	s.supported = d.Supported
	s.mu.Unlock()

	s.logger.Debug("voices updated", "supported", d.Supported, "count", len(voices))
}

// Available reports whether a page is attached and can synthesize.
func (s *Synthesizer) Available() bool {
	s.mu.RLock()
	supported := s.supported
	s.mu.RUnlock()
	return supported && s.link.Connected()
}

// Voices returns the last voice list the page reported.
func (s *Synthesizer) Voices(ctx context.Context) ([]speaker.Voice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]speaker.Voice(nil), s.voices...), nil
}

// Speak sends the utterance to the page.
func (s *Synthesizer) Speak(ctx context.Context, u speaker.Utterance) error {
	d := protocol.SpeakData{
		ID:    u.ID,
		Text:  u.Text,
		Lang:  u.Lang,
		Rate:  u.Rate,
		Pitch: u.Pitch,
	}
	if u.Voice != nil {
		d.Voice = u.Voice.ID
	}
	msg, err := protocol.NewSpeakMessage(d)
	if err != nil {
		return err
	}
	return s.link.Send(msg)
}

// Cancel asks the page to cancel an utterance.
func (s *Synthesizer) Cancel(id string) error {
	return cancelOnPage(s.link, id)
}

// Events returns the utterance lifecycle stream.
func (s *Synthesizer) Events() <-chan speaker.EngineEvent {
	return s.events
}

// Deliver feeds a page synthesis event into the stream.
func (s *Synthesizer) Deliver(d protocol.SynthesisData) {
	deliverSynthesis(s.events, d, s.logger)
}

func cancelOnPage(link *Link, id string) error {
	msg, err := protocol.NewSpeakCancelMessage(id)
	if err != nil {
		return err
	}
	return link.Send(msg)
}

func deliverSynthesis(events chan<- speaker.EngineEvent, d protocol.SynthesisData, logger *slog.Logger) {
	var kind speaker.EngineEventKind
	switch d.Event {
	case protocol.SynthesisStart:
		kind = speaker.EngineStart
	case protocol.SynthesisEnd:
		kind = speaker.EngineEnd
	case protocol.SynthesisError:
		kind = speaker.EngineError
	default:
		logger.Debug("unknown synthesis event", "event", d.Event)
		return
	}

	select {
	case events <- speaker.EngineEvent{Kind: kind, ID: d.ID, Error: d.Error}:
	default:
		logger.Warn("synthesis buffer full, dropping event", "event", d.Event, "id", d.ID)
	}
}

// Verify Synthesizer implements speaker.Engine at compile time.
var _ speaker.Engine = (*Synthesizer)(nil)
