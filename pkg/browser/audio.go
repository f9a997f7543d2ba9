package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/speakfluent/pkg/protocol"
	"github.com/teslashibe/speakfluent/pkg/speaker"
	"github.com/teslashibe/speakfluent/pkg/tts"
)

// AudioSynthesizer synthesizes speech on the server with a TTS provider and
// ships the audio to the page for playback. The page reports playback
// start and end as synthesis events.
type AudioSynthesizer struct {
	link     *Link
	provider tts.Provider

	mu      sync.Mutex
	voices  []speaker.Voice
	pending string

	events chan speaker.EngineEvent
	logger *slog.Logger
}

// NewAudioSynthesizer creates an engine backed by provider.
func NewAudioSynthesizer(link *Link, provider tts.Provider, opts ...Option) *AudioSynthesizer {
	cfg := newConfig(opts)
	return &AudioSynthesizer{
		link:     link,
		provider: provider,
		events:   make(chan speaker.EngineEvent, cfg.EventBuffer),
		logger:   cfg.Logger.With("component", "browser.audio"),
	}
}

// Available reports whether a page is attached to play audio.
func (a *AudioSynthesizer) Available() bool {
	return a.provider != nil && a.link.Connected()
}

// Voices lists the provider's voices. The first successful listing is
// cached.
func (a *AudioSynthesizer) Voices(ctx context.Context) ([]speaker.Voice, error) {
	a.mu.Lock()
	cached := a.voices
	a.mu.Unlock()
	if cached != nil {
		return append([]speaker.Voice(nil), cached...), nil
	}

	list, err := a.provider.Voices(ctx)
	if err != nil {
		return nil, err
	}
	voices := make([]speaker.Voice, len(list))
	for i, v := range list {
		voices[i] = speaker.Voice{ID: v.ID, Name: v.Name, Lang: v.Lang, Gender: v.Gender}
	}

	a.mu.Lock()
	a.voices = voices
	a.mu.Unlock()
	return append([]speaker.Voice(nil), voices...), nil
}

// Speak synthesizes the utterance and sends the audio to the page. An
// utterance cancelled while synthesizing is dropped.
func (a *AudioSynthesizer) Speak(ctx context.Context, u speaker.Utterance) error {
	a.mu.Lock()
	a.pending = u.ID
	a.mu.Unlock()

	req := &tts.Request{Text: u.Text, Speed: u.Rate}
	if u.Voice != nil {
		req.Voice = u.Voice.ID
	}

	result, err := a.provider.Synthesize(ctx, req)
	if err != nil {
		a.clearPending(u.ID)
		return fmt.Errorf("synthesize: %w", err)
	}

	a.mu.Lock()
	cancelled := a.pending != u.ID
	a.mu.Unlock()
	if cancelled {
		a.logger.Debug("utterance cancelled during synthesis", "id", u.ID)
		return nil
	}
	a.clearPending(u.ID)

	a.logger.Debug("synthesized",
		"id", u.ID,
		"provider", a.provider.Name(),
		"bytes", len(result.Audio),
		"latency_ms", result.LatencyMs,
	)

	msg, err := protocol.NewAudioMessage(u.ID, result.Format.Encoding.MIME(), result.Audio, u.Text)
	if err != nil {
		return err
	}
	return a.link.Send(msg)
}

// Cancel drops a pending synthesis and stops playback on the page.
func (a *AudioSynthesizer) Cancel(id string) error {
	a.clearPending(id)
	return cancelOnPage(a.link, id)
}

// Events returns the playback lifecycle stream.
func (a *AudioSynthesizer) Events() <-chan speaker.EngineEvent {
	return a.events
}

// Deliver feeds a page playback event into the stream.
func (a *AudioSynthesizer) Deliver(d protocol.SynthesisData) {
	deliverSynthesis(a.events, d, a.logger)
}

func (a *AudioSynthesizer) clearPending(id string) {
	a.mu.Lock()
	if a.pending == id {
		a.pending = ""
	}
	a.mu.Unlock()
}

// Verify AudioSynthesizer implements speaker.Engine at compile time.
var _ speaker.Engine = (*AudioSynthesizer)(nil)
