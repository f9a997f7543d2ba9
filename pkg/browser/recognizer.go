package browser

import (
	"context"
	"errors"
	"log/slog"

	"github.com/teslashibe/speakfluent/pkg/capture"
	"github.com/teslashibe/speakfluent/pkg/protocol"
)

// Recognizer drives the page's SpeechRecognition through a Link.
type Recognizer struct {
	link   *Link
	lang   string
	events chan capture.SourceEvent
	logger *slog.Logger
}

// NewRecognizer creates a recognizer relaying through link.
func NewRecognizer(link *Link, opts ...Option) *Recognizer {
	cfg := newConfig(opts)
	return &Recognizer{
		link:   link,
		lang:   cfg.Lang,
		events: make(chan capture.SourceEvent, cfg.EventBuffer),
		logger: cfg.Logger.With("component", "browser.recognizer"),
	}
}

// Start asks the page to begin a single recognition session.
func (r *Recognizer) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := protocol.NewRecognizeMessage(protocol.RecognizeStart, r.lang)
	if err != nil {
		return err
	}
	return r.link.Send(msg)
}

// Stop asks the page to end recognition. A detached page has nothing to
// stop, so that is not an error.
func (r *Recognizer) Stop() error {
	msg, err := protocol.NewRecognizeMessage(protocol.RecognizeStop, r.lang)
	if err != nil {
		return err
	}
	if err := r.link.Send(msg); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Events returns the recognition event stream.
func (r *Recognizer) Events() <-chan capture.SourceEvent {
	return r.events
}

// Deliver feeds a page recognition event into the stream.
func (r *Recognizer) Deliver(d protocol.RecognitionData) {
	var ev capture.SourceEvent
	switch d.Event {
	case protocol.RecognitionResult:
		ev = capture.SourceEvent{Kind: capture.SourceResult, Transcript: d.Transcript, Final: d.Final}
	case protocol.RecognitionError:
		ev = capture.SourceEvent{Kind: capture.SourceError, Code: ErrorCode(d.Error)}
	case protocol.RecognitionEnd:
		ev = capture.SourceEvent{Kind: capture.SourceEnd}
	default:
		r.logger.Debug("unknown recognition event", "event", d.Event)
		return
	}

	select {
	case r.events <- ev:
	default:
		r.logger.Warn("recognition buffer full, dropping event", "event", d.Event)
	}
}

// ErrorCode maps a SpeechRecognitionErrorEvent.error name to a capture code.
func ErrorCode(name string) capture.Code {
	switch name {
	case "network":
		return capture.CodeNetwork
	case "service-not-allowed", "service-not-available":
		return capture.CodeServiceUnavailable
	case "not-allowed", "permission-denied":
		return capture.CodePermissionDenied
	case "no-speech":
		return capture.CodeNoSpeech
	case "audio-capture":
		return capture.CodeDeviceBusy
	case "aborted":
		return capture.CodeInterrupted
	default:
		return capture.CodeOther
	}
}

// Verify Recognizer implements capture.Source at compile time.
var _ capture.Source = (*Recognizer)(nil)
