// Package capture wraps an opaque speech-recognition source with a small
// state machine that retries transient faults with exponential backoff.
//
// The adapter moves between three states:
//
//	idle -> capturing -> idle         (final transcript, terminal fault, Stop)
//	capturing -> retrying -> capturing (retryable fault, backoff restart)
//
// Every transition is published as a typed Event on subscriber channels.
package capture

import (
	"context"
	"errors"
	"time"
)

// Code classifies a recognition fault.
type Code string

const (
	CodeNetwork            Code = "network"
	CodeServiceUnavailable Code = "service_unavailable"
	CodePermissionDenied   Code = "permission_denied"
	CodeNoSpeech           Code = "no_speech"
	CodeDeviceBusy         Code = "device_busy"
	CodeInterrupted        Code = "interrupted"
	CodeOther              Code = "other"

	// CodeUnavailable is reported once retries are exhausted.
	CodeUnavailable Code = "unavailable"

	// CodeStartFailed is reported when the source refuses to start.
	CodeStartFailed Code = "start_failed"
)

// Terminal reports whether the fault stops capture without a retry.
func (c Code) Terminal() bool {
	switch c {
	case CodePermissionDenied, CodeNoSpeech, CodeDeviceBusy, CodeUnavailable, CodeStartFailed:
		return true
	}
	return false
}

// Retryable reports whether the fault schedules a backoff restart.
func (c Code) Retryable() bool {
	return !c.Terminal()
}

// Message returns the user-facing description of a fault.
func (c Code) Message() string {
	switch c {
	case CodeNetwork:
		return "Network connectivity issue detected"
	case CodeServiceUnavailable:
		return "Speech service temporarily unavailable"
	case CodePermissionDenied:
		return "Microphone access denied. Please check your browser settings"
	case CodeNoSpeech:
		return "No speech detected. Please try speaking again"
	case CodeDeviceBusy:
		return "No microphone detected or microphone is busy"
	case CodeInterrupted:
		return "Speech recognition was interrupted"
	case CodeUnavailable:
		return UnavailableMessage
	case CodeStartFailed:
		return "Failed to start speech recognition. Please refresh the page and try again."
	}
	return "Speech recognition encountered an issue"
}

// UnavailableMessage is reported after the last retry fails.
const UnavailableMessage = "Speech recognition service unavailable. Please try again in a few moments."

// Errors returned by the adapter.
var (
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("capture: adapter closed")

	// ErrNoSource is returned when the adapter has no recognition source.
	ErrNoSource = errors.New("capture: no recognition source")
)

// SourceEventKind distinguishes recognition source events.
type SourceEventKind string

const (
	SourceResult SourceEventKind = "result"
	SourceError  SourceEventKind = "error"
	SourceEnd    SourceEventKind = "end"
)

// SourceEvent is emitted by a recognition engine.
type SourceEvent struct {
	Kind SourceEventKind

	// Transcript is cumulative for the current capture.
	Transcript string
	Final      bool

	Code Code
}

// Source is an opaque speech-recognition engine.
type Source interface {
	// Start begins a single recognition session.
	Start(ctx context.Context) error

	// Stop ends the current session. It must be safe to call at any time.
	Stop() error

	// Events returns the engine's event stream. The channel lives as long
	// as the source.
	Events() <-chan SourceEvent
}

// State is the adapter's capture state.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateRetrying  State = "retrying"
)

// EventKind names an adapter transition.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventInterim  EventKind = "interim"
	EventFinal    EventKind = "final"
	EventRetrying EventKind = "retrying"
	EventFailed   EventKind = "failed"
	EventStopped  EventKind = "stopped"
)

// Event is published on every adapter transition. State is the state after
// the transition.
type Event struct {
	Kind  EventKind `json:"kind"`
	State State     `json:"state"`

	Transcript string `json:"transcript,omitempty"`

	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"maxAttempts,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`

	Time time.Time `json:"time"`
}

// Transient reports whether the event is a retry in progress rather than a
// terminal outcome.
func (e Event) Transient() bool {
	return e.Kind == EventRetrying
}
