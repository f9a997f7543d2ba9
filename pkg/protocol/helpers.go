package protocol

import (
	"encoding/base64"
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewRecognizeMessage creates a recognition start/stop command.
// Recognition is single-shot with interim results.
func NewRecognizeMessage(action, lang string) (*Message, error) {
	return NewMessage(TypeRecognize, RecognizeData{
		Action:     action,
		Lang:       lang,
		Interim:    true,
		Continuous: false,
	})
}

// NewSpeakMessage creates a browser synthesis command.
func NewSpeakMessage(d SpeakData) (*Message, error) {
	return NewMessage(TypeSpeak, d)
}

// NewSpeakCancelMessage creates an utterance cancel command.
func NewSpeakCancelMessage(id string) (*Message, error) {
	return NewMessage(TypeSpeakCancel, SpeakCancelData{ID: id})
}

// NewAudioMessage creates an audio playback message from raw audio bytes.
func NewAudioMessage(id, mime string, audio []byte, text string) (*Message, error) {
	return NewMessage(TypeAudio, AudioData{
		ID:       id,
		Encoding: mime,
		Data:     base64.StdEncoding.EncodeToString(audio),
		Text:     text,
	})
}

// NewErrorMessage creates an error message.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Code: code, Message: message})
}

// NewSessionMessage announces the attached session.
func NewSessionMessage(id, engine string) (*Message, error) {
	return NewMessage(TypeSession, SessionData{ID: id, Engine: engine})
}

// NewPingMessage creates a ping message.
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response to a ping.
func NewPongMessage(ping *PingData) (*Message, error) {
	now := time.Now().UnixMilli()
	return NewMessage(TypePong, PongData{
		ID:        ping.ID,
		PingTS:    ping.Timestamp,
		PongTS:    now,
		LatencyMs: now - ping.Timestamp,
	})
}

// DecodeAudio decodes an audio message payload.
func DecodeAudio(d *AudioData) ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Data)
}
