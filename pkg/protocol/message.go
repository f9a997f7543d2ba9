// Package protocol defines the websocket messages exchanged between the
// practice page and the server.
//
// Every message is an envelope {type, ts, data}. The page relays browser
// speech recognition and synthesis events; the server drives both engines
// with commands and pushes state snapshots.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of websocket message.
type MessageType string

const (
	// Page → server messages
	TypeRecognition MessageType = "recognition" // speech recognition event
	TypeSynthesis   MessageType = "synthesis"   // speech synthesis event
	TypeVoices      MessageType = "voices"      // available synthesis voices
	TypeCommand     MessageType = "command"     // learner control action
	TypeTranscript  MessageType = "transcript"  // typed input

	// Server → page messages
	TypeState       MessageType = "state"        // conversation snapshot
	TypeCapture     MessageType = "capture"      // capture adapter event
	TypeProgress    MessageType = "progress"     // learner snapshot
	TypeTurn        MessageType = "turn"         // completed turn
	TypeRecognize   MessageType = "recognize"    // start/stop recognition
	TypeSpeak       MessageType = "speak"        // speak via browser synthesis
	TypeSpeakCancel MessageType = "speak_cancel" // cancel an utterance
	TypeAudio       MessageType = "audio"        // server-synthesized audio
	TypeError       MessageType = "error"        // request failed
	TypeSession     MessageType = "session"      // session attached

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope for all websocket messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Page → Server Message Types
// =============================================================================

// Recognition event names.
const (
	RecognitionResult = "result"
	RecognitionError  = "error"
	RecognitionEnd    = "end"
)

// RecognitionData relays a browser SpeechRecognition event.
type RecognitionData struct {
	Event      string `json:"event"`
	Transcript string `json:"transcript,omitempty"`
	Final      bool   `json:"final,omitempty"`
	Error      string `json:"error,omitempty"` // SpeechRecognitionErrorEvent.error
}

// Synthesis event names.
const (
	SynthesisStart = "start"
	SynthesisEnd   = "end"
	SynthesisError = "error"
)

// SynthesisData relays an utterance lifecycle event.
type SynthesisData struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// VoiceData describes one speechSynthesis voice.
type VoiceData struct {
	ID      string `json:"id"` // voiceURI
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Gender  string `json:"gender,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// VoicesData lists the page's synthesis voices.
type VoicesData struct {
	Supported bool        `json:"supported"`
	Voices    []VoiceData `json:"voices"`
}

// Command actions.
const (
	ActionStartCapture = "start_capture"
	ActionStopCapture  = "stop_capture"
	ActionRepeat       = "repeat"
	ActionClear        = "clear"
	ActionStopSpeaking = "stop_speaking"
)

// CommandData is a learner control action.
type CommandData struct {
	Action string `json:"action"`
}

// TranscriptData is typed learner input.
type TranscriptData struct {
	Text string `json:"text"`
}

// =============================================================================
// Server → Page Message Types
// =============================================================================

// Recognize actions.
const (
	RecognizeStart = "start"
	RecognizeStop  = "stop"
)

// RecognizeData tells the page to start or stop recognition.
type RecognizeData struct {
	Action     string `json:"action"`
	Lang       string `json:"lang,omitempty"`
	Interim    bool   `json:"interim"`
	Continuous bool   `json:"continuous"`
}

// SpeakData asks the page to speak with browser synthesis.
type SpeakData struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"` // voiceURI, empty for default
	Lang  string  `json:"lang"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}

// SpeakCancelData cancels an utterance.
type SpeakCancelData struct {
	ID string `json:"id"`
}

// AudioData carries server-synthesized speech for playback.
type AudioData struct {
	ID       string `json:"id"`
	Encoding string `json:"encoding"` // MIME type, e.g. "audio/mpeg"
	Data     string `json:"data"`     // base64 encoded
	Text     string `json:"text,omitempty"`
}

// SessionData announces the session a socket is attached to.
type SessionData struct {
	ID     string `json:"id"`
	Engine string `json:"engine"`
}

// ErrorData reports a failed request.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information.
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains the pong response.
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
