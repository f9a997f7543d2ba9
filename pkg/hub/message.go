// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
//
// Observers connect to /ws/events and receive every session change as a
// JSON Event.
package hub

import (
	"encoding/json"
	"time"
)

// Event is the broadcast envelope for a session change.
type Event struct {
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	Data    any       `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// Message is a pre-encoded frame queued for clients.
type Message struct {
	Data []byte
}

// NewJSONMessage creates a message from pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// EncodeEvent encodes an event for broadcast.
func EncodeEvent(ev Event) (Message, error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
