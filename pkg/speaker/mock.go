package speaker

import (
	"context"
	"sync"
	"time"
)

// MockEngine implements Engine for testing.
type MockEngine struct {
	// AvailableFunc reports availability. If nil, the engine is available.
	AvailableFunc func() bool

	// VoiceList is returned by Voices.
	VoiceList []Voice

	// SpeakFunc is called when Speak is invoked. If nil, Speak succeeds.
	SpeakFunc func(ctx context.Context, u Utterance) error

	// AutoComplete emits start and end for every utterance as soon as it
	// is spoken.
	AutoComplete bool

	events chan EngineEvent

	mu         sync.Mutex
	calls      []MockCall
	utterances []Utterance
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	ID     string
	Text   string
	Time   time.Time
}

// NewMockEngine creates an available mock engine with no voices.
func NewMockEngine() *MockEngine {
	return &MockEngine{events: make(chan EngineEvent, 64)}
}

// Available calls AvailableFunc.
func (m *MockEngine) Available() bool {
	if m.AvailableFunc != nil {
		return m.AvailableFunc()
	}
	return true
}

// Voices returns VoiceList.
func (m *MockEngine) Voices(ctx context.Context) ([]Voice, error) {
	m.recordCall("Voices", "", "")
	return append([]Voice(nil), m.VoiceList...), nil
}

// Speak records the utterance and calls SpeakFunc.
func (m *MockEngine) Speak(ctx context.Context, u Utterance) error {
	m.recordCall("Speak", u.ID, u.Text)
	m.mu.Lock()
	m.utterances = append(m.utterances, u)
	m.mu.Unlock()

	if m.SpeakFunc != nil {
		if err := m.SpeakFunc(ctx, u); err != nil {
			return err
		}
	}
	if m.AutoComplete {
		m.Emit(EngineEvent{Kind: EngineStart, ID: u.ID})
		m.Emit(EngineEvent{Kind: EngineEnd, ID: u.ID})
	}
	return nil
}

// Cancel records the call.
func (m *MockEngine) Cancel(id string) error {
	m.recordCall("Cancel", id, "")
	return nil
}

// Events returns the injected event stream.
func (m *MockEngine) Events() <-chan EngineEvent {
	return m.events
}

// Emit injects an engine event.
func (m *MockEngine) Emit(ev EngineEvent) {
	m.events <- ev
}

// Utterances returns every utterance passed to Speak.
func (m *MockEngine) Utterances() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Utterance(nil), m.utterances...)
}

// LastUtterance returns the most recent utterance, or nil if none.
func (m *MockEngine) LastUtterance() *Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.utterances) == 0 {
		return nil
	}
	u := m.utterances[len(m.utterances)-1]
	return &u
}

func (m *MockEngine) recordCall(method, id, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, ID: id, Text: text, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *MockEngine) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *MockEngine) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears recorded calls and utterances.
func (m *MockEngine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.utterances = nil
}

var _ Engine = (*MockEngine)(nil)
