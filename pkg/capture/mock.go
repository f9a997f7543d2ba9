package capture

import (
	"context"
	"sync"
	"time"
)

// MockSource implements Source for testing.
// Events are injected with Emit and the helper methods.
type MockSource struct {
	// StartFunc is called when Start is invoked.
	// If nil, Start succeeds.
	StartFunc func(ctx context.Context) error

	// StopFunc is called when Stop is invoked.
	// If nil, Stop succeeds.
	StopFunc func() error

	events chan SourceEvent

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMockSource creates a mock source with a buffered event stream.
func NewMockSource() *MockSource {
	return &MockSource{events: make(chan SourceEvent, 64)}
}

// Start calls StartFunc and records the call.
func (m *MockSource) Start(ctx context.Context) error {
	m.recordCall("Start")
	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	return nil
}

// Stop calls StopFunc and records the call.
func (m *MockSource) Stop() error {
	m.recordCall("Stop")
	if m.StopFunc != nil {
		return m.StopFunc()
	}
	return nil
}

// Events returns the injected event stream.
func (m *MockSource) Events() <-chan SourceEvent {
	return m.events
}

// Emit injects a source event.
func (m *MockSource) Emit(ev SourceEvent) {
	m.events <- ev
}

// Interim injects a non-final result.
func (m *MockSource) Interim(transcript string) {
	m.Emit(SourceEvent{Kind: SourceResult, Transcript: transcript})
}

// Final injects a final result.
func (m *MockSource) Final(transcript string) {
	m.Emit(SourceEvent{Kind: SourceResult, Transcript: transcript, Final: true})
}

// Fail injects a fault.
func (m *MockSource) Fail(code Code) {
	m.Emit(SourceEvent{Kind: SourceError, Code: code})
}

func (m *MockSource) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *MockSource) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *MockSource) CallCount(method string) int {
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

// Reset clears all recorded calls.
func (m *MockSource) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Source = (*MockSource)(nil)
