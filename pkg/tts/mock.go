package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns a small fake MP3 payload.
	SynthesizeFunc func(ctx context.Context, req *Request) (*AudioResult, error)

	// VoicesFunc is called when Voices is invoked.
	// If nil, returns one female and one male English voice.
	VoicesFunc func(ctx context.Context) ([]Voice, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Voice  string
	Speed  float64
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, req *Request) (*AudioResult, error) {
			audio := append([]byte("ID3"), []byte(req.Text)...)
			return &AudioResult{
				Audio: audio,
				Format: AudioFormat{
					Encoding:   EncodingMP3,
					SampleRate: 44100,
					Channels:   1,
				},
				CharCount: len(req.Text),
				LatencyMs: 5,
				Duration:  time.Duration(len(req.Text)) * 60 * time.Millisecond,
			}, nil
		},
		VoicesFunc: func(ctx context.Context) ([]Voice, error) {
			return []Voice{
				{ID: "mock-male", Name: "Mock Male", Lang: "en-US", Gender: "male"},
				{ID: "mock-female", Name: "Mock Female", Lang: "en-US", Gender: "female"},
			}, nil
		},
	}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	call := MockCall{Method: "Synthesize"}
	if req != nil {
		call.Text, call.Voice, call.Speed = req.Text, req.Voice, req.Speed
	}
	m.record(call)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Voices calls VoicesFunc and records the call.
func (m *Mock) Voices(ctx context.Context) ([]Voice, error) {
	m.record(MockCall{Method: "Voices"})
	if m.VoicesFunc != nil {
		return m.VoicesFunc(ctx)
	}
	return nil, nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record(MockCall{Method: "Health"})
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close records the call.
func (m *Mock) Close() error {
	m.record(MockCall{Method: "Close"})
	return nil
}

func (m *Mock) record(call MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call.Time = time.Now()
	m.calls = append(m.calls, call)
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
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

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, req *Request) (*AudioResult, error) {
			return nil, err
		},
		VoicesFunc: func(ctx context.Context) ([]Voice, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
