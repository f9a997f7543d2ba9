package tutor

import (
	"sync"
	"time"
)

// historySize bounds how many turns Average looks at.
const historySize = 100

// TurnMetrics holds the timings of one turn. Durations are measured from the
// moment the transcript arrived.
type TurnMetrics struct {
	Kind Kind `json:"kind"`

	Start time.Time `json:"start"`

	FeedbackLatency time.Duration `json:"feedbackLatency"` // scoring call
	ReplyLatency    time.Duration `json:"replyLatency"`    // reply or command call
	TotalLatency    time.Duration `json:"totalLatency"`

	FeedbackFallback bool `json:"feedbackFallback"`
	ReplyFallback    bool `json:"replyFallback"`
}

// Metrics summarizes an orchestrator's turns.
type Metrics struct {
	Turns             int64 `json:"turns"`
	PracticeTurns     int64 `json:"practiceTurns"`
	CommandTurns      int64 `json:"commandTurns"`
	FeedbackFallbacks int64 `json:"feedbackFallbacks"`
	ReplyFallbacks    int64 `json:"replyFallbacks"`
	Resets            int64 `json:"resets"`

	Last    TurnMetrics `json:"last"`
	Average TurnMetrics `json:"average"`
}

// collector accumulates turn metrics. It is goroutine-safe.
type collector struct {
	mu      sync.Mutex
	totals  Metrics
	current TurnMetrics
	history []TurnMetrics
}

func newCollector() *collector {
	return &collector{history: make([]TurnMetrics, 0, historySize)}
}

func (m *collector) begin(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = TurnMetrics{Kind: kind, Start: time.Now()}
}

func (m *collector) markFeedback(fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.FeedbackLatency = time.Since(m.current.Start)
	m.current.FeedbackFallback = fallback
}

func (m *collector) markReply(fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ReplyLatency = time.Since(m.current.Start) - m.current.FeedbackLatency
	m.current.ReplyFallback = fallback
}

// done archives the current turn and returns its timings.
func (m *collector) done(reset bool) TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TotalLatency = time.Since(m.current.Start)

	m.totals.Turns++
	switch m.current.Kind {
	case KindPractice:
		m.totals.PracticeTurns++
	case KindCommand:
		m.totals.CommandTurns++
	}
	if m.current.FeedbackFallback {
		m.totals.FeedbackFallbacks++
	}
	if m.current.ReplyFallback {
		m.totals.ReplyFallbacks++
	}
	if reset {
		m.totals.Resets++
	}

	m.history = append(m.history, m.current)
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
	return m.current
}

func (m *collector) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.totals
	if n := len(m.history); n > 0 {
		out.Last = m.history[n-1]

		var avg TurnMetrics
		for _, h := range m.history {
			avg.FeedbackLatency += h.FeedbackLatency
			avg.ReplyLatency += h.ReplyLatency
			avg.TotalLatency += h.TotalLatency
		}
		d := time.Duration(n)
		avg.FeedbackLatency /= d
		avg.ReplyLatency /= d
		avg.TotalLatency /= d
		out.Average = avg
	}
	return out
}

// FormatLatency returns a one-line summary of a turn's timings.
func (t TurnMetrics) FormatLatency() string {
	return formatDuration(t.FeedbackLatency) + " feedback | " +
		formatDuration(t.ReplyLatency) + " reply | " +
		formatDuration(t.TotalLatency) + " total"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
