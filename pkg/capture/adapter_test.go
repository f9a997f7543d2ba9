package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeScheduler records scheduled restarts so tests fire them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) after(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// fire runs the latest timer even if it was stopped, like a timer that
// already fired before Stop took the lock.
func (s *fakeScheduler) fire() {
	if t := s.last(); t != nil {
		t.fn()
	}
}

func newTestAdapter(t *testing.T) (*Adapter, *MockSource, *fakeScheduler, <-chan Event) {
	t.Helper()
	src := NewMockSource()
	sched := &fakeScheduler{}
	a := New(src, WithAfterFunc(sched.after))
	events, cancel := a.Subscribe()
	t.Cleanup(func() {
		cancel()
		a.Close()
	})
	return a, src, sched, events
}

func next(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for capture event")
	}
	return Event{}
}

func expect(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	ev := next(t, events)
	if ev.Kind != kind {
		t.Fatalf("event kind = %s (%+v), want %s", ev.Kind, ev, kind)
	}
	return ev
}

func TestFinalTranscript(t *testing.T) {
	a, src, _, events := newTestAdapter(t)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ev := expect(t, events, EventStarted)
	if ev.State != StateCapturing {
		t.Errorf("state after start = %s", ev.State)
	}

	src.Interim("hello")
	if ev := expect(t, events, EventInterim); ev.Transcript != "hello" {
		t.Errorf("interim = %q", ev.Transcript)
	}

	src.Final("  hello there  ")
	ev = expect(t, events, EventFinal)
	if ev.Transcript != "hello there" {
		t.Errorf("final = %q, want trimmed", ev.Transcript)
	}
	if ev.State != StateIdle || a.State() != StateIdle {
		t.Errorf("state after final = %s", a.State())
	}
	if src.CallCount("Stop") != 1 {
		t.Errorf("source Stop calls = %d, want 1", src.CallCount("Stop"))
	}
}

func TestRetryBackoffSequence(t *testing.T) {
	a, src, sched, events := newTestAdapter(t)

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	expect(t, events, EventStarted)

	wantDelays := []time.Duration{
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
	}
	wantMessages := []string{
		"Reconnecting to speech service (attempt 1/3)...",
		"Reconnecting to speech service (attempt 2/3)...",
		"Reconnecting to speech service (attempt 3/3)...",
	}

	for i := range wantDelays {
		src.Fail(CodeNetwork)
		ev := expect(t, events, EventRetrying)
		if ev.Attempt != i+1 || ev.MaxAttempts != 3 {
			t.Errorf("attempt %d: got %d/%d", i+1, ev.Attempt, ev.MaxAttempts)
		}
		if ev.Delay != wantDelays[i] || sched.last().delay != wantDelays[i] {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, ev.Delay, wantDelays[i])
		}
		if ev.Message != wantMessages[i] {
			t.Errorf("attempt %d: message = %q", i+1, ev.Message)
		}
		if !ev.Transient() || ev.State != StateRetrying {
			t.Errorf("attempt %d: retry event should be transient in retrying state", i+1)
		}

		sched.fire()
		expect(t, events, EventStarted)
	}

	src.Fail(CodeServiceUnavailable)
	ev := expect(t, events, EventFailed)
	if ev.Code != CodeUnavailable || ev.Message != UnavailableMessage {
		t.Errorf("exhausted event = %+v", ev)
	}
	if ev.Transient() {
		t.Error("exhausted event should not be transient")
	}
	if a.Retries() != 0 || a.State() != StateIdle {
		t.Errorf("after exhaustion retries=%d state=%s", a.Retries(), a.State())
	}
	if got := src.CallCount("Start"); got != 4 {
		t.Errorf("source Start calls = %d, want 4", got)
	}
}

func TestTerminalCodesDoNotRetry(t *testing.T) {
	for _, code := range []Code{CodePermissionDenied, CodeNoSpeech, CodeDeviceBusy} {
		t.Run(string(code), func(t *testing.T) {
			a, src, sched, events := newTestAdapter(t)
			if err := a.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			expect(t, events, EventStarted)

			src.Fail(code)
			ev := expect(t, events, EventFailed)
			if ev.Code != code || ev.Message != code.Message() {
				t.Errorf("failed event = %+v", ev)
			}
			if sched.count() != 0 {
				t.Errorf("terminal fault scheduled %d restarts", sched.count())
			}
			if a.State() != StateIdle {
				t.Errorf("state = %s", a.State())
			}
		})
	}
}

func TestFinalResetsRetries(t *testing.T) {
	a, src, sched, events := newTestAdapter(t)
	a.Start(context.Background())
	expect(t, events, EventStarted)

	src.Fail(CodeOther)
	expect(t, events, EventRetrying)
	sched.fire()
	expect(t, events, EventStarted)
	if a.Retries() != 1 {
		t.Fatalf("retries = %d, want 1", a.Retries())
	}

	src.Final("ok")
	expect(t, events, EventFinal)
	if a.Retries() != 0 {
		t.Errorf("retries after final = %d, want 0", a.Retries())
	}

	a.Start(context.Background())
	expect(t, events, EventStarted)
	src.Fail(CodeNetwork)
	if ev := expect(t, events, EventRetrying); ev.Attempt != 1 {
		t.Errorf("attempt after reset = %d, want 1", ev.Attempt)
	}
}

func TestStopCancelsPendingRestart(t *testing.T) {
	a, src, sched, events := newTestAdapter(t)
	a.Start(context.Background())
	expect(t, events, EventStarted)

	src.Fail(CodeNetwork)
	expect(t, events, EventRetrying)

	a.Stop()
	ev := expect(t, events, EventStopped)
	if ev.State != StateIdle {
		t.Errorf("state = %s", ev.State)
	}
	if !sched.last().stopped {
		t.Error("pending restart timer not stopped")
	}
	if a.Retries() != 0 {
		t.Errorf("retries = %d, want 0", a.Retries())
	}

	sched.fire()
	if got := src.CallCount("Start"); got != 1 {
		t.Errorf("stale timer restarted the source (%d starts)", got)
	}
	if a.State() != StateIdle {
		t.Errorf("state after stale fire = %s", a.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	a, _, _, events := newTestAdapter(t)

	a.Stop()
	a.Stop()
	select {
	case ev := <-events:
		t.Fatalf("stop while idle published %+v", ev)
	default:
	}

	a.Start(context.Background())
	expect(t, events, EventStarted)
	a.Stop()
	expect(t, events, EventStopped)
	a.Stop()
	select {
	case ev := <-events:
		t.Fatalf("second stop published %+v", ev)
	default:
	}
}

func TestEventsIgnoredOutsideCapture(t *testing.T) {
	a, _, sched, events := newTestAdapter(t)

	a.handle(SourceEvent{Kind: SourceError, Code: CodeInterrupted})
	a.handle(SourceEvent{Kind: SourceResult, Transcript: "late", Final: true})
	a.handle(SourceEvent{Kind: SourceEnd})

	select {
	case ev := <-events:
		t.Fatalf("idle adapter published %+v", ev)
	default:
	}
	if sched.count() != 0 {
		t.Error("idle fault scheduled a restart")
	}
}

func TestSourceEndStopsCapture(t *testing.T) {
	a, _, _, events := newTestAdapter(t)
	a.Start(context.Background())
	expect(t, events, EventStarted)

	a.handle(SourceEvent{Kind: SourceEnd})
	expect(t, events, EventStopped)
	if a.State() != StateIdle {
		t.Errorf("state = %s", a.State())
	}
}

func TestStartFailure(t *testing.T) {
	a, src, _, events := newTestAdapter(t)
	boom := errors.New("no microphone")
	src.StartFunc = func(ctx context.Context) error { return boom }

	err := a.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Start() error = %v, want wrapped %v", err, boom)
	}
	ev := expect(t, events, EventFailed)
	if ev.Code != CodeStartFailed {
		t.Errorf("code = %s", ev.Code)
	}
	if a.State() != StateIdle {
		t.Errorf("state = %s", a.State())
	}
}

func TestRestartFailureCountsAsRetry(t *testing.T) {
	a, src, sched, events := newTestAdapter(t)
	a.Start(context.Background())
	expect(t, events, EventStarted)

	src.Fail(CodeNetwork)
	expect(t, events, EventRetrying)

	src.StartFunc = func(ctx context.Context) error { return errors.New("busy") }
	sched.fire()
	if ev := expect(t, events, EventRetrying); ev.Attempt != 2 || ev.Code != CodeOther {
		t.Errorf("retry after failed restart = %+v", ev)
	}
}

func TestCancelledContextSkipsRestart(t *testing.T) {
	a, src, sched, events := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	expect(t, events, EventStarted)

	src.Fail(CodeNetwork)
	expect(t, events, EventRetrying)

	cancel()
	sched.fire()
	expect(t, events, EventStopped)
	if src.CallCount("Start") != 1 {
		t.Errorf("restart after cancel: %d starts", src.CallCount("Start"))
	}
}

func TestClose(t *testing.T) {
	src := NewMockSource()
	a := New(src)
	events, cancel := a.Subscribe()
	defer cancel()

	a.Close()
	a.Close()

	if _, ok := <-events; ok {
		t.Error("subscription should be closed")
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestNoSource(t *testing.T) {
	a := New(nil)
	defer a.Close()
	if err := a.Start(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Errorf("Start() = %v, want ErrNoSource", err)
	}
}

func TestCodeClassification(t *testing.T) {
	tests := []struct {
		code      Code
		retryable bool
	}{
		{CodeNetwork, true},
		{CodeServiceUnavailable, true},
		{CodeInterrupted, true},
		{CodeOther, true},
		{CodePermissionDenied, false},
		{CodeNoSpeech, false},
		{CodeDeviceBusy, false},
		{CodeUnavailable, false},
	}

	for _, tt := range tests {
		if got := tt.code.Retryable(); got != tt.retryable {
			t.Errorf("%s.Retryable() = %v, want %v", tt.code, got, tt.retryable)
		}
		if tt.code.Message() == "" {
			t.Errorf("%s has no message", tt.code)
		}
	}
}
