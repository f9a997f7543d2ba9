package speaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var testVoices = []Voice{
	{ID: "1", Name: "Deutsch Anna Female", Lang: "de-DE"},
	{ID: "2", Name: "Daniel", Lang: "en-GB"},
	{ID: "3", Name: "Samantha", Lang: "en-US", Gender: "female"},
	{ID: "4", Name: "Alex", Lang: "en-US", Default: true},
}

func TestSelectVoice(t *testing.T) {
	tests := []struct {
		name   string
		voices []Voice
		want   string
	}{
		{"female english", testVoices, "Samantha"},
		{"female by name", []Voice{{Name: "Alex", Lang: "en-US"}, {Name: "Google UK English Female", Lang: "en-GB"}}, "Google UK English Female"},
		{"first english", []Voice{{Name: "Thomas", Lang: "fr-FR"}, {Name: "Daniel", Lang: "en-GB"}, {Name: "Alex", Lang: "en-US"}}, "Daniel"},
		{"no english", []Voice{{Name: "Anna Female", Lang: "de-DE"}}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectVoice(tt.voices, "en-")
			name := ""
			if got != nil {
				name = got.Name
			}
			if name != tt.want {
				t.Errorf("SelectVoice() = %q, want %q", name, tt.want)
			}
		})
	}
}

func signal() (func(), <-chan struct{}) {
	ch := make(chan struct{}, 4)
	return func() { ch <- struct{}{} }, ch
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSpeakLifecycle(t *testing.T) {
	engine := NewMockEngine()
	engine.VoiceList = testVoices
	s := New(engine)
	defer s.Close()

	onStart, started := signal()
	onEnd, ended := signal()

	id, err := s.Speak(context.Background(), "  Hello there!  ", onStart, onEnd)
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	u := engine.LastUtterance()
	if u == nil || u.ID != id {
		t.Fatalf("utterance = %+v, want id %s", u, id)
	}
	if u.Text != "Hello there!" || u.Rate != 0.9 || u.Pitch != 1.0 || u.Lang != "en-US" {
		t.Errorf("utterance = %+v", u)
	}
	if u.Voice == nil || u.Voice.Name != "Samantha" {
		t.Errorf("voice = %+v, want Samantha", u.Voice)
	}
	if s.State() != StateSpeaking {
		t.Errorf("state = %s, want speaking", s.State())
	}

	engine.Emit(EngineEvent{Kind: EngineStart, ID: id})
	wait(t, started, "onStart")

	engine.Emit(EngineEvent{Kind: EngineEnd, ID: id})
	wait(t, ended, "onEnd")

	if s.State() != StateIdle {
		t.Errorf("state after end = %s", s.State())
	}
}

func TestSpeakCancelsPrevious(t *testing.T) {
	engine := NewMockEngine()
	s := New(engine)
	defer s.Close()

	var firstEnded, secondEnded atomic.Int32
	first, err := s.Speak(context.Background(), "first", nil, func() { firstEnded.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	onSecondStart, secondStarted := signal()
	second, err := s.Speak(context.Background(), "second", onSecondStart, func() { secondEnded.Add(1) })
	if err != nil {
		t.Fatal(err)
	}

	if firstEnded.Load() != 1 {
		t.Errorf("first onEnd fired %d times before second started, want 1", firstEnded.Load())
	}
	calls := engine.Calls()
	cancelled := false
	for _, c := range calls {
		if c.Method == "Cancel" && c.ID == first {
			cancelled = true
		}
	}
	if !cancelled {
		t.Error("first utterance was not cancelled on the engine")
	}

	// A late end for the cancelled utterance must not finish the new one.
	engine.Emit(EngineEvent{Kind: EngineEnd, ID: first})
	engine.Emit(EngineEvent{Kind: EngineStart, ID: second})
	wait(t, secondStarted, "second onStart")
	if s.State() != StateSpeaking {
		t.Errorf("state = %s, want speaking", s.State())
	}
	if firstEnded.Load() != 1 || secondEnded.Load() != 0 {
		t.Errorf("ends: first=%d second=%d", firstEnded.Load(), secondEnded.Load())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	engine := NewMockEngine()
	s := New(engine)
	defer s.Close()

	s.Stop()
	if engine.CallCount("Cancel") != 0 {
		t.Error("Stop while idle cancelled on the engine")
	}

	var ends atomic.Int32
	if _, err := s.Speak(context.Background(), "hello", nil, func() { ends.Add(1) }); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	s.Stop()

	if ends.Load() != 1 {
		t.Errorf("onEnd fired %d times, want 1", ends.Load())
	}
	if engine.CallCount("Cancel") != 1 {
		t.Errorf("Cancel calls = %d, want 1", engine.CallCount("Cancel"))
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s", s.State())
	}
}

func TestSpeakUnavailable(t *testing.T) {
	engine := NewMockEngine()
	engine.AvailableFunc = func() bool { return false }
	s := New(engine)
	defer s.Close()

	if s.Available() {
		t.Error("Available() = true")
	}
	if _, err := s.Speak(context.Background(), "hi", nil, nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Speak() = %v, want ErrUnavailable", err)
	}

	none := New(nil)
	defer none.Close()
	if none.Available() {
		t.Error("nil engine should be unavailable")
	}
}

func TestSpeakEmptyText(t *testing.T) {
	s := New(NewMockEngine())
	defer s.Close()
	if _, err := s.Speak(context.Background(), "   ", nil, nil); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Speak() = %v, want ErrEmptyText", err)
	}
}

func TestSpeakEngineFailure(t *testing.T) {
	engine := NewMockEngine()
	boom := errors.New("synth down")
	engine.SpeakFunc = func(ctx context.Context, u Utterance) error { return boom }
	s := New(engine)
	defer s.Close()

	var ends atomic.Int32
	_, err := s.Speak(context.Background(), "hello", nil, func() { ends.Add(1) })
	if !errors.Is(err, boom) {
		t.Fatalf("Speak() = %v, want %v", err, boom)
	}
	if ends.Load() != 1 {
		t.Errorf("onEnd fired %d times, want 1", ends.Load())
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s", s.State())
	}
}

func TestEngineErrorEndsUtterance(t *testing.T) {
	engine := NewMockEngine()
	s := New(engine)
	defer s.Close()

	onEnd, ended := signal()
	id, _ := s.Speak(context.Background(), "hello", nil, onEnd)
	engine.Emit(EngineEvent{Kind: EngineError, ID: id, Error: "interrupted"})
	wait(t, ended, "onEnd after error")
}

func TestSetRate(t *testing.T) {
	engine := NewMockEngine()
	s := New(engine)
	defer s.Close()

	tests := []struct {
		in, want float64
	}{
		{0.8, 0.8},
		{0.1, MinRate},
		{3, MaxRate},
		{0.9 - RateStep, 0.8},
	}
	for _, tt := range tests {
		if got := s.SetRate(tt.in); got != tt.want {
			t.Errorf("SetRate(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	s.SetRate(0.7)
	s.Speak(context.Background(), "slowly", nil, nil)
	if u := engine.LastUtterance(); u.Rate != 0.7 {
		t.Errorf("utterance rate = %v, want 0.7", u.Rate)
	}
}

func TestSubscribeStates(t *testing.T) {
	engine := NewMockEngine()
	engine.AutoComplete = true
	s := New(engine)
	defer s.Close()

	events, cancel := s.Subscribe()
	defer cancel()

	id, err := s.Speak(context.Background(), "hello", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := []State{StateSpeaking, StateIdle}
	for _, w := range want {
		select {
		case ev := <-events:
			if ev.State != w || ev.ID != id {
				t.Errorf("event = %+v, want %s for %s", ev, w, id)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}
