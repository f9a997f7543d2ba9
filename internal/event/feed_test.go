package event

import (
	"testing"
)

func TestFeedFanOut(t *testing.T) {
	f := NewFeed[int]("test", 4, nil)

	a, cancelA := f.Subscribe()
	b, cancelB := f.Subscribe()
	defer cancelA()
	defer cancelB()

	f.Publish(1)
	f.Publish(2)

	for name, ch := range map[string]<-chan int{"a": a, "b": b} {
		if got := <-ch; got != 1 {
			t.Errorf("%s first = %d, want 1", name, got)
		}
		if got := <-ch; got != 2 {
			t.Errorf("%s second = %d, want 2", name, got)
		}
	}
}

func TestFeedDropsWhenFull(t *testing.T) {
	f := NewFeed[string]("test", 1, nil)
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Publish("kept")
	f.Publish("dropped")

	if got := <-ch; got != "kept" {
		t.Errorf("got %q, want kept", got)
	}
	select {
	case v := <-ch:
		t.Errorf("expected no second value, got %q", v)
	default:
	}
}

func TestFeedCancel(t *testing.T) {
	f := NewFeed[int]("test", 1, nil)
	ch, cancel := f.Subscribe()

	if f.Len() != 1 {
		t.Fatalf("Len = %d, want 1", f.Len())
	}

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if f.Len() != 0 {
		t.Errorf("Len = %d, want 0", f.Len())
	}

	f.Publish(1)
}

func TestFeedClose(t *testing.T) {
	f := NewFeed[int]("test", 1, nil)
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Close()
	f.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}

	late, lateCancel := f.Subscribe()
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed")
	}
}
