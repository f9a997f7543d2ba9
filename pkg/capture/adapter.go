package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/speakfluent/internal/event"
)

// Adapter drives a recognition Source and owns the retry policy.
// All methods are safe for concurrent use.
type Adapter struct {
	cfg    *Config
	src    Source
	logger *slog.Logger
	feed   *event.Feed[Event]

	mu      sync.Mutex
	state   State
	retries int
	gen     uint64
	timer   Timer
	ctx     context.Context
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates an adapter over src and starts consuming its events.
func New(src Source, opts ...Option) *Adapter {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = DefaultConfig().AfterFunc
	}

	logger := cfg.Logger.With("component", "capture.adapter")
	a := &Adapter{
		cfg:    cfg,
		src:    src,
		logger: logger,
		feed:   event.NewFeed[Event]("capture", cfg.EventBuffer, logger),
		state:  StateIdle,
		ctx:    context.Background(),
		done:   make(chan struct{}),
	}

	if src != nil {
		go a.pump()
	}
	return a
}

// Start begins capture. Calling Start while already capturing or retrying
// is a no-op.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.src == nil {
		return ErrNoSource
	}
	if a.state != StateIdle {
		return nil
	}

	a.ctx = ctx
	a.retries = 0
	return a.startLocked()
}

func (a *Adapter) startLocked() error {
	a.state = StateCapturing
	if err := a.src.Start(a.ctx); err != nil {
		a.state = StateIdle
		a.retries = 0
		a.logger.Warn("recognition source failed to start", "error", err)
		a.publishLocked(Event{
			Kind:    EventFailed,
			Code:    CodeStartFailed,
			Message: CodeStartFailed.Message(),
		})
		return fmt.Errorf("capture: start: %w", err)
	}

	a.publishLocked(Event{Kind: EventStarted, Attempt: a.retries})
	return nil
}

// Stop ends capture and cancels any pending restart. It is idempotent and
// always resets the retry counter.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Adapter) stopLocked() {
	a.retries = 0
	a.cancelTimerLocked()

	if a.state == StateIdle {
		return
	}
	prev := a.state
	a.state = StateIdle
	if prev == StateCapturing {
		a.stopSourceLocked()
	}
	a.publishLocked(Event{Kind: EventStopped})
}

// State returns the current capture state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Retries returns the number of restarts attempted in the current sequence.
func (a *Adapter) Retries() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retries
}

// Subscribe returns a channel of future events and its cancel func.
func (a *Adapter) Subscribe() (<-chan Event, func()) {
	return a.feed.Subscribe()
}

// Close stops capture, stops consuming source events and closes every
// subscription.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.stopLocked()
		a.closed = true
		a.mu.Unlock()

		close(a.done)
		a.feed.Close()
	})
	return nil
}

func (a *Adapter) pump() {
	events := a.src.Events()
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ev)
		}
	}
}

func (a *Adapter) handle(ev SourceEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	switch ev.Kind {
	case SourceResult:
		if a.state != StateCapturing {
			return
		}
		if !ev.Final {
			a.publishLocked(Event{Kind: EventInterim, Transcript: ev.Transcript})
			return
		}
		a.retries = 0
		a.state = StateIdle
		a.stopSourceLocked()
		a.publishLocked(Event{Kind: EventFinal, Transcript: strings.TrimSpace(ev.Transcript)})

	case SourceError:
		if a.state != StateCapturing {
			a.logger.Debug("ignoring recognition error outside capture",
				"code", ev.Code,
				"state", a.state,
			)
			return
		}
		a.failLocked(ev.Code)

	case SourceEnd:
		if a.state != StateCapturing {
			return
		}
		a.retries = 0
		a.state = StateIdle
		a.publishLocked(Event{Kind: EventStopped})
	}
}

func (a *Adapter) failLocked(code Code) {
	if code == "" {
		code = CodeOther
	}

	if code.Terminal() {
		a.retries = 0
		a.state = StateIdle
		a.stopSourceLocked()
		a.publishLocked(Event{Kind: EventFailed, Code: code, Message: code.Message()})
		return
	}

	if a.retries >= a.cfg.MaxRetries {
		a.logger.Warn("recognition retries exhausted",
			"code", code,
			"attempts", a.retries,
		)
		a.retries = 0
		a.state = StateIdle
		a.stopSourceLocked()
		a.publishLocked(Event{Kind: EventFailed, Code: CodeUnavailable, Message: UnavailableMessage})
		return
	}

	delay := a.cfg.Delay(a.retries)
	a.retries++
	a.state = StateRetrying
	a.stopSourceLocked()

	a.cancelTimerLocked()
	gen := a.gen
	a.timer = a.cfg.AfterFunc(delay, func() { a.restart(gen) })

	a.logger.Info("recognition fault, retrying",
		"code", code,
		"attempt", a.retries,
		"delay", delay,
	)
	a.publishLocked(Event{
		Kind:        EventRetrying,
		Code:        code,
		Message:     fmt.Sprintf("Reconnecting to speech service (attempt %d/%d)...", a.retries, a.cfg.MaxRetries),
		Attempt:     a.retries,
		MaxAttempts: a.cfg.MaxRetries,
		Delay:       delay,
	})
}

func (a *Adapter) restart(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || gen != a.gen || a.state != StateRetrying {
		return
	}
	a.timer = nil

	if err := a.ctx.Err(); err != nil {
		a.retries = 0
		a.state = StateIdle
		a.publishLocked(Event{Kind: EventStopped})
		return
	}

	a.state = StateCapturing
	if err := a.src.Start(a.ctx); err != nil {
		a.logger.Warn("recognition restart failed", "error", err)
		a.failLocked(CodeOther)
		return
	}
	a.publishLocked(Event{Kind: EventStarted, Attempt: a.retries})
}

// cancelTimerLocked invalidates any scheduled restart, including one whose
// timer already fired and is waiting for the lock.
func (a *Adapter) cancelTimerLocked() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Adapter) stopSourceLocked() {
	if err := a.src.Stop(); err != nil {
		a.logger.Debug("recognition source stop failed", "error", err)
	}
}

func (a *Adapter) publishLocked(ev Event) {
	ev.State = a.state
	ev.Time = time.Now()
	a.feed.Publish(ev)
}
