package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/speakfluent/pkg/browser"
	"github.com/teslashibe/speakfluent/pkg/capture"
	"github.com/teslashibe/speakfluent/pkg/conversation"
	"github.com/teslashibe/speakfluent/pkg/hub"
	"github.com/teslashibe/speakfluent/pkg/progress"
	"github.com/teslashibe/speakfluent/pkg/protocol"
	"github.com/teslashibe/speakfluent/pkg/speaker"
	"github.com/teslashibe/speakfluent/pkg/tutor"
)

// Session errors.
var (
	ErrSessionNotFound = errors.New("web: session not found")
	ErrSessionClosed   = errors.New("web: session closed")
	ErrUnknownAction   = errors.New("web: unknown command action")
	ErrUnknownType     = errors.New("web: unknown message type")
	ErrEmptyTranscript = errors.New("web: empty transcript")
)

// synthRelay is a speech engine fed by page synthesis events.
type synthRelay interface {
	speaker.Engine
	Deliver(d protocol.SynthesisData)
}

// Session is one learner's practice session: a conversation, its learner
// context and the page relays that drive capture and speech.
type Session struct {
	ID      string
	Created time.Time
	Engine  string

	link       *browser.Link
	recognizer *browser.Recognizer
	synth      synthRelay
	capture    *capture.Adapter
	speaker    *speaker.Speaker
	store      *conversation.Store
	tutor      *tutor.Orchestrator
	events     *hub.Hub

	mu       sync.Mutex
	lastSeen time.Time
	sockets  int
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// sessionParts are the collaborators a session wires together.
type sessionParts struct {
	link       *browser.Link
	recognizer *browser.Recognizer
	synth      synthRelay
	capture    *capture.Adapter
	speaker    *speaker.Speaker
	store      *conversation.Store
	tutor      *tutor.Orchestrator
	events     *hub.Hub
	engine     string
	logger     *slog.Logger
}

func newSession(id string, p sessionParts) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		ID:         id,
		Created:    now,
		Engine:     p.engine,
		link:       p.link,
		recognizer: p.recognizer,
		synth:      p.synth,
		capture:    p.capture,
		speaker:    p.speaker,
		store:      p.store,
		tutor:      p.tutor,
		events:     p.events,
		lastSeen:   now,
		ctx:        ctx,
		cancel:     cancel,
		logger:     p.logger.With("component", "web.session", "session", id),
	}
	s.start()
	return s
}

// start launches the capture listener and the forwarders that mirror
// session changes to the page and the event hub.
func (s *Session) start() {
	listen, cancelListen := s.capture.Subscribe()
	captured, cancelCaptured := s.capture.Subscribe()
	changes, cancelChanges := s.store.Subscribe()
	turns, cancelTurns := s.tutor.SubscribeTurns()

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		defer cancelListen()
		s.tutor.Listen(s.ctx, listen)
	}()
	go func() {
		defer s.wg.Done()
		defer cancelCaptured()
		forward(s.ctx, captured, func(ev capture.Event) {
			s.push(protocol.TypeCapture, ev)
			s.publish(string(protocol.TypeCapture), ev)
		})
	}()
	go func() {
		defer s.wg.Done()
		defer cancelChanges()
		defer cancelTurns()
		s.relay(changes, turns)
	}()
}

// relay mirrors store changes and completed turns in the order they
// happened. A turn is published after the store changes it caused, so
// pending changes are flushed before it.
func (s *Session) relay(changes <-chan conversation.Change, turns <-chan tutor.Turn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.emitChange(ch)
		case turn, ok := <-turns:
			if !ok {
				turns = nil
				continue
			}
			s.flushChanges(changes)
			s.push(protocol.TypeTurn, turn)
			s.push(protocol.TypeProgress, s.Progress())
			s.publish(string(protocol.TypeTurn), turn)
		}
	}
}

func (s *Session) flushChanges(changes <-chan conversation.Change) {
	for {
		select {
		case ch, ok := <-changes:
			if !ok {
				return
			}
			s.emitChange(ch)
		default:
			return
		}
	}
}

func (s *Session) emitChange(ch conversation.Change) {
	s.push(protocol.TypeState, ch.Snapshot)
	s.publish(string(ch.Kind), ch.Snapshot)
}

func forward[T any](ctx context.Context, ch <-chan T, fn func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			fn(v)
		}
	}
}

// push sends a message to the page if one is attached.
func (s *Session) push(msgType protocol.MessageType, data any) {
	err := s.link.SendData(msgType, data)
	if err != nil && !errors.Is(err, browser.ErrNotConnected) {
		s.logger.Debug("push failed", "type", msgType, "error", err)
	}
}

func (s *Session) publish(kind string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(s.ID, kind, data); err != nil {
		s.logger.Debug("publish failed", "kind", kind, "error", err)
	}
}

// Attach routes page commands to sender. The returned func detaches it and
// stops capture and speech, since nothing is left to play them.
func (s *Session) Attach(sender browser.Sender) (detach func()) {
	s.mu.Lock()
	s.sockets++
	s.lastSeen = time.Now()
	s.mu.Unlock()

	unlink := s.link.Attach(sender)
	s.logger.Info("page attached")

	var once sync.Once
	return func() {
		once.Do(func() {
			unlink()
			s.mu.Lock()
			s.sockets--
			s.lastSeen = time.Now()
			s.mu.Unlock()

			if !s.link.Connected() {
				s.capture.Stop()
				s.tutor.StopSpeaking()
			}
			s.logger.Info("page detached")
		})
	}
}

// Connected reports whether a page socket is attached.
func (s *Session) Connected() bool {
	return s.link.Connected()
}

// Touch marks the session as used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Idle reports whether the session has no page and has not been used
// for longer than ttl.
func (s *Session) Idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets == 0 && now.Sub(s.lastSeen) > ttl
}

// Tutor returns the session's orchestrator.
func (s *Session) Tutor() *tutor.Orchestrator {
	return s.tutor
}

// Progress returns the learner snapshot.
func (s *Session) Progress() progress.Snapshot {
	return s.tutor.Learner().Snapshot()
}

// Transcript runs a turn for typed or relayed text.
func (s *Session) Transcript(ctx context.Context, text string) (tutor.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return tutor.Turn{}, ErrEmptyTranscript
	}
	if s.ctx.Err() != nil {
		return tutor.Turn{}, ErrSessionClosed
	}
	s.Touch()
	return s.tutor.HandleTranscript(ctx, text), nil
}

// Command runs a learner control action.
func (s *Session) Command(action string) error {
	s.Touch()
	switch action {
	case protocol.ActionStartCapture:
		return s.capture.Start(s.ctx)
	case protocol.ActionStopCapture:
		s.capture.Stop()
	case protocol.ActionRepeat:
		s.tutor.RepeatLast(s.ctx)
	case protocol.ActionClear:
		s.tutor.Clear()
	case protocol.ActionStopSpeaking:
		s.tutor.StopSpeaking()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return nil
}

// Handle dispatches one page message and returns an optional reply.
// Transcripts run asynchronously so the socket keeps relaying synthesis
// events while the turn is in flight.
func (s *Session) Handle(msg *protocol.Message) (*protocol.Message, error) {
	s.Touch()

	switch msg.Type {
	case protocol.TypeRecognition:
		var d protocol.RecognitionData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		s.recognizer.Deliver(d)

	case protocol.TypeSynthesis:
		var d protocol.SynthesisData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		s.synth.Deliver(d)

	case protocol.TypeVoices:
		var d protocol.VoicesData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		if vs, ok := s.synth.(interface{ SetVoices(protocol.VoicesData) }); ok {
			vs.SetVoices(d)
		}

	case protocol.TypeCommand:
		var d protocol.CommandData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		return nil, s.Command(d.Action)

	case protocol.TypeTranscript:
		var d protocol.TranscriptData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		if strings.TrimSpace(d.Text) == "" {
			return nil, ErrEmptyTranscript
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSessionClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.tutor.HandleTranscript(s.ctx, d.Text)
		}()

	case protocol.TypePing:
		var d protocol.PingData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		if d.Timestamp == 0 {
			d.Timestamp = msg.Timestamp
		}
		return protocol.NewPongMessage(&d)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return nil, nil
}

// Greet sends the attach handshake: session id, snapshot and progress.
func (s *Session) Greet() {
	s.push(protocol.TypeSession, protocol.SessionData{ID: s.ID, Engine: s.Engine})
	s.push(protocol.TypeState, s.store.Snapshot())
	s.push(protocol.TypeProgress, s.Progress())
}

// SessionInfo summarizes a session for listings.
type SessionInfo struct {
	ID        string         `json:"id"`
	Created   time.Time      `json:"created"`
	LastSeen  time.Time      `json:"lastSeen"`
	Connected bool           `json:"connected"`
	Engine    string         `json:"engine"`
	Messages  int            `json:"messages"`
	Level     progress.Level `json:"level"`
}

// Info returns the session summary.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Created:   s.Created,
		LastSeen:  s.LastSeen(),
		Connected: s.Connected(),
		Engine:    s.Engine,
		Messages:  len(s.store.Messages()),
		Level:     s.tutor.Learner().Level(),
	}
}

// SessionDetail is the full session view.
type SessionDetail struct {
	SessionInfo
	State    conversation.Snapshot `json:"state"`
	Progress progress.Snapshot     `json:"progress"`
	Metrics  tutor.Metrics         `json:"metrics"`
}

// Detail returns the full session view.
func (s *Session) Detail() SessionDetail {
	return SessionDetail{
		SessionInfo: s.Info(),
		State:       s.store.Snapshot(),
		Progress:    s.Progress(),
		Metrics:     s.tutor.Metrics(),
	}
}

// Close stops the session and waits for its goroutines.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.capture.Close()
	s.speaker.Close()
	s.wg.Wait()
	s.tutor.Close()
	s.store.Close()
	s.logger.Info("session closed")
}
