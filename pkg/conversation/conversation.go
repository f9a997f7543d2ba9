// Package conversation holds the observable state of one practice session:
// the message log, capture and speaking states, the live transcript, the
// latest feedback and any capture notice.
//
// Every mutation publishes a Change on the store's feed so the socket layer
// can push fresh snapshots to the page.
package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/speakfluent/internal/event"
	"github.com/teslashibe/speakfluent/pkg/feedback"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RecordingState is the capture state shown to the learner.
type RecordingState string

const (
	RecordingIdle       RecordingState = "idle"
	RecordingActive     RecordingState = "recording"
	RecordingProcessing RecordingState = "processing"
)

// SpeakingState is the speech output state shown to the learner.
type SpeakingState string

const (
	SpeakingIdle   SpeakingState = "idle"
	SpeakingActive SpeakingState = "speaking"
)

// Message is one entry of the conversation log. Messages are append-only.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AudioURL  string    `json:"audioUrl,omitempty"`
}

// Notice is a capture banner. Transient notices describe a retry in progress.
type Notice struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
}

// ChangeKind names the field a Change touched.
type ChangeKind string

const (
	ChangeMessage    ChangeKind = "message"
	ChangeRecording  ChangeKind = "recording"
	ChangeSpeaking   ChangeKind = "speaking"
	ChangeTranscript ChangeKind = "transcript"
	ChangeFeedback   ChangeKind = "feedback"
	ChangeNotice     ChangeKind = "notice"
	ChangeCleared    ChangeKind = "cleared"
)

// Change is published after every mutation.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	Snapshot Snapshot   `json:"snapshot"`
}

// Snapshot is a copy of the store state.
type Snapshot struct {
	Messages          []Message          `json:"messages"`
	RecordingState    RecordingState     `json:"recordingState"`
	SpeakingState     SpeakingState      `json:"speakingState"`
	CurrentTranscript string             `json:"currentTranscript"`
	Feedback          *feedback.Feedback `json:"feedback"`
	Notice            *Notice            `json:"notice"`
}

// Store is the conversation state for one session.
// It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	messages   []Message
	recording  RecordingState
	speaking   SpeakingState
	transcript string
	feedback   *feedback.Feedback
	notice     *Notice

	feed   *event.Feed[Change]
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		recording: RecordingIdle,
		speaking:  SpeakingIdle,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "conversation.store")
	s.feed = event.NewFeed[Change]("conversation", 0, s.logger)
	return s
}

// AddMessage appends a message with a fresh id and timestamp.
// A user message also clears the live transcript.
func (s *Store) AddMessage(role Role, content string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if role == RoleUser {
		s.transcript = ""
	}
	s.mu.Unlock()

	s.logger.Debug("message added", "role", role, "id", msg.ID)
	s.publish(ChangeMessage)
	return msg
}

// SetRecordingState updates the capture state.
func (s *Store) SetRecordingState(state RecordingState) {
	s.mu.Lock()
	changed := s.recording != state
	s.recording = state
	s.mu.Unlock()
	if changed {
		s.publish(ChangeRecording)
	}
}

// SetSpeakingState updates the speaking state.
func (s *Store) SetSpeakingState(state SpeakingState) {
	s.mu.Lock()
	changed := s.speaking != state
	s.speaking = state
	s.mu.Unlock()
	if changed {
		s.publish(ChangeSpeaking)
	}
}

// SetTranscript replaces the live (interim) transcript.
func (s *Store) SetTranscript(text string) {
	s.mu.Lock()
	s.transcript = text
	s.mu.Unlock()
	s.publish(ChangeTranscript)
}

// SetFeedback stores the latest feedback.
func (s *Store) SetFeedback(fb *feedback.Feedback) {
	s.mu.Lock()
	s.feedback = fb
	s.mu.Unlock()
	s.publish(ChangeFeedback)
}

// SetNotice shows a capture banner.
func (s *Store) SetNotice(n Notice) {
	s.mu.Lock()
	s.notice = &n
	s.mu.Unlock()
	s.publish(ChangeNotice)
}

// ClearNotice removes the capture banner if one is shown.
func (s *Store) ClearNotice() {
	s.mu.Lock()
	had := s.notice != nil
	s.notice = nil
	s.mu.Unlock()
	if had {
		s.publish(ChangeNotice)
	}
}

// Clear empties messages, feedback and transcript.
// Recording and speaking states are left to their owners.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.feedback = nil
	s.transcript = ""
	s.mu.Unlock()
	s.publish(ChangeCleared)
}

// LastAssistant returns the most recent assistant message.
func (s *Store) LastAssistant() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAssistant {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

// Messages returns a copy of the message log.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// Transcript returns the live transcript.
func (s *Store) Transcript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Messages:          append([]Message{}, s.messages...),
		RecordingState:    s.recording,
		SpeakingState:     s.speaking,
		CurrentTranscript: s.transcript,
		Feedback:          s.feedback,
	}
	if s.notice != nil {
		n := *s.notice
		snap.Notice = &n
	}
	return snap
}

// Subscribe returns a feed of changes and a cancel func.
func (s *Store) Subscribe() (<-chan Change, func()) {
	return s.feed.Subscribe()
}

// Close ends every subscription.
func (s *Store) Close() {
	s.feed.Close()
}

func (s *Store) publish(kind ChangeKind) {
	s.feed.Publish(Change{Kind: kind, Snapshot: s.Snapshot()})
}
