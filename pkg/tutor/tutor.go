// Package tutor runs the practice loop: it scores each finalized transcript,
// updates learner progress, writes a conversational reply and speaks it.
//
// Remote model failures never reach the caller. Scoring falls back to
// feedback derived from the learner's own recent scores and replies fall back
// to fixed encouraging lines.
package tutor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/speakfluent/internal/event"
	"github.com/teslashibe/speakfluent/pkg/capture"
	"github.com/teslashibe/speakfluent/pkg/conversation"
	"github.com/teslashibe/speakfluent/pkg/feedback"
	"github.com/teslashibe/speakfluent/pkg/inference"
	"github.com/teslashibe/speakfluent/pkg/progress"
	"github.com/teslashibe/speakfluent/pkg/speaker"
)

// Fallback replies used when the remote model fails.
const (
	FallbackReply        = "I'd love to hear more about that. Could you tell me more?"
	FallbackCommandReply = "I didn't catch that. Could you try again or ask for help?"
)

// HistoryWindow is how many recent history entries each prompt includes.
const HistoryWindow = 3

// Kind classifies a turn.
type Kind string

const (
	KindPractice Kind = "practice"
	KindCommand  Kind = "command"
	KindIgnored  Kind = "ignored"
)

// Turn is the outcome of one transcript.
type Turn struct {
	Input string `json:"input"`
	Kind  Kind   `json:"kind"`

	// Command is the sentinel the model answered with, if any.
	Command string `json:"command,omitempty"`

	// Reply is the assistant text that was added and spoken. Empty when a
	// sentinel replayed an earlier message.
	Reply string `json:"reply,omitempty"`

	Feedback *feedback.Feedback `json:"feedback,omitempty"`
	Level    progress.Level     `json:"level"`
	Reset    bool               `json:"reset"`
	Spoken   bool               `json:"spoken"`

	Duration time.Duration `json:"duration"`
}

// Config holds orchestrator settings.
type Config struct {
	// HistoryWindow is how many history entries prompts include.
	HistoryWindow int

	// RateStep is how much "speak slower" lowers the speaking rate.
	RateStep float64

	Logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Config)

// WithHistoryWindow sets the prompt history window.
func WithHistoryWindow(n int) Option {
	return func(c *Config) { c.HistoryWindow = n }
}

// WithRateStep sets the slow-down step.
func WithRateStep(step float64) Option {
	return func(c *Config) { c.RateStep = step }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default settings.
func DefaultConfig() *Config {
	return &Config{
		HistoryWindow: HistoryWindow,
		RateStep:      speaker.RateStep,
		Logger:        slog.Default(),
	}
}

// Orchestrator owns one session's learner context and drives its turns.
// Turns are serialized, so a practice turn's two remote calls never overlap
// with another turn.
type Orchestrator struct {
	cfg     *Config
	store   *conversation.Store
	llm     inference.Provider
	speaker *speaker.Speaker
	logger  *slog.Logger

	turnMu sync.Mutex

	learnerMu sync.RWMutex
	learner   *progress.Tracker

	metrics *collector
	turns   *event.Feed[Turn]
}

// New creates an orchestrator. spk may be nil when the session has no
// speech output.
func New(store *conversation.Store, llm inference.Provider, spk *speaker.Speaker, opts ...Option) *Orchestrator {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "tutor.orchestrator")

	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		llm:     llm,
		speaker: spk,
		logger:  logger,
		learner: progress.New(),
		metrics: newCollector(),
		turns:   event.NewFeed[Turn]("tutor.turns", 0, logger),
	}
}

// Learner returns the current learner context. It is replaced wholesale
// when the learner asks for a new conversation.
func (o *Orchestrator) Learner() *progress.Tracker {
	o.learnerMu.RLock()
	defer o.learnerMu.RUnlock()
	return o.learner
}

// Store returns the conversation store.
func (o *Orchestrator) Store() *conversation.Store {
	return o.store
}

// Speaker returns the speech output adapter, or nil.
func (o *Orchestrator) Speaker() *speaker.Speaker {
	return o.speaker
}

// Metrics returns turn counters and latencies.
func (o *Orchestrator) Metrics() Metrics {
	return o.metrics.snapshot()
}

// SubscribeTurns returns a feed of completed turns.
func (o *Orchestrator) SubscribeTurns() (<-chan Turn, func()) {
	return o.turns.Subscribe()
}

// HandleTranscript processes one finalized transcript.
func (o *Orchestrator) HandleTranscript(ctx context.Context, text string) Turn {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{Kind: KindIgnored, Level: o.Learner().Level()}
	}

	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	start := time.Now()
	learner := o.Learner()

	o.store.AddMessage(conversation.RoleUser, text)
	learner.AddHistory(progress.RoleUser, text)
	o.store.SetRecordingState(conversation.RecordingProcessing)
	defer o.store.SetRecordingState(conversation.RecordingIdle)

	turn := Turn{Input: text, Kind: KindPractice}
	if IsCommand(text) {
		turn.Kind = KindCommand
	}
	o.metrics.begin(turn.Kind)

	if turn.Kind == KindCommand {
		o.command(ctx, learner, &turn)
	} else {
		o.practice(ctx, learner, &turn)
	}

	turn.Level = learner.Level()
	if WantsReset(text) {
		o.learnerMu.Lock()
		o.learner = progress.New()
		o.learnerMu.Unlock()
		turn.Reset = true
		turn.Level = progress.Beginner
		o.logger.Info("learner context reset")
	}

	timings := o.metrics.done(turn.Reset)
	turn.Duration = time.Since(start)

	o.logger.Info("turn complete",
		"kind", turn.Kind,
		"command", turn.Command,
		"level", turn.Level,
		"spoken", turn.Spoken,
		"duration_ms", turn.Duration.Milliseconds(),
		"latency", timings.FormatLatency(),
	)
	o.turns.Publish(turn)
	return turn
}

func (o *Orchestrator) command(ctx context.Context, learner *progress.Tracker, turn *Turn) {
	c := contextFrom(learner, o.cfg.HistoryWindow)

	reply, err := inference.Generate(ctx, o.llm, commandPrompt(turn.Input, c),
		inference.WithSystem(tutorInstruction))
	o.metrics.markReply(err != nil)
	if err != nil {
		o.logger.Warn("command call failed, using fallback reply", "error", err)
		reply = FallbackCommandReply
	}

	switch turn.Command = sentinel(reply); turn.Command {
	case CommandRepeatLast:
		turn.Spoken = o.repeatLast(ctx)
	case CommandSpeakSlower:
		if o.speaker != nil {
			rate := o.speaker.SetRate(o.speaker.Rate() - o.cfg.RateStep)
			o.logger.Info("speaking rate lowered", "rate", rate)
		}
		turn.Spoken = o.repeatLast(ctx)
	default:
		turn.Reply = reply
		o.respond(ctx, learner, turn)
	}
}

func (o *Orchestrator) practice(ctx context.Context, learner *progress.Tracker, turn *Turn) {
	c := contextFrom(learner, o.cfg.HistoryWindow)

	fb, err := o.evaluate(ctx, turn.Input, c)
	o.metrics.markFeedback(err != nil)
	if err != nil {
		o.logger.Warn("feedback call failed, using local fallback", "error", err)
		fb = feedback.Fallback(turn.Input, learner)
	}

	scores := learner.Record(fb.Scores())
	level := learner.ClassifyLevel()
	if fb.Source == feedback.SourceRemote {
		for _, tip := range fb.PracticeTips {
			learner.RecordErrors(tip.FocusArea, tip.Title)
		}
	}
	o.store.SetFeedback(fb)
	turn.Feedback = fb

	o.logger.Debug("scored",
		"source", fb.Source,
		"grammar", scores.Grammar,
		"vocabulary", scores.Vocabulary,
		"pronunciation", scores.Pronunciation,
		"fluency", scores.Fluency,
		"level", level,
	)

	c = contextFrom(learner, o.cfg.HistoryWindow)
	reply, err := inference.Generate(ctx, o.llm, replyPrompt(turn.Input, c),
		inference.WithSystem(tutorInstruction),
		inference.WithRequestMaxTokens(replyMaxTokens))
	o.metrics.markReply(err != nil)
	if err != nil {
		o.logger.Warn("reply call failed, using fallback reply", "error", err)
		reply = FallbackReply
	}
	turn.Reply = reply
	o.respond(ctx, learner, turn)
}

func (o *Orchestrator) evaluate(ctx context.Context, input string, c learnerContext) (*feedback.Feedback, error) {
	raw, err := inference.Generate(ctx, o.llm, feedbackPrompt(input, c), inference.AsJSON())
	if err != nil {
		return nil, err
	}
	return feedback.Parse(raw)
}

// respond records the reply and speaks it.
func (o *Orchestrator) respond(ctx context.Context, learner *progress.Tracker, turn *Turn) {
	o.store.AddMessage(conversation.RoleAssistant, turn.Reply)
	learner.AddHistory(progress.RoleAssistant, turn.Reply)
	turn.Spoken = o.say(ctx, turn.Reply)
}

// RepeatLast speaks the last assistant message again. It reports whether
// anything was spoken.
func (o *Orchestrator) RepeatLast(ctx context.Context) bool {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()
	return o.repeatLast(ctx)
}

func (o *Orchestrator) repeatLast(ctx context.Context) bool {
	msg, ok := o.store.LastAssistant()
	if !ok {
		o.logger.Debug("nothing to repeat")
		return false
	}
	return o.say(ctx, msg.Content)
}

// say speaks text and mirrors the output state into the store. A missing
// or unavailable engine skips speech silently.
func (o *Orchestrator) say(ctx context.Context, text string) bool {
	spk := o.speaker
	if spk == nil || !spk.Available() {
		o.logger.Debug("speech output unavailable, skipping")
		return false
	}

	o.store.SetSpeakingState(conversation.SpeakingActive)
	onEnd := func() {
		// A superseded utterance ends while its successor is active.
		if spk.State() == speaker.StateIdle {
			o.store.SetSpeakingState(conversation.SpeakingIdle)
		}
	}
	if _, err := spk.Speak(ctx, text, nil, onEnd); err != nil {
		o.logger.Warn("speak failed", "error", err)
		o.store.SetSpeakingState(conversation.SpeakingIdle)
		return false
	}
	return true
}

// StopSpeaking cancels speech output.
func (o *Orchestrator) StopSpeaking() {
	if o.speaker != nil {
		o.speaker.Stop()
	}
	o.store.SetSpeakingState(conversation.SpeakingIdle)
}

// Clear empties the conversation and stops speech. Learner progress is kept.
func (o *Orchestrator) Clear() {
	o.store.Clear()
	o.StopSpeaking()
}

// Listen consumes capture events until ctx is done or events closes.
// Final transcripts run a turn on the listening goroutine.
func (o *Orchestrator) Listen(ctx context.Context, events <-chan capture.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.onCapture(ctx, ev)
		}
	}
}

func (o *Orchestrator) onCapture(ctx context.Context, ev capture.Event) {
	switch ev.Kind {
	case capture.EventStarted:
		o.store.ClearNotice()
		o.store.SetRecordingState(conversation.RecordingActive)

	case capture.EventInterim:
		o.store.SetTranscript(ev.Transcript)

	case capture.EventFinal:
		o.store.ClearNotice()
		o.HandleTranscript(ctx, ev.Transcript)

	case capture.EventRetrying:
		o.store.SetNotice(conversation.Notice{
			Code:      string(ev.Code),
			Message:   ev.Message,
			Transient: true,
		})

	case capture.EventFailed:
		o.store.SetNotice(conversation.Notice{
			Code:    string(ev.Code),
			Message: ev.Message,
		})
		o.store.SetRecordingState(conversation.RecordingIdle)

	case capture.EventStopped:
		if o.store.Snapshot().RecordingState == conversation.RecordingActive {
			o.store.SetRecordingState(conversation.RecordingIdle)
		}
	}
}

// Close ends turn subscriptions.
func (o *Orchestrator) Close() {
	o.turns.Close()
}
