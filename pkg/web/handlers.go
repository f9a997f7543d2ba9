package web

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/speakfluent/pkg/protocol"
	"github.com/teslashibe/speakfluent/pkg/tutor"
)

// handleIndex renders the practice page.
func (s *Server) handleIndex(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Title":   "SpeakFluent",
		"Engine":  s.cfg.Engine(),
		"Lang":    s.cfg.Lang,
		"Version": s.cfg.Version,
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  s.cfg.Version,
		"llm":      s.llm.Name(),
		"engine":   s.cfg.Engine(),
		"sessions": s.manager.Count(),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

// handleMetrics exposes counters in Prometheus text format.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	var totals tutor.Metrics
	connected := 0
	for _, sess := range s.manager.Sessions() {
		m := sess.Tutor().Metrics()
		totals.Turns += m.Turns
		totals.PracticeTurns += m.PracticeTurns
		totals.CommandTurns += m.CommandTurns
		totals.FeedbackFallbacks += m.FeedbackFallbacks
		totals.ReplyFallbacks += m.ReplyFallbacks
		totals.Resets += m.Resets
		if sess.Connected() {
			connected++
		}
	}

	var b strings.Builder
	metric := func(name, help, kind string, value any) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("speakfluent_sessions", "Live sessions", "gauge", s.manager.Count())
	metric("speakfluent_sessions_connected", "Sessions with an attached page", "gauge", connected)
	metric("speakfluent_sessions_created_total", "Sessions created", "counter", s.manager.Created())
	metric("speakfluent_sessions_reaped_total", "Sessions reaped for idleness", "counter", s.manager.Reaped())
	metric("speakfluent_event_clients", "Connected event observers", "gauge", s.events.ClientCount())
	metric("speakfluent_socket_messages_received_total", "Page messages received", "counter", s.stats.MessagesReceived.Load())
	metric("speakfluent_socket_messages_sent_total", "Page messages sent", "counter", s.stats.MessagesSent.Load())
	metric("speakfluent_socket_errors_total", "Page messages rejected", "counter", s.stats.Errors.Load())

	b.WriteString("# HELP speakfluent_turns Turns handled by live sessions\n# TYPE speakfluent_turns gauge\n")
	fmt.Fprintf(&b, "speakfluent_turns{kind=\"practice\"} %d\n", totals.PracticeTurns)
	fmt.Fprintf(&b, "speakfluent_turns{kind=\"command\"} %d\n\n", totals.CommandTurns)
	b.WriteString("# HELP speakfluent_fallbacks Local fallbacks used by live sessions\n# TYPE speakfluent_fallbacks gauge\n")
	fmt.Fprintf(&b, "speakfluent_fallbacks{stage=\"feedback\"} %d\n", totals.FeedbackFallbacks)
	fmt.Fprintf(&b, "speakfluent_fallbacks{stage=\"reply\"} %d\n", totals.ReplyFallbacks)

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}

// withSession resolves :id into the request locals.
func (s *Server) withSession(h func(*fiber.Ctx, *Session) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := s.manager.Get(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		sess.Touch()
		return h(c, sess)
	}
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	sess := s.manager.Create()
	return c.Status(fiber.StatusCreated).JSON(sess.Info())
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	infos := s.manager.List()
	return c.JSON(fiber.Map{
		"sessions": infos,
		"count":    len(infos),
	})
}

func (s *Server) handleGetSession(c *fiber.Ctx, sess *Session) error {
	return c.JSON(sess.Detail())
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if err := s.manager.Remove(c.Params("id")); err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// TranscriptRequest is the body of a transcript submission.
type TranscriptRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTranscript(c *fiber.Ctx, sess *Session) error {
	var req TranscriptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	turn, err := sess.Transcript(c.UserContext(), req.Text)
	switch {
	case errors.Is(err, ErrEmptyTranscript):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSessionClosed):
		return fiber.NewError(fiber.StatusGone, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(turn)
}

func (s *Server) handleRepeat(c *fiber.Ctx, sess *Session) error {
	return c.JSON(fiber.Map{"repeated": sess.Tutor().RepeatLast(c.UserContext())})
}

func (s *Server) handleClear(c *fiber.Ctx, sess *Session) error {
	if err := sess.Command(protocol.ActionClear); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCaptureStart(c *fiber.Ctx, sess *Session) error {
	if err := sess.Command(protocol.ActionStartCapture); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleCaptureStop(c *fiber.Ctx, sess *Session) error {
	if err := sess.Command(protocol.ActionStopCapture); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleSpeechStop(c *fiber.Ctx, sess *Session) error {
	if err := sess.Command(protocol.ActionStopSpeaking); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleProgress(c *fiber.Ctx, sess *Session) error {
	return c.JSON(sess.Progress())
}
