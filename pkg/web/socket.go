package web

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"

	"github.com/teslashibe/speakfluent/pkg/protocol"
)

const (
	// socketWriteWait bounds a single write to the page.
	socketWriteWait = 10 * time.Second

	// maxPageMessage is the largest frame accepted from the page.
	maxPageMessage = 64 * 1024

	// Inbound message budget per socket. Interim recognition results
	// arrive several times a second; anything far beyond that is a
	// misbehaving page.
	pageRate  = 30
	pageBurst = 60
)

// pageConn is a page socket. Writes are serialized.
type pageConn struct {
	conn  *websocket.Conn
	stats *Stats

	mu sync.Mutex
}

// Send writes msg to the page.
func (p *pageConn) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	p.stats.MessagesSent.Add(1)
	return nil
}

func (p *pageConn) sendError(code string, err error) {
	p.stats.Errors.Add(1)
	msg, mErr := protocol.NewErrorMessage(code, err.Error())
	if mErr != nil {
		return
	}
	p.Send(msg)
}

// handleSessionSocket attaches a page to a session, creating the session
// when the id is empty or unknown, and relays page events until the socket
// closes.
func (s *Server) handleSessionSocket(c *websocket.Conn) {
	sess, created := s.manager.GetOrCreate(c.Params("id"))
	logger := s.logger.With("session", sess.ID)

	page := &pageConn{conn: c, stats: &s.stats}
	detach := sess.Attach(page)
	defer detach()

	logger.Info("page connected", "created", created, "remote", c.RemoteAddr().String())
	sess.Greet()

	c.SetReadLimit(maxPageMessage)
	limiter := rate.NewLimiter(rate.Limit(pageRate), pageBurst)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("page read error", "error", err)
			}
			logger.Info("page disconnected")
			return
		}
		s.stats.MessagesReceived.Add(1)

		if !limiter.Allow() {
			page.sendError("rate_limited", errors.New("too many messages"))
			continue
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			page.sendError("bad_request", err)
			continue
		}

		logger.Debug("page message", "type", msg.Type)

		reply, err := sess.Handle(msg)
		if err != nil {
			page.sendError(errorCode(err), err)
			continue
		}
		if reply != nil {
			if err := page.Send(reply); err != nil {
				logger.Debug("reply failed", "error", err)
			}
		}
	}
}

// errorCode classifies a handling error for the page.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrUnknownAction), errors.Is(err, ErrEmptyTranscript):
		return "bad_request"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	default:
		return "failed"
	}
}
