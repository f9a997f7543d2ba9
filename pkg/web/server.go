// Package web serves the practice page, the session REST API and the
// session and event sockets.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"
	eventsws "github.com/gofiber/websocket/v2"

	"github.com/teslashibe/speakfluent/pkg/browser"
	"github.com/teslashibe/speakfluent/pkg/capture"
	"github.com/teslashibe/speakfluent/pkg/conversation"
	"github.com/teslashibe/speakfluent/pkg/hub"
	"github.com/teslashibe/speakfluent/pkg/inference"
	"github.com/teslashibe/speakfluent/pkg/speaker"
	"github.com/teslashibe/speakfluent/pkg/tts"
	"github.com/teslashibe/speakfluent/pkg/tutor"
)

//go:embed views/*.html
var views embed.FS

// Engine names reported to the page.
const (
	EngineBrowser = "browser"
	EngineTTS     = "tts"
)

// Config holds server configuration.
type Config struct {
	Port    int
	Debug   bool
	Version string

	// SessionTTL is how long a session without a page survives.
	SessionTTL time.Duration

	// Lang is the recognition and synthesis language.
	Lang string
	Rate float64

	// TTS synthesizes replies on the server. Nil uses browser synthesis.
	TTS tts.Provider

	Capture []capture.Option
	Logger  *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithPort sets the listen port.
func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

// WithDebug enables request logging.
func WithDebug(debug bool) Option {
	return func(c *Config) { c.Debug = debug }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(c *Config) { c.Version = v }
}

// WithSessionTTL sets the idle session lifetime.
func WithSessionTTL(d time.Duration) Option {
	return func(c *Config) { c.SessionTTL = d }
}

// WithSpeech sets the speech language and initial speaking rate.
func WithSpeech(lang string, rate float64) Option {
	return func(c *Config) {
		c.Lang = lang
		c.Rate = rate
	}
}

// WithTTS enables server-side synthesis.
func WithTTS(p tts.Provider) Option {
	return func(c *Config) { c.TTS = p }
}

// WithCapture sets capture adapter options for new sessions.
func WithCapture(opts ...capture.Option) Option {
	return func(c *Config) { c.Capture = opts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:       8080,
		Version:    "dev",
		SessionTTL: 30 * time.Minute,
		Lang:       "en-US",
		Rate:       speaker.DefaultRate,
		Logger:     slog.Default(),
	}
}

// Engine returns the speech output engine name.
func (c *Config) Engine() string {
	if c.TTS != nil {
		return EngineTTS
	}
	return EngineBrowser
}

// Stats counts socket traffic.
type Stats struct {
	MessagesReceived atomic.Uint64
	MessagesSent     atomic.Uint64
	Errors           atomic.Uint64
}

// Server is the practice web server.
type Server struct {
	app     *fiber.App
	cfg     *Config
	llm     inference.Provider
	manager *Manager
	events  *hub.Hub
	logger  *slog.Logger
	stats   Stats
	started time.Time

	cancel context.CancelFunc
}

// NewServer creates the server and starts its event hub and session
// reaper. Call Shutdown to stop them.
func NewServer(llm inference.Provider, opts ...Option) (*Server, error) {
	if llm == nil {
		return nil, errors.New("web: language model provider required")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}

	sub, err := fs.Sub(views, "views")
	if err != nil {
		return nil, fmt.Errorf("web: views: %w", err)
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("web: load views: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		llm:     llm,
		logger:  cfg.Logger.With("component", "web.server"),
		events:  hub.New("events", cfg.Logger),
		started: time.Now(),
	}
	s.manager = NewManager(s.newSession, cfg.SessionTTL, cfg.Logger)

	app := fiber.New(fiber.Config{
		AppName:               "speakfluent",
		DisableStartupMessage: true,
		Views:                 engine,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/", s.handleIndex)
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	sessions := api.Group("/sessions")
	sessions.Post("/", s.handleCreateSession)
	sessions.Get("/", s.handleListSessions)
	sessions.Get("/:id", s.withSession(s.handleGetSession))
	sessions.Delete("/:id", s.handleDeleteSession)
	sessions.Post("/:id/transcript", s.withSession(s.handleTranscript))
	sessions.Post("/:id/repeat", s.withSession(s.handleRepeat))
	sessions.Post("/:id/clear", s.withSession(s.handleClear))
	sessions.Post("/:id/capture/start", s.withSession(s.handleCaptureStart))
	sessions.Post("/:id/capture/stop", s.withSession(s.handleCaptureStop))
	sessions.Post("/:id/speech/stop", s.withSession(s.handleSpeechStop))
	sessions.Get("/:id/progress", s.withSession(s.handleProgress))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/session", websocket.New(s.handleSessionSocket))
	app.Get("/ws/session/:id", websocket.New(s.handleSessionSocket))
	app.Get("/ws/events", eventsws.New(func(c *eventsws.Conn) {
		hub.Serve(s.events, c)
	}))

	s.app = app

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.events.Run(ctx)
	go s.manager.Run(ctx)

	return s, nil
}

// newSession wires one session's relays, adapters and orchestrator.
func (s *Server) newSession(id string) *Session {
	logger := s.cfg.Logger.With("session", id)

	link := browser.NewLink()
	recognizer := browser.NewRecognizer(link, browser.WithLang(s.cfg.Lang), browser.WithLogger(logger))

	var synth synthRelay
	if s.cfg.TTS != nil {
		synth = browser.NewAudioSynthesizer(link, s.cfg.TTS, browser.WithLogger(logger))
	} else {
		synth = browser.NewSynthesizer(link, browser.WithLogger(logger))
	}

	spk := speaker.New(synth,
		speaker.WithLang(s.cfg.Lang),
		speaker.WithVoicePrefix(voicePrefix(s.cfg.Lang)),
		speaker.WithRate(s.cfg.Rate),
		speaker.WithLogger(logger),
	)
	adapter := capture.New(recognizer, append(append([]capture.Option(nil), s.cfg.Capture...), capture.WithLogger(logger))...)
	store := conversation.New(conversation.WithLogger(logger))
	orch := tutor.New(store, s.llm, spk, tutor.WithLogger(logger))

	return newSession(id, sessionParts{
		link:       link,
		recognizer: recognizer,
		synth:      synth,
		capture:    adapter,
		speaker:    spk,
		store:      store,
		tutor:      orch,
		events:     s.events,
		engine:     s.cfg.Engine(),
		logger:     s.cfg.Logger,
	})
}

// voicePrefix turns "en-US" into "en-".
func voicePrefix(lang string) string {
	base, _, _ := strings.Cut(lang, "-")
	return strings.ToLower(base) + "-"
}

// App returns the fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Manager returns the session manager.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Events returns the broadcast hub.
func (s *Server) Events() *hub.Hub {
	return s.events
}

// Start listens on the configured port. It blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("listening",
		"addr", addr,
		"engine", s.cfg.Engine(),
		"llm", s.llm.Name(),
	)
	return s.app.Listen(addr)
}

// Shutdown stops the listener, closes every session and stops the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.manager.Close()
	s.cancel()
	return err
}

// errorHandler renders errors as JSON.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
