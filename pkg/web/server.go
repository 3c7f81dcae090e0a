// Package web serves the practice conversation to browsers. Each learner
// connects over /ws/session and gets a conversation.Session of their own.
// Supervisors watch every session live over /ws/monitor.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	contribws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-esol/pkg/conversation"
	"github.com/teslashibe/go-esol/pkg/events"
	"github.com/teslashibe/go-esol/pkg/hub"
	"github.com/teslashibe/go-esol/pkg/metrics"
	"github.com/teslashibe/go-esol/pkg/realtime"
	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/topic"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// Version is reported by /health.
var Version = "dev"

// EventPublisher receives completed sessions. *events.Publisher satisfies it.
type EventPublisher interface {
	PublishSessionCompleted(ctx context.Context, ev events.SessionCompleted) error
}

// DocsExporter writes reports to Google Docs. *export.Exporter satisfies it.
type DocsExporter interface {
	IsAuthenticated() bool
	AuthURL() string
	HandleCallback(ctx context.Context, state, code string) error
	ExportReport(ctx context.Context, title string, turns []transcript.Turn, rep *report.Report) (string, error)
}

// Config holds the server's collaborators.
type Config struct {
	Catalog  *topic.Catalog
	Reporter report.Generator

	// Realtime is the channel template for every session.
	Realtime realtime.Config

	// Opener overrides how channels are opened.
	Opener conversation.Opener

	GraceDelay    time.Duration
	ReportTimeout time.Duration

	// WebRTC enables offer handling on /ws/session.
	WebRTC  bool
	STUNURL string

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Publisher and Exporter are optional.
	Publisher EventPublisher
	Exporter  DocsExporter

	// LogHTTP enables the request logger middleware.
	LogHTTP bool

	Logger *slog.Logger
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg    Config
	app    *fiber.App
	hub    *hub.Hub
	logger *slog.Logger

	cancel context.CancelFunc
	ctx    context.Context

	mu        sync.RWMutex
	completed map[string]*completedSession
	order     []string
	conns     sync.WaitGroup
}

// completedSession is kept so a finished report can be exported later.
type completedSession struct {
	ID         string
	Topic      topic.Topic
	StartedAt  time.Time
	Transcript []transcript.Turn
	Report     *report.Report
}

// maxCompleted bounds the sessions kept for export.
const maxCompleted = 200

// NewServer builds the fiber app and its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("web: topic catalog is required")
	}
	if cfg.Reporter == nil {
		return nil, errors.New("web: reporter is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		reg := prometheus.NewRegistry()
		cfg.Metrics = metrics.New(reg)
		if cfg.Gatherer == nil {
			cfg.Gatherer = reg
		}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	logger := cfg.Logger.With("component", "web")
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:       cfg,
		hub:       hub.New("monitor", cfg.Logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		completed: make(map[string]*completedSession),
	}
	go s.hub.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:               "esol-partner",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if cfg.LogHTTP {
		app.Use(fiberlogger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api")
	api.Get("/topics", s.handleListTopics)
	api.Get("/topics/:id", s.handleGetTopic)
	api.Get("/sessions", s.handleListSessions)
	api.Post("/assess", s.handleAssess)
	api.Post("/sessions/:id/export", s.handleExport)
	api.Get("/docs/auth", s.handleDocsAuth)
	api.Get("/docs/callback", s.handleDocsCallback)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/session", contribws.New(s.handleSessionWS))
	app.Get("/ws/monitor", websocket.New(s.handleMonitorWS))

	s.app = app
	return s, nil
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the monitor hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections, closes every session and stops the
// hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.app.ShutdownWithContext(ctx)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) remember(cs *completedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.completed[cs.ID]; !ok {
		s.order = append(s.order, cs.ID)
	}
	s.completed[cs.ID] = cs
	for len(s.order) > maxCompleted {
		delete(s.completed, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) lookup(id string) (*completedSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.completed[id]
	return cs, ok
}
