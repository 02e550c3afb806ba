// Package web serves the voice proxy API: transcription, chat, synthesis and
// cached audio under /api/voice, plus health, request logs and metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/maddoxdev/askmaddox/pkg/audiocache"
	"github.com/maddoxdev/askmaddox/pkg/chat"
	"github.com/maddoxdev/askmaddox/pkg/hub"
	"github.com/maddoxdev/askmaddox/pkg/stt"
	"github.com/maddoxdev/askmaddox/pkg/tts"
)

// Limits for uploaded audio.
const (
	MaxAudioBytes = 5 << 20
	MinAudioBytes = 1000
)

// AudioRoute is the public path prefix of cached audio.
const AudioRoute = "/api/voice/audio/"

// Config holds HTTP server settings.
type Config struct {
	Port        string
	CORSOrigins []string

	// StaticDir, when set, is served at / with index.html as the SPA fallback.
	StaticDir string

	// DefaultVoiceID is used when a synthesis request names no voice.
	DefaultVoiceID string

	Logger *slog.Logger
}

// Deps are the provider clients used by the voice routes. A nil provider
// means it is not configured and its route reports that per request.
type Deps struct {
	Transcriber stt.Transcriber
	Completer   chat.Completer
	Synthesizer tts.Provider
	Cache       *audiocache.Cache
}

// Server is the voice proxy HTTP server.
type Server struct {
	app     *fiber.App
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	logs    *LogBuffer
	logHub  *hub.Hub
	metrics *Metrics

	cancel context.CancelFunc
}

// NewServer wires routes and middleware. The cache is required.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Cache == nil {
		return nil, errors.New("web: audio cache required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "web")

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		logs:    NewLogBuffer(500),
		logHub:  hub.New("logs", cfg.Logger),
		metrics: NewMetrics(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "askmaddox",
		DisableStartupMessage: true,
		BodyLimit:             MaxAudioBytes + 1<<20,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ErrorHandler:          s.handleError,
		ReadTimeout:           60 * time.Second,
	})

	app.Use(requestID())
	app.Use(s.corsMiddleware())
	app.Use(s.requestLog())
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/logs", s.handleGetLogs)

	voice := api.Group("/voice")
	voice.Post("/transcribe", s.handleTranscribe)
	voice.Post("/chat", s.handleChat)
	voice.Post("/synthesize", s.handleSynthesize)
	voice.Get("/audio/:filename", s.handleAudio)

	// Legacy endpoints kept for older clients.
	api.Post("/maddox-query", func(c *fiber.Ctx) error {
		return c.Redirect("/api/voice/synthesize", fiber.StatusTemporaryRedirect)
	})
	api.Get("/audio/:filename", func(c *fiber.Ctx) error {
		return c.Redirect(AudioRoute+c.Params("filename"), fiber.StatusTemporaryRedirect)
	})

	app.Get("/metrics", s.metrics.Handler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	if cfg.StaticDir != "" {
		s.mountStatic(app, cfg.StaticDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.logHub.Run(ctx)

	s.app = app
	return s, nil
}

func (s *Server) corsMiddleware() fiber.Handler {
	origins := s.cfg.CORSOrigins
	wildcard := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}
	if wildcard {
		return cors.New(cors.Config{AllowOrigins: "*"})
	}
	return cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowCredentials: true,
		ExposeHeaders:    "Content-Type, Content-Length, Content-Range",
	})
}

func (s *Server) mountStatic(app *fiber.App, dir string) {
	app.Static("/", dir)
	index := filepath.Join(dir, "index.html")
	app.Get("/*", func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/api/") || strings.HasPrefix(c.Path(), "/ws/") {
			return fiber.ErrNotFound
		}
		if _, err := os.Stat(index); err != nil {
			return fiber.ErrNotFound
		}
		return c.SendFile(index)
	})
}

// App returns the underlying fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Logs returns the request log buffer.
func (s *Server) Logs() *LogBuffer {
	return s.logs
}

// Start blocks serving on the configured port.
func (s *Server) Start() error {
	s.logger.Info("listening", "port", s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// Shutdown stops the log feed and waits for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.app.ShutdownWithContext(ctx)
}

// handleError renders unhandled errors in the API's JSON shape.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= 500 {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
	})
}
