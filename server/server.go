package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mrsingh-rishi/atlas-server/call"
	"github.com/mrsingh-rishi/atlas-server/config"
	"github.com/mrsingh-rishi/atlas-server/metrics"
	"github.com/mrsingh-rishi/atlas-server/output"
	"github.com/mrsingh-rishi/atlas-server/pipeline"
	"github.com/mrsingh-rishi/atlas-server/types"
)

const (
	welcome      = "Welcome to the ATLAS server!"
	requestIDKey = "requestid"
)

// Server is the HTTP surface in front of the pipeline.
type Server struct {
	app      *fiber.App
	cfg      config.ServerConfig
	pipeline call.Runner
	sender   *output.Sender
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New wires routes and middleware. m may be nil to disable /metrics.
func New(cfg config.ServerConfig, runner call.Runner, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: runner,
		sender:   output.NewSender(cfg.ResponseFormat, cfg.DetailedStatusCodes),
		metrics:  m,
		logger:   logger,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "atlas",
		BodyLimit:             cfg.MaxUploadBytes,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{ContextKey: requestIDKey}))
	s.app.Use(s.logRequests)

	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(welcome)
	})
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(types.HealthResponse{Status: "ok"})
	})
	s.app.Post("/upload", s.upload)

	// Middleware to require WebSocket upgrade on /ws
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.stream))

	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf(":%s", s.cfg.Port)
	s.logger.Info().Str("addr", addr).Msg("server listening")
	return s.app.Listen(addr)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) upload(c *fiber.Ctx) error {
	start := time.Now()
	logger := s.requestLogger(c)
	ctx := logger.WithContext(c.UserContext())

	audio, err := readAudio(c)
	if err != nil {
		return s.fail(c, logger, err, start)
	}
	logger.Info().Int("bytes", len(audio)).Msg("audio received")

	result, err := s.pipeline.Run(ctx, audio)
	if err != nil {
		return s.fail(c, logger, err, start)
	}

	s.metrics.ObserveRequest("http", "success", time.Since(start))
	logger.Info().Int("audio_bytes", len(result.Audio)).Dur("elapsed", time.Since(start)).Msg("pipeline complete")
	return s.sender.Send(c, result)
}

func (s *Server) fail(c *fiber.Ctx, logger zerolog.Logger, err error, start time.Time) error {
	pe := pipeline.AsError(err)
	s.metrics.ObserveRequest("http", pe.Kind.String(), time.Since(start))
	logger.Error().
		Err(err).
		Str("kind", pe.Kind.String()).
		Bool("timeout", pe.Timeout()).
		Bool("unauthorized", pe.Unauthorized()).
		Msg("error processing request")
	return s.sender.SendError(c, err)
}

func (s *Server) stream(conn *websocket.Conn) {
	logger := s.logger.With().Str("transport", "websocket").Logger()
	if id, ok := conn.Locals(requestIDKey).(string); ok {
		logger = logger.With().Str("request_id", id).Logger()
	}

	jsonReplies := s.cfg.ResponseFormat == config.FormatJSON
	switch conn.Query("format") {
	case config.FormatJSON:
		jsonReplies = true
	case config.FormatAudio:
		jsonReplies = false
	}

	session, err := call.NewSession(conn, s.pipeline, s.cfg.MaxUploadBytes, jsonReplies, s.metrics, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start websocket session")
		return
	}
	session.Serve(context.Background())
}

// handleError turns errors that escape handlers into the same JSON shape
// the upload route uses.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code == fiber.StatusRequestEntityTooLarge {
			return s.sender.SendError(c, pipeline.NewInputError(fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes)))
		}
		return c.Status(fe.Code).JSON(types.ErrorResponse{Error: fe.Message})
	}
	s.logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	return s.sender.SendError(c, err)
}

func (s *Server) requestLogger(c *fiber.Ctx) zerolog.Logger {
	id, _ := c.Locals(requestIDKey).(string)
	return s.logger.With().Str("request_id", id).Logger()
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	logger := s.requestLogger(c)
	logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("request")
	return err
}
