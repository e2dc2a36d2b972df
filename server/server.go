// Package server - the fiber HTTP boundary: upload page, JSON API and health check.
package server

import (
	"html/template"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-xray/inference"
	"github.com/nvr-ai/go-xray/pipeline"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultBodyLimit caps uploads at 10 MiB.
const DefaultBodyLimit = 10 << 20

// MetricsSource exposes classifier counters on the health endpoint.
type MetricsSource interface {
	Metrics() inference.Metrics
}

// Option configures a Server.
type Option func(*Server) error

// Server wires the classification pipeline to HTTP routes.
type Server struct {
	app          *fiber.App
	pipeline     *pipeline.Pipeline
	log          *logrus.Logger
	metrics      MetricsSource
	modelName    string
	bodyLimit    int
	allowOrigins string
	page         *template.Template
	started      time.Time
}

// WithPipeline sets the pipeline serving every classification.
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(s *Server) error {
		s.pipeline = p
		return nil
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

// WithModelName sets the model identifier reported by /health.
func WithModelName(name string) Option {
	return func(s *Server) error {
		s.modelName = name
		return nil
	}
}

// WithMetrics reports classifier counters on /health.
func WithMetrics(m MetricsSource) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithBodyLimit caps the request body size in bytes.
func WithBodyLimit(limit int) Option {
	return func(s *Server) error {
		if limit <= 0 {
			return errors.Errorf("body limit must be positive, got %d", limit)
		}
		s.bodyLimit = limit
		return nil
	}
}

// WithAllowOrigins sets the CORS allowed origins, comma separated.
func WithAllowOrigins(origins string) Option {
	return func(s *Server) error {
		s.allowOrigins = origins
		return nil
	}
}

// New builds the fiber app and registers routes.
//
// Arguments:
//   - options: The server options. WithPipeline and WithLogger are required.
//
// Returns:
//   - *Server: A server ready to Listen.
//   - error: An error if a required option is missing or invalid.
func New(options ...Option) (*Server, error) {
	s := &Server{
		bodyLimit:    DefaultBodyLimit,
		allowOrigins: "*",
		modelName:    "pneumonia",
		started:      time.Now(),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, errors.Wrap(err, "failed to apply option")
		}
	}

	if s.pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if s.log == nil {
		return nil, errors.New("logger is required")
	}

	page, err := parsePage()
	if err != nil {
		return nil, err
	}
	s.page = page

	s.app = fiber.New(fiber.Config{
		AppName:               "Pneumonia X-ray Detection",
		BodyLimit:             s.bodyLimit,
		StrictRouting:         true,
		CaseSensitive:         true,
		DisableStartupMessage: true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
		ErrorHandler:          s.handleFiberError,
	})

	s.app.Use(recover.New())
	s.app.Use(NewRequestIDMiddleware())
	s.app.Use(NewLoggingMiddleware(s.log))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.allowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type," + RequestIDHeader,
	}))

	s.routes()

	return s, nil
}

func (s *Server) routes() {
	s.app.Get("/", s.Index)
	s.app.Post("/predict", s.Predict)
	s.app.Get("/health", s.Health)

	api := s.app.Group("/api/v1")
	api.Post("/classify", s.Classify)
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.WithField("addr", addr).Info("Server listening")
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
