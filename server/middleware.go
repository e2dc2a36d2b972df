package server

import (
	"crypto/rand"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nvr-ai/go-xray/logging"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// NewRequestIDMiddleware reuses the caller's X-Request-ID or mints a ULID.
func NewRequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID = newRequestID(time.Now())
		}

		c.Locals(logging.RequestIDKey, requestID)
		c.Set(RequestIDHeader, requestID)

		return c.Next()
	}
}

func newRequestID(t time.Time) string {
	id, err := ulid.New(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "unknown"
	}
	return id.String()
}

// RequestID returns the id assigned by NewRequestIDMiddleware.
func RequestID(c *fiber.Ctx) string {
	requestID, ok := c.Locals(logging.RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

// NewLoggingMiddleware logs one line per request with its outcome.
func NewLoggingMiddleware(log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			// Let the error handler set the final status before logging.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}

		status := c.Response().StatusCode()
		fields := logging.Fields{
			logging.RequestIDKey: RequestID(c),
			"method":             c.Method(),
			"path":               c.Path(),
			"status":             status,
			"latency_ms":         time.Since(start).Milliseconds(),
			"ip":                 c.IP(),
			"user_agent":         c.Get(fiber.HeaderUserAgent),
			"response_size":      len(c.Response().Body()),
		}

		entry := log.WithFields(fields)
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Error("Server error")
		case status >= fiber.StatusBadRequest:
			entry.Warn("Client error")
		default:
			entry.Info("Success")
		}

		return nil
	}
}
