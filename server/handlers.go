package server

import (
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nvr-ai/go-xray/logging"
	"github.com/nvr-ai/go-xray/pipeline"
	"github.com/pkg/errors"
)

// UploadField is the multipart field carrying the image.
const UploadField = "image"

// CodeMissingFile marks a request without an image part.
const CodeMissingFile = "MISSING_FILE"

// ClassifyResponse is the JSON body of a successful classification.
type ClassifyResponse struct {
	Label     string  `json:"label"`
	Display   string  `json:"display"`
	Color     string  `json:"color"`
	Advisory  string  `json:"advisory"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	ElapsedMS int64   `json:"elapsed_ms"`
	RequestID string  `json:"request_id"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is the JSON body of /health.
type HealthResponse struct {
	Status    string             `json:"status"`
	Model     string             `json:"model"`
	Threshold float64            `json:"threshold"`
	Uptime    string             `json:"uptime"`
	Inference *inferenceCounters `json:"inference,omitempty"`
}

type inferenceCounters struct {
	Count     int64   `json:"count"`
	AverageMS float64 `json:"average_ms"`
}

var errMissingFile = errors.New("no image uploaded; send a jpg, jpeg or png file in the \"image\" field")

// Index renders the upload page.
func (s *Server) Index(c *fiber.Ctx) error {
	return s.renderPage(c, fiber.StatusOK, newPageData(RequestID(c)))
}

// Predict classifies a form upload and renders the page with the outcome.
func (s *Server) Predict(c *fiber.Ctx) error {
	data := newPageData(RequestID(c))

	upload, err := readUpload(c)
	if err != nil {
		status, body := s.errorBody(c, err, "predict")
		data.Error = body.Error
		return s.renderPage(c, status, data)
	}

	result, err := s.pipeline.Classify(c.UserContext(), upload)
	if err != nil {
		status, body := s.errorBody(c, err, "predict")
		data.Error = body.Error
		return s.renderPage(c, status, data)
	}

	data.Result = newResultView(upload, result)
	return s.renderPage(c, fiber.StatusOK, data)
}

// Classify classifies an upload and responds with JSON.
func (s *Server) Classify(c *fiber.Ctx) error {
	start := time.Now()

	upload, err := readUpload(c)
	if err != nil {
		status, body := s.errorBody(c, err, "classify")
		return c.Status(status).JSON(body)
	}

	result, err := s.pipeline.Classify(c.UserContext(), upload)
	if err != nil {
		status, body := s.errorBody(c, err, "classify")
		return c.Status(status).JSON(body)
	}

	display := result.Label.Display()
	return c.JSON(ClassifyResponse{
		Label:     result.Label.String(),
		Display:   display.Title,
		Color:     display.Color,
		Advisory:  display.Advisory,
		Score:     result.Score,
		Threshold: result.Threshold,
		ElapsedMS: time.Since(start).Milliseconds(),
		RequestID: RequestID(c),
	})
}

// Health reports liveness and the loaded model.
func (s *Server) Health(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:    "ok",
		Model:     s.modelName,
		Threshold: s.pipeline.Threshold(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.metrics != nil {
		m := s.metrics.Metrics()
		resp.Inference = &inferenceCounters{
			Count:     m.InferenceCount,
			AverageMS: float64(m.AverageTime.Microseconds()) / 1000,
		}
	}
	return c.JSON(resp)
}

func readUpload(c *fiber.Ctx) (pipeline.UploadedImage, error) {
	header, err := c.FormFile(UploadField)
	if err != nil {
		return pipeline.UploadedImage{}, errMissingFile
	}

	data, err := readFileHeader(header)
	if err != nil {
		return pipeline.UploadedImage{}, errors.Wrap(errMissingFile, err.Error())
	}

	return pipeline.UploadedImage{
		Filename: header.Filename,
		Format:   strings.TrimPrefix(filepath.Ext(header.Filename), "."),
		Data:     data,
	}, nil
}

func readFileHeader(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// errorBody maps an error to a status and logs it with the request id.
func (s *Server) errorBody(c *fiber.Ctx, err error, operation string) (int, ErrorResponse) {
	requestID := RequestID(c)
	status, code, message := mapError(err)

	fields := logging.Fields{
		logging.RequestIDKey: requestID,
		"error":              err.Error(),
		"code":               code,
		"path":               c.Path(),
		"operation":          operation,
	}
	if status >= fiber.StatusInternalServerError {
		logging.ErrorWithTraceID(s.log, fields, "Classification failed")
	} else {
		s.log.WithFields(fields).Warn("Upload rejected")
	}

	return status, ErrorResponse{Error: message, Code: code, RequestID: requestID}
}

func mapError(err error) (status int, code, message string) {
	if errors.Is(err, errMissingFile) {
		return fiber.StatusBadRequest, CodeMissingFile, errMissingFile.Error()
	}

	switch kind := pipeline.KindOf(err); kind {
	case pipeline.KindUnsupportedFormat:
		return fiber.StatusUnsupportedMediaType, kind.Code(), "unsupported file type; upload a jpg, jpeg or png image"
	case pipeline.KindDecode:
		return fiber.StatusBadRequest, kind.Code(), "the uploaded file could not be decoded as an image"
	case pipeline.KindInference:
		return fiber.StatusInternalServerError, kind.Code(), "the classifier failed to process the image"
	}

	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return ferr.Code, "HTTP_ERROR", ferr.Message
	}
	return fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
}

// handleFiberError renders errors that escape handlers, such as unknown
// routes and oversized bodies, in the API error shape.
func (s *Server) handleFiberError(c *fiber.Ctx, err error) error {
	status, code, message := mapError(err)
	return c.Status(status).JSON(ErrorResponse{Error: message, Code: code, RequestID: RequestID(c)})
}
