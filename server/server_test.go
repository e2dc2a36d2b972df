package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-xray/inference"
	"github.com/nvr-ai/go-xray/pipeline"
	"github.com/nvr-ai/go-xray/preprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

type fixedMetrics struct{}

func (fixedMetrics) Metrics() inference.Metrics {
	return inference.Metrics{InferenceCount: 4, TotalTime: 8 * time.Millisecond, AverageTime: 2 * time.Millisecond}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, score float64, predictErr error, opts ...Option) *Server {
	t.Helper()

	pre, err := preprocess.NewPreprocessor(preprocess.DefaultModelConfig())
	require.NoError(t, err)

	clf := inference.ClassifierFunc(func(_ context.Context, _ *tensor.Dense) (float64, error) {
		return score, predictErr
	})
	p, err := pipeline.New(pre, clf, pipeline.WithLogger(quietLogger()))
	require.NoError(t, err)

	srv, err := New(append([]Option{WithPipeline(p), WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return srv
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	img.SetGray(0, 0, color.Gray{Y: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, w.WriteField("note", "no file"))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewRequiresPipelineAndLogger(t *testing.T) {
	_, err := New(WithLogger(quietLogger()))
	assert.Error(t, err)

	_, err = New()
	assert.Error(t, err)

	_, err = New(WithBodyLimit(0))
	assert.Error(t, err)
}

func TestClassifyJSON(t *testing.T) {
	srv := newTestServer(t, 0.91, nil)

	req := uploadRequest(t, "/api/v1/classify", UploadField, "chest.png", pngBytes(t))
	req.Header.Set(RequestIDHeader, "req-42")

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get(RequestIDHeader))

	body := decode[ClassifyResponse](t, resp)
	assert.Equal(t, "pneumonia_detected", body.Label)
	assert.Equal(t, "Pneumonia Detected ❌", body.Display)
	assert.Equal(t, "red", body.Color)
	assert.Equal(t, 0.91, body.Score)
	assert.Equal(t, 0.5, body.Threshold)
	assert.Equal(t, "req-42", body.RequestID)
}

func TestClassifyJSONNormal(t *testing.T) {
	srv := newTestServer(t, 0.5, nil)

	resp, err := srv.App().Test(uploadRequest(t, "/api/v1/classify", UploadField, "scan.PNG", pngBytes(t)), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode[ClassifyResponse](t, resp)
	assert.Equal(t, "normal", body.Label)
	assert.Equal(t, "No signs of pneumonia detected. Your lungs appear normal!", body.Advisory)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestClassifyErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		predictErr error
		field      string
		filename   string
		data       []byte
		wantStatus int
		wantCode   string
	}{
		{"unsupported extension", nil, UploadField, "scan.gif", []byte("GIF89a"), fiber.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT"},
		{"no extension", nil, UploadField, "scan", []byte("data"), fiber.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT"},
		{"malformed bytes", nil, UploadField, "scan.jpg", []byte("not really a jpeg"), fiber.StatusBadRequest, "DECODE_ERROR"},
		{"classifier failure", errors.New("session run failed"), UploadField, "scan.png", nil, fiber.StatusInternalServerError, "INFERENCE_ERROR"},
		{"missing file", nil, "", "", nil, fiber.StatusBadRequest, CodeMissingFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, 0.3, tt.predictErr)
			data := tt.data
			if data == nil && tt.field != "" {
				data = pngBytes(t)
			}

			resp, err := srv.App().Test(uploadRequest(t, "/api/v1/classify", tt.field, tt.filename, data), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, resp.Header.Get(RequestIDHeader), body.RequestID)
		})
	}
}

func TestPredictRendersResult(t *testing.T) {
	srv := newTestServer(t, 0.8, nil)

	resp, err := srv.App().Test(uploadRequest(t, "/predict", UploadField, "lungs.png", pngBytes(t)), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/html")

	html, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "Pneumonia Detected ❌")
	assert.Contains(t, page, `class="red"`)
	assert.Contains(t, page, "consult a medical professional")
	assert.Contains(t, page, "data:image/png;base64,")
	assert.Contains(t, page, "lungs.png")
}

func TestPredictRendersError(t *testing.T) {
	srv := newTestServer(t, 0.8, nil)

	resp, err := srv.App().Test(uploadRequest(t, "/predict", UploadField, "lungs.bmp", []byte("BM")), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	html, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(html), "unsupported file type")
	assert.NotContains(t, string(html), `class="result"`)
}

func TestIndex(t *testing.T) {
	srv := newTestServer(t, 0, nil)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	html, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "Pneumonia X-ray Detection")
	assert.Contains(t, page, "Upload a chest X-ray image and get the result: Normal or Pneumonia.")
	assert.Contains(t, page, SourceURL)
	assert.Contains(t, page, `name="image"`)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 0, nil, WithModelName("pneumonia-v1"), WithMetrics(fixedMetrics{}))

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode[HealthResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "pneumonia-v1", body.Model)
	require.NotNil(t, body.Inference)
	assert.Equal(t, int64(4), body.Inference.Count)
	assert.InDelta(t, 2.0, body.Inference.AverageMS, 1e-9)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, 0, nil)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/nope", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "HTTP_ERROR", body.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, 0, nil, WithAllowOrigins("https://clinic.example"))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/classify", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://clinic.example")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, http.MethodPost)

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://clinic.example", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}

func TestMapError(t *testing.T) {
	status, code, _ := mapError(&pipeline.Error{Kind: pipeline.KindDecode, Err: preprocess.ErrDecode})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "DECODE_ERROR", code)

	status, code, _ = mapError(errors.New("unexpected"))
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
}
