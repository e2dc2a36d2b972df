package server

import (
	"bytes"
	"embed"
	"encoding/base64"
	"html/template"

	"github.com/gofiber/fiber/v2"
	"github.com/nvr-ai/go-xray/pipeline"
	"github.com/pkg/errors"
)

//go:embed templates/index.html
var templates embed.FS

// SourceURL links the dataset and training notebook the model came from.
const SourceURL = "https://github.com/Omkar2703/Pneumonia-X-ray-detection.git"

type pageData struct {
	Title       string
	Description string
	About       string
	SourceURL   string
	RequestID   string
	Error       string
	Result      *resultView
}

type resultView struct {
	Filename  string
	Preview   template.URL
	Title     string
	Color     string
	Advisory  string
	Score     float64
	Threshold float64
}

func newPageData(requestID string) pageData {
	return pageData{
		Title:       "Pneumonia X-ray Detection",
		Description: "Upload a chest X-ray image and get the result: Normal or Pneumonia.",
		About:       "A Pneumonia Detection app that uses a deep learning model trained on chest X-ray images to classify them as either Normal or Pneumonia.",
		SourceURL:   SourceURL,
		RequestID:   requestID,
	}
}

func newResultView(upload pipeline.UploadedImage, result *pipeline.Result) *resultView {
	display := result.Label.Display()
	mime := "image/png"
	if result.Format == "jpeg" {
		mime = "image/jpeg"
	}

	return &resultView{
		Filename: upload.Filename,
		// The bytes were decoded successfully, so the data URI is a real image.
		Preview:   template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(upload.Data)),
		Title:     display.Title,
		Color:     display.Color,
		Advisory:  display.Advisory,
		Score:     result.Score,
		Threshold: result.Threshold,
	}
}

func parsePage() (*template.Template, error) {
	page, err := template.ParseFS(templates, "templates/index.html")
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse page template")
	}
	return page, nil
}

func (s *Server) renderPage(c *fiber.Ctx, status int, data pageData) error {
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		return errors.Wrap(err, "failed to render page")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).Send(buf.Bytes())
}
