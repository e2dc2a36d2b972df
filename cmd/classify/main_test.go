package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvr-ai/go-xray/inference"
	"github.com/nvr-ai/go-xray/pipeline"
	"github.com/nvr-ai/go-xray/preprocess"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestClassifyAllContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 32))))
	good := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(good, buf.Bytes(), 0o600))
	broken := filepath.Join(dir, "b.jpg")
	require.NoError(t, os.WriteFile(broken, []byte("garbage"), 0o600))
	missing := filepath.Join(dir, "c.png")

	pre, err := preprocess.NewPreprocessor(preprocess.DefaultModelConfig())
	require.NoError(t, err)
	clf := inference.ClassifierFunc(func(context.Context, *tensor.Dense) (float64, error) { return 0.75, nil })
	p, err := pipeline.New(pre, clf)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var out bytes.Buffer
	failed := classifyAll(context.Background(), p, []string{good, broken, missing}, &out, logger)
	assert.Equal(t, 2, failed)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, good+"\tpneumonia_detected\t0.7500", lines[0])
	assert.Equal(t, broken+"\terror\tDECODE_ERROR", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], missing+"\terror\t"))
}
