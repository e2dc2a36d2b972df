package preprocess

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func uniformRGB(width, height int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func newTestPreprocessor(t testing.TB) *Preprocessor {
	t.Helper()
	p, err := NewPreprocessor(DefaultModelConfig())
	require.NoError(t, err)
	return p
}

func tensorData(t testing.TB, r *Result) []float32 {
	t.Helper()
	data, ok := r.Tensor.Data().([]float32)
	require.True(t, ok, "tensor must be backed by []float32")
	return data
}

func TestPreprocessBlackImageYieldsZeroTensor(t *testing.T) {
	p := newTestPreprocessor(t)
	black := image.NewGray(image.Rect(0, 0, 224, 224))

	result, err := p.Preprocess(&Image{Format: ImageFormatPNG, Data: encodePNG(t, black)})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 224, 224, 1}, []int(result.Tensor.Shape()))
	data := tensorData(t, result)
	require.Len(t, data, 224*224)
	for _, v := range data {
		require.Zero(t, v)
	}
}

func TestPreprocessMidGrayRGB(t *testing.T) {
	p := newTestPreprocessor(t)

	result, err := p.Preprocess(&Image{Format: "png", Data: encodePNG(t, uniformRGB(512, 512, 128))})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 224, 224, 1}, []int(result.Tensor.Shape()))
	assert.Equal(t, 512, result.OriginalWidth)
	assert.Equal(t, 512, result.OriginalHeight)
	assert.Equal(t, ImageFormatPNG, result.Format)

	for _, v := range tensorData(t, result) {
		require.InDelta(t, 128.0/255.0, v, 0.005)
	}
}

func TestPreprocessValuesInUnitInterval(t *testing.T) {
	p := newTestPreprocessor(t)

	rng := rand.New(rand.NewSource(11))
	img := image.NewRGBA(image.Rect(0, 0, 300, 257))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}

	result, err := p.Preprocess(&Image{Format: "jpg", Data: encodeJPEG(t, img)})
	require.NoError(t, err)
	assert.Equal(t, ImageFormatJPEG, result.Format)

	for _, v := range tensorData(t, result) {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
	}
}

func TestPreprocessDeterministic(t *testing.T) {
	p := newTestPreprocessor(t)

	rng := rand.New(rand.NewSource(5))
	img := image.NewGray(image.Rect(0, 0, 640, 480))
	rng.Read(img.Pix)
	data := encodePNG(t, img)

	first, err := p.Preprocess(&Image{Format: "png", Data: data})
	require.NoError(t, err)
	second, err := p.Preprocess(&Image{Format: "png", Data: data})
	require.NoError(t, err)

	assert.Equal(t, tensorData(t, first), tensorData(t, second))
}

func TestPreprocessIdentityAt224(t *testing.T) {
	p := newTestPreprocessor(t)

	rng := rand.New(rand.NewSource(9))
	img := image.NewGray(image.Rect(0, 0, 224, 224))
	rng.Read(img.Pix)

	result, err := p.Preprocess(&Image{Format: "png", Data: encodePNG(t, img)})
	require.NoError(t, err)

	data := tensorData(t, result)
	for i, px := range img.Pix {
		require.Equal(t, float32(px)/255.0, data[i], "pixel %d", i)
	}
}

func TestPreprocessDecodeErrors(t *testing.T) {
	p := newTestPreprocessor(t)
	valid := encodePNG(t, uniformRGB(64, 64, 10))
	validJPEG := encodeJPEG(t, uniformRGB(64, 64, 10))

	var gifBuf bytes.Buffer
	require.NoError(t, gif.Encode(&gifBuf, image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black}), nil))

	tests := []struct {
		name string
		img  *Image
	}{
		{"nil image", nil},
		{"empty bytes", &Image{Format: "png"}},
		{"random bytes", &Image{Format: "png", Data: []byte("definitely not an image header")}},
		{"truncated png", &Image{Format: "png", Data: valid[:len(valid)/2]}},
		{"truncated jpeg", &Image{Format: "jpg", Data: validJPEG[:len(validJPEG)/2]}},
		{"gif content with png extension", &Image{Format: "png", Data: gifBuf.Bytes()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.Preprocess(tt.img)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

// pngHeader returns a PNG signature and IHDR chunk for an 8-bit grayscale
// image of the given size, with no pixel data.
func pngHeader(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, width)
	chunk = binary.BigEndian.AppendUint32(chunk, height)
	chunk = append(chunk, 8, 0, 0, 0, 0)

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestPreprocessRejectsOversizedDimensions(t *testing.T) {
	p := newTestPreprocessor(t)
	header := pngHeader(20000, 20000)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(header))
	require.NoError(t, err)
	require.Equal(t, 20000, cfg.Width)

	result, err := p.Preprocess(&Image{Format: ImageFormatPNG, Data: header})
	assert.Nil(t, result)
	require.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "exceed")
}

func TestPreprocessMaxPixels(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.MaxPixels = 64 * 64
	p, err := NewPreprocessor(cfg)
	require.NoError(t, err)

	_, err = p.Preprocess(&Image{Format: ImageFormatPNG, Data: encodePNG(t, uniformRGB(64, 64, 10))})
	assert.NoError(t, err)

	_, err = p.Preprocess(&Image{Format: ImageFormatPNG, Data: encodePNG(t, uniformRGB(65, 64, 10))})
	assert.ErrorIs(t, err, ErrDecode)

	cfg.MaxPixels = 0
	p, err = NewPreprocessor(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPixels, p.Config().MaxPixels)

	cfg.MaxPixels = -1
	_, err = NewPreprocessor(cfg)
	assert.Error(t, err)
}

func TestPreprocessRejectsDeclaredFormatBeforeDecoding(t *testing.T) {
	p := newTestPreprocessor(t)

	for _, format := range []ImageFormat{"gif", "bmp", "", "webp"} {
		_, err := p.Preprocess(&Image{Format: format, Data: encodePNG(t, uniformRGB(8, 8, 1))})
		assert.ErrorIs(t, err, ErrUnsupportedFormat, "format %q", format)
		assert.NotErrorIs(t, err, ErrDecode)
	}
}

func TestNormalizeFormat(t *testing.T) {
	tests := map[string]ImageFormat{
		"jpg":   ImageFormatJPEG,
		"JPEG":  ImageFormatJPEG,
		".jpeg": ImageFormatJPEG,
		"png":   ImageFormatPNG,
		" .PNG": ImageFormatPNG,
	}
	for in, want := range tests {
		got, err := NormalizeFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeFormat("tiff")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestToTensorLayoutsAndNormalization(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 2))
	gray.SetGray(3, 1, color.Gray{Y: 255})

	cfg := DefaultModelConfig()
	cfg.InputWidth, cfg.InputHeight = 4, 2
	cfg.ChannelOrder = ChannelOrderCHW
	cfg.NormalizationType = NormalizeMinusOneToOne
	p, err := NewPreprocessor(cfg)
	require.NoError(t, err)

	dense := p.ToTensor(gray)
	assert.Equal(t, []int{1, 1, 2, 4}, []int(dense.Shape()))
	assert.Equal(t, cfg.Shape(), []int(dense.Shape()))

	last, err := dense.At(0, 0, 1, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, last.(float32), 1e-6)

	first, err := dense.At(0, 0, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, first.(float32), 1e-6)

	cfg.NormalizationType = NormalizeNone
	cfg.ChannelOrder = ChannelOrderHWC
	p, err = NewPreprocessor(cfg)
	require.NoError(t, err)

	raw, err := p.ToTensor(gray).At(0, 1, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(255), raw.(float32))
}

func TestNewPreprocessorValidation(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.InputWidth = 0
	_, err := NewPreprocessor(cfg)
	assert.Error(t, err)
}

func BenchmarkPreprocessJPEG(b *testing.B) {
	p := newTestPreprocessor(b)
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, 1024, 1024))
	rng.Read(img.Pix)
	data := encodeJPEG(b, img)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Preprocess(&Image{Format: ImageFormatJPEG, Data: data}); err != nil {
			b.Fatal(err)
		}
	}
}
