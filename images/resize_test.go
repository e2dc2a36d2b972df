package images

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomGray(width, height int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, width, height))
	rng.Read(img.Pix)
	return img
}

func TestResizeTargetDimensions(t *testing.T) {
	src := randomGray(512, 300, 1)

	for filter := range filterNames {
		t.Run(filter.String(), func(t *testing.T) {
			dst, err := Resize(src, 224, 224, filter)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 224, 224), dst.Bounds())
		})
	}
}

func TestResizeIdentityForEqualDimensions(t *testing.T) {
	src := randomGray(224, 224, 7)

	dst, err := Resize(src, 224, 224, BicubicFilter)
	require.NoError(t, err)

	assert.Equal(t, src.Pix, dst.Pix)
	assert.NotSame(t, &src.Pix[0], &dst.Pix[0], "identity resize must return a copy")
}

func TestResizeUniformStaysUniform(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 512, 512))
	for i := range src.Pix {
		src.Pix[i] = 128
	}

	dst, err := Resize(src, 224, 224, BicubicFilter)
	require.NoError(t, err)

	for _, v := range dst.Pix {
		require.InDelta(t, 128, int(v), 1)
	}
}

func TestResizeBlackStaysBlack(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 300, 200))

	dst, err := Resize(src, 224, 224, Lanczos3Filter)
	require.NoError(t, err)

	for _, v := range dst.Pix {
		require.Zero(t, v)
	}
}

func TestResizeDeterministic(t *testing.T) {
	src := randomGray(640, 480, 42)

	a, err := Resize(src, 224, 224, BicubicFilter)
	require.NoError(t, err)
	b, err := Resize(src, 224, 224, BicubicFilter)
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
}

func TestResizeInvalidArguments(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	src.SetGray(0, 0, color.Gray{Y: 1})

	_, err := Resize(src, 0, 224, BicubicFilter)
	assert.Error(t, err)

	_, err = Resize(src, 224, 224, ResampleFilter(99))
	assert.Error(t, err)
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, BicubicFilter, f)

	f, err = ParseFilter(" Lanczos3 ")
	require.NoError(t, err)
	assert.Equal(t, Lanczos3Filter, f)

	_, err = ParseFilter("sinc")
	assert.Error(t, err)
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendNative, b)

	b, err = ParseBackend("OpenCV")
	require.NoError(t, err)
	assert.Equal(t, BackendOpenCV, b)

	_, err = ParseBackend("vips")
	assert.Error(t, err)
}

func BenchmarkResizeBicubic(b *testing.B) {
	src := randomGray(1024, 1024, 3)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Resize(src, 224, 224, BicubicFilter)
	}
}
