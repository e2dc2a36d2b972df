package images

import (
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/nfnt/resize"
)

// ResampleFilter defines the resampling algorithm used for image scaling.
//
// Different kernels yield different pixel values and therefore potentially
// different scores near the decision threshold, so the filter in use is part of
// the model contract and must stay fixed for a given artifact.
type ResampleFilter int

const (
	// NearestNeighborFilter uses nearest-neighbor interpolation.
	NearestNeighborFilter ResampleFilter = iota
	// BilinearFilter uses bilinear (triangle) interpolation.
	BilinearFilter
	// BicubicFilter uses the Catmull-Rom cubic (a = -0.5). This is the kernel
	// the reference model was trained against and the default.
	BicubicFilter
	// MitchellNetravaliFilter uses the Mitchell-Netravali cubic (B = C = 1/3).
	MitchellNetravaliFilter
	// Lanczos2Filter uses a Lanczos windowed sinc with a = 2.
	Lanczos2Filter
	// Lanczos3Filter uses a Lanczos windowed sinc with a = 3.
	Lanczos3Filter
)

// DefaultFilter is the kernel used when none is configured.
const DefaultFilter = BicubicFilter

var filterNames = map[ResampleFilter]string{
	NearestNeighborFilter:   "nearest",
	BilinearFilter:          "bilinear",
	BicubicFilter:           "bicubic",
	MitchellNetravaliFilter: "mitchell",
	Lanczos2Filter:          "lanczos2",
	Lanczos3Filter:          "lanczos3",
}

var interpolations = map[ResampleFilter]resize.InterpolationFunction{
	NearestNeighborFilter:   resize.NearestNeighbor,
	BilinearFilter:          resize.Bilinear,
	BicubicFilter:           resize.Bicubic,
	MitchellNetravaliFilter: resize.MitchellNetravali,
	Lanczos2Filter:          resize.Lanczos2,
	Lanczos3Filter:          resize.Lanczos3,
}

// String returns the configuration name of the filter.
func (f ResampleFilter) String() string {
	if name, ok := filterNames[f]; ok {
		return name
	}
	return fmt.Sprintf("ResampleFilter(%d)", int(f))
}

// ParseFilter maps a configuration name to a ResampleFilter. An empty name
// selects DefaultFilter.
//
// Arguments:
//   - name: The filter name, e.g. "bicubic" or "lanczos3" (case-insensitive).
//
// Returns:
//   - ResampleFilter: The matching filter.
//   - error: An error if the name is unknown.
func ParseFilter(name string) (ResampleFilter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultFilter, nil
	}
	for f, n := range filterNames {
		if n == name {
			return f, nil
		}
	}
	return DefaultFilter, fmt.Errorf("unknown resample filter %q", name)
}

// Resize scales a grayscale image to exactly width x height with the given
// filter. Aspect ratio is not preserved. When the source already has the
// target dimensions the pixels are copied unchanged, so resizing is idempotent.
//
// Arguments:
//   - img: The grayscale source image.
//   - width: The target width in pixels.
//   - height: The target height in pixels.
//   - filter: The resampling filter to use for interpolation.
//
// Returns:
//   - *image.Gray: The resized image anchored at (0,0).
//   - error: An error if the dimensions or filter are invalid.
//
// @example
// resized, err := Resize(gray, 224, 224, BicubicFilter)
func Resize(img *image.Gray, width, height int, filter ResampleFilter) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	interp, ok := interpolations[filter]
	if !ok {
		return nil, fmt.Errorf("unsupported resample filter: %s", filter)
	}

	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		dst := image.NewGray(image.Rect(0, 0, width, height))
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
		return dst, nil
	}

	resized := resize.Resize(uint(width), uint(height), img, interp)

	// nfnt keeps *image.Gray for gray input; normalize anything else.
	gray, ok := resized.(*image.Gray)
	if !ok || gray.Bounds().Min != (image.Point{}) {
		return Grayscale(resized), nil
	}
	return gray, nil
}
