//go:build gocv
// +build gocv

package images

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var cvInterpolations = map[ResampleFilter]gocv.InterpolationFlags{
	NearestNeighborFilter: gocv.InterpolationNearestNeighbor,
	BilinearFilter:        gocv.InterpolationLinear,
	BicubicFilter:         gocv.InterpolationCubic,
}

// OpenCVAvailable reports whether this build carries the OpenCV backend.
func OpenCVAvailable() bool { return true }

// DecodeGrayscaleCV decodes JPEG or PNG bytes straight into a single-channel
// image using OpenCV.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - *image.Gray: The decoded grayscale image.
//   - error: An error if OpenCV cannot decode the buffer.
func DecodeGrayscaleCV(data []byte) (*image.Gray, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("failed to decode image: empty matrix")
	}

	return matToGray(mat)
}

// ResizeCV scales a grayscale image with cv::resize. Only the nearest, bilinear
// and bicubic filters have an OpenCV equivalent.
func ResizeCV(img *image.Gray, width, height int, filter ResampleFilter) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	interp, ok := cvInterpolations[filter]
	if !ok {
		return nil, fmt.Errorf("resample filter %s has no OpenCV equivalent", filter)
	}

	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return Resize(img, width, height, filter)
	}

	src, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to mat: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, interp)

	return matToGray(dst)
}

func matToGray(mat gocv.Mat) (*image.Gray, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert mat to image: %w", err)
	}
	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}
	return Grayscale(img), nil
}
