//go:build !gocv
// +build !gocv

package images

import "image"

// OpenCVAvailable reports whether this build carries the OpenCV backend.
func OpenCVAvailable() bool { return false }

// DecodeGrayscaleCV returns ErrBackendUnavailable in builds without the gocv tag.
func DecodeGrayscaleCV([]byte) (*image.Gray, error) {
	return nil, ErrBackendUnavailable
}

// ResizeCV returns ErrBackendUnavailable in builds without the gocv tag.
func ResizeCV(*image.Gray, int, int, ResampleFilter) (*image.Gray, error) {
	return nil, ErrBackendUnavailable
}
