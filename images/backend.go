package images

import (
	"errors"
	"fmt"
	"strings"
)

// Backend selects the library that decodes and resamples uploads.
type Backend string

const (
	// BackendNative decodes with the Go image codecs and resamples with nfnt/resize.
	BackendNative Backend = "native"
	// BackendOpenCV decodes and resamples with OpenCV. Requires the gocv build tag.
	BackendOpenCV Backend = "opencv"
)

// ErrBackendUnavailable is returned by the OpenCV entry points in builds
// without the gocv tag.
var ErrBackendUnavailable = errors.New("opencv backend is not enabled in this build (build with -tags gocv)")

// ParseBackend maps a configuration name to a Backend. An empty name selects
// BackendNative.
func ParseBackend(name string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(name))) {
	case "", BackendNative:
		return BackendNative, nil
	case BackendOpenCV:
		return BackendOpenCV, nil
	default:
		return BackendNative, fmt.Errorf("unknown image backend %q", name)
	}
}
