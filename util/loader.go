// Package util - filesystem helpers for batch classification.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// SupportedExtensions are the file extensions accepted for classification.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Format is the extension without the dot, as declared by the file name.
	Format string
	// Data is the raw bytes of the image file.
	Data []byte
}

// IsSupported reports whether the file name carries a supported extension
// (case-insensitive).
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// ListDirectoryImageFiles returns the supported image paths in dir, sorted by
// file name. Subdirectories are not traversed.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []string: The matching paths.
// - error: Error if the directory cannot be read.
func ListDirectoryImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read directory %s", dir)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsSupported(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(paths)

	return paths, nil
}

// LoadImageFile reads one image file. The extension is not validated here so
// callers can report unsupported files through the normal classification path.
func LoadImageFile(path string) (ImageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "failed to read %s", path)
	}
	return ImageFile{
		Path:   path,
		Format: strings.TrimPrefix(filepath.Ext(path), "."),
		Data:   data,
	}, nil
}

// LoadDirectoryImageFiles reads all supported image files from a directory,
// sorted by file name.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	paths, err := ListDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}

	files := make([]ImageFile, 0, len(paths))
	for _, path := range paths {
		file, err := LoadImageFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	return files, nil
}
