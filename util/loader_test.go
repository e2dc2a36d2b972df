package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600))
	}
}

func TestListDirectoryImageFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "c.png", "a.JPG", "b.jpeg", "notes.txt", "scan.gif", "scan.bmp")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o700))

	paths, err := ListDirectoryImageFiles(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "a.JPG"),
		filepath.Join(dir, "b.jpeg"),
		filepath.Join(dir, "c.png"),
	}, paths)
}

func TestLoadDirectoryImages(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "2.png", "1.jpg")

	images, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, images, 2)

	assert.Equal(t, "jpg", images[0].Format)
	assert.Equal(t, []byte("1.jpg"), images[0].Data)
	assert.Equal(t, "png", images[1].Format)
}

func TestLoadDirectoryMissing(t *testing.T) {
	_, err := LoadDirectoryImageFiles(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLoadImageFileKeepsDeclaredExtension(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "scan.tiff")

	file, err := LoadImageFile(filepath.Join(dir, "scan.tiff"))
	require.NoError(t, err)
	assert.Equal(t, "tiff", file.Format)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("x.PNG"))
	assert.True(t, IsSupported("dir/x.jpeg"))
	assert.False(t, IsSupported("x.webp"))
	assert.False(t, IsSupported("png"))
}
