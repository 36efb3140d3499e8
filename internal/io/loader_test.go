package io

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newLoader() *ImageLoader {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewImageLoader(logger)
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 100, 255})
		}
	}
	return img
}

func TestWriteAndReadImage(t *testing.T) {
	loader := newLoader()
	path := filepath.Join(t.TempDir(), "nested", "out.png")

	require.NoError(t, loader.WriteImage(path, gradient(30, 20)))

	img, err := loader.ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 20), img.Bounds())

	r, g, b, _ := img.At(5, 3).RGBA()
	assert.Equal(t, uint32(20), r>>8)
	assert.Equal(t, uint32(12), g>>8)
	assert.Equal(t, uint32(100), b>>8)
}

func TestEncodeDecodeImage(t *testing.T) {
	loader := newLoader()
	mat, err := FromImage(gradient(16, 8))
	require.NoError(t, err)
	defer mat.Close()

	data, err := loader.EncodeImage(".JPG", mat)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	decoded, err := loader.DecodeImage(data)
	require.NoError(t, err)
	defer decoded.Close()
	assert.Equal(t, 16, decoded.Cols())
	assert.Equal(t, 8, decoded.Rows())
	assert.Equal(t, 3, decoded.Channels())
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	loader := newLoader()

	_, err := loader.DecodeImage(nil)
	assert.Error(t, err)

	_, err = loader.DecodeImage([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestLoadImageErrors(t *testing.T) {
	loader := newLoader()
	dir := t.TempDir()

	_, err := loader.LoadImage(filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.jpg")
	require.NoError(t, os.WriteFile(broken, []byte("nope"), 0o644))
	_, err = loader.LoadImage(broken)
	assert.Error(t, err)
}

func TestSaveImageErrors(t *testing.T) {
	loader := newLoader()

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Error(t, loader.SaveImage(empty, filepath.Join(t.TempDir(), "a.jpg")))

	mat, err := FromImage(gradient(4, 4))
	require.NoError(t, err)
	defer mat.Close()
	assert.Error(t, loader.SaveImage(mat, filepath.Join(t.TempDir(), "a.gif")))
}

func TestIsSupportedImageFormat(t *testing.T) {
	loader := newLoader()
	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "d.webp", "e.jfif"} {
		assert.True(t, loader.IsSupportedImageFormat(name), name)
	}
	for _, name := range []string{"a.txt", "b", "c.gif"} {
		assert.False(t, loader.IsSupportedImageFormat(name), name)
	}
}

func TestValidateImage(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	assert.Error(t, ValidateImage(empty))

	mat, err := FromImage(gradient(4, 4))
	require.NoError(t, err)
	defer mat.Close()
	assert.NoError(t, ValidateImage(mat))
}

func TestFromImageNil(t *testing.T) {
	mat, err := FromImage(nil)
	defer mat.Close()
	assert.Error(t, err)
}
