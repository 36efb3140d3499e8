// Gallery record data structure
package core

import (
	"image"
	"path/filepath"
)

// ImageRecord is one entry of the gallery. The gallery assigns ID when the
// record is inserted; it stays stable while positions shift, so actions
// prepared for a record still reach it after a batch arrives.
type ImageRecord struct {
	ID       uint64
	Image    image.Image
	Prompt   string
	FilePath string // empty for images that were never persisted

	// Set once an upscaled version has been accepted for this record
	Upscaled     image.Image
	UpscaledPath string
	ShowUpscaled bool
}

// Display returns the bitmap that should currently be shown for the record
func (r *ImageRecord) Display() image.Image {
	if r.ShowUpscaled && r.Upscaled != nil {
		return r.Upscaled
	}
	return r.Image
}

// HasUpscaled returns true if an upscaled version is attached
func (r *ImageRecord) HasUpscaled() bool {
	return r.Upscaled != nil
}

// BaseName returns the file name of the backing file, or "" when not persisted
func (r *ImageRecord) BaseName() string {
	if r.FilePath == "" {
		return ""
	}
	return filepath.Base(r.FilePath)
}

// Size returns the dimensions of the displayed bitmap
func (r *ImageRecord) Size() image.Point {
	img := r.Display()
	if img == nil {
		return image.Point{}
	}
	return img.Bounds().Size()
}
