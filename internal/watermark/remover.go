// Watermark removal by inpainting a fixed mask region
package watermark

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// InpaintRadius is the neighbourhood, in pixels, considered around each masked pixel
const InpaintRadius = 3

var (
	// ErrMaskMismatch means the mask and the image do not share dimensions
	ErrMaskMismatch = errors.New("watermark mask does not match image size")
	// ErrInvalidMask means the mask is empty or not single channel
	ErrInvalidMask = errors.New("invalid watermark mask")
	// ErrInvalidImage means the input image cannot be inpainted
	ErrInvalidImage = errors.New("invalid image")
)

// Remover inpaints the watermark region of generated images. The mask is
// read-only after construction and may be shared by concurrent callers.
type Remover struct {
	mask  gocv.Mat
	empty bool
}

// NewRemover takes ownership of mask
func NewRemover(mask gocv.Mat) (*Remover, error) {
	if mask.Empty() {
		mask.Close()
		return nil, fmt.Errorf("%w: mask is empty", ErrInvalidMask)
	}
	if mask.Channels() != 1 {
		mask.Close()
		return nil, fmt.Errorf("%w: expected 1 channel, got %d", ErrInvalidMask, mask.Channels())
	}

	return &Remover{
		mask:  mask,
		empty: gocv.CountNonZero(mask) == 0,
	}, nil
}

// LoadMask reads a mask image from disk as a single channel bitmap
func LoadMask(path string) (*Remover, error) {
	mask := gocv.IMRead(path, gocv.IMReadGrayScale)
	if mask.Empty() {
		mask.Close()
		return nil, fmt.Errorf("%w: failed to read %s", ErrInvalidMask, path)
	}
	return NewRemover(mask)
}

// Size returns the mask dimensions as width, height
func (r *Remover) Size() (int, int) {
	return r.mask.Cols(), r.mask.Rows()
}

// Remove returns a new image with the masked region reconstructed from its
// surroundings. The input is left untouched and the caller owns the result.
func (r *Remover) Remove(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: empty input", ErrInvalidImage)
	}
	if src.Channels() != 1 && src.Channels() != 3 {
		return gocv.NewMat(), fmt.Errorf("%w: unsupported channel count %d", ErrInvalidImage, src.Channels())
	}
	if src.Cols() != r.mask.Cols() || src.Rows() != r.mask.Rows() {
		return gocv.NewMat(), fmt.Errorf("%w: image %dx%d, mask %dx%d",
			ErrMaskMismatch, src.Cols(), src.Rows(), r.mask.Cols(), r.mask.Rows())
	}

	if r.empty {
		return src.Clone(), nil
	}

	dst := gocv.NewMat()
	gocv.Inpaint(src, r.mask, &dst, InpaintRadius, gocv.Telea)
	if dst.Empty() {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("inpainting produced an empty image")
	}

	return dst, nil
}

// Close releases the mask
func (r *Remover) Close() {
	if !r.mask.Empty() {
		r.mask.Close()
	}
}
