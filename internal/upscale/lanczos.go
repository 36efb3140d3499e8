package upscale

import (
	"fmt"
	"image"
	"math"

	imageio "image-creator/internal/io"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Lanczos upscales with Lanczos4 interpolation in steps of at most 2x
type Lanczos struct {
	scale  float64
	logger logrus.FieldLogger
}

func NewLanczos(scale float64, logger logrus.FieldLogger) *Lanczos {
	return &Lanczos{scale: scale, logger: logger}
}

func (l *Lanczos) Device() string {
	return DeviceCPU
}

func (l *Lanczos) Close() error {
	return nil
}

func (l *Lanczos) Upscale(img image.Image) (image.Image, error) {
	src, err := imageio.FromImage(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	target, err := targetSize(src.Cols(), src.Rows(), l.scale)
	if err != nil {
		return nil, err
	}

	dst, err := resizeStepwise(src, target, l.logger)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	return imageio.ToImage(dst)
}

// resizeStepwise doubles the image until it is within 2x of target, then
// resizes to the exact size. The caller must Close the result.
func resizeStepwise(src gocv.Mat, target image.Point, logger logrus.FieldLogger) (gocv.Mat, error) {
	if src.Empty() || target.X <= 0 || target.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid resize input")
	}

	current := src.Clone()
	defer func() { current.Close() }()
	width, height := current.Cols(), current.Rows()

	step := 0
	maxSteps := 8

	for (width*2 < target.X || height*2 < target.Y) && step < maxSteps {
		step++

		nextWidth := int(math.Min(float64(width)*2, float64(target.X)))
		nextHeight := int(math.Min(float64(height)*2, float64(target.Y)))

		logger.WithFields(logrus.Fields{
			"step": step,
			"from": fmt.Sprintf("%dx%d", width, height),
			"to":   fmt.Sprintf("%dx%d", nextWidth, nextHeight),
		}).Debug("Lanczos4 step")

		temp := gocv.NewMat()
		if err := gocv.Resize(current, &temp, image.Pt(nextWidth, nextHeight), 0, 0, gocv.InterpolationLanczos4); err != nil {
			temp.Close()
			return gocv.NewMat(), fmt.Errorf("resize failed: %w", err)
		}

		current.Close()
		current = temp
		width, height = nextWidth, nextHeight
	}

	scaled := gocv.NewMat()
	interpolation := gocv.InterpolationLanczos4
	if target.X < width && target.Y < height {
		interpolation = gocv.InterpolationArea
	}
	if err := gocv.Resize(current, &scaled, target, 0, 0, interpolation); err != nil {
		scaled.Close()
		return gocv.NewMat(), fmt.Errorf("resize failed: %w", err)
	}
	if scaled.Empty() {
		scaled.Close()
		return gocv.NewMat(), fmt.Errorf("resize produced an empty image")
	}
	return scaled, nil
}
