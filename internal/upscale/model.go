// Super-resolution models: a gocv DNN network or Lanczos4 interpolation
package upscale

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"

	DefaultScale = 4.0
	maxDimension = 32768
)

var ErrInvalidScale = errors.New("scale must be between 1 and 8")

// Model upscales one image at a time. Implementations are not required to be
// safe for concurrent use.
type Model interface {
	Upscale(img image.Image) (image.Image, error)
	Device() string
	Close() error
}

// Options select and configure the model
type Options struct {
	// ModelPath is an ONNX/Caffe/TF network file; empty selects Lanczos4
	ModelPath string
	// ModelURL is downloaded to ModelPath when the file is missing
	ModelURL string
	Scale    float64
	Device   string
}

func (o Options) Validate() error {
	if o.Scale < 1 || o.Scale > 8 || math.IsNaN(o.Scale) {
		return fmt.Errorf("%w: %.2f", ErrInvalidScale, o.Scale)
	}
	switch strings.ToLower(o.Device) {
	case "", DeviceAuto, DeviceCUDA, DeviceCPU:
	default:
		return fmt.Errorf("unknown upscaler device %q", o.Device)
	}
	if o.ModelURL != "" && o.ModelPath == "" {
		return errors.New("model url requires a model path")
	}
	return nil
}

// Load prepares the model once. Weight download and device probing happen
// here so later Upscale calls only run inference.
func Load(ctx context.Context, opts Options, logger logrus.FieldLogger) (Model, error) {
	if opts.Scale == 0 {
		opts.Scale = DefaultScale
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.ModelPath == "" {
		logger.WithField("scale", opts.Scale).Info("Using Lanczos4 upscaler")
		return NewLanczos(opts.Scale, logger), nil
	}

	if opts.ModelURL != "" {
		if err := EnsureWeights(ctx, opts.ModelPath, opts.ModelURL, logger); err != nil {
			return nil, err
		}
	}

	return NewDNN(opts.ModelPath, opts.Scale, strings.ToLower(opts.Device), logger)
}

func targetSize(width, height int, scale float64) (image.Point, error) {
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	if w <= 0 || h <= 0 {
		return image.Point{}, fmt.Errorf("invalid target dimensions: %dx%d", w, h)
	}
	if w > maxDimension || h > maxDimension {
		return image.Point{}, fmt.Errorf("target dimensions too large: %dx%d (max: %d)", w, h, maxDimension)
	}
	return image.Pt(w, h), nil
}
