package upscale

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	imageio "image-creator/internal/io"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrEmptyOutput is returned when the network produces no tensor
var ErrEmptyOutput = errors.New("network produced an empty output")

// DNN runs a super-resolution network with the OpenCV dnn module. The network
// takes an RGB NCHW tensor scaled to [0,1] and returns one in the same layout.
type DNN struct {
	net    gocv.Net
	scale  float64
	device string
	logger logrus.FieldLogger
	mu     sync.Mutex
}

func NewDNN(path string, scale float64, device string, logger logrus.FieldLogger) (*DNN, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open model: %w", err)
	}

	net := gocv.ReadNet(path, "")
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load network from %s", path)
	}

	d := &DNN{
		net:    net,
		scale:  scale,
		logger: logger,
	}
	d.device = d.selectDevice(device)

	logger.WithFields(logrus.Fields{
		"model":  path,
		"device": d.device,
		"scale":  scale,
	}).Info("Super-resolution model loaded")
	return d, nil
}

func (d *DNN) Device() string {
	return d.device
}

func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// chooseDevice picks the backend to try: CUDA only when it was not ruled out
// and OpenCV reports at least one CUDA device.
func chooseDevice(requested string, cudaDevices int) string {
	if requested == DeviceCPU || cudaDevices <= 0 {
		return DeviceCPU
	}
	return DeviceCUDA
}

// selectDevice tries CUDA first unless CPU was requested or no CUDA device
// exists. The check runs a tiny inference because backend selection only
// fails lazily.
func (d *DNN) selectDevice(requested string) string {
	if chooseDevice(requested, cudaDeviceCount()) == DeviceCPU {
		if requested == DeviceCUDA {
			d.logger.Warn("No CUDA device available, falling back to CPU")
		}
		d.useCPU()
		return DeviceCPU
	}

	d.net.SetPreferableBackend(gocv.NetBackendCUDA)
	d.net.SetPreferableTarget(gocv.NetTargetCUDA)

	if err := d.tryInference(); err != nil {
		d.logger.WithError(err).Warn("CUDA backend unavailable, falling back to CPU")
		d.useCPU()
		return DeviceCPU
	}
	return DeviceCUDA
}

func (d *DNN) useCPU() {
	d.net.SetPreferableBackend(gocv.NetBackendDefault)
	d.net.SetPreferableTarget(gocv.NetTargetCPU)
}

func (d *DNN) tryInference() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test inference panicked: %v", r)
		}
	}()

	sample := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer sample.Close()

	out, err := d.forward(sample)
	if err != nil {
		return err
	}
	out.Close()
	return nil
}

func (d *DNN) Upscale(img image.Image) (image.Image, error) {
	src, err := imageio.FromImage(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	target, err := targetSize(src.Cols(), src.Rows(), d.scale)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	out, err := d.forward(src)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer out.Close()

	result, err := tensorToImage(out)
	if err != nil {
		return nil, err
	}

	if result.Bounds().Size() == target {
		return result, nil
	}

	// the network scale is fixed, so match the requested scale afterwards
	mat, err := imageio.FromImage(result)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	resized, err := resizeStepwise(mat, target, d.logger)
	if err != nil {
		return nil, err
	}
	defer resized.Close()

	return imageio.ToImage(resized)
}

func (d *DNN) forward(src gocv.Mat) (gocv.Mat, error) {
	blob := gocv.BlobFromImage(src, 1.0/255.0, image.Pt(src.Cols(), src.Rows()), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	if blob.Empty() {
		return gocv.NewMat(), fmt.Errorf("failed to build input blob")
	}

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), ErrEmptyOutput
	}
	return out, nil
}

// tensorToImage converts a 1x3xHxW float tensor in [0,1] to an RGBA image
func tensorToImage(out gocv.Mat) (*image.RGBA, error) {
	dims := out.Size()
	if len(dims) != 4 || dims[0] != 1 || dims[1] != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	height, width := dims[2], dims[3]

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read output tensor: %w", err)
	}
	plane := width * height
	if len(data) < 3*plane {
		return nil, fmt.Errorf("output tensor too small: %d values", len(data))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(data[i]),
				G: toByte(data[plane+i]),
				B: toByte(data[2*plane+i]),
				A: 255,
			})
		}
	}
	return img, nil
}

func toByte(v float32) uint8 {
	v = v*255 + 0.5
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
