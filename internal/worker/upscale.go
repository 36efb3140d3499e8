package worker

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"image-creator/internal/core"
	"image-creator/internal/upscale"

	"github.com/sirupsen/logrus"
)

// UpscaleRequest carries the bitmap to upscale and the file it came from
type UpscaleRequest struct {
	Image      image.Image
	SourcePath string
}

// UpscaleWorker runs a model loaded once at construction and writes each
// result into dir under the source file name. It is single-flight.
type UpscaleWorker struct {
	*Worker[UpscaleRequest, core.UpscaledImage]
	model  upscale.Model
	codec  ImageWriter
	dir    string
	logger logrus.FieldLogger
}

func NewUpscaleWorker(model upscale.Model, codec ImageWriter, dir string, logger logrus.FieldLogger) *UpscaleWorker {
	u := &UpscaleWorker{
		model:  model,
		codec:  codec,
		dir:    dir,
		logger: logger.WithField("worker", "upscale"),
	}
	u.Worker = New("upscale", 1, u.upscale, logger)
	return u
}

func (u *UpscaleWorker) Device() string {
	return u.model.Device()
}

// Shutdown drains the queue and releases the model
func (u *UpscaleWorker) Shutdown(ctx context.Context) error {
	if err := u.Worker.Shutdown(ctx); err != nil {
		// still running, the model cannot be released safely
		return err
	}
	return u.model.Close()
}

func (u *UpscaleWorker) upscale(_ context.Context, req UpscaleRequest) (core.UpscaledImage, error) {
	if req.Image == nil {
		return core.UpscaledImage{}, core.E(core.StateInvariant, core.OpUpscale, fmt.Errorf("no image to upscale"))
	}
	if req.SourcePath == "" {
		return core.UpscaledImage{}, core.E(core.StateInvariant, core.OpUpscale, core.ErrNotPersisted)
	}

	in := req.Image.Bounds().Size()
	out, err := u.model.Upscale(req.Image)
	if err != nil {
		return core.UpscaledImage{}, core.E(core.ModelFailure, core.OpUpscale, err)
	}

	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return core.UpscaledImage{}, core.E(core.TransientIO, core.OpUpscale, fmt.Errorf("failed to create upscaled directory: %w", err))
	}
	path := filepath.Join(u.dir, filepath.Base(req.SourcePath))
	if err := u.codec.WriteImage(path, out); err != nil {
		return core.UpscaledImage{}, core.E(core.TransientIO, core.OpUpscale, err)
	}

	u.logger.WithFields(logrus.Fields{
		"source": req.SourcePath,
		"path":   path,
		"input":  in.String(),
		"output": out.Bounds().Size().String(),
		"device": u.model.Device(),
	}).Info("Image upscaled")

	return core.UpscaledImage{Image: out, SourcePath: req.SourcePath, Path: path}, nil
}
