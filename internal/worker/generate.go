package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"image-creator/internal/core"
	"image-creator/internal/generator"
	imageio "image-creator/internal/io"
	"image-creator/internal/watermark"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrEmptyPrompt is returned for prompts that are blank after trimming
var ErrEmptyPrompt = errors.New("prompt is empty")

// Inpainter removes the watermark from a generated image
type Inpainter interface {
	Remove(src gocv.Mat) (gocv.Mat, error)
}

// PromptWriter embeds a prompt into a written image file
type PromptWriter interface {
	WritePrompt(path, prompt string) error
}

// HistoryWriter appends to the generation ledger
type HistoryWriter interface {
	Append(prompt, path string) error
}

// GenerationConfig wires the generation pipeline. Remover may be nil, in
// which case images are stored as received.
type GenerationConfig struct {
	Client    generator.Client
	Remover   Inpainter
	Loader    *imageio.ImageLoader
	Store     PromptWriter
	History   HistoryWriter
	OutputDir string
}

// GenerationWorker turns a prompt into a batch of persisted gallery records.
// It is single-flight.
type GenerationWorker struct {
	*Worker[string, []core.ImageRecord]
	cfg    GenerationConfig
	logger logrus.FieldLogger
}

func NewGenerationWorker(cfg GenerationConfig, logger logrus.FieldLogger) *GenerationWorker {
	g := &GenerationWorker{cfg: cfg, logger: logger.WithField("worker", "generation")}
	g.Worker = New("generation", 1, g.generate, logger)
	return g
}

// JoinPrompt prefixes prompt with prepend, separated by a space
func JoinPrompt(prepend, prompt string) string {
	prepend = strings.TrimSpace(prepend)
	prompt = strings.TrimSpace(prompt)
	if prepend == "" {
		return prompt
	}
	if prompt == "" {
		return prepend
	}
	return prepend + " " + prompt
}

// Submit queues prompt. Blank prompts are rejected before dispatch.
func (g *GenerationWorker) Submit(prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	return g.Worker.Submit(prompt)
}

// generate runs one batch. On failure no records are returned; files and
// history lines written before the failure stay on disk.
func (g *GenerationWorker) generate(ctx context.Context, prompt string) ([]core.ImageRecord, error) {
	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return nil, core.E(core.TransientIO, core.OpGenerate, fmt.Errorf("failed to create output directory: %w", err))
	}

	g.logger.WithField("prompt", prompt).Info("Generating images")

	refs, err := g.cfg.Client.Generate(ctx, prompt)
	if err != nil {
		return nil, core.E(core.TransientIO, core.OpGenerate, err)
	}
	if len(refs) == 0 {
		return nil, core.E(core.ModelFailure, core.OpGenerate, generator.ErrNoImages)
	}

	batch := make([]core.ImageRecord, 0, len(refs))
	for i, ref := range refs {
		rec, err := g.persist(ctx, prompt, ref)
		if err != nil {
			g.logger.WithFields(logrus.Fields{
				"index":   i,
				"written": len(batch),
			}).WithError(err).Error("Batch aborted, written files are kept")
			return nil, err
		}
		batch = append(batch, rec)
	}

	g.logger.WithField("count", len(batch)).Info("Batch generated")
	return batch, nil
}

func (g *GenerationWorker) persist(ctx context.Context, prompt string, ref generator.Ref) (core.ImageRecord, error) {
	data, err := g.cfg.Client.Fetch(ctx, ref)
	if err != nil {
		return core.ImageRecord{}, core.E(core.TransientIO, core.OpGenerate, err)
	}

	mat, err := g.cfg.Loader.DecodeImage(data)
	if err != nil {
		return core.ImageRecord{}, core.E(core.FileIntegrity, core.OpGenerate, err)
	}
	defer mat.Close()

	clean := mat
	if g.cfg.Remover != nil {
		clean, err = g.cfg.Remover.Remove(mat)
		if err != nil {
			clean.Close()
			kind := core.ModelFailure
			if errors.Is(err, watermark.ErrMaskMismatch) || errors.Is(err, watermark.ErrInvalidMask) {
				kind = core.Configuration
			}
			return core.ImageRecord{}, core.E(kind, core.OpGenerate, err)
		}
		defer clean.Close()
	}

	path, err := filepath.Abs(filepath.Join(g.cfg.OutputDir, uuid.New().String()+".jpg"))
	if err != nil {
		return core.ImageRecord{}, core.E(core.TransientIO, core.OpGenerate, err)
	}

	if err := g.cfg.Loader.SaveImage(clean, path); err != nil {
		return core.ImageRecord{}, core.E(core.TransientIO, core.OpGenerate, err)
	}
	if err := g.cfg.History.Append(prompt, path); err != nil {
		return core.ImageRecord{}, core.E(core.TransientIO, core.OpGenerate, err)
	}
	if err := g.cfg.Store.WritePrompt(path, prompt); err != nil {
		return core.ImageRecord{}, core.E(core.TransientIO, core.OpGenerate, err)
	}

	img, err := imageio.ToImage(clean)
	if err != nil {
		return core.ImageRecord{}, core.E(core.FileIntegrity, core.OpGenerate, err)
	}

	g.logger.WithField("path", path).Debug("Image persisted")
	return core.ImageRecord{
		Image:    img,
		Prompt:   prompt,
		FilePath: path,
	}, nil
}
