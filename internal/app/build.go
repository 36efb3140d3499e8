package app

import (
	"context"
	"fmt"

	"image-creator/internal/config"
	"image-creator/internal/core"
	"image-creator/internal/generator"
	"image-creator/internal/history"
	imageio "image-creator/internal/io"
	"image-creator/internal/metadata"
	"image-creator/internal/upscale"
	"image-creator/internal/watermark"
	"image-creator/internal/worker"

	"github.com/sirupsen/logrus"
)

// NewClient creates the generation client selected by the configuration
func NewClient(cfg *config.Config, logger logrus.FieldLogger) (generator.Client, error) {
	switch cfg.Generator {
	case config.GeneratorMock:
		mock := generator.NewMockClient()
		mock.Images = cfg.ImagesPerPrompt
		return mock, nil
	case config.GeneratorOpenAI:
		return generator.NewOpenAIClient(generator.Settings{
			APIKey:  cfg.Token,
			BaseURL: cfg.GeneratorBaseURL,
			Model:   cfg.GeneratorModel,
			Images:  cfg.ImagesPerPrompt,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown generator %q", cfg.Generator)
	}
}

// UpscaleOptions maps the configuration to model options
func UpscaleOptions(cfg *config.Config) upscale.Options {
	return upscale.Options{
		ModelPath: cfg.UpscaleModel,
		ModelURL:  cfg.UpscaleModelURL,
		Scale:     cfg.UpscalerScale,
		Device:    cfg.UpscalerDevice,
	}
}

// Build assembles the controller and everything it drives. A model that
// fails to load only disables upscaling; other failures are fatal.
func Build(ctx context.Context, cfg *config.Config, dispatcher Dispatcher, logger logrus.FieldLogger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.E(core.Configuration, "build", err)
	}

	loader := imageio.NewImageLoader(logger)
	store := metadata.NewStore(logger)

	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, core.E(core.Configuration, "build", err)
	}

	var closers []func() error

	genCfg := worker.GenerationConfig{
		Client:    client,
		Loader:    loader,
		Store:     store,
		OutputDir: cfg.OutputDir,
	}

	if cfg.MaskFile != "" {
		remover, err := watermark.LoadMask(cfg.MaskFile)
		if err != nil {
			return nil, core.E(core.Configuration, "build", err)
		}
		genCfg.Remover = remover
		closers = append(closers, func() error {
			remover.Close()
			return nil
		})
	} else {
		logger.Info("No MASK_FILE configured, watermark removal disabled")
	}

	log := history.NewLog(cfg.HistoryFile)
	genCfg.History = log
	closers = append(closers, log.Close)

	var upscaler *worker.UpscaleWorker
	model, upscaleErr := upscale.Load(ctx, UpscaleOptions(cfg), logger)
	if upscaleErr != nil {
		logger.WithError(upscaleErr).Warn("Upscaler unavailable")
	} else {
		upscaler = worker.NewUpscaleWorker(model, loader, cfg.UpscaledDir, logger)
	}

	return NewController(Options{
		Gallery:         core.NewGallery(store, loader, cfg.UpscaledDir, logger),
		Generation:      worker.NewGenerationWorker(genCfg, logger),
		Upscale:         upscaler,
		UpscaleErr:      upscaleErr,
		Backup:          worker.NewBackupWorker(cfg.BackupDir, cfg.BackupDelay, loader, logger),
		Files:           worker.NewFileWorker(store, loader, logger),
		Dispatcher:      dispatcher,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
		Closers:         closers,
	}), nil
}
