// Command line interface
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"image-creator/internal/config"
)

// runtime is shared by all commands once the root pre-run has loaded it
type runtime struct {
	envFile string
	debug   bool

	cfg    *config.Config
	logger *logrus.Logger
}

func NewRootCmd() *cobra.Command {
	rt := &runtime{}

	cmd := &cobra.Command{
		Use:   "image-creator",
		Short: "Generate images from prompts and keep the prompt inside every file",
		Long: `Image Creator requests images from a generation service, removes a known
watermark from each result, stores them as JPEG files with the prompt embedded
as EXIF metadata and can upscale any of them with a super-resolution model.

Running without a subcommand opens the desktop window.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGUI(cmd.Context(), rt)
		},
	}

	cmd.PersistentFlags().StringVar(&rt.envFile, "env", config.DefaultFile, "Path to the .env configuration file")
	cmd.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug mode with verbose logging")

	cmd.AddCommand(newGUICmd(rt))
	cmd.AddCommand(newGenerateCmd(rt))
	cmd.AddCommand(newEraseCmd(rt))
	cmd.AddCommand(newUpscaleCmd(rt))
	cmd.AddCommand(newHistoryCmd(rt))

	return cmd
}

func (rt *runtime) load() error {
	cfg, err := config.Load(rt.envFile)
	if err != nil {
		return err
	}
	rt.cfg = cfg

	level := strings.ToLower(cfg.LogLevel)
	if rt.debug {
		level = "debug"
	}
	logger, err := initLogger(level)
	if err != nil {
		return err
	}
	rt.logger = logger

	logger.WithFields(logrus.Fields{
		"env":       rt.envFile,
		"generator": cfg.Generator,
		"output":    cfg.OutputDir,
	}).Debug("Configuration loaded")
	return nil
}

// initLogger writes text with full timestamps in debug mode and JSON
// otherwise. Logs go to stderr so command output stays clean.
func initLogger(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	if lvl >= logrus.DebugLevel {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger, nil
}
