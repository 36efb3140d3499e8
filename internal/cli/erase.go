package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	imageio "image-creator/internal/io"
	"image-creator/internal/metadata"
	"image-creator/internal/watermark"
)

func newEraseCmd(rt *runtime) *cobra.Command {
	var maskPath string

	cmd := &cobra.Command{
		Use:   "erase <input-dir> <output-dir>",
		Short: "Remove the watermark from every image below a directory",
		Long: `Erase walks the input directory, inpaints the watermark region of every
supported image and writes the result to the same relative path below the
output directory. Embedded prompts are carried over to JPEG results.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maskPath == "" {
				maskPath = rt.cfg.MaskFile
			}
			if maskPath == "" {
				return fmt.Errorf("no mask given; use --mask or set MASK_FILE")
			}

			remover, err := watermark.LoadMask(maskPath)
			if err != nil {
				return err
			}
			defer remover.Close()

			count, err := eraseTree(args[0], args[1], remover, rt.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d images processed\n", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&maskPath, "mask", "", "Grayscale mask image (defaults to MASK_FILE)")

	return cmd
}

// eraseTree processes every image below in. Files that fail are logged and
// skipped so one bad file does not stop the batch.
func eraseTree(in, out string, remover *watermark.Remover, logger *logrus.Logger) (int, error) {
	loader := imageio.NewImageLoader(logger)
	store := metadata.NewStore(logger)
	count := 0

	err := filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !loader.IsSupportedImageFormat(path) {
			return nil
		}

		rel, err := filepath.Rel(in, path)
		if err != nil {
			return err
		}
		target := filepath.Join(out, rel)

		if err := eraseFile(path, target, remover, loader, store); err != nil {
			logger.WithError(err).WithField("path", path).Warn("Skipping image")
			return nil
		}
		count++
		logger.WithField("path", target).Debug("Watermark removed")
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to walk %s: %w", in, err)
	}
	return count, nil
}

func eraseFile(src, dst string, remover *watermark.Remover, loader *imageio.ImageLoader, store *metadata.Store) error {
	mat, err := loader.LoadImage(src)
	if err != nil {
		return err
	}
	defer mat.Close()

	clean, err := remover.Remove(mat)
	if err != nil {
		clean.Close()
		return err
	}
	defer clean.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := loader.SaveImage(clean, dst); err != nil {
		return err
	}

	return copyPrompt(store, src, dst)
}

// copyPrompt carries the embedded prompt of src over to dst, when both can hold one
func copyPrompt(store *metadata.Store, src, dst string) error {
	if !metadata.IsJPEG(dst) {
		return nil
	}
	prompt, ok, err := store.ReadPrompt(src)
	if err != nil || !ok {
		return err
	}
	return store.WritePrompt(dst, prompt)
}
