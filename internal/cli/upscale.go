package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"image-creator/internal/app"
	imageio "image-creator/internal/io"
	"image-creator/internal/metadata"
	"image-creator/internal/upscale"
)

func newUpscaleCmd(rt *runtime) *cobra.Command {
	var scale float64

	cmd := &cobra.Command{
		Use:   "upscale <input> <output>",
		Short: "Upscale one image with the configured model",
		Example: `  # Upscale with UPSCALE_MODEL and UPSCALER_SCALE from .env
  image-creator upscale output/cat.jpg output/upscaled/cat.jpg

  # Lanczos4 interpolation at 2x when no model is configured
  image-creator upscale --scale 2 in.png out.png`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.UpscaleOptions(rt.cfg)
			if cmd.Flags().Changed("scale") {
				opts.Scale = scale
			}

			model, err := upscale.Load(cmd.Context(), opts, rt.logger)
			if err != nil {
				return err
			}
			defer model.Close()

			loader := imageio.NewImageLoader(rt.logger)
			img, err := loader.ReadImage(args[0])
			if err != nil {
				return err
			}

			out, err := model.Upscale(img)
			if err != nil {
				return fmt.Errorf("upscaling failed: %w", err)
			}
			if err := loader.WriteImage(args[1], out); err != nil {
				return err
			}

			if err := copyPrompt(metadata.NewStore(rt.logger), args[0], args[1]); err != nil {
				rt.logger.WithError(err).Warn("Prompt was not carried over")
			}

			rt.logger.WithFields(logrus.Fields{
				"input":  img.Bounds().Size().String(),
				"output": out.Bounds().Size().String(),
				"device": model.Device(),
			}).Info("Image upscaled")
			fmt.Fprintln(cmd.OutOrStdout(), args[1])
			return nil
		},
	}

	cmd.Flags().Float64Var(&scale, "scale", 0, "Scale factor (defaults to UPSCALER_SCALE)")

	return cmd
}
