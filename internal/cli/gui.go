package cli

import (
	"context"

	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/theme"
	"github.com/spf13/cobra"

	"image-creator/internal/app"
	"image-creator/internal/gui"
)

const AppID = "com.image-creator.desktop"

func newGUICmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "gui",
		Short: "Open the desktop window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGUI(cmd.Context(), rt)
		},
	}
}

func runGUI(ctx context.Context, rt *runtime) error {
	rt.logger.Info("Starting Image Creator")

	ctrl, err := app.Build(ctx, rt.cfg, gui.Dispatcher{}, rt.logger)
	if err != nil {
		return err
	}

	fyneApp := fyneapp.NewWithID(AppID)
	fyneApp.SetIcon(theme.FileImageIcon())
	fyneApp.Settings().SetTheme(theme.DefaultTheme())

	// workers outlive the command context so a signal does not abort a batch
	gui.NewApplication(fyneApp, ctrl, rt.cfg, rt.logger).ShowAndRun(context.WithoutCancel(ctx))

	rt.logger.Info("Application shutting down gracefully")
	return nil
}
