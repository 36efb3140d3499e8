package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"image-creator/internal/app"
	"image-creator/internal/core"
)

func newGenerateCmd(rt *runtime) *cobra.Command {
	var prepend string

	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Generate one batch of images and print their paths",
		Example: `  # Generate with the prompt stored in .env
  image-creator generate

  # Generate with an explicit prompt and style prefix
  image-creator generate --prepend "oil painting" a cat on a sofa`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if len(args) == 0 {
				prompt = rt.cfg.Prompt
			}
			if !cmd.Flags().Changed("prepend") {
				prepend = rt.cfg.Prepend
			}
			return runGenerate(cmd, rt, prepend, prompt)
		},
	}

	cmd.Flags().StringVar(&prepend, "prepend", "", "Text put in front of the prompt (defaults to PREPEND)")

	return cmd
}

func runGenerate(cmd *cobra.Command, rt *runtime, prepend, prompt string) error {
	ctx := context.WithoutCancel(cmd.Context())

	loop := app.NewLoop()
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go loop.Run(loopCtx)
	defer loop.Stop()

	ctrl, err := app.Build(ctx, rt.cfg, loop, rt.logger)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	var failure error
	started := false

	ctrl.OnError = func(n core.Notification) {
		failure = fmt.Errorf("%s: %s", n.Message, n.Detail)
	}
	ctrl.OnBusy = func(b app.Busy) {
		if b.Generating {
			started = true
			return
		}
		if started {
			started = false
			close(done)
		}
	}

	ctrl.Start(ctx)
	if err := ctrl.Generate(prepend, prompt); err != nil {
		_ = ctrl.Shutdown(ctx)
		return err
	}

	select {
	case <-done:
	case <-cmd.Context().Done():
		rt.logger.Warn("Interrupted, waiting for the running batch")
		<-done
	}

	var paths []string
	loop.Sync(func() {
		for _, rec := range ctrl.Gallery().Records() {
			paths = append(paths, rec.FilePath)
		}
	})

	if err := ctrl.Shutdown(ctx); err != nil {
		return err
	}
	if failure != nil {
		return failure
	}

	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}
