package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"image-creator/internal/history"
)

func newHistoryCmd(rt *runtime) *cobra.Command {
	var asYAML bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List generated images with their prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := history.Read(rt.cfg.HistoryFile)
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			out := cmd.OutOrStdout()
			if asYAML {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(entries)
			}

			for _, e := range entries {
				fmt.Fprintf(out, "%s\n    %s\n", e.Path, e.Prompt)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print entries as YAML")
	cmd.Flags().IntVar(&limit, "limit", 0, "Only show the most recent entries")

	return cmd
}
