package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"system-toolbox/internal/report"
	"system-toolbox/internal/scheduler"
)

func (a *app) recycleCommand() *cobra.Command {
	var query, dryRun bool
	cmd := &cobra.Command{
		Use:   "recycle",
		Short: "Empty the Recycle Bin on all drives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.load()
			if err != nil {
				return err
			}
			defer e.close()

			if query {
				info, err := a.bin.Query()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Recycle Bin: %d items, %s\n", info.Items, report.FormatSize(info.Size))
				return nil
			}

			sum, err := scheduler.RunOnce(cmd.Context(), e.cfg, scheduler.Options{
				DryRun:  dryRun,
				Targets: []string{scheduler.RecycleBinTarget},
				Trigger: scheduler.TriggerCLI,
				Logger:  e.logger,
				History: e.historyStore(),
				Bin:     a.bin,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, report.Render(sum, report.Options{Color: report.ColorEnabled(a.stdout)}))
			return sum.Err()
		},
	}
	cmd.Flags().BoolVar(&query, "query", false, "Only show the current size and item count")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be emptied")
	return cmd
}
