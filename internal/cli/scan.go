package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"system-toolbox/internal/report"
	"system-toolbox/internal/scheduler"
)

func (a *app) scanCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan [targets...]",
		Short: "Show how much space each target uses",
		Long:  "Measure temp folders, browser caches and the Recycle Bin without deleting anything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.load()
			if err != nil {
				return err
			}
			defer e.close()

			entries, err := scheduler.Scan(e.cfg, args, a.bin)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			fmt.Fprint(a.stdout, report.RenderScan(entries, report.Options{Color: report.ColorEnabled(a.stdout)}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}
