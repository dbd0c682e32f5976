package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			status, err := client.status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			running := "stopped"
			if status.Running {
				running = fmt.Sprintf("running (pid %d)", status.PID)
			}
			fmt.Fprintf(out, "Daemon: %s\n", running)
			fmt.Fprintf(out, "Database: %s\n\n", status.DBPath)

			rows := [][]string{
				{"uploading", strconv.Itoa(status.Uploading)},
				{"transcoding", strconv.Itoa(status.Transcoding)},
				{"distributing", strconv.Itoa(status.Distributing)},
				{"completed", strconv.Itoa(status.Completed)},
				{"failed", strconv.Itoa(status.Failed)},
				{"total", strconv.Itoa(status.Total)},
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Pipelines"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			if status.StaleUploads > 0 {
				fmt.Fprintf(out, "\n%d upload sessions are stale and pending expiry\n", status.StaleUploads)
			}
			return nil
		},
	}
}
