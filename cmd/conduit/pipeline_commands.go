package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect and manage pipelines",
	}

	pipelineCmd.AddCommand(newPipelineListCommand(ctx))
	pipelineCmd.AddCommand(newPipelineShowCommand(ctx))
	pipelineCmd.AddCommand(newPipelineActionCommand(ctx, "pause", "Pause a pipeline's upload"))
	pipelineCmd.AddCommand(newPipelineActionCommand(ctx, "resume", "Resume a paused upload"))
	pipelineCmd.AddCommand(newPipelineActionCommand(ctx, "cancel", "Cancel a pipeline"))

	return pipelineCmd
}

func newPipelineListCommand(ctx *commandContext) *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			pipelines, err := client.listPipelines(strings.TrimSpace(stage))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(pipelines) == 0 {
				fmt.Fprintln(out, "No pipelines")
				return nil
			}

			rows := make([][]string, 0, len(pipelines))
			for _, p := range pipelines {
				age := p.CreatedAt
				if created, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
					age = humanize.Time(created)
				}
				rows = append(rows, []string{
					p.ID,
					p.CreatorID,
					p.CreatorTier,
					p.Stage,
					age,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Creator", "Tier", "Stage", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Filter by stage (uploading, transcoding, distributing, completed, failed)")
	return cmd
}

func newPipelineShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <pipeline-id>",
		Short: "Show one pipeline in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			detail, err := client.showPipeline(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pipeline: %s\n", detail.ID)
			fmt.Fprintf(out, "Stage:    %s\n", detail.Stage)
			fmt.Fprintf(out, "Creator:  %s (%s)\n", detail.CreatorID, detail.CreatorTier)
			if !detail.AutoTranscode {
				fmt.Fprintln(out, "Auto-transcode: disabled")
			}
			if detail.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:    %s\n", detail.ErrorMessage)
			}

			if up := detail.Upload; up != nil {
				fmt.Fprintf(out, "\nUpload: %s, %d/%d chunks, %s of %s (%.1f%%)\n",
					up.Status,
					up.ReceivedChunks, up.TotalChunks,
					humanize.IBytes(uint64(up.ReceivedBytes)),
					humanize.IBytes(uint64(up.TotalBytes)),
					up.Percent,
				)
			}
			if tc := detail.Transcode; tc != nil {
				fmt.Fprintf(out, "\nTranscode: %.1f%% overall\n", tc.OverallProgress)
				rows := make([][]string, 0, len(tc.Jobs))
				for _, job := range tc.Jobs {
					rows = append(rows, []string{
						job.Preset,
						job.Status,
						fmt.Sprintf("%.1f%%", job.Progress),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Preset", "Status", "Progress"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
			}
			if len(detail.Targets) > 0 {
				fmt.Fprintln(out, "\nDistribution:")
				rows := make([][]string, 0, len(detail.Targets))
				for _, target := range detail.Targets {
					rows = append(rows, []string{
						target.Platform,
						target.Status,
						target.ErrorMessage,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Platform", "Status", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}
			return nil
		},
	}
}

func newPipelineActionCommand(ctx *commandContext, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <pipeline-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			if err := client.pipelineAction(args[0], action); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s: %s requested\n", shortID(args[0]), action)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
