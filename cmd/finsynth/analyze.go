package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"finsynth/internal/pipeline"
	"finsynth/internal/prompt"
)

func analyzeCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "analyze <question>",
		Short: "Run one risk analysis for a free-form question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			prompts, err := prompt.NewStore(cfg.Prompts.Dir)
			if err != nil {
				return err
			}
			if cfg.Prompts.Watch {
				watcher, err := prompt.NewWatcher(prompts)
				if err != nil {
					return err
				}
				if err := watcher.Start(cmd.Context()); err != nil {
					return err
				}
				defer watcher.Stop()
			}

			deps, err := pipeline.Build(cfg, prompts)
			if err != nil {
				return err
			}
			if deps.Audit != nil {
				defer deps.Audit.Close()
			}

			ctrl := pipeline.New(cfg, deps)
			fmt.Println(statusLine("running", question))

			report, err := ctrl.Run(cmd.Context(), question)
			if err != nil {
				fmt.Println(statusLine("failed", err.Error()))
				if pipeline.Fatal(err) {
					return err
				}
				return fmt.Errorf("analysis failed: %w", err)
			}

			status, _ := ctrl.Status()
			fmt.Println(statusLine(string(status), fmt.Sprintf("run %s", report.CorrelationID)))

			if raw {
				fmt.Println(reportMarkdown(report))
				return nil
			}
			rendered, err := renderReport(report)
			if err != nil {
				// Fall back to plain markdown on a rendering failure.
				fmt.Println(reportMarkdown(report))
				return nil
			}
			fmt.Println(rendered)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print plain markdown instead of the styled report")
	return cmd
}
