package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"finsynth/internal/store"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List audited pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Store.Enabled {
				return fmt.Errorf("run auditing is disabled (store.enabled=false)")
			}
			db, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println(dimStyle.Render("no audited runs"))
				return nil
			}

			header := lipgloss.NewStyle().Bold(true)
			fmt.Println(header.Render(fmt.Sprintf("%-36s  %-19s  %-8s  %-8s  %-5s  %s",
				"RUN", "STARTED", "STATUS", "LEVEL", "CONF", "QUERY")))
			for _, r := range runs {
				query := r.Query
				if len(query) > 48 {
					query = query[:45] + "..."
				}
				fmt.Printf("%-36s  %-19s  %-8s  %-8s  %.2f  %s\n",
					r.CorrelationID,
					r.StartedAt.Format("2006-01-02 15:04:05"),
					r.Status, r.FinalLevel, r.Confidence, query)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}
