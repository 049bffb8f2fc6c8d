// finsynth is the financial risk synthesis CLI: it runs the two-stage
// analysis pipeline against a free-form question and renders the final
// report.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finsynth/internal/config"
	"finsynth/internal/logging"
)

var (
	version = "1.0.0"

	cfgPath string
	cfg     *config.Config
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "finsynth",
		Short: "Two-stage financial risk assessment pipeline",
		Long: `finsynth fetches live financial signal, compresses it into a bounded
context, runs four analysis lenses on a resident stage-1 model, then swaps in
the stage-2 model to synthesize a weighted final risk report.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := logging.Initialize(cfg.Logging); err != nil {
				return fmt.Errorf("initializing logging: %w", err)
			}
			return cfg.Validate()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "finsynth.yaml", "path to the configuration file")

	root.AddCommand(analyzeCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the finsynth version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("finsynth %s\n", version)
		},
	}
}
