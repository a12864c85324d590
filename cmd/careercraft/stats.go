package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/careercraft/internal/observability"
	"github.com/jonathan/careercraft/internal/stats"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics for the saved resumes",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	s := stats.Project(a.store.List())
	if statsJSON {
		return writeJSON(cmd.OutOrStdout(), s)
	}
	observability.NewPrinter(cmd.OutOrStdout(), false).PrintStats(s)
	return nil
}
