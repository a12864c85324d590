package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/careercraft/internal/observability"
)

var (
	runsLimit int
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the upload run journal (requires a database)",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent upload runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and the stages it completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
	runsListCmd.Flags().BoolVar(&runsJSON, "json", false, "Print JSON")
	runsShowCmd.Flags().BoolVar(&runsJSON, "json", false, "Print JSON")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	if runsLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireDatabase(); err != nil {
		return err
	}

	runs, err := a.database.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	observability.NewPrinter(cmd.OutOrStdout(), false).PrintRuns(runs)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}

	a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireDatabase(); err != nil {
		return err
	}

	run, err := a.database.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", id)
	}
	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), run)
	}
	observability.NewPrinter(cmd.OutOrStdout(), false).PrintRun(*run)
	return nil
}
