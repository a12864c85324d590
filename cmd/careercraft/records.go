package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonathan/careercraft/internal/observability"
	"github.com/jonathan/careercraft/internal/pipeline"
	"github.com/jonathan/careercraft/internal/records"
	"github.com/jonathan/careercraft/internal/schemas"
)

var (
	recordsJSON   bool
	recordsStatus string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage the saved resume collection",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved resumes, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRecordsList,
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one saved resume",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved resume (deleting an unknown id is not an error)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsDelete,
}

var recordsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the stored collection against its JSON schema",
	Long: `Validate the stored collection against the record collection schema. A collection
that fails validation is treated as empty when loaded, so this reports what would
be lost.`,
	Args: cobra.NoArgs,
	RunE: runRecordsVerify,
}

var recordsRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Mark uploads left in processing by an interrupted run as failed",
	Args:  cobra.NoArgs,
	RunE:  runRecordsRecover,
}

func init() {
	recordsListCmd.Flags().BoolVar(&recordsJSON, "json", false, "Print JSON instead of a table")
	recordsListCmd.Flags().StringVar(&recordsStatus, "status", "", "Only show records with this status (processing, analyzed, error)")
	recordsShowCmd.Flags().BoolVar(&recordsJSON, "json", false, "Print JSON")

	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd, recordsDeleteCmd, recordsVerifyCmd, recordsRecoverCmd)
	rootCmd.AddCommand(recordsCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRecordsList(cmd *cobra.Command, _ []string) error {
	switch records.Status(recordsStatus) {
	case "", records.StatusProcessing, records.StatusAnalyzed, records.StatusError:
	default:
		return fmt.Errorf("unknown status %q: use processing, analyzed or error", recordsStatus)
	}

	a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	list := a.store.List()
	if recordsStatus != "" {
		filtered := list[:0]
		for _, rec := range list {
			if string(rec.Status) == recordsStatus {
				filtered = append(filtered, rec)
			}
		}
		list = filtered
	}

	if recordsJSON {
		return writeJSON(cmd.OutOrStdout(), list)
	}
	observability.NewPrinter(cmd.OutOrStdout(), false).PrintRecords(list)
	return nil
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	rec, ok := a.store.Get(args[0])
	if !ok {
		return fmt.Errorf("record not found: %s", args[0])
	}

	if recordsJSON {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	observability.NewPrinter(cmd.OutOrStdout(), false).PrintRecord(rec)
	return nil
}

func runRecordsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	_, existed := a.store.Get(args[0])
	if err := a.store.Remove(cmd.Context(), args[0]); err != nil {
		return err
	}

	if existed {
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0]) //nolint:errcheck
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "No record %s\n", args[0]) //nolint:errcheck
	}
	return nil
}

func runRecordsVerify(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.backend.Load(cmd.Context())
	if err != nil {
		return err
	}
	if len(data) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Collection is empty.") //nolint:errcheck
		return nil
	}

	if err := schemas.ValidateCollection(data); err != nil {
		return fmt.Errorf("collection is invalid: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Collection is valid (%d records).\n", a.store.Len()) //nolint:errcheck
	return nil
}

func runRecordsRecover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	orch := a.newOrchestrator(func(pipeline.ProgressEvent) {})
	n, err := orch.RecoverOrphans(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d interrupted upload(s).\n", n) //nolint:errcheck
	return nil
}
