package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/careercraft/internal/ingestion"
	"github.com/jonathan/careercraft/internal/observability"
	"github.com/jonathan/careercraft/internal/pipeline"
)

var (
	uploadVerbose bool
	uploadNoPace  bool
	uploadTimeout time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a resume and follow its progress",
	Long: `Upload a PDF or Word resume to the ingestion backend. Progress is shown stage by
stage while the backend parses, embeds and indexes the document; the outcome is
saved to the resume collection either way.

Interrupting the upload (Ctrl-C) records it as cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVarP(&uploadVerbose, "verbose", "v", false, "Print the stage plan and each stage as it starts")
	uploadCmd.Flags().BoolVar(&uploadNoPace, "no-pace", false, "Advance early stages as soon as possible instead of by estimate")
	uploadCmd.Flags().DurationVar(&uploadTimeout, "timeout", 0, "Fail the upload after this long (default: a multiple of the stage estimates)")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := args[0]
	if _, ok := pipeline.KindFromName(path); !ok {
		return fmt.Errorf("unsupported file %s: please upload a PDF or Word document", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc := ingestion.Document{
		Name:        filepath.Base(path),
		ContentType: pipeline.ContentTypeFromName(path),
		Data:        data,
	}

	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if uploadNoPace {
		pace := false
		a.cfg.PaceStages = &pace
	}
	a.runTimeout = uploadTimeout

	printer := observability.NewPrinter(cmd.OutOrStdout(), uploadVerbose || a.cfg.Verbose)
	journal, closeJournal := a.newJournal()
	defer closeJournal()

	orch := a.newOrchestrator(fanOut(printer.PrintEvent, journal))

	_, err = orch.Execute(ctx, doc)
	var failure *pipeline.IngestionFailure
	switch {
	case err == nil:
		return nil
	case errors.As(err, &failure):
		return fmt.Errorf("upload failed: %s", failure.Reason)
	default:
		return err
	}
}
