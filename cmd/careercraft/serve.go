package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jonathan/careercraft/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts resume uploads, streams their progress as
Server-Sent Events and serves the saved resume collection.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config, default 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Port
	if servePort != 0 {
		port = servePort
	}

	events := server.NewBroadcaster(a.logger)
	journal, closeJournal := a.newJournal()
	defer closeJournal()

	orch := a.newOrchestrator(fanOut(events.Publish, journal))

	recovered, err := orch.RecoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted uploads: %w", err)
	}
	if recovered > 0 {
		a.logger.Warn("marked interrupted uploads as failed", slog.Int("count", recovered))
	}

	cfg := server.Config{
		Port:         port,
		Orchestrator: orch,
		Store:        a.store,
		Events:       events,
		Logger:       a.logger,
	}
	if a.database != nil {
		cfg.History = a.database
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
