package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/bryanowens-dev/walker/internal/adapters/state"
	"github.com/bryanowens-dev/walker/internal/api"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the read-only status API",
	Long: `Start the HTTP status API: dog load, per-task state and the archived
task history. All endpoints are read-only; task control stays in chat.

Examples:
  # Listen on the configured address (default :8090)
  walker api`,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger = configLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	_, store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// History degrades to 404s when the archive cannot be opened; the
	// live endpoints still work.
	var history api.History
	if archive, aerr := state.OpenArchive(cfg.State.ArchivePath); aerr != nil {
		logger.Warn("task archive unavailable, history disabled", "error", aerr)
	} else {
		defer archive.Close()
		history = archive
	}

	srv := api.NewServer(cfg.Dogs, store, history, api.WithLogger(logger))

	if err := srv.ListenAndServe(ctx, cfg.API.Addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("status api stopped")
	return nil
}
