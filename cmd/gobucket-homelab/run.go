package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup workflow",
	Long: `Execute the complete backup workflow:
1. Wake the storage host (if configured)
2. Create the staging directory
3. Archive every directory, then dump every database
4. Upload all artifacts to the bucket
5. Prune expired objects (if a retention policy is configured)
6. Remove the staging directory
7. Shut the storage host down (if configured)
8. Send a Telegram report and write metrics (if configured)

A failed retention pass is reported as a warning and does not fail the run.`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("project", cfg.Project).
		Str("bucket", cfg.Storage.Bucket).
		Int("targets", len(cfg.Targets)).
		Msg("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	storageSvc, err := newStorage(cfg)
	if err != nil {
		return err
	}

	result, err := runner.New(log.Logger, storageSvc).Run(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Str("failed_state", string(result.FailedState)).Msg("backup failed")
		return err
	}

	if result.NothingToBackUp {
		log.Info().Msg("nothing to back up")
		return nil
	}

	var total int64
	for _, obj := range result.Uploaded {
		total += obj.SizeBytes
	}

	event := log.Info()
	if result.Maintenance.Err != nil {
		event = log.Warn().Str("prune_error", result.Maintenance.Err.Error())
	}
	event.
		Int("uploaded", len(result.Uploaded)).
		Str("total_size", humanize.IBytes(uint64(total))).
		Int("pruned", result.Maintenance.Deleted).
		Dur("duration", result.Duration).
		Msg("backup completed successfully")

	return nil
}
