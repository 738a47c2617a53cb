package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var pruneDryRun bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy without running a backup",
	Long: `Delete the project's objects that the configured retention policy no longer keeps.
With --dry-run the expired objects are only printed.`,
	RunE: pruneObjects,
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "print expired objects without deleting them")
}

func pruneObjects(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Retention == nil {
		log.Error().Msg("no retention policy configured")
		return fmt.Errorf("retention section is required for prune")
	}

	storageSvc, err := newStorage(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pruneDryRun {
		expired, err := storageSvc.Expired(ctx, *cfg.Retention)
		if err != nil {
			return err
		}
		return writeExpired(cmd.OutOrStdout(), expired)
	}

	result, err := storageSvc.Prune(ctx, *cfg.Retention)
	if err != nil {
		log.Error().Err(err).Int("deleted", result.Deleted).Msg("prune failed")
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d object(s): deleted %d, kept %d\n", result.Scanned, result.Deleted, result.Kept)
	return nil
}

func writeExpired(w io.Writer, expired []models.RemoteObject) error {
	var total int64
	for _, o := range expired {
		total += o.SizeBytes
		if _, err := fmt.Fprintf(w, "would delete %s (%s, %s)\n", o.Key, humanize.IBytes(uint64(o.SizeBytes)), o.LastModified.UTC().Format("2006-01-02")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d object(s) expired, %s\n", len(expired), humanize.IBytes(uint64(total)))
	return err
}
