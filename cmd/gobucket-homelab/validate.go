package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/fgeck/gobucket-homelab/internal/services/hostpower"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	RunE:  validateConfig,
}

const sshCheckTimeout = 30 * time.Second

var checkSSH bool

func init() {
	validateCmd.Flags().BoolVar(&checkSSH, "check-ssh", false, "also log in to the storage host over SSH")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Project: %s\n", cfg.Project)
	fmt.Fprintf(out, "  Endpoint: %s\n", cfg.Storage.Endpoint)
	fmt.Fprintf(out, "  Bucket: %s\n", cfg.Storage.Bucket)
	fmt.Fprintf(out, "  TLS: %v\n", cfg.Storage.UseSSL)
	fmt.Fprintf(out, "  Server-side encryption: %v\n", cfg.Storage.ServerSideEncryption)
	if cfg.Storage.PartSize > 0 {
		fmt.Fprintf(out, "  Part size: %s\n", humanize.IBytes(cfg.Storage.PartSize))
	}
	fmt.Fprintf(out, "  Staging: %s\n", cfg.Staging.Dir)
	fmt.Fprintf(out, "  Concurrency: %d\n", cfg.Staging.Concurrency)
	if cfg.Timeout > 0 {
		fmt.Fprintf(out, "  Timeout: %s\n", cfg.Timeout)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Targets (%d):\n", len(cfg.Targets))
	for _, t := range cfg.Targets {
		switch v := t.(type) {
		case models.DirectoryTarget:
			fmt.Fprintf(out, "  %s: directory %s", v.Name, v.SourcePath)
			if len(v.Exclude) > 0 {
				fmt.Fprintf(out, " (exclude %s)", strings.Join(v.Exclude, ", "))
			}
			fmt.Fprintln(out)
		case models.DatabaseTarget:
			fmt.Fprintf(out, "  %s: %s database %s@%s:%d/%s\n", v.Name, v.Engine, v.Username, v.Host, v.Port, v.Database)
		}
	}

	fmt.Fprintln(out)
	if cfg.Retention != nil {
		fmt.Fprintln(out, "Retention Policy:")
		fmt.Fprintf(out, "  Keep daily: %d\n", cfg.Retention.KeepDaily)
		fmt.Fprintf(out, "  Keep weekly: %d\n", cfg.Retention.KeepWeekly)
		fmt.Fprintf(out, "  Keep monthly: %d\n", cfg.Retention.KeepMonthly)
	} else {
		fmt.Fprintln(out, "Retention Policy: none (nothing is pruned)")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Optional Features:")
	fmt.Fprintf(out, "  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Fprintf(out, "  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Fprintf(out, "  Metrics textfile: %v\n", cfg.Metrics.TextfilePath != "")

	if cfg.WOL != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "WOL Configuration:")
		fmt.Fprintf(out, "  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Fprintf(out, "  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollURL != "" {
			fmt.Fprintf(out, "  Poll URL: %s\n", cfg.WOL.PollURL)
		}
	}

	if cfg.SSHShutdown != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "SSH Shutdown Configuration:")
		fmt.Fprintf(out, "  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Fprintf(out, "  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Fprintf(out, "  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Fprintf(out, "  OS: %s\n", cfg.SSHShutdown.OS)
		fmt.Fprintf(out, "  Shutdown Delay: %d minute(s)\n", cfg.SSHShutdown.ShutdownDelay)
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Telegram Configuration:")
		fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintln(out, "  Bot Token: (configured)")
	}

	if checkSSH {
		ctx, cancel := context.WithTimeout(cmd.Context(), sshCheckTimeout)
		defer cancel()
		return checkSSHConnection(ctx, hostpower.New(log.Logger), cfg.SSHShutdown, out)
	}

	return nil
}

// checkSSHConnection runs a harmless command on the storage host with the shutdown credentials.
func checkSSHConnection(ctx context.Context, svc hostpower.Service, cfg *models.SSHShutdownConfig, out io.Writer) error {
	fmt.Fprintln(out)
	if cfg == nil {
		fmt.Fprintln(out, "SSH check: skipped (ssh_shutdown not configured)")
		return nil
	}

	if _, err := svc.TestConnection(ctx, *cfg); err != nil {
		log.Error().Err(err).Str("host", cfg.Host).Msg("SSH check failed")
		fmt.Fprintf(out, "SSH check: FAILED (%s@%s:%d)\n", cfg.Username, cfg.Host, cfg.Port)
		return fmt.Errorf("ssh check failed: %w", err)
	}

	fmt.Fprintf(out, "SSH check: OK (%s@%s:%d)\n", cfg.Username, cfg.Host, cfg.Port)
	return nil
}
