// Package database provides MySQL and MariaDB dump operations.
package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/archive"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/fgeck/gobucket-homelab/internal/services/staging"
	"github.com/rs/zerolog"
)

// NoPasswordFlag tells the dump tool not to prompt for or send a password.
const NoPasswordFlag = "--skip-password"

// Flags shared by both engines.
var commonFlags = []string{
	"--single-transaction",
	"--quick",
	"--routines",
	"--triggers",
	"--events",
}

type engineProfile struct {
	command string
	flags   []string
}

var profiles = map[models.Engine]engineProfile{
	models.EngineMySQL: {
		command: "mysqldump",
		flags:   []string{"--add-locks", "--comments"},
	},
	models.EngineMariaDB: {
		command: "mariadb-dump",
		flags:   []string{"--skip-add-locks", "--skip-comments", "--skip-lock-tables"},
	},
}

// Service defines the interface for database dump operations.
type Service interface {
	Dump(ctx context.Context, target models.DatabaseTarget, stagingRoot, ts string) (*models.Artifact, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// DefaultExecutor is the default command executor using os/exec. No shell is
// involved and stdin is closed.
type DefaultExecutor struct{}

// Run runs the command and captures stdout and stderr in memory.
func (e *DefaultExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = nil
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Impl implements the database Service interface.
type Impl struct {
	executor CommandExecutor
	staging  staging.Service
	logger   zerolog.Logger
}

// New creates a new database dump service.
func New(logger zerolog.Logger, stagingSvc staging.Service) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		staging:  stagingSvc,
		logger:   logger,
	}
}

// NewWithExecutor creates a new database dump service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, stagingSvc staging.Service, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		staging:  stagingSvc,
		logger:   logger,
	}
}

// Dump dumps target into stagingRoot/{name}_{ts}.tar.gz holding a single {name}_{ts}.sql entry.
func (s *Impl) Dump(ctx context.Context, target models.DatabaseTarget, stagingRoot, ts string) (*models.Artifact, error) {
	artifact, err := s.dump(ctx, target, stagingRoot, ts)
	if err != nil {
		return nil, &models.TargetError{Name: target.Name, Kind: models.KindDatabase, Err: err}
	}
	return artifact, nil
}

func (s *Impl) dump(ctx context.Context, target models.DatabaseTarget, stagingRoot, ts string) (*models.Artifact, error) {
	profile, ok := profiles[target.Engine]
	if !ok {
		return nil, &models.UnsupportedEngineError{Engine: target.Engine}
	}

	command := profile.command
	if target.DumpCommand != "" {
		command = target.DumpCommand
	}

	s.logger.Info().
		Str("target", target.Name).
		Str("engine", string(target.Engine)).
		Str("host", target.Host).
		Int("port", target.Port).
		Str("database", target.Database).
		Msg("starting database dump")

	start := time.Now()

	creds, err := s.credentials(target)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := creds.Destroy(); err != nil {
			s.logger.Warn().Err(err).Str("target", target.Name).Msg("failed to remove credential file")
		}
	}()

	args := buildArgs(target, creds, profile)

	stdout, stderr, runErr := s.executor.Run(ctx, command, args...)
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s dump interrupted: %w", target.Engine, ctxErr)
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		s.logger.Debug().
			Str("target", target.Name).
			Int("exit_code", exitCode).
			Str("stderr", strings.TrimSpace(string(stderr))).
			Msg("dump command failed")
		return nil, &models.DumpCommandError{Engine: target.Engine, ExitCode: exitCode, Stderr: stderr}
	}

	raw, err := s.staging.CreateFile(target.Name+"-", ".sql")
	if err != nil {
		return nil, err
	}
	defer raw.Release()

	if err := os.WriteFile(raw.Path, stdout, staging.FileMode); err != nil {
		return nil, fmt.Errorf("failed to write dump: %w", err)
	}

	packed, err := s.staging.CreateFile(target.Name+"-", ".tar.gz")
	if err != nil {
		return nil, err
	}
	defer packed.Release()

	if err := pack(raw.Path, packed.Path, models.DumpEntryName(target.Name, ts)); err != nil {
		return nil, err
	}

	finalPath := filepath.Join(stagingRoot, models.ArtifactFilename(target.Name, ts))
	size, err := s.staging.Publish(packed.Path, finalPath)
	if err != nil {
		_ = os.Remove(finalPath)
		return nil, err
	}

	s.logger.Info().
		Str("target", target.Name).
		Str("output", finalPath).
		Str("dump_size", humanize.IBytes(uint64(len(stdout)))).
		Str("size", humanize.IBytes(uint64(size))).
		Dur("duration", time.Since(start)).
		Msg("database dump completed")

	return &models.Artifact{
		Name:      target.Name,
		LocalPath: finalPath,
		SizeBytes: size,
	}, nil
}

func (s *Impl) credentials(target models.DatabaseTarget) (*CredentialFile, error) {
	if target.CredentialsFile != "" {
		return externalCredentials(target.CredentialsFile), nil
	}
	return newCredentialFile(s.staging, target)
}

// buildArgs returns the dump tool argument vector. --defaults-file must come first.
func buildArgs(target models.DatabaseTarget, creds *CredentialFile, profile engineProfile) []string {
	args := make([]string, 0, 2+len(commonFlags)+len(profile.flags)+1)
	args = append(args, "--defaults-file="+creds.Path())
	args = append(args, commonFlags...)
	args = append(args, profile.flags...)
	if creds.Owned() && target.Password == "" {
		args = append(args, NoPasswordFlag)
	}
	args = append(args, target.Database)
	return args
}

func pack(src, dst, entryName string) (err error) {
	w, err := archive.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := w.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to finish dump archive: %w", closeErr)
		}
	}()

	return w.AddFileAs(src, entryName)
}
