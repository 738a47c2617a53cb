// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/metrics"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/fgeck/gobucket-homelab/internal/services/archiver"
	"github.com/fgeck/gobucket-homelab/internal/services/database"
	"github.com/fgeck/gobucket-homelab/internal/services/hostpower"
	"github.com/fgeck/gobucket-homelab/internal/services/notify"
	"github.com/fgeck/gobucket-homelab/internal/services/staging"
	"github.com/fgeck/gobucket-homelab/internal/services/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Bounds the shutdown, notification and metrics steps, which still run
// after the run's own context was cancelled or timed out.
const postRunTimeout = 2 * time.Minute

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) (*models.RunResult, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	stagingSvc  staging.Service
	archiverSvc archiver.Service
	databaseSvc database.Service
	storageSvc  storage.Service
	powerSvc    hostpower.Service
	notifySvc   notify.Service
	logger      zerolog.Logger
}

// New creates a new runner uploading through storageSvc.
func New(logger zerolog.Logger, storageSvc storage.Service) *Impl {
	stagingSvc := staging.New(logger)
	return NewWithServices(
		logger,
		stagingSvc,
		archiver.New(logger, stagingSvc),
		database.New(logger, stagingSvc),
		storageSvc,
		hostpower.New(logger),
		notify.New(logger),
	)
}

// NewWithServices creates a new runner with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	stagingSvc staging.Service,
	archiverSvc archiver.Service,
	databaseSvc database.Service,
	storageSvc storage.Service,
	powerSvc hostpower.Service,
	notifySvc notify.Service,
) *Impl {
	return &Impl{
		stagingSvc:  stagingSvc,
		archiverSvc: archiverSvc,
		databaseSvc: databaseSvc,
		storageSvc:  storageSvc,
		powerSvc:    powerSvc,
		notifySvc:   notifySvc,
		logger:      logger,
	}
}

// Run executes one backup run. The returned error is the run's terminal
// error; a failed retention pass is only recorded in result.Maintenance.
// The result is never nil.
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) (*models.RunResult, error) {
	start := time.Now()
	result := &models.RunResult{
		RunID:     uuid.NewString(),
		Timestamp: models.FormatRunTimestamp(start),
		StartTime: start,
		State:     models.StateIdle,
	}
	logger := s.logger.With().Str("run_id", result.RunID).Logger()

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	logger.Info().
		Str("project", cfg.Project).
		Str("timestamp", result.Timestamp).
		Int("targets", len(cfg.Targets)).
		Int("concurrency", concurrency(cfg)).
		Msg("starting backup run")

	err := s.execute(runCtx, cfg, result, logger)
	result.Duration = time.Since(start)

	if err != nil {
		result.FailedState = result.State
		result.State = models.StateFailed
		result.Err = err
		logger.Error().
			Err(err).
			Str("failed_state", string(result.FailedState)).
			Dur("duration", result.Duration).
			Msg("backup run failed")
	} else {
		result.State = models.StateDone
		logger.Info().
			Int("artifacts", len(result.Artifacts)).
			Int("uploaded", len(result.Uploaded)).
			Bool("nothing_to_back_up", result.NothingToBackUp).
			Dur("duration", result.Duration).
			Msg("backup run completed successfully")
	}

	s.finish(ctx, cfg, result, logger)

	return result, err
}

func (s *Impl) execute(ctx context.Context, cfg models.BackupConfig, result *models.RunResult, logger zerolog.Logger) (err error) {
	result.State = models.StateStaging

	if cfg.WOL != nil {
		if err := s.wake(ctx, *cfg.WOL, logger); err != nil {
			return err
		}
	}

	root, err := s.stagingSvc.CreateRoot(cfg.Staging.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			result.State = models.StateCleanup
		}
		if rmErr := s.stagingSvc.RemoveRoot(root); rmErr != nil {
			logger.Warn().Err(rmErr).Str("path", root).Msg("failed to remove staging root")
		}
	}()

	result.State = models.StateCapturing

	targets := orderTargets(cfg.Targets)
	if err := models.ValidateTargets(targets); err != nil {
		return err
	}

	artifacts, err := s.capture(ctx, targets, root, result.Timestamp, concurrency(cfg), logger)
	if err != nil {
		return err
	}
	result.Artifacts = artifacts

	if len(artifacts) == 0 {
		result.NothingToBackUp = true
		logger.Info().Msg("nothing to back up")
		return nil
	}

	result.State = models.StateUploading

	uploaded, err := s.storageSvc.UploadAll(ctx, artifacts)
	result.Uploaded = uploaded
	discardUploaded(artifacts, uploaded, logger)
	if err != nil {
		return err
	}

	if cfg.Retention != nil {
		result.State = models.StatePruning
		s.prune(ctx, *cfg.Retention, result, logger)
	}

	return nil
}

func (s *Impl) wake(ctx context.Context, cfg models.WOLConfig, logger zerolog.Logger) error {
	power, err := s.powerSvc.Wake(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to wake storage host: %w", err)
	}
	if !power.HostReady {
		return fmt.Errorf("storage host did not become ready")
	}

	logger.Info().
		Bool("packet_sent", power.PacketSent).
		Dur("wait_duration", power.WaitDuration).
		Msg("storage host awake")
	return nil
}

// capture runs every target through its component. Results keep target
// order; the first failure cancels the targets not yet started, and the
// capture fails unless every target produced an artifact.
func (s *Impl) capture(ctx context.Context, targets []models.Target, root, ts string, limit int, logger zerolog.Logger) ([]models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*models.Artifact, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	// every target gets a goroutine so a skipped one always reports the cancellation
	for i, target := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			artifact, err := s.captureTarget(gctx, target, root, ts)
			if err != nil {
				return err
			}
			results[i] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	artifacts := make([]models.Artifact, 0, len(results))
	var total int64
	for _, a := range results {
		artifacts = append(artifacts, *a)
		total += a.SizeBytes
	}

	logger.Info().
		Int("artifacts", len(artifacts)).
		Str("total_size", humanize.IBytes(uint64(total))).
		Msg("all targets captured")

	return artifacts, nil
}

func (s *Impl) captureTarget(ctx context.Context, target models.Target, root, ts string) (*models.Artifact, error) {
	switch t := target.(type) {
	case models.DirectoryTarget:
		return s.archiverSvc.Archive(ctx, t, root, ts)
	case models.DatabaseTarget:
		return s.databaseSvc.Dump(ctx, t, root, ts)
	default:
		return nil, fmt.Errorf("unknown target type %T", target)
	}
}

func (s *Impl) prune(ctx context.Context, policy models.RetentionPolicy, result *models.RunResult, logger zerolog.Logger) {
	result.Maintenance.Attempted = true

	pruned, err := s.storageSvc.Prune(ctx, policy)
	if pruned != nil {
		result.Maintenance.Deleted = pruned.Deleted
		result.Maintenance.Kept = pruned.Kept
	}
	if err != nil {
		result.Maintenance.Err = err
		logger.Warn().
			Err(err).
			Int("deleted", result.Maintenance.Deleted).
			Msg("retention pass failed, backup itself is unaffected")
	}
}

// finish runs the steps that report on the run. None of them change its outcome.
func (s *Impl) finish(ctx context.Context, cfg models.BackupConfig, result *models.RunResult, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postRunTimeout)
	defer cancel()

	if cfg.SSHShutdown != nil && result.Succeeded() {
		if _, err := s.powerSvc.Shutdown(ctx, *cfg.SSHShutdown); err != nil {
			logger.Warn().Err(err).Str("host", cfg.SSHShutdown.Host).Msg("failed to shut down storage host")
		}
	}

	if cfg.Telegram != nil {
		if _, err := s.notifySvc.SendReport(ctx, *cfg.Telegram, buildReport(cfg, result)); err != nil {
			logger.Error().Err(err).Msg("failed to send Telegram notification")
		}
	}

	if cfg.Metrics.TextfilePath != "" {
		recorder := metrics.New(cfg.Project)
		recorder.ObserveRun(result)
		if err := recorder.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Metrics.TextfilePath).Msg("failed to export metrics")
		}
	}
}

func buildReport(cfg models.BackupConfig, result *models.RunResult) models.RunReport {
	host, _ := os.Hostname()

	report := models.RunReport{
		Project:         cfg.Project,
		Host:            host,
		RunID:           result.RunID,
		StartTime:       result.StartTime,
		Duration:        result.Duration,
		Success:         result.Succeeded(),
		NothingToBackUp: result.NothingToBackUp,
		FailedState:     result.FailedState,
		Artifacts:       result.Artifacts,
		UploadedCount:   len(result.Uploaded),
		PruneAttempted:  result.Maintenance.Attempted,
		Pruned:          result.Maintenance.Deleted,
		Kept:            result.Maintenance.Kept,
	}
	if result.Err != nil {
		report.ErrorMessage = result.Err.Error()
	}
	if result.Maintenance.Err != nil {
		report.PruneError = result.Maintenance.Err.Error()
	}
	return report
}

// orderTargets returns directory targets before database targets, each in
// declaration order.
func orderTargets(targets []models.Target) []models.Target {
	ordered := make([]models.Target, 0, len(targets))
	for _, kind := range []models.TargetKind{models.KindDirectory, models.KindDatabase} {
		for _, t := range targets {
			if t.Kind() == kind {
				ordered = append(ordered, t)
			}
		}
	}
	return ordered
}

// discardUploaded deletes the staging copy of every artifact that reached the store.
func discardUploaded(artifacts []models.Artifact, uploaded []models.RemoteObject, logger zerolog.Logger) {
	stored := make(map[string]struct{}, len(uploaded))
	for _, obj := range uploaded {
		stored[path.Base(obj.Key)] = struct{}{}
	}

	for _, a := range artifacts {
		if _, ok := stored[filepath.Base(a.LocalPath)]; !ok {
			continue
		}
		if err := os.Remove(a.LocalPath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", a.LocalPath).Msg("failed to remove uploaded artifact")
		}
	}
}

func concurrency(cfg models.BackupConfig) int {
	if cfg.Staging.Concurrency < 1 {
		return 1
	}
	return cfg.Staging.Concurrency
}
