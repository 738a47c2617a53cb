package main

import (
	"errors"

	"github.com/fgeck/gobucket-homelab/internal/config"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/fgeck/gobucket-homelab/internal/services/storage"
	"github.com/rs/zerolog/log"
)

var errNoConfig = errors.New("config file is required")

// loadConfig parses and validates the --config file.
func loadConfig() (*models.BackupConfig, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, errNoConfig
	}

	cfg, err := config.NewParser().LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

func newStorage(cfg *models.BackupConfig) (*storage.Impl, error) {
	svc, err := storage.New(log.Logger, cfg.Storage, cfg.Project, cfg.Staging.Concurrency)
	if err != nil {
		log.Error().Err(err).Str("endpoint", cfg.Storage.Endpoint).Msg("failed to set up object store")
		return nil, err
	}
	return svc, nil
}
