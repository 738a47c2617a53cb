// Package hostpower wakes the storage host before a run and powers it off afterwards.
package hostpower

import (
	"context"

	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for storage host power operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.PowerResult, error)
	Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.PowerResult, error)
	TestConnection(ctx context.Context, cfg models.SSHShutdownConfig) (*models.PowerResult, error)
}

// Impl implements the hostpower Service interface.
type Impl struct {
	wolClient     WakeClient
	httpClient    HTTPClient
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new host power service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient:     &DefaultWakeClient{},
		httpClient:    defaultHTTPClient(),
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClients creates a new host power service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient WakeClient, httpClient HTTPClient, factory ClientFactory) *Impl {
	return &Impl{
		wolClient:     wolClient,
		httpClient:    httpClient,
		clientFactory: factory,
		logger:        logger,
	}
}
