package hostpower

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/mdlayher/wol"
)

const (
	defaultWakeTimeout  = 5 * time.Minute
	defaultPollInterval = 10 * time.Second
)

// WakeClient wraps the wol library for mocking.
type WakeClient interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking the readiness check.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultWakeClient sends magic packets with mdlayher/wol.
type DefaultWakeClient struct{}

// Wake sends a magic packet for mac to broadcastIP on the discard port.
func (c *DefaultWakeClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

// Wake sends a WOL packet to the storage host and, when PollURL is set, waits
// until the host answers. Any failure means nothing can be uploaded.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.PowerResult, error) {
	result := &models.PowerResult{}
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		return result, fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("waking storage host")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		return result, err
	}
	result.PacketSent = true

	if cfg.PollURL == "" {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.HostReady = true
		result.WaitDuration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Str("url", cfg.PollURL).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for storage host")

	if err := s.waitForHost(ctx, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		return result, err
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("waiting for storage host to settle")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.HostReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().Dur("duration", result.WaitDuration).Msg("storage host is ready")
	return result, nil
}

func (s *Impl) waitForHost(ctx context.Context, cfg models.WOLConfig) error {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWakeTimeout
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for storage host at %s", cfg.PollURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := s.httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			// any response means the host is up
			return nil
		}

		s.logger.Debug().Err(err).Msg("storage host not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
