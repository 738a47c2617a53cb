package hostpower

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type mockWakeClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockWakeClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return okResponse(), nil
}

type mockSSHSession struct {
	combinedOutputFunc func(cmd string) ([]byte, error)
}

func (m *mockSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	if m.combinedOutputFunc != nil {
		return m.combinedOutputFunc(cmd)
	}
	return nil, nil
}

func (m *mockSSHSession) Close() error { return nil }

type mockSSHClient struct {
	newSessionFunc func() (SSHSession, error)
	closed         bool
}

func (m *mockSSHClient) NewSession() (SSHSession, error) {
	if m.newSessionFunc != nil {
		return m.newSessionFunc()
	}
	return &mockSSHSession{}, nil
}

func (m *mockSSHClient) Close() error {
	m.closed = true
	return nil
}

type mockClientFactory struct {
	newClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

func (m *mockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if m.newClientFunc != nil {
		return m.newClientFunc(network, addr, config)
	}
	return &mockSSHClient{}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func okResponse() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}
}

func generateTestKey(t *testing.T) []byte {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)

	return pem.EncodeToMemory(block)
}

func wakeConfig() models.WOLConfig {
	return models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://192.168.1.50:9000/minio/health/live",
		Timeout:      10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func shutdownConfig(t *testing.T) models.SSHShutdownConfig {
	return models.SSHShutdownConfig{
		Host:          "192.168.1.50",
		Port:          22,
		Username:      "backup",
		PrivateKey:    generateTestKey(t),
		ShutdownDelay: 1,
	}
}

func TestWake_NoPollURL(t *testing.T) {
	var gotMAC net.HardwareAddr
	var gotIP string
	wolClient := &mockWakeClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			gotIP = broadcastIP
			gotMAC = mac
			return nil
		},
	}
	svc := NewWithClients(testLogger(), wolClient, nil, nil)

	cfg := wakeConfig()
	cfg.PollURL = ""
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.HostReady)
	assert.Equal(t, "192.168.1.255", gotIP)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", gotMAC.String())
}

func TestWake_NoPollURLCancelled(t *testing.T) {
	sent := false
	wolClient := &mockWakeClient{
		wakeFunc: func(string, net.HardwareAddr) error {
			sent = true
			return nil
		},
	}
	svc := NewWithClients(testLogger(), wolClient, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := wakeConfig()
	cfg.PollURL = ""
	result, err := svc.Wake(ctx, cfg)

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, sent)
	assert.False(t, result.HostReady)
}

func TestWake_NoPollURLCancelledAfterSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wolClient := &mockWakeClient{
		wakeFunc: func(string, net.HardwareAddr) error {
			cancel()
			return nil
		},
	}
	svc := NewWithClients(testLogger(), wolClient, nil, nil)

	cfg := wakeConfig()
	cfg.PollURL = ""
	result, err := svc.Wake(ctx, cfg)

	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.PacketSent)
	assert.False(t, result.HostReady)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWakeClient{}, nil, nil)

	cfg := wakeConfig()
	cfg.MACAddress = "not-a-mac"
	result, err := svc.Wake(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid MAC address")
	assert.False(t, result.PacketSent)
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWakeClient{
		wakeFunc: func(string, net.HardwareAddr) error { return errors.New("network unreachable") },
	}
	svc := NewWithClients(testLogger(), wolClient, nil, nil)

	result, err := svc.Wake(context.Background(), wakeConfig())

	require.Error(t, err)
	assert.False(t, result.PacketSent)
}

func TestWake_PollsUntilHostAnswers(t *testing.T) {
	calls := 0
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection refused")
			}
			return okResponse(), nil
		},
	}
	svc := NewWithClients(testLogger(), &mockWakeClient{}, httpClient, nil)

	result, err := svc.Wake(context.Background(), wakeConfig())

	require.NoError(t, err)
	assert.True(t, result.HostReady)
	assert.Equal(t, 3, calls)
}

func TestWake_Timeout(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) { return nil, errors.New("connection refused") },
	}
	svc := NewWithClients(testLogger(), &mockWakeClient{}, httpClient, nil)

	cfg := wakeConfig()
	cfg.Timeout = 50 * time.Millisecond
	result, err := svc.Wake(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.True(t, result.PacketSent)
	assert.False(t, result.HostReady)
}

func TestWake_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) { return nil, errors.New("connection refused") },
	}
	svc := NewWithClients(testLogger(), &mockWakeClient{}, httpClient, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := wakeConfig()
	cfg.PollInterval = 100 * time.Millisecond
	result, err := svc.Wake(ctx, cfg)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.HostReady)
}

func TestWake_StabilizeWait(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWakeClient{}, &mockHTTPClient{}, nil)

	cfg := wakeConfig()
	cfg.StabilizeWait = 50 * time.Millisecond
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.HostReady)
	assert.GreaterOrEqual(t, result.WaitDuration, 50*time.Millisecond)
}

func TestShutdown_Success(t *testing.T) {
	var gotCmd, gotAddr string
	client := &mockSSHClient{
		newSessionFunc: func() (SSHSession, error) {
			return &mockSSHSession{
				combinedOutputFunc: func(cmd string) ([]byte, error) {
					gotCmd = cmd
					return []byte("Shutdown scheduled"), nil
				},
			}, nil
		},
	}
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			gotAddr = addr
			assert.Equal(t, "backup", config.User)
			return client, nil
		},
	}
	svc := NewWithClients(testLogger(), nil, nil, factory)

	result, err := svc.Shutdown(context.Background(), shutdownConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Equal(t, "Shutdown scheduled", result.Output)
	assert.Equal(t, "sudo shutdown -h +1", gotCmd)
	assert.Equal(t, "192.168.1.50:22", gotAddr)
	assert.True(t, client.closed)
}

func TestShutdown_DroppedConnectionIsNotAnError(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(string, string, *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(string) ([]byte, error) {
							return nil, errors.New("wait: remote command exited without exit status")
						},
					}, nil
				},
			}, nil
		},
	}
	svc := NewWithClients(testLogger(), nil, nil, factory)

	result, err := svc.Shutdown(context.Background(), shutdownConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
}

func TestShutdown_ConnectionFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(string, string, *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewWithClients(testLogger(), nil, nil, factory)

	result, err := svc.Shutdown(context.Background(), shutdownConfig(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
	assert.False(t, result.CommandRun)
}

func TestShutdown_SessionFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(string, string, *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) { return nil, errors.New("session refused") },
			}, nil
		},
	}
	svc := NewWithClients(testLogger(), nil, nil, factory)

	_, err := svc.Shutdown(context.Background(), shutdownConfig(t))

	assert.ErrorContains(t, err, "failed to create session")
}

func TestShutdown_NoPrivateKey(t *testing.T) {
	svc := NewWithClients(testLogger(), nil, nil, &mockClientFactory{})

	cfg := shutdownConfig(t)
	cfg.PrivateKey = nil
	_, err := svc.Shutdown(context.Background(), cfg)

	assert.ErrorContains(t, err, "no private key provided")
}

func TestShutdown_InvalidPrivateKey(t *testing.T) {
	svc := NewWithClients(testLogger(), nil, nil, &mockClientFactory{})

	cfg := shutdownConfig(t)
	cfg.PrivateKey = []byte("garbage")
	_, err := svc.Shutdown(context.Background(), cfg)

	assert.ErrorContains(t, err, "failed to parse private key")
}

func TestShutdown_ContextCancelled(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(string, string, *ssh.ClientConfig) (SSHClient, error) {
			time.Sleep(200 * time.Millisecond)
			return &mockSSHClient{}, nil
		},
	}
	svc := NewWithClients(testLogger(), nil, nil, factory)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Shutdown(ctx, shutdownConfig(t))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTestConnection(t *testing.T) {
	var gotCmd string
	factory := &mockClientFactory{
		newClientFunc: func(string, string, *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							gotCmd = cmd
							return []byte("OK\n"), nil
						},
					}, nil
				},
			}, nil
		},
	}
	svc := NewWithClients(testLogger(), nil, nil, factory)

	result, err := svc.TestConnection(context.Background(), shutdownConfig(t))

	require.NoError(t, err)
	assert.Equal(t, "echo OK", gotCmd)
	assert.Equal(t, "OK\n", result.Output)
}

func TestTestConnection_CommandFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(string, string, *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(string) ([]byte, error) { return nil, errors.New("exit status 127") },
					}, nil
				},
			}, nil
		},
	}
	svc := NewWithClients(testLogger(), nil, nil, factory)

	_, err := svc.TestConnection(context.Background(), shutdownConfig(t))

	assert.ErrorContains(t, err, "test command failed")
}

func TestBuildClientConfig_KeyPath(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, generateTestKey(t), 0o600))

	cfg := models.SSHShutdownConfig{Username: "backup", KeyPath: keyPath}
	config, err := buildClientConfig(cfg)

	require.NoError(t, err)
	assert.Equal(t, "backup", config.User)
	assert.Len(t, config.Auth, 1)
}

func TestBuildClientConfig_KeyPathNotFound(t *testing.T) {
	_, err := buildClientConfig(models.SSHShutdownConfig{KeyPath: "/nonexistent/key"})

	assert.ErrorContains(t, err, "failed to read private key")
}

func TestShutdownCommand(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.SSHShutdownConfig
		want string
	}{
		{"linux now", models.SSHShutdownConfig{}, "sudo shutdown -h now"},
		{"linux delayed", models.SSHShutdownConfig{ShutdownDelay: 5}, "sudo shutdown -h +5"},
		{"windows default delay", models.SSHShutdownConfig{OS: "windows"}, "shutdown /s /t 60"},
		{"windows delayed", models.SSHShutdownConfig{OS: "windows", ShutdownDelay: 2}, "shutdown /s /t 120"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shutdownCommand(tt.cfg))
		})
	}
}
