package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
project: homelab
storage:
  endpoint: minio.lan:9000
  bucket: backups
`

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	cfg, err := NewParser().LoadReader(minimalYAML)

	require.NoError(t, err)
	assert.Equal(t, "homelab", cfg.Project)
	assert.Equal(t, "minio.lan:9000", cfg.Storage.Endpoint)
	assert.Equal(t, "backups", cfg.Storage.Bucket)
	// defaults
	assert.True(t, cfg.Storage.UseSSL)
	assert.True(t, cfg.Storage.ServerSideEncryption)
	assert.Equal(t, 1, cfg.Staging.Concurrency)
	assert.Equal(t, filepath.Join(os.TempDir(), "gobucket-homelab", "homelab"), cfg.Staging.Dir)
	assert.Empty(t, cfg.Targets)
	assert.Nil(t, cfg.Retention)
	assert.Nil(t, cfg.WOL)
	assert.Nil(t, cfg.SSHShutdown)
	assert.Nil(t, cfg.Telegram)

	assert.NoError(t, Validate(cfg))
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
project: homelab
timeout: 2h
storage:
  endpoint: https://s3.example.com
  bucket: backups
  region: eu-central-1
  access_key: AKIA
  secret_key: secret
  use_ssl: false
  path_style: true
  server_side_encryption: false
  part_size: 64MiB
staging:
  dir: /var/tmp/gobucket
  concurrency: 3
directories:
  - name: photos
    path: /srv/photos
    exclude: ["*.tmp", "cache/**"]
  - name: docs
    path: /srv/docs
databases:
  - name: app
    engine: MariaDB
    host: db.lan
    port: 3307
    username: backup
    password: dbpass
    database: appdb
    dump_command: /usr/local/bin/mariadb-dump
  - name: wiki
    engine: mysql
    database: wiki
    credentials_file: /etc/gobucket/wiki.cnf
retention:
  keep_daily: 14
  keep_weekly: 8
  keep_monthly: 12
metrics:
  textfile: /var/lib/node_exporter/textfile/gobucket.prom
wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
  broadcast_ip: "192.168.1.255"
  poll_url: "http://192.168.1.50:9000/minio/health/live"
  timeout: 3m
  poll_interval: 5s
  stabilize_wait: 30s
ssh_shutdown:
  host: 192.168.1.50
  port: 2222
  username: admin
  key_path: /root/.ssh/id_ed25519
  shutdown_delay: 5
  os: windows
telegram:
  bot_token: "123:ABC"
  chat_id: "-100"
`
	cfg, err := NewParser().LoadReader(yaml)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Timeout)
	assert.Equal(t, models.StorageConfig{
		Endpoint:             "https://s3.example.com",
		Bucket:               "backups",
		Region:               "eu-central-1",
		AccessKey:            "AKIA",
		SecretKey:            "secret",
		UseSSL:               false,
		PathStyle:            true,
		ServerSideEncryption: false,
		PartSize:             64 * 1024 * 1024,
	}, cfg.Storage)
	assert.Equal(t, models.StagingSettings{Dir: "/var/tmp/gobucket", Concurrency: 3}, cfg.Staging)

	require.Len(t, cfg.Targets, 4)
	assert.Equal(t, models.DirectoryTarget{Name: "photos", SourcePath: "/srv/photos", Exclude: []string{"*.tmp", "cache/**"}}, cfg.Targets[0])
	assert.Equal(t, models.DirectoryTarget{Name: "docs", SourcePath: "/srv/docs"}, cfg.Targets[1])
	assert.Equal(t, models.DatabaseTarget{
		Name:        "app",
		Engine:      models.EngineMariaDB,
		Host:        "db.lan",
		Port:        3307,
		Username:    "backup",
		Password:    "dbpass",
		Database:    "appdb",
		DumpCommand: "/usr/local/bin/mariadb-dump",
	}, cfg.Targets[2])
	wiki, ok := cfg.Targets[3].(models.DatabaseTarget)
	require.True(t, ok)
	assert.Equal(t, "localhost", wiki.Host)
	assert.Equal(t, 3306, wiki.Port)
	assert.Equal(t, "/etc/gobucket/wiki.cnf", wiki.CredentialsFile)

	require.NotNil(t, cfg.Retention)
	assert.Equal(t, models.RetentionPolicy{KeepDaily: 14, KeepWeekly: 8, KeepMonthly: 12}, *cfg.Retention)
	assert.Equal(t, "/var/lib/node_exporter/textfile/gobucket.prom", cfg.Metrics.TextfilePath)

	require.NotNil(t, cfg.WOL)
	assert.Equal(t, 3*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 5*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.WOL.StabilizeWait)

	require.NotNil(t, cfg.SSHShutdown)
	assert.Equal(t, 2222, cfg.SSHShutdown.Port)
	assert.Equal(t, "admin", cfg.SSHShutdown.Username)
	assert.Equal(t, "windows", cfg.SSHShutdown.OS)

	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123:ABC", cfg.Telegram.BotToken)

	assert.NoError(t, Validate(cfg))
}

func TestParser_LoadReader_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_S3_SECRET", "s3-secret")
	t.Setenv("TEST_DB_PASSWORD", "db-secret")

	yaml := minimalYAML + `  secret_key: ${TEST_S3_SECRET}
databases:
  - name: app
    engine: mysql
    database: app
    password: ${TEST_DB_PASSWORD}
`
	cfg, err := NewParser().LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "s3-secret", cfg.Storage.SecretKey)
	db := cfg.Targets[0].(models.DatabaseTarget)
	assert.Equal(t, "db-secret", db.Password)
}

func TestParser_LoadReader_MissingProject(t *testing.T) {
	_, err := NewParser().LoadReader(`
storage:
  endpoint: minio.lan:9000
  bucket: backups
`)

	assert.ErrorContains(t, err, "project is required")
}

func TestParser_LoadReader_MissingStorage(t *testing.T) {
	_, err := NewParser().LoadReader(`project: homelab`)
	assert.ErrorContains(t, err, "storage.endpoint is required")

	_, err = NewParser().LoadReader(`
project: homelab
storage:
  endpoint: minio.lan:9000
`)
	assert.ErrorContains(t, err, "storage.bucket is required")
}

func TestParser_LoadReader_InvalidPartSize(t *testing.T) {
	_, err := NewParser().LoadReader(minimalYAML + "  part_size: lots\n")

	assert.ErrorContains(t, err, "storage.part_size")
}

func TestParser_LoadReader_RetentionPartialDefaults(t *testing.T) {
	cfg, err := NewParser().LoadReader(minimalYAML + `
retention:
  keep_weekly: 0
`)

	require.NoError(t, err)
	require.NotNil(t, cfg.Retention)
	assert.Equal(t, DefaultKeepDaily, cfg.Retention.KeepDaily)
	assert.Equal(t, 0, cfg.Retention.KeepWeekly)
	assert.Equal(t, DefaultKeepMonthly, cfg.Retention.KeepMonthly)
}

func TestParser_LoadReader_TargetNameRequired(t *testing.T) {
	_, err := NewParser().LoadReader(minimalYAML + `
directories:
  - path: /srv/photos
`)
	assert.ErrorContains(t, err, "directories[0].name is required")

	_, err = NewParser().LoadReader(minimalYAML + `
databases:
  - database: app
`)
	assert.ErrorContains(t, err, "databases[0].name is required")
}

func TestParser_LoadReader_WOL_MissingMACAddress(t *testing.T) {
	_, err := NewParser().LoadReader(minimalYAML + `
wol:
  broadcast_ip: "192.168.1.255"
`)

	assert.ErrorContains(t, err, "wol.mac_address is required")
}

func TestParser_LoadReader_WOL_Defaults(t *testing.T) {
	cfg, err := NewParser().LoadReader(minimalYAML + `
wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
`)

	require.NoError(t, err)
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, 5*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 10*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.WOL.StabilizeWait)
}

func TestParser_LoadReader_SSHShutdown_Defaults(t *testing.T) {
	cfg, err := NewParser().LoadReader(minimalYAML + `
ssh_shutdown:
  host: 192.168.1.50
  key_path: /root/.ssh/id_ed25519
`)

	require.NoError(t, err)
	require.NotNil(t, cfg.SSHShutdown)
	assert.Equal(t, 22, cfg.SSHShutdown.Port)
	assert.Equal(t, "root", cfg.SSHShutdown.Username)
	assert.Equal(t, "linux", cfg.SSHShutdown.OS)
	assert.Equal(t, 0, cfg.SSHShutdown.ShutdownDelay)
	assert.NoError(t, Validate(cfg))
}

func TestParser_LoadReader_SSHShutdown_MissingFields(t *testing.T) {
	_, err := NewParser().LoadReader(minimalYAML + `
ssh_shutdown:
  key_path: /root/.ssh/id_ed25519
`)
	assert.ErrorContains(t, err, "ssh_shutdown.host is required")

	_, err = NewParser().LoadReader(minimalYAML + `
ssh_shutdown:
  host: 192.168.1.50
`)
	assert.ErrorContains(t, err, "ssh_shutdown.key_path is required")
}

func TestParser_LoadReader_Telegram_MissingFields(t *testing.T) {
	_, err := NewParser().LoadReader(minimalYAML + `
telegram:
  chat_id: "-100"
`)
	assert.ErrorContains(t, err, "telegram.bot_token is required")

	_, err = NewParser().LoadReader(minimalYAML + `
telegram:
  bot_token: "123:ABC"
`)
	assert.ErrorContains(t, err, "telegram.chat_id is required")
}

func TestParser_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := NewParser().LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, "homelab", cfg.Project)
}

func TestParser_LoadFile_Missing(t *testing.T) {
	_, err := NewParser().LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.ErrorContains(t, err, "reading config file")
}

func validConfig() *models.BackupConfig {
	return &models.BackupConfig{
		Project: "homelab",
		Storage: models.StorageConfig{Endpoint: "minio.lan:9000", Bucket: "backups"},
		Staging: models.StagingSettings{Dir: "/tmp/stage", Concurrency: 1},
		Targets: []models.Target{
			models.DirectoryTarget{Name: "photos", SourcePath: "/srv/photos"},
			models.DatabaseTarget{Name: "app", Engine: models.EngineMySQL, Host: "localhost", Port: 3306, Database: "app"},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *models.BackupConfig)
		wantField string
	}{
		{"valid", func(*models.BackupConfig) {}, ""},
		{"project with slash", func(c *models.BackupConfig) { c.Project = "home/lab" }, "BackupConfig.Project"},
		{"zero concurrency", func(c *models.BackupConfig) { c.Staging.Concurrency = 0 }, "BackupConfig.Staging.Concurrency"},
		{"negative retention", func(c *models.BackupConfig) {
			c.Retention = &models.RetentionPolicy{KeepDaily: -1}
		}, "BackupConfig.Retention.KeepDaily"},
		{"bad mac", func(c *models.BackupConfig) {
			c.WOL = &models.WOLConfig{MACAddress: "zz", BroadcastIP: "192.168.1.255"}
		}, "BackupConfig.WOL.MACAddress"},
		{"unsupported engine", func(c *models.BackupConfig) {
			c.Targets[1] = models.DatabaseTarget{Name: "app", Engine: "postgres", Host: "localhost", Port: 3306, Database: "app"}
		}, "Engine"},
		{"bad port", func(c *models.BackupConfig) {
			c.Targets[1] = models.DatabaseTarget{Name: "app", Engine: models.EngineMySQL, Host: "localhost", Port: 70000, Database: "app"}
		}, "Port"},
		{"missing source path", func(c *models.BackupConfig) {
			c.Targets[0] = models.DirectoryTarget{Name: "photos"}
		}, "SourcePath"},
		{"duplicate names", func(c *models.BackupConfig) {
			c.Targets = append(c.Targets, models.DirectoryTarget{Name: "photos", SourcePath: "/other"})
		}, "name"},
		{"database name looks like a flag", func(c *models.BackupConfig) {
			c.Targets[1] = models.DatabaseTarget{Name: "app", Engine: models.EngineMySQL, Host: "localhost", Port: 3306, Database: "--all-databases"}
		}, "database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var validationErr *models.ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tt.wantField, validationErr.Field)
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	assert.Error(t, Validate(nil))
}
