// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Retention counts used for keys missing from a configured retention section.
const (
	DefaultKeepDaily   = 7
	DefaultKeepWeekly  = 4
	DefaultKeepMonthly = 6
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.server_side_encryption", true)
	v.SetDefault("staging.concurrency", 1)

	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

type directoryEntry struct {
	Name    string   `mapstructure:"name"`
	Path    string   `mapstructure:"path"`
	Exclude []string `mapstructure:"exclude"`
}

type databaseEntry struct {
	Name            string `mapstructure:"name"`
	Engine          string `mapstructure:"engine"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	CredentialsFile string `mapstructure:"credentials_file"`
	DumpCommand     string `mapstructure:"dump_command"`
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{
		Project: p.v.GetString("project"),
		Timeout: p.v.GetDuration("timeout"),
	}

	if cfg.Project == "" {
		return nil, fmt.Errorf("project is required")
	}

	partSize, err := p.bytes("storage.part_size")
	if err != nil {
		return nil, err
	}

	cfg.Storage = models.StorageConfig{
		Endpoint:             p.v.GetString("storage.endpoint"),
		Bucket:               p.v.GetString("storage.bucket"),
		Region:               p.v.GetString("storage.region"),
		AccessKey:            p.expandEnv(p.v.GetString("storage.access_key")),
		SecretKey:            p.expandEnv(p.v.GetString("storage.secret_key")),
		UseSSL:               p.v.GetBool("storage.use_ssl"),
		PathStyle:            p.v.GetBool("storage.path_style"),
		ServerSideEncryption: p.v.GetBool("storage.server_side_encryption"),
		PartSize:             partSize,
	}

	if cfg.Storage.Endpoint == "" {
		return nil, fmt.Errorf("storage.endpoint is required")
	}
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is required")
	}

	cfg.Staging = models.StagingSettings{
		Dir:         p.expandEnv(p.v.GetString("staging.dir")),
		Concurrency: p.v.GetInt("staging.concurrency"),
	}
	if cfg.Staging.Dir == "" {
		cfg.Staging.Dir = filepath.Join(os.TempDir(), "gobucket-homelab", cfg.Project)
	}

	// Directories come first, then databases, each in declaration order.
	var dirs []directoryEntry
	if err := p.v.UnmarshalKey("directories", &dirs); err != nil {
		return nil, fmt.Errorf("parsing directories: %w", err)
	}
	for i, d := range dirs {
		if d.Name == "" {
			return nil, fmt.Errorf("directories[%d].name is required", i)
		}
		cfg.Targets = append(cfg.Targets, models.DirectoryTarget{
			Name:       d.Name,
			SourcePath: p.expandEnv(d.Path),
			Exclude:    d.Exclude,
		})
	}

	var dbs []databaseEntry
	if err := p.v.UnmarshalKey("databases", &dbs); err != nil {
		return nil, fmt.Errorf("parsing databases: %w", err)
	}
	for i, d := range dbs {
		if d.Name == "" {
			return nil, fmt.Errorf("databases[%d].name is required", i)
		}
		if d.Host == "" {
			d.Host = "localhost"
		}
		if d.Port == 0 {
			d.Port = 3306
		}
		cfg.Targets = append(cfg.Targets, models.DatabaseTarget{
			Name:            d.Name,
			Engine:          models.Engine(strings.ToLower(d.Engine)),
			Host:            d.Host,
			Port:            d.Port,
			Username:        p.expandEnv(d.Username),
			Password:        p.expandEnv(d.Password),
			Database:        d.Database,
			CredentialsFile: p.expandEnv(d.CredentialsFile),
			DumpCommand:     d.DumpCommand,
		})
	}

	// Pruning only happens when a retention section exists.
	if p.v.IsSet("retention") {
		cfg.Retention = &models.RetentionPolicy{
			KeepDaily:   p.intOr("retention.keep_daily", DefaultKeepDaily),
			KeepWeekly:  p.intOr("retention.keep_weekly", DefaultKeepWeekly),
			KeepMonthly: p.intOr("retention.keep_monthly", DefaultKeepMonthly),
		}
	}

	cfg.Metrics = models.MetricsSettings{
		TextfilePath: p.expandEnv(p.v.GetString("metrics.textfile")),
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollURL:       p.v.GetString("wol.poll_url"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:          p.v.GetString("ssh_shutdown.host"),
			Port:          p.v.GetInt("ssh_shutdown.port"),
			Username:      p.v.GetString("ssh_shutdown.username"),
			KeyPath:       p.expandEnv(p.v.GetString("ssh_shutdown.key_path")),
			ShutdownDelay: p.v.GetInt("ssh_shutdown.shutdown_delay"),
			OS:            p.v.GetString("ssh_shutdown.os"),
		}

		if cfg.SSHShutdown.Host == "" {
			return nil, fmt.Errorf("ssh_shutdown.host is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, fmt.Errorf("ssh_shutdown.key_path is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.OS == "" {
			cfg.SSHShutdown.OS = "linux"
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func (p *Parser) intOr(key string, def int) int {
	if !p.v.IsSet(key) {
		return def
	}
	return p.v.GetInt(key)
}

// bytes reads a size such as "64MiB" or a plain byte count.
func (p *Parser) bytes(key string) (uint64, error) {
	raw := strings.TrimSpace(p.v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		return describe(err, "")
	}

	for _, t := range cfg.Targets {
		if err := validate.Struct(t); err != nil {
			return describe(err, t.TargetName())
		}
	}

	return models.ValidateTargets(cfg.Targets)
}

// describe turns validator errors into a *models.ValidationError for the first failing field.
func describe(err error, target string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]

	field := fe.Namespace()
	if target != "" {
		field = fe.Field()
	}

	reason := "failed " + fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return &models.ValidationError{Target: target, Field: field, Reason: reason}
}
