// Package models contains the data structures used throughout gobucket-homelab.
package models

import "time"

// BackupConfig holds the complete configuration for a backup run.
type BackupConfig struct {
	Project     string `validate:"required,excludesall=/\\"`
	Storage     StorageConfig
	Staging     StagingSettings
	Timeout     time.Duration `validate:"gte=0"`
	Targets     []Target           // directories first, then databases, in declaration order
	Retention   *RetentionPolicy   // nil if not configured
	Metrics     MetricsSettings
	WOL         *WOLConfig         // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
	Telegram    *TelegramConfig    // nil if not configured
}

// StorageConfig holds the S3-compatible object store configuration.
type StorageConfig struct {
	Endpoint             string `validate:"required"`
	Bucket               string `validate:"required"`
	Region               string
	AccessKey            string
	SecretKey            string
	UseSSL               bool
	PathStyle            bool
	ServerSideEncryption bool
	PartSize             uint64 // multipart part size in bytes, 0 lets the client decide
}

// StagingSettings controls the local staging area.
type StagingSettings struct {
	Dir         string `validate:"required"`
	Concurrency int    `validate:"gte=1"`
}

// RetentionPolicy defines how many generations survive in each tier.
type RetentionPolicy struct {
	KeepDaily   int `validate:"gte=0"`
	KeepWeekly  int `validate:"gte=0"`
	KeepMonthly int `validate:"gte=0"`
}

// MetricsSettings controls Prometheus textfile export.
type MetricsSettings struct {
	TextfilePath string // empty disables export
}
