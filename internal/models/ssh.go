package models

import "time"

// SSHShutdownConfig holds the SSH settings used to power off the storage host after a run.
type SSHShutdownConfig struct {
	Host          string `validate:"required"`
	Port          int    `validate:"gte=1,lte=65535"`
	Username      string `validate:"required"`
	PrivateKey    []byte // loaded from KeyPath when nil
	KeyPath       string `validate:"required"`
	ShutdownDelay int    // minutes; converted to seconds on windows
	OS            string `validate:"oneof=linux windows"`
}

// PowerResult holds the result of a wake or shutdown of the storage host.
type PowerResult struct {
	PacketSent   bool
	HostReady    bool
	CommandRun   bool
	Output       string
	WaitDuration time.Duration
}
