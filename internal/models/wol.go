package models

import "time"

// WOLConfig holds Wake-on-LAN settings for the storage host.
type WOLConfig struct {
	MACAddress    string `validate:"required,mac"`
	BroadcastIP   string `validate:"required,ip"`
	PollURL       string // polled until the storage host answers
	Timeout       time.Duration
	PollInterval  time.Duration
	StabilizeWait time.Duration
}
