package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `validate:"required"`
	ChatID   string `validate:"required"`
}

// RunReport is the summary of a run sent to the operator.
type RunReport struct {
	Project         string
	Host            string
	RunID           string
	StartTime       time.Time
	Duration        time.Duration
	Success         bool
	NothingToBackUp bool
	FailedState     RunState
	ErrorMessage    string
	Artifacts       []Artifact
	UploadedCount   int

	PruneAttempted bool
	Pruned         int
	Kept           int
	PruneError     string
}

// NotificationResult holds the result of sending a notification.
type NotificationResult struct {
	MessageSent bool
}
