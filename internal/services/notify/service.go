// Package notify sends run reports to Telegram.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.telegram.org"

// Service defines the interface for run notifications.
type Service interface {
	SendReport(ctx context.Context, cfg models.TelegramConfig, report models.RunReport) (*models.NotificationResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the notify Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram notifier.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		baseURL:    defaultBaseURL,
	}
}

// NewWithClient creates a new notifier with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendReport posts report to the configured chat.
func (s *Impl) SendReport(ctx context.Context, cfg models.TelegramConfig, report models.RunReport) (*models.NotificationResult, error) {
	result := &models.NotificationResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", report.Success).
		Msg("sending Telegram notification")

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      FormatReport(report),
		ParseMode: "HTML",
	})
	if err != nil {
		return result, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent")
	return result, nil
}

// FormatReport renders report as Telegram HTML.
func FormatReport(r models.RunReport) string {
	var b bytes.Buffer

	switch {
	case !r.Success:
		b.WriteString("❌ <b>Backup Failed</b>\n\n")
	case r.NothingToBackUp:
		b.WriteString("ℹ️ <b>Nothing to Back Up</b>\n\n")
	default:
		b.WriteString("✅ <b>Backup Successful</b>\n\n")
	}

	fmt.Fprintf(&b, "📦 <b>Project:</b> %s\n", html.EscapeString(r.Project))
	fmt.Fprintf(&b, "🖥 <b>Host:</b> %s\n", html.EscapeString(r.Host))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", r.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", r.Duration.Round(time.Second))
	if r.RunID != "" {
		fmt.Fprintf(&b, "🔖 <b>Run:</b> <code>%s</code>\n", r.RunID)
	}

	if len(r.Artifacts) > 0 {
		var total int64
		b.WriteString("\n<b>📊 Artifacts:</b>\n")
		for _, a := range r.Artifacts {
			total += a.SizeBytes
			fmt.Fprintf(&b, "  • %s: %s\n", html.EscapeString(a.Name), humanize.IBytes(uint64(a.SizeBytes)))
		}
		fmt.Fprintf(&b, "  • Uploaded: %d/%d (%s)\n", r.UploadedCount, len(r.Artifacts), humanize.IBytes(uint64(total)))
	}

	if r.PruneAttempted {
		b.WriteString("\n<b>🗑 Retention:</b>\n")
		fmt.Fprintf(&b, "  • Objects kept: %d\n", r.Kept)
		fmt.Fprintf(&b, "  • Objects removed: %d\n", r.Pruned)
		if r.PruneError != "" {
			fmt.Fprintf(&b, "  • ⚠️ Warning: <code>%s</code>\n", html.EscapeString(r.PruneError))
		}
	}

	if !r.Success {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		fmt.Fprintf(&b, "  • Failed step: %s\n", html.EscapeString(string(r.FailedState)))
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", html.EscapeString(r.ErrorMessage))
	}

	return b.String()
}
