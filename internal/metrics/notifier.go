package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"marketfeed/internal/core/domain"
)

// Notifier delivers urgent alerts to an external channel.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// LogNotifier writes alerts to the structured log. Default when no external
// channel is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, alert domain.Alert) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Error("ALERT",
		"rule", alert.RuleName,
		"severity", string(alert.Severity),
		"value", alert.TriggerValue,
		"threshold", alert.Threshold,
	)
	return nil
}

// TelegramNotifier pushes alert messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	log      *slog.Logger
}

// NewTelegramNotifier builds a notifier for the given bot and chat.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, log *slog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if log == nil {
		log = slog.Default()
	}
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Notify calls the sendMessage API with a rendered alert summary.
func (n *TelegramNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderAlert(alert),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.log.Info("alert notification sent",
		"rule", alert.RuleName, "severity", string(alert.Severity), "channel", "telegram")
	return nil
}

func renderAlert(alert domain.Alert) string {
	b := strings.Builder{}
	b.WriteString("[marketfeed alert]\n")
	b.WriteString(fmt.Sprintf("Rule: %s\n", alert.RuleName))
	b.WriteString(fmt.Sprintf("Severity: %s\n", alert.Severity))
	b.WriteString(fmt.Sprintf("Value: %.3f (threshold %.3f)\n", alert.TriggerValue, alert.Threshold))
	b.WriteString(fmt.Sprintf("At: %s\n", alert.Timestamp.UTC().Format(time.RFC3339)))
	return b.String()
}
