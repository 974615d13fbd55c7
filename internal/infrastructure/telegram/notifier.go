package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends alert events to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier. An empty apiBase targets the public API.
func NewNotifier(botToken, chatID, apiBase string) *Notifier {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  strings.TrimRight(apiBase, "/"),
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyAlert posts a Markdown message describing the alert.
func (n *Notifier) NotifyAlert(ctx context.Context, event domain.AlertEvent) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", FormatAlert(event))
	form.Set("parse_mode", "Markdown")
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`")

// FormatAlert renders the message body.
func FormatAlert(event domain.AlertEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", markdownEscaper.Replace(event.Title))
	fmt.Fprintf(&b, "Relevance %d/10, impact %d/10", event.RelevanceScore, event.ImpactScore)
	if event.Source != "" {
		fmt.Fprintf(&b, " · %s", markdownEscaper.Replace(event.Source))
	}
	if event.Summary != "" {
		b.WriteString("\n\n" + markdownEscaper.Replace(event.Summary))
	}
	if event.URL != "" {
		b.WriteString("\n\n" + event.URL)
	}
	return b.String()
}
