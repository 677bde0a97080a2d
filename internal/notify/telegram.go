package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Telegram Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender delivers alerts through the Telegram Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: DefaultTelegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithAPIBase points the sender at another Bot API host.
func (t *TelegramSender) WithAPIBase(base string) *TelegramSender {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

// Send posts an HTML-formatted message with the title in bold. Addresses and
// hashes are sent verbatim, so the text is escaped rather than parsed as
// Markdown.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("<b>%s</b>\n%s", escapeHTML(title), escapeHTML(message)),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	if err := postJSON(ctx, t.client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
