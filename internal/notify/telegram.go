package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramSender delivers messages via the Telegram Bot API. It serves both
// roles: operational notifications to a fixed ops chat (Sender) and per-user
// alert delivery (UserSender).
type TelegramSender struct {
	token     string
	opsChatID string
	client    *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token. The
// opsChatID receives operational notifications; user alerts are addressed per
// call via SendTo.
func NewTelegramSender(token, opsChatID string) *TelegramSender {
	return &TelegramSender{
		token:     token,
		opsChatID: opsChatID,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts an operational message to the configured ops chat with the title
// rendered in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.SendTo(ctx, t.opsChatID, fmt.Sprintf("*%s*\n%s", title, message))
}

// SendTo posts text to the given chat using the sendMessage API. HTTP 4xx
// responses other than 429 are wrapped as PermanentError: Telegram rejects
// the request itself (bad chat, blocked bot) and a retry cannot change that.
func (t *TelegramSender) SendTo(ctx context.Context, chatID, text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	payload := map[string]string{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	sendErr := fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return Permanent(sendErr)
	}
	return sendErr
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
