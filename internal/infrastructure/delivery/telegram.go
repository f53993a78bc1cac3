package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ChristophFri/X-Feed-Reader/internal/config"
	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// telegramMessageLimit is the bot API's hard cap per sendMessage call.
const telegramMessageLimit = 4096

// TelegramChannel pushes briefings to a Telegram chat via the bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.DeliveryChannel = (*TelegramChannel)(nil)

// NewTelegramChannel registers bot token and chat identifier.
func NewTelegramChannel(cfg config.TelegramConfig) *TelegramChannel {
	return &TelegramChannel{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the channel in owner configs and run records.
func (c *TelegramChannel) Name() string { return "telegram" }

// Deliver posts the briefing, split into API-sized chunks.
func (c *TelegramChannel) Deliver(ctx context.Context, owner domain.Owner, b domain.Briefing) error {
	if c.botToken == "" || c.chatID == "" {
		return fmt.Errorf("telegram channel misconfigured")
	}

	for i, chunk := range chunkMessage(b.Content, telegramMessageLimit) {
		if err := c.sendMessage(ctx, chunk); err != nil {
			return fmt.Errorf("chunk %d: %w", i+1, err)
		}
	}
	return nil
}

func (c *TelegramChannel) sendMessage(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.botToken)
	form := url.Values{}
	form.Set("chat_id", c.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

// chunkMessage splits text into pieces of at most limit bytes,
// preferring paragraph then line boundaries.
func chunkMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n\n")
		if cut <= 0 {
			cut = strings.LastIndexByte(text[:limit], '\n')
		}
		if cut <= 0 {
			// Hard cut inside a paragraph: back off to a rune boundary
			// so a multi-byte character is never split across chunks.
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
