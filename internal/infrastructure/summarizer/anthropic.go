package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ChristophFri/X-Feed-Reader/internal/config"
	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

// AnthropicBackend summarizes via the Anthropic Messages API.
type AnthropicBackend struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.SummaryBackend = (*AnthropicBackend)(nil)

// NewAnthropicBackend builds a client from configuration.
func NewAnthropicBackend(cfg config.BackendConfig) *AnthropicBackend {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnthropicBackend{
		endpoint:   endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the backend in briefings and diagnostics.
func (b *AnthropicBackend) Name() string { return "anthropic" }

// Summarize posts the item batch as a messages request.
func (b *AnthropicBackend) Summarize(ctx context.Context, owner domain.Owner, items []domain.FeedItem, window domain.TimeRange) (string, domain.BriefingFormat, error) {
	if b.apiKey == "" || b.model == "" {
		return "", "", b.fatal(fmt.Errorf("backend misconfigured: api key and model required"))
	}
	if len(items) == 0 {
		return "", "", b.fatal(fmt.Errorf("empty item batch"))
	}

	prompt, err := userPrompt(items, window)
	if err != nil {
		return "", "", b.fatal(err)
	}

	body, err := json.Marshal(map[string]any{
		"model":      b.model,
		"max_tokens": anthropicMaxTokens,
		"system":     systemPrompt(owner),
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", "", b.fatal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", b.fatal(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", "", b.recoverable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		diagnostic, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("messages API %s: %s", resp.Status, strings.TrimSpace(string(diagnostic)))
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return "", "", b.fatal(err)
		}
		return "", "", b.recoverable(err)
	}

	var payload struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", b.recoverable(fmt.Errorf("decode response: %w", err))
	}

	if len(payload.Content) == 0 || strings.TrimSpace(payload.Content[0].Text) == "" {
		return "", "", b.recoverable(fmt.Errorf("empty completion"))
	}

	return payload.Content[0].Text, domain.FormatMarkdown, nil
}

func (b *AnthropicBackend) fatal(err error) error {
	return &domain.BackendError{Backend: b.Name(), Class: domain.SummaryFatal, Err: err}
}

func (b *AnthropicBackend) recoverable(err error) error {
	return &domain.BackendError{Backend: b.Name(), Class: domain.SummaryRecoverable, Err: err}
}
