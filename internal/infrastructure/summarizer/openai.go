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

// OpenAIBackend summarizes via an OpenAI-compatible chat completions
// endpoint (OpenAI itself, or a local server speaking the same format).
type OpenAIBackend struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.SummaryBackend = (*OpenAIBackend)(nil)

// NewOpenAIBackend builds a client from configuration.
func NewOpenAIBackend(cfg config.BackendConfig) *OpenAIBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIBackend{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the backend in briefings and diagnostics.
func (b *OpenAIBackend) Name() string { return "openai" }

// Summarize posts the item batch as a chat completion request.
func (b *OpenAIBackend) Summarize(ctx context.Context, owner domain.Owner, items []domain.FeedItem, window domain.TimeRange) (string, domain.BriefingFormat, error) {
	if b.endpoint == "" || b.model == "" {
		return "", "", b.fatal(fmt.Errorf("backend misconfigured: endpoint and model required"))
	}
	if len(items) == 0 {
		return "", "", b.fatal(fmt.Errorf("empty item batch"))
	}

	prompt, err := userPrompt(items, window)
	if err != nil {
		return "", "", b.fatal(err)
	}

	body, err := json.Marshal(map[string]any{
		"model": b.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt(owner)},
			{"role": "user", "content": prompt},
		},
		"stream": false,
	})
	if err != nil {
		return "", "", b.fatal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", b.fatal(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", "", b.recoverable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		diagnostic, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("chat API %s: %s", resp.Status, strings.TrimSpace(string(diagnostic)))
		// 4xx is a bad request or bad credentials: fatal. 408/429/5xx
		// are worth handing to the next backend.
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return "", "", b.fatal(err)
		}
		return "", "", b.recoverable(err)
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", b.recoverable(fmt.Errorf("decode response: %w", err))
	}

	if len(payload.Choices) == 0 || strings.TrimSpace(payload.Choices[0].Message.Content) == "" {
		return "", "", b.recoverable(fmt.Errorf("empty completion"))
	}

	return payload.Choices[0].Message.Content, domain.FormatMarkdown, nil
}

func (b *OpenAIBackend) fatal(err error) error {
	return &domain.BackendError{Backend: b.Name(), Class: domain.SummaryFatal, Err: err}
}

func (b *OpenAIBackend) recoverable(err error) error {
	return &domain.BackendError{Backend: b.Name(), Class: domain.SummaryRecoverable, Err: err}
}
