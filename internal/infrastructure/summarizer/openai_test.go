package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ChristophFri/X-Feed-Reader/internal/config"
	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
)

func summarizerItems() []domain.FeedItem {
	return []domain.FeedItem{
		{ID: "1", Author: "alice", Text: "first post"},
		{ID: "2", Author: "bob", Text: "second post"},
	}
}

func backendClass(t *testing.T, err error) domain.SummaryFailure {
	t.Helper()
	var be *domain.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	return be.Class
}

func TestOpenAIBackendSummarize(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"# Briefing\n\nthe digest"}}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(config.BackendConfig{Endpoint: srv.URL, Model: "gpt-4o-mini", APIKey: "sk-test"})
	owner := domain.Owner{ID: "owner-1", Preset: "anti_politics"}

	text, format, err := b.Summarize(context.Background(), owner, summarizerItems(), domain.TimeRange{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if text != "# Briefing\n\nthe digest" {
		t.Errorf("text = %q", text)
	}
	if format != domain.FormatMarkdown {
		t.Errorf("format = %q", format)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", gotBody["model"])
	}

	messages, _ := gotBody["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %v", gotBody["messages"])
	}
	system, _ := messages[0].(map[string]any)
	if content, _ := system["content"].(string); !strings.Contains(content, "political") {
		t.Errorf("system prompt missing preset: %q", content)
	}
	user, _ := messages[1].(map[string]any)
	if content, _ := user["content"].(string); !strings.Contains(content, "first post") {
		t.Errorf("user prompt missing items: %q", content)
	}
}

func TestOpenAIBackendErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   domain.SummaryFailure
	}{
		{"unauthorized", http.StatusUnauthorized, domain.SummaryFatal},
		{"bad request", http.StatusBadRequest, domain.SummaryFatal},
		{"rate limited", http.StatusTooManyRequests, domain.SummaryRecoverable},
		{"timeout", http.StatusRequestTimeout, domain.SummaryRecoverable},
		{"server error", http.StatusInternalServerError, domain.SummaryRecoverable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			b := NewOpenAIBackend(config.BackendConfig{Endpoint: srv.URL, Model: "m"})
			_, _, err := b.Summarize(context.Background(), domain.Owner{}, summarizerItems(), domain.TimeRange{})
			if got := backendClass(t, err); got != tc.want {
				t.Errorf("class = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOpenAIBackendEmptyCompletionIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(config.BackendConfig{Endpoint: srv.URL, Model: "m"})
	_, _, err := b.Summarize(context.Background(), domain.Owner{}, summarizerItems(), domain.TimeRange{})
	if got := backendClass(t, err); got != domain.SummaryRecoverable {
		t.Errorf("class = %v", got)
	}
}

func TestOpenAIBackendMisconfigurationIsFatal(t *testing.T) {
	b := NewOpenAIBackend(config.BackendConfig{})
	_, _, err := b.Summarize(context.Background(), domain.Owner{}, summarizerItems(), domain.TimeRange{})
	if got := backendClass(t, err); got != domain.SummaryFatal {
		t.Errorf("class = %v", got)
	}

	b = NewOpenAIBackend(config.BackendConfig{Endpoint: "http://localhost:1", Model: "m"})
	_, _, err = b.Summarize(context.Background(), domain.Owner{}, nil, domain.TimeRange{})
	if got := backendClass(t, err); got != domain.SummaryFatal {
		t.Errorf("empty batch class = %v", got)
	}
}
