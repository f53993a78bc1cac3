package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ChristophFri/X-Feed-Reader/internal/config"
	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// APIProvider fetches the owner's home timeline from the structured
// feed API. Authentication uses a bearer token held in the session
// store; token refresh happens out of band.
type APIProvider struct {
	baseURL  string
	sessions ports.SessionStore
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.FeedProvider = (*APIProvider)(nil)

// NewAPIProvider wires the timeline API client.
func NewAPIProvider(cfg config.APIProviderConfig, sessions ports.SessionStore, logger *slog.Logger) *APIProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIProvider{
		baseURL:  cfg.BaseURL,
		sessions: sessions,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Name identifies the provider inside the feed-source registry.
func (p *APIProvider) Name() string { return "api" }

// timelineResponse mirrors the upstream wire format: a data array plus
// expanded author and referenced-post lookups.
type timelineResponse struct {
	Data     []apiPost `json:"data"`
	Includes struct {
		Users []apiUser `json:"users"`
		Posts []apiPost `json:"tweets"`
	} `json:"includes"`
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type apiPost struct {
	ID            string `json:"id"`
	AuthorID      string `json:"author_id"`
	Text          string `json:"text"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics struct {
		Likes   int `json:"like_count"`
		Reposts int `json:"retweet_count"`
		Replies int `json:"reply_count"`
	} `json:"public_metrics"`
	Referenced []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

// Fetch pulls up to maxItems timeline posts newer than since. The
// upstream returns newest-first; the result declares that order.
func (p *APIProvider) Fetch(ctx context.Context, owner domain.Owner, since *time.Time, maxItems int) (domain.FetchResult, error) {
	token, ok, err := p.sessions.Get(ctx, sessionKey(owner.ID))
	if err != nil {
		return domain.FetchResult{}, &domain.TransientError{Err: fmt.Errorf("session lookup: %w", err)}
	}
	if !ok || token == "" {
		return domain.FetchResult{}, domain.ErrAuthExpired
	}

	endpoint, err := p.timelineURL(owner, since, maxItems)
	if err != nil {
		return domain.FetchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.FetchResult{}, &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Drop the stale token so the next run fails fast too.
		_ = p.sessions.Delete(ctx, sessionKey(owner.ID))
		return domain.FetchResult{}, domain.ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.FetchResult{}, &domain.RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return domain.FetchResult{}, &domain.TransientError{Err: fmt.Errorf("timeline API returned %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return domain.FetchResult{}, fmt.Errorf("timeline API returned %s", resp.Status)
	}

	var payload timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.FetchResult{}, &domain.TransientError{Err: fmt.Errorf("decode timeline: %w", err)}
	}

	users := make(map[string]apiUser, len(payload.Includes.Users))
	for _, u := range payload.Includes.Users {
		users[u.ID] = u
	}

	fetchedAt := time.Now().UTC()
	items := make([]domain.FeedItem, 0, len(payload.Data))
	for _, post := range payload.Data {
		items = append(items, p.transform(owner, post, users, fetchedAt))
	}

	p.debug("fetched timeline", "owner", owner.ID, "items", len(items))
	return domain.FetchResult{Items: items, Order: domain.OrderReverseChronological}, nil
}

func (p *APIProvider) transform(owner domain.Owner, post apiPost, users map[string]apiUser, fetchedAt time.Time) domain.FeedItem {
	author := users[post.AuthorID]

	item := domain.FeedItem{
		ID:         post.ID,
		OwnerID:    owner.ID,
		Author:     author.Username,
		AuthorName: author.Name,
		Text:       post.Text,
		FetchedAt:  fetchedAt,
		Likes:      post.PublicMetrics.Likes,
		Reposts:    post.PublicMetrics.Reposts,
		Replies:    post.PublicMetrics.Replies,
	}

	if ts, err := time.Parse(time.RFC3339, post.CreatedAt); err == nil {
		item.PostedAt = ts.UTC()
	} else {
		item.PostedAt = fetchedAt
	}

	for _, ref := range post.Referenced {
		switch ref.Type {
		case "retweeted":
			item.IsRepost = true
		case "replied_to":
			item.IsReply = true
		}
	}

	return item
}

func (p *APIProvider) timelineURL(owner domain.Owner, since *time.Time, maxItems int) (string, error) {
	parsed, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid API base url %s: %w", p.baseURL, err)
	}
	parsed = parsed.JoinPath("users", owner.Handle, "timeline")

	query := parsed.Query()
	query.Set("max_results", strconv.Itoa(maxItems))
	if since != nil {
		query.Set("start_time", since.UTC().Format(time.RFC3339))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sessionKey(ownerID string) string {
	return "session:" + ownerID
}

func (p *APIProvider) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
