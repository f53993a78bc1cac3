package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ChristophFri/X-Feed-Reader/internal/config"
	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// ScrapeProvider fetches the timeline by downloading the rendered HTML
// page with the owner's session cookie and parsing post articles out of
// it. Slower and more fragile than the API variant; used when the owner
// has no API access.
type ScrapeProvider struct {
	timelineURL string
	sessions    ports.SessionStore
	client      *http.Client
	logger      *slog.Logger
}

var _ ports.FeedProvider = (*ScrapeProvider)(nil)

// NewScrapeProvider wires the HTML timeline scraper.
func NewScrapeProvider(cfg config.ScraperProviderConfig, sessions ports.SessionStore, logger *slog.Logger) *ScrapeProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ScrapeProvider{
		timelineURL: cfg.TimelineURL,
		sessions:    sessions,
		client: &http.Client{
			Timeout: timeout,
			// Login redirects must be observed, not followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Name identifies the provider inside the feed-source registry.
func (p *ScrapeProvider) Name() string { return "scraper" }

// Fetch downloads and parses the timeline page. The page renders
// newest-first; the result declares that order. The full visible
// timeline is always returned; deduplication downstream decides what is
// new, so items from a run that failed later are fetched again.
func (p *ScrapeProvider) Fetch(ctx context.Context, owner domain.Owner, since *time.Time, maxItems int) (domain.FetchResult, error) {
	cookie, ok, err := p.sessions.Get(ctx, sessionKey(owner.ID))
	if err != nil {
		return domain.FetchResult{}, &domain.TransientError{Err: fmt.Errorf("session lookup: %w", err)}
	}
	if !ok || cookie == "" {
		return domain.FetchResult{}, domain.ErrAuthExpired
	}

	doc, err := p.fetchDocument(ctx, cookie)
	if err != nil {
		return domain.FetchResult{}, err
	}

	items := p.extractItems(doc, owner, since, maxItems, time.Now().UTC())

	p.debug("scraped timeline", "owner", owner.ID, "items", len(items))
	return domain.FetchResult{Items: items, Order: domain.OrderReverseChronological}, nil
}

func (p *ScrapeProvider) fetchDocument(ctx context.Context, cookie string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.timelineURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "XFeedReader/1.0")
	req.Header.Set("Cookie", cookie)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode < http.StatusBadRequest:
		if isLoginLocation(resp.Header.Get("Location")) {
			return nil, domain.ErrAuthExpired
		}
		return nil, &domain.TransientError{Err: fmt.Errorf("unexpected redirect to %s", resp.Header.Get("Location"))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &domain.TransientError{Err: fmt.Errorf("timeline page returned %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("timeline page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Err: fmt.Errorf("parse document: %w", err)}
	}
	return doc, nil
}

func (p *ScrapeProvider) extractItems(doc *goquery.Document, owner domain.Owner, since *time.Time, maxItems int, fetchedAt time.Time) []domain.FeedItem {
	var items []domain.FeedItem
	seen := map[string]struct{}{}

	doc.Find(`article[data-testid="tweet"]`).EachWithBreak(func(i int, article *goquery.Selection) bool {
		item, ok := parsePost(article, owner, fetchedAt)
		if !ok {
			return true
		}
		if since != nil && !item.PostedAt.IsZero() && item.PostedAt.Before(*since) {
			return false
		}
		if _, dup := seen[item.ID]; dup {
			return true
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
		return len(items) < maxItems
	})

	return items
}

func parsePost(article *goquery.Selection, owner domain.Owner, fetchedAt time.Time) (domain.FeedItem, bool) {
	link := article.Find(`a[href*="/status/"]`).First()
	href, _ := link.Attr("href")
	id := postIDFromHref(href)
	if id == "" {
		return domain.FeedItem{}, false
	}

	handle := ""
	if idx := strings.Index(strings.TrimPrefix(href, "/"), "/status/"); idx > 0 {
		handle = strings.TrimPrefix(href, "/")[:idx]
	}

	name := strings.TrimSpace(article.Find(`[data-testid="User-Name"] span`).First().Text())
	text := strings.TrimSpace(article.Find(`[data-testid="tweetText"]`).First().Text())

	postedAt := fetchedAt
	if ts, exists := article.Find("time").First().Attr("datetime"); exists {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			postedAt = parsed.UTC()
		}
	}

	isRepost := article.Find(`[data-testid="socialContext"]`).Length() > 0

	return domain.FeedItem{
		ID:         id,
		OwnerID:    owner.ID,
		Author:     handle,
		AuthorName: name,
		Text:       text,
		PostedAt:   postedAt,
		FetchedAt:  fetchedAt,
		IsRepost:   isRepost,
	}, true
}

func postIDFromHref(href string) string {
	idx := strings.Index(href, "/status/")
	if idx < 0 {
		return ""
	}
	id := href[idx+len("/status/"):]
	if slash := strings.IndexByte(id, '/'); slash >= 0 {
		id = id[:slash]
	}
	return id
}

func isLoginLocation(location string) bool {
	return strings.Contains(location, "/login") || strings.Contains(location, "/i/flow/")
}

func (p *ScrapeProvider) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
