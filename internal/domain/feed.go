package domain

import "time"

// Owner identifies whose feed, schedule, and seen-state a pipeline run
// operates on. The pipeline never mutates it.
type Owner struct {
	ID            string
	Handle        string
	Email         string
	Timezone      string
	Preset        string
	CustomPrompt  string
	FeedSource    string
	MaxItems      int
	SummaryWindow time.Duration
	Channels      []string
}

// Location resolves the owner timezone, falling back to UTC.
func (o Owner) Location() *time.Location {
	if loc, err := time.LoadLocation(o.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// FeedItem is one captured post. Identity for dedup purposes is ID per
// owner and source; an edited post under the same ID is still seen.
type FeedItem struct {
	ID         string
	OwnerID    string
	Author     string
	AuthorName string
	Text       string
	PostedAt   time.Time
	FetchedAt  time.Time
	Likes      int
	Reposts    int
	Replies    int
	IsRepost   bool
	IsReply    bool
}

// ItemOrder declares the direction of a fetched batch. Callers must not
// assume a direction; they read this instead.
type ItemOrder int

const (
	OrderChronological ItemOrder = iota
	OrderReverseChronological
)

// FetchResult is a provider batch together with its declared order.
type FetchResult struct {
	Items []FeedItem
	Order ItemOrder
}

// Chronological returns the items oldest-first regardless of the
// declared order. The receiver is not modified.
func (r FetchResult) Chronological() []FeedItem {
	if r.Order == OrderChronological {
		return r.Items
	}
	out := make([]FeedItem, len(r.Items))
	for i, item := range r.Items {
		out[len(r.Items)-1-i] = item
	}
	return out
}

// BriefingFormat tags the generated text representation.
type BriefingFormat string

const (
	FormatMarkdown BriefingFormat = "markdown"
	FormatPlain    BriefingFormat = "plain"
)

// Briefing is the artifact produced by one pipeline run.
type Briefing struct {
	ID          string
	OwnerID     string
	ItemIDs     []string
	Content     string
	Format      BriefingFormat
	Backend     string
	GeneratedAt time.Time
}

// TimeRange bounds the items a briefing covers.
type TimeRange struct {
	From time.Time
	To   time.Time
}
