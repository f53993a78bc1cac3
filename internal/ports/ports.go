package ports

import (
	"context"
	"time"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
)

// FeedProvider pulls raw items from one upstream source.
type FeedProvider interface {
	Name() string
	Fetch(ctx context.Context, owner domain.Owner, since *time.Time, maxItems int) (domain.FetchResult, error)
}

// SeenStore is the per-owner seen-item state. Only the dedup engine
// writes to it.
type SeenStore interface {
	Seen(ctx context.Context, ownerID string, ids []string) (map[string]bool, error)
	MarkSeen(ctx context.Context, ownerID string, ids []string, at time.Time) error
}

// RunStore appends and reads pipeline run history.
type RunStore interface {
	AppendRun(ctx context.Context, rec domain.RunRecord) error
	RecentRuns(ctx context.Context, ownerID string, limit int) ([]domain.RunRecord, error)
}

// ScheduleStore persists per-owner schedule state.
type ScheduleStore interface {
	Schedules(ctx context.Context) ([]domain.ScheduleEntry, error)
	SaveSchedule(ctx context.Context, entry domain.ScheduleEntry) error
}

// BriefingStore persists generated briefings.
type BriefingStore interface {
	SaveBriefing(ctx context.Context, b domain.Briefing) error
	LatestBriefing(ctx context.Context, ownerID string) (domain.Briefing, bool, error)
}

// OwnerStore reads owner profiles.
type OwnerStore interface {
	Owner(ctx context.Context, id string) (domain.Owner, error)
	Owners(ctx context.Context) ([]domain.Owner, error)
	SaveOwner(ctx context.Context, o domain.Owner) error
}

// SummaryBackend turns an ordered set of items into prose. Failures are
// classified via domain.BackendError; unclassified failures count as
// recoverable.
type SummaryBackend interface {
	Name() string
	Summarize(ctx context.Context, owner domain.Owner, items []domain.FeedItem, window domain.TimeRange) (string, domain.BriefingFormat, error)
}

// DeliveryChannel pushes a finished briefing somewhere. Attempts are
// isolated; a failure never cancels other channels.
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, owner domain.Owner, b domain.Briefing) error
}

// SessionStore is a keyed value store with TTL eviction, holding
// auth/session state for providers. Implementations may be in-process
// or distributed.
type SessionStore interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

// Scheduler drives recurring pipeline runs.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Trigger(ownerID string)
}
