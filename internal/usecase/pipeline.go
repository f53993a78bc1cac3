package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/feedsource"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Sources   *feedsource.Registry
	Dedup     *Dedup
	Summary   *SummaryService
	Channels  []ports.DeliveryChannel
	Runs      ports.RunStore
	Briefings ports.BriefingStore
	Owners    ports.OwnerStore

	FetchAttempts int
	BackoffBase   time.Duration
	Logger        *slog.Logger
}

// Pipeline sequences fetch, dedup, summarize, and delivery for one run.
//
// Each run is a state machine: Idle -> Fetching -> Deduping ->
// Summarizing -> Delivering -> Done, with Failed absorbing from any
// non-terminal stage. Every run, including failures and cancellations,
// appends a RunRecord.
type Pipeline struct {
	sources   *feedsource.Registry
	dedup     *Dedup
	summary   *SummaryService
	channels  map[string]ports.DeliveryChannel
	runs      ports.RunStore
	briefings ports.BriefingStore
	owners    ports.OwnerStore

	fetchAttempts int
	backoffBase   time.Duration
	logger        *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	channels := make(map[string]ports.DeliveryChannel, len(deps.Channels))
	for _, ch := range deps.Channels {
		channels[ch.Name()] = ch
	}

	attempts := deps.FetchAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := deps.BackoffBase
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	return &Pipeline{
		sources:       deps.Sources,
		dedup:         deps.Dedup,
		summary:       deps.Summary,
		channels:      channels,
		runs:          deps.Runs,
		briefings:     deps.Briefings,
		owners:        deps.Owners,
		fetchAttempts: attempts,
		backoffBase:   backoff,
		logger:        deps.Logger,
	}
}

// Run executes the full pipeline for one owner and appends the RunRecord.
// The returned record mirrors what was persisted.
func (p *Pipeline) Run(ctx context.Context, ownerID string) (domain.RunRecord, error) {
	rec := domain.RunRecord{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		StartedAt: time.Now().UTC(),
		Stage:     domain.StageIdle,
		Outcome:   domain.OutcomeFailure,
	}

	owner, err := p.owners.Owner(ctx, ownerID)
	if err != nil {
		return p.fail(ctx, rec, fmt.Errorf("load owner: %w", err))
	}

	if err := p.checkCancelled(ctx); err != nil {
		return p.cancel(ctx, rec, err)
	}

	// Fetching
	rec.Stage = mustAdvance(rec.Stage, domain.StageFetching)
	result, err := p.fetchWithRetry(ctx, owner)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return p.cancel(ctx, rec, err)
		}
		return p.fail(ctx, rec, err)
	}
	rec.Fetched = len(result.Items)

	if len(result.Items) == 0 {
		// Zero items is a valid success, not a failure.
		rec.Stage = mustAdvance(rec.Stage, domain.StageDone)
		rec.Outcome = domain.OutcomeSuccess
		return p.finish(ctx, rec)
	}

	if err := p.checkCancelled(ctx); err != nil {
		return p.cancel(ctx, rec, err)
	}

	// Deduping. Items are normalized to chronological order first so
	// downstream prompts read oldest-first regardless of the provider's
	// declared direction.
	rec.Stage = mustAdvance(rec.Stage, domain.StageDeduping)
	fresh, err := p.dedup.Filter(ctx, owner.ID, result.Chronological())
	if err != nil {
		return p.fail(ctx, rec, err)
	}
	rec.New = len(fresh)

	if len(fresh) == 0 {
		rec.Stage = mustAdvance(rec.Stage, domain.StageDone)
		rec.Outcome = domain.OutcomeSuccess
		return p.finish(ctx, rec)
	}

	if err := p.checkCancelled(ctx); err != nil {
		return p.cancel(ctx, rec, err)
	}

	// Summarizing. A failure here leaves the SeenSet untouched so the
	// next scheduled run retries the same items.
	rec.Stage = mustAdvance(rec.Stage, domain.StageSummarizing)
	window := summaryWindow(owner, time.Now().UTC())
	briefing, err := p.summary.Summarize(ctx, owner, fresh, window)
	if err != nil {
		return p.fail(ctx, rec, err)
	}

	// Last cancellation point: a cancelled run must not commit, so from
	// here the run finishes persist-commit-deliver without checking again.
	if err := p.checkCancelled(ctx); err != nil {
		return p.cancel(ctx, rec, err)
	}
	rec.BriefingID = briefing.ID

	if p.briefings != nil {
		if err := p.briefings.SaveBriefing(ctx, briefing); err != nil {
			return p.fail(ctx, rec, fmt.Errorf("persist briefing: %w", err))
		}
	}

	// Commit after summarization success, before delivery: delivery
	// failures must not cause these items to be re-ingested.
	if err := p.dedup.Commit(ctx, owner.ID, briefing.ItemIDs, time.Now().UTC()); err != nil {
		return p.fail(ctx, rec, err)
	}

	// Delivering. Every configured channel is attempted; failures are
	// recorded per channel and never fail the run.
	rec.Stage = mustAdvance(rec.Stage, domain.StageDelivering)
	allOK := true
	for _, name := range owner.Channels {
		outcome := domain.ChannelOutcome{Channel: name, OK: true}
		ch, ok := p.channels[name]
		if !ok {
			outcome.OK = false
			outcome.Error = "channel not configured"
		} else if err := ch.Deliver(ctx, owner, briefing); err != nil {
			chErr := &domain.DeliveryChannelError{Channel: name, Err: err}
			p.warn("delivery failed", "owner", owner.ID, "channel", name, "error", chErr)
			outcome.OK = false
			outcome.Error = chErr.Error()
		}
		if !outcome.OK {
			allOK = false
		}
		rec.Deliveries = append(rec.Deliveries, outcome)
	}

	rec.Stage = mustAdvance(rec.Stage, domain.StageDone)
	if allOK {
		rec.Outcome = domain.OutcomeSuccess
	} else {
		rec.Outcome = domain.OutcomePartial
	}

	p.info("pipeline complete",
		"owner", owner.ID,
		"fetched", rec.Fetched,
		"new", rec.New,
		"backend", briefing.Backend,
		"outcome", rec.Outcome)

	return p.finish(ctx, rec)
}

// fetchWithRetry retries transient and rate-limited provider errors with
// exponential backoff up to the configured attempt bound. AuthExpired is
// never retried; re-authentication happens out of band.
func (p *Pipeline) fetchWithRetry(ctx context.Context, owner domain.Owner) (domain.FetchResult, error) {
	provider, err := p.sources.Resolve(owner.FeedSource)
	if err != nil {
		return domain.FetchResult{}, err
	}

	since := time.Now().UTC().Add(-windowOrDefault(owner))

	var lastErr error
	delay := p.backoffBase
	for attempt := 1; attempt <= p.fetchAttempts; attempt++ {
		result, err := provider.Fetch(ctx, owner, &since, maxItemsOrDefault(owner))
		if err == nil {
			return result, nil
		}
		if !domain.Retryable(err) {
			return domain.FetchResult{}, fmt.Errorf("fetch feed for %s: %w", owner.ID, err)
		}
		lastErr = err

		wait := delay
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		p.warn("fetch attempt failed", "owner", owner.ID, "attempt", attempt, "wait", wait, "error", err)

		if attempt == p.fetchAttempts {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return domain.FetchResult{}, context.Canceled
		}
		delay *= 2
	}

	return domain.FetchResult{}, fmt.Errorf("fetch feed for %s: attempts exhausted: %w", owner.ID, lastErr)
}

func (p *Pipeline) fail(ctx context.Context, rec domain.RunRecord, cause error) (domain.RunRecord, error) {
	rec.Stage, _ = rec.Stage.Advance(domain.StageFailed)
	rec.Outcome = domain.OutcomeFailure
	rec.Error = cause.Error()
	p.warn("pipeline failed", "owner", rec.OwnerID, "stage", rec.Stage, "error", cause)
	if _, err := p.finish(ctx, rec); err != nil {
		return rec, err
	}
	return rec, cause
}

func (p *Pipeline) cancel(ctx context.Context, rec domain.RunRecord, cause error) (domain.RunRecord, error) {
	rec.Stage, _ = rec.Stage.Advance(domain.StageFailed)
	rec.Outcome = domain.OutcomeCancelled
	rec.Error = cause.Error()
	// Persist with a fresh context: the run context is already cancelled.
	if _, err := p.finish(context.WithoutCancel(ctx), rec); err != nil {
		return rec, err
	}
	return rec, cause
}

func (p *Pipeline) finish(ctx context.Context, rec domain.RunRecord) (domain.RunRecord, error) {
	rec.FinishedAt = time.Now().UTC()
	if p.runs == nil {
		return rec, nil
	}
	if err := p.runs.AppendRun(ctx, rec); err != nil {
		return rec, fmt.Errorf("append run record: %w", err)
	}
	return rec, nil
}

func (p *Pipeline) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return context.Canceled
	}
	return nil
}

func mustAdvance(s domain.Stage, next domain.Stage) domain.Stage {
	advanced, err := s.Advance(next)
	if err != nil {
		panic(err)
	}
	return advanced
}

func summaryWindow(owner domain.Owner, now time.Time) domain.TimeRange {
	return domain.TimeRange{From: now.Add(-windowOrDefault(owner)), To: now}
}

func windowOrDefault(owner domain.Owner) time.Duration {
	if owner.SummaryWindow > 0 {
		return owner.SummaryWindow
	}
	return 24 * time.Hour
}

func maxItemsOrDefault(owner domain.Owner) int {
	if owner.MaxItems > 0 {
		return owner.MaxItems
	}
	return 100
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
