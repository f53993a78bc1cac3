package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/feedsource"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

type pipelineFixture struct {
	provider  *fakeProvider
	seen      *memSeenStore
	runs      *memRunStore
	briefings *memBriefingStore
	channel   *fakeChannel
	backend   *fakeBackend
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T, provider *fakeProvider, backend *fakeBackend, channel *fakeChannel) *pipelineFixture {
	t.Helper()

	sources := feedsource.NewRegistry()
	sources.Register(provider)

	seen := newMemSeenStore()
	runs := &memRunStore{}
	briefings := &memBriefingStore{}
	owners := &memOwnerStore{}
	require.NoError(t, owners.SaveOwner(context.Background(), domain.Owner{
		ID:         "owner-1",
		Handle:     "someone",
		FeedSource: provider.Name(),
		Channels:   []string{channel.name},
	}))

	p := NewPipeline(PipelineDeps{
		Sources:       sources,
		Dedup:         NewDedup(seen),
		Summary:       NewSummaryService([]ports.SummaryBackend{backend}, nil),
		Channels:      []ports.DeliveryChannel{channel},
		Runs:          runs,
		Briefings:     briefings,
		Owners:        owners,
		FetchAttempts: 3,
		BackoffBase:   time.Millisecond,
	})

	return &pipelineFixture{
		provider:  provider,
		seen:      seen,
		runs:      runs,
		briefings: briefings,
		channel:   channel,
		backend:   backend,
		pipeline:  p,
	}
}

func TestRunDeliversNewItems(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{result: domain.FetchResult{Items: batch("2", "1"), Order: domain.OrderReverseChronological}},
	}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, domain.StageDone, rec.Stage)
	require.Equal(t, domain.OutcomeSuccess, rec.Outcome)
	require.Equal(t, 2, rec.Fetched)
	require.Equal(t, 2, rec.New)
	require.NotEmpty(t, rec.BriefingID)
	require.Equal(t, 1, f.channel.count())
	require.Equal(t, 2, f.seen.size("owner-1"))

	// Chronological normalization: the backend saw oldest first.
	briefing, ok, err := f.briefings.LatestBriefing(context.Background(), "owner-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"1", "2"}, briefing.ItemIDs)
}

func TestRunShortCircuitsOnEmptyFetch(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{{result: domain.FetchResult{}}}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, domain.StageDone, rec.Stage)
	require.Equal(t, domain.OutcomeSuccess, rec.Outcome)
	require.Zero(t, rec.Fetched)
	require.Zero(t, f.backend.calls)
	require.Zero(t, f.channel.count())
}

func TestRunShortCircuitsWhenEverythingSeen(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{result: domain.FetchResult{Items: batch("1", "2")}},
	}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)
	require.NoError(t, f.seen.MarkSeen(context.Background(), "owner-1", []string{"1", "2"}, time.Now()))

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSuccess, rec.Outcome)
	require.Equal(t, 2, rec.Fetched)
	require.Zero(t, rec.New)
	require.Zero(t, f.backend.calls)
	require.Zero(t, f.channel.count())
}

func TestRunSummaryFailureLeavesSeenSetUntouched(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{result: domain.FetchResult{Items: batch("1", "2")}},
	}}
	backend := &fakeBackend{name: "fake", err: &domain.BackendError{
		Backend: "fake", Class: domain.SummaryRecoverable, Err: errors.New("down"),
	}}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.Error(t, err)
	require.Equal(t, domain.StageFailed, rec.Stage)
	require.Equal(t, domain.OutcomeFailure, rec.Outcome)
	require.Zero(t, f.seen.size("owner-1"), "summary failure must not commit the batch")
	require.Zero(t, f.channel.count())

	var genErr *domain.SummaryGenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestRunDeliveryFailureIsPartialAndCommits(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{result: domain.FetchResult{Items: batch("1", "2")}},
	}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram", err: errors.New("telegram 502")}
	f := newPipelineFixture(t, provider, backend, channel)

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.NoError(t, err, "delivery failure must not fail the run")
	require.Equal(t, domain.StageDone, rec.Stage)
	require.Equal(t, domain.OutcomePartial, rec.Outcome)
	require.Len(t, rec.Deliveries, 1)
	require.False(t, rec.Deliveries[0].OK)
	require.Contains(t, rec.Deliveries[0].Error, "telegram")
	require.Equal(t, 2, f.seen.size("owner-1"), "items stay committed despite delivery failure")
	require.NotEmpty(t, rec.BriefingID)
}

func TestRunUnconfiguredChannelRecordedAsFailure(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{result: domain.FetchResult{Items: batch("1")}},
	}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	owner, err := f.pipeline.owners.Owner(context.Background(), "owner-1")
	require.NoError(t, err)
	owner.Channels = []string{"telegram", "pager"}
	require.NoError(t, f.pipeline.owners.SaveOwner(context.Background(), owner))

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePartial, rec.Outcome)
	require.Len(t, rec.Deliveries, 2)
	require.True(t, rec.Deliveries[0].OK)
	require.False(t, rec.Deliveries[1].OK)
	require.Equal(t, "channel not configured", rec.Deliveries[1].Error)
}

func TestRunRetriesTransientFetchErrors(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{err: &domain.TransientError{Err: errors.New("conn reset")}},
		{err: &domain.RateLimitedError{RetryAfter: time.Millisecond}},
		{result: domain.FetchResult{Items: batch("1")}},
	}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSuccess, rec.Outcome)
	require.Equal(t, 3, f.provider.callCount())
}

func TestRunAuthExpiredIsNotRetried(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{{err: domain.ErrAuthExpired}}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrAuthExpired)
	require.Equal(t, domain.StageFailed, rec.Stage)
	require.Equal(t, 1, f.provider.callCount(), "expired credentials must fail without retry")
}

func TestRunExhaustedRetriesFail(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{err: &domain.TransientError{Err: errors.New("still down")}},
	}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	rec, err := f.pipeline.Run(context.Background(), "owner-1")
	require.Error(t, err)
	require.Equal(t, domain.OutcomeFailure, rec.Outcome)
	require.Equal(t, 3, f.provider.callCount())
	require.Contains(t, err.Error(), "attempts exhausted")
}

func TestRunCancelledContextRecordsCancellation(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{result: domain.FetchResult{Items: batch("1")}},
	}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := f.pipeline.Run(ctx, "owner-1")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, domain.OutcomeCancelled, rec.Outcome)
	require.Equal(t, f.runs.last().Outcome, domain.OutcomeCancelled)
}

// cancellingBackend cancels the run context from inside Summarize and
// then reports success.
type cancellingBackend struct {
	cancel context.CancelFunc
}

func (b *cancellingBackend) Name() string { return "cancelling" }

func (b *cancellingBackend) Summarize(context.Context, domain.Owner, []domain.FeedItem, domain.TimeRange) (string, domain.BriefingFormat, error) {
	b.cancel()
	return "digest", domain.FormatMarkdown, nil
}

func TestRunCancelledDuringSummaryDoesNotCommit(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{
		{result: domain.FetchResult{Items: batch("1", "2")}},
	}}
	sources := feedsource.NewRegistry()
	sources.Register(provider)

	seen := newMemSeenStore()
	runs := &memRunStore{}
	briefings := &memBriefingStore{}
	owners := &memOwnerStore{}
	channel := &fakeChannel{name: "telegram"}
	require.NoError(t, owners.SaveOwner(context.Background(), domain.Owner{
		ID:         "owner-1",
		FeedSource: provider.Name(),
		Channels:   []string{channel.name},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPipeline(PipelineDeps{
		Sources:   sources,
		Dedup:     NewDedup(seen),
		Summary:   NewSummaryService([]ports.SummaryBackend{&cancellingBackend{cancel: cancel}}, nil),
		Channels:  []ports.DeliveryChannel{channel},
		Runs:      runs,
		Briefings: briefings,
		Owners:    owners,
	})

	rec, err := p.Run(ctx, "owner-1")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, domain.OutcomeCancelled, rec.Outcome)
	require.Zero(t, seen.size("owner-1"), "a cancelled run must not commit its batch")
	_, found, err := briefings.LatestBriefing(context.Background(), "owner-1")
	require.NoError(t, err)
	require.False(t, found, "a cancelled run must not persist a briefing")
	require.Zero(t, channel.count())
	require.Equal(t, domain.OutcomeCancelled, runs.last().Outcome)
}

func TestRunUnknownOwnerFails(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: []fakeFetch{{result: domain.FetchResult{}}}}
	backend := &fakeBackend{name: "fake", text: "digest"}
	channel := &fakeChannel{name: "telegram"}
	f := newPipelineFixture(t, provider, backend, channel)

	rec, err := f.pipeline.Run(context.Background(), "nobody")
	require.Error(t, err)
	require.Equal(t, domain.OutcomeFailure, rec.Outcome)
	require.Equal(t, "nobody", f.runs.last().OwnerID)
}
