package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	s := StageIdle
	for _, next := range []Stage{StageFetching, StageDeduping, StageSummarizing, StageDelivering, StageDone} {
		advanced, err := s.Advance(next)
		require.NoError(t, err)
		s = advanced
	}
	require.True(t, s.Terminal())

	_, err := StageDelivering.Advance(StageFetching)
	require.Error(t, err)
}

func TestStageFailedAbsorbsFromAnyNonTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Stage{StageIdle, StageFetching, StageDeduping, StageSummarizing, StageDelivering} {
		failed, err := s.Advance(StageFailed)
		require.NoError(t, err)
		require.Equal(t, StageFailed, failed)
	}

	_, err := StageDone.Advance(StageFailed)
	require.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	require.True(t, Retryable(&RateLimitedError{}))
	require.True(t, Retryable(&TransientError{Err: errors.New("conn reset")}))
	require.False(t, Retryable(ErrAuthExpired))
	require.False(t, Retryable(errors.New("bad config")))

	fatal := &BackendError{Backend: "openai", Class: SummaryFatal, Err: errors.New("bad key")}
	recoverable := &BackendError{Backend: "openai", Class: SummaryRecoverable, Err: errors.New("timeout")}
	require.True(t, FatalSummary(fatal))
	require.False(t, FatalSummary(recoverable))
	require.False(t, FatalSummary(errors.New("unclassified")))
}

func TestFetchResultChronological(t *testing.T) {
	t.Parallel()

	items := []FeedItem{{ID: "3"}, {ID: "2"}, {ID: "1"}}

	reversed := FetchResult{Items: items, Order: OrderReverseChronological}.Chronological()
	require.Equal(t, "1", reversed[0].ID)
	require.Equal(t, "3", reversed[2].ID)
	// Input slice untouched.
	require.Equal(t, "3", items[0].ID)

	straight := FetchResult{Items: items, Order: OrderChronological}.Chronological()
	require.Equal(t, "3", straight[0].ID)
}
