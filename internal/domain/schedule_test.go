package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDailyCadenceFiresOncePerDayAcrossSpringForward(t *testing.T) {
	t.Parallel()

	// US DST starts 2026-03-08: 02:00 EST jumps to 03:00 EDT.
	entry := ScheduleEntry{
		OwnerID:  "owner-1",
		Timezone: "America/New_York",
		Cadence:  Cadence{Kind: CadenceDailyAt, Hour: 8, Minute: 0},
	}
	loc := entry.Location()

	at := time.Date(2026, time.March, 6, 12, 0, 0, 0, loc)
	days := map[string]int{}
	for i := 0; i < 5; i++ {
		next := entry.NextAfter(at)
		require.True(t, next.After(at))
		days[next.In(loc).Format("2006-01-02")]++
		require.Equal(t, 8, next.In(loc).Hour())
		require.Equal(t, 0, next.In(loc).Minute())
		at = next
	}

	for day, count := range days {
		require.Equal(t, 1, count, "day %s fired %d times", day, count)
	}
	require.Equal(t, 1, days["2026-03-08"], "transition day must fire exactly once")
}

func TestDailyCadenceInRemovedHourStillFires(t *testing.T) {
	t.Parallel()

	// 02:30 does not exist on 2026-03-08 in New York; the firing must
	// land on the normalized clock time, not be skipped.
	entry := ScheduleEntry{
		OwnerID:  "owner-1",
		Timezone: "America/New_York",
		Cadence:  Cadence{Kind: CadenceDailyAt, Hour: 2, Minute: 30},
	}
	loc := entry.Location()

	at := time.Date(2026, time.March, 7, 3, 0, 0, 0, loc)
	next := entry.NextAfter(at)
	require.Equal(t, "2026-03-08", next.In(loc).Format("2006-01-02"))

	after := entry.NextAfter(next)
	require.Equal(t, "2026-03-09", after.In(loc).Format("2006-01-02"))
}

func TestIntervalCadenceAnchorsOnPreviousDue(t *testing.T) {
	t.Parallel()

	entry := ScheduleEntry{
		OwnerID: "owner-1",
		Cadence: Cadence{Kind: CadenceInterval, Interval: time.Hour},
		NextDue: time.Date(2026, time.January, 1, 10, 0, 0, 0, time.UTC),
	}

	// A run finishing late must not push the grid: the slot after the
	// 10:00 firing is 11:00 even when asked at 10:25.
	next := entry.NextAfter(time.Date(2026, time.January, 1, 10, 25, 0, 0, time.UTC))
	require.Equal(t, time.Date(2026, time.January, 1, 11, 0, 0, 0, time.UTC), next)
}

func TestIntervalCadenceFastForwardsAfterOutage(t *testing.T) {
	t.Parallel()

	entry := ScheduleEntry{
		OwnerID: "owner-1",
		Cadence: Cadence{Kind: CadenceInterval, Interval: time.Hour},
		NextDue: time.Date(2026, time.January, 1, 10, 0, 0, 0, time.UTC),
	}

	next := entry.NextAfter(time.Date(2026, time.January, 2, 9, 30, 0, 0, time.UTC))
	require.Equal(t, time.Date(2026, time.January, 2, 10, 0, 0, 0, time.UTC), next)
}

func TestCadenceValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Cadence{Kind: CadenceInterval, Interval: time.Hour}.Validate())
	require.NoError(t, Cadence{Kind: CadenceDailyAt, Hour: 23, Minute: 59}.Validate())
	require.Error(t, Cadence{Kind: CadenceInterval, Interval: time.Second}.Validate())
	require.Error(t, Cadence{Kind: CadenceDailyAt, Hour: 24}.Validate())
	require.Error(t, Cadence{Kind: "weekly"}.Validate())
}
