package domain

import (
	"fmt"
	"time"
)

// Stage enumerates pipeline run milestones.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageFetching    Stage = "fetching"
	StageDeduping    Stage = "deduping"
	StageSummarizing Stage = "summarizing"
	StageDelivering  Stage = "delivering"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

var stageRank = map[Stage]int{
	StageIdle:        0,
	StageFetching:    1,
	StageDeduping:    2,
	StageSummarizing: 3,
	StageDelivering:  4,
	StageDone:        5,
	StageFailed:      5,
}

// Advance moves a run to the next stage. Regressions are a programming
// error: stage progression is monotonic, and Done/Failed are terminal.
func (s Stage) Advance(next Stage) (Stage, error) {
	if s == StageDone || s == StageFailed {
		return s, fmt.Errorf("run already terminal in %s", s)
	}
	if next == StageFailed {
		return next, nil
	}
	if stageRank[next] <= stageRank[s] {
		return s, fmt.Errorf("stage regression %s -> %s", s, next)
	}
	return next, nil
}

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePartial   Outcome = "partial"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// ChannelOutcome records one delivery attempt inside a run.
type ChannelOutcome struct {
	Channel string
	OK      bool
	Error   string
}

// RunRecord is one pipeline execution for one owner. Records are
// append-only; the scheduler and operators read them, nothing edits them.
type RunRecord struct {
	ID         string
	OwnerID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Stage      Stage
	Outcome    Outcome
	Fetched    int
	New        int
	BriefingID string
	Deliveries []ChannelOutcome
	Error      string
}
