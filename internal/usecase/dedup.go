package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// Dedup filters fetched batches against the owner's seen-item state.
//
// Filter is read-only; Commit is the only SeenSet mutator and is called
// by the pipeline only after the batch has been used downstream. The
// scheduler guarantees at most one run per owner, so commits for one
// owner never interleave.
type Dedup struct {
	store ports.SeenStore
}

// NewDedup wires the seen-state store.
func NewDedup(store ports.SeenStore) *Dedup {
	return &Dedup{store: store}
}

// Filter returns the subsequence of batch whose IDs are absent from the
// owner's SeenSet, preserving input order.
func (d *Dedup) Filter(ctx context.Context, ownerID string, batch []domain.FeedItem) ([]domain.FeedItem, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	ids := make([]string, len(batch))
	for i, item := range batch {
		ids[i] = item.ID
	}

	seen, err := d.store.Seen(ctx, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("load seen set: %w", err)
	}

	fresh := make([]domain.FeedItem, 0, len(batch))
	for _, item := range batch {
		if seen[item.ID] {
			continue
		}
		fresh = append(fresh, item)
	}
	return fresh, nil
}

// Commit extends the owner's SeenSet with the given IDs. Idempotent:
// re-committing an ID is a no-op, never an error.
func (d *Dedup) Commit(ctx context.Context, ownerID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if err := d.store.MarkSeen(ctx, ownerID, ids, at); err != nil {
		return fmt.Errorf("commit seen set: %w", err)
	}
	return nil
}
