package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// RunFunc executes one pipeline run for one owner.
type RunFunc func(ctx context.Context, ownerID string)

// HeapScheduler orders schedule entries by next-due time and feeds due
// owners to a bounded worker pool.
//
// At most one run per owner is in flight at a time: a trigger for a
// busy owner sets a pending flag and the run is re-enqueued when the
// in-flight one completes. Deferred, never dropped, never concurrent.
type HeapScheduler struct {
	store   ports.ScheduleStore
	run     RunFunc
	workers int
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries dueHeap
	flights map[string]*flight

	queue  chan string
	wake   chan struct{}
	runCtx context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

type flight struct {
	running bool
	pending bool
}

var _ ports.Scheduler = (*HeapScheduler)(nil)

// New builds a scheduler over the given schedule store and run function.
func New(store ports.ScheduleStore, run RunFunc, workers int, logger *slog.Logger) *HeapScheduler {
	if workers <= 0 {
		workers = 4
	}
	return &HeapScheduler{
		store:   store,
		run:     run,
		workers: workers,
		logger:  logger,
		now:     time.Now,
		flights: map[string]*flight{},
		wake:    make(chan struct{}, 1),
	}
}

// Start loads schedules and launches the dispatch loop and worker pool.
func (s *HeapScheduler) Start(ctx context.Context) error {
	if s.run == nil {
		return fmt.Errorf("scheduler has no run function")
	}
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	entries, err := s.store.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	for _, entry := range entries {
		if entry.NextDue.IsZero() || !entry.NextDue.After(now.Add(-24*time.Hour)) {
			// Unset or long-stale entries fast-forward to the next
			// future slot instead of firing a catch-up burst.
			entry.NextDue = entry.NextAfter(now)
			if err := s.store.SaveSchedule(ctx, entry); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("initialize schedule for %s: %w", entry.OwnerID, err)
			}
		}
		heap.Push(&s.entries, entry)
	}
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.queue = make(chan string, 4*s.workers)

	s.group, runCtx = errgroup.WithContext(runCtx)
	s.runCtx = runCtx
	for i := 0; i < s.workers; i++ {
		s.group.Go(func() error {
			s.worker(runCtx)
			return nil
		})
	}
	s.group.Go(func() error {
		s.dispatch(runCtx)
		return nil
	})

	s.info("scheduler started", "entries", len(entries), "workers", s.workers)
	return nil
}

// Stop cancels in-flight work and waits for the pool to drain.
func (s *HeapScheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Trigger requests a manual run for one owner, subject to the same
// single-flight guard as scheduled runs.
func (s *HeapScheduler) Trigger(ownerID string) {
	if s.queue == nil {
		return
	}
	s.enqueue(ownerID)
}

// UpdateSchedule replaces or adds an entry in the live heap and wakes
// the dispatch loop so a nearer due time takes effect immediately.
func (s *HeapScheduler) UpdateSchedule(ctx context.Context, entry domain.ScheduleEntry) error {
	if entry.NextDue.IsZero() {
		entry.NextDue = entry.NextAfter(s.now())
	}
	if err := s.store.SaveSchedule(ctx, entry); err != nil {
		return fmt.Errorf("save schedule for %s: %w", entry.OwnerID, err)
	}

	s.mu.Lock()
	s.entries.replace(entry)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *HeapScheduler) dispatch(ctx context.Context) {
	for {
		due := s.collectDue(ctx)
		for _, ownerID := range due {
			s.enqueue(ownerID)
		}

		wait := s.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// collectDue pops every due entry, recomputes its next due time anchored
// on the due time that fired (not on completion, so no drift), persists
// it, and pushes it back.
func (s *HeapScheduler) collectDue(ctx context.Context) []string {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for s.entries.Len() > 0 && !s.entries[0].NextDue.After(now) {
		entry := heap.Pop(&s.entries).(domain.ScheduleEntry)
		due = append(due, entry.OwnerID)

		entry.NextDue = entry.NextAfter(entry.NextDue)
		if !entry.NextDue.After(now) {
			entry.NextDue = entry.NextAfter(now)
		}
		if err := s.store.SaveSchedule(ctx, entry); err != nil {
			s.warn("persist schedule", "owner", entry.OwnerID, "error", err)
		}
		heap.Push(&s.entries, entry)
	}
	return due
}

func (s *HeapScheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries.Len() == 0 {
		return time.Minute
	}
	wait := time.Until(s.entries[0].NextDue)
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

// enqueue applies the single-flight guard, then hands the owner to the
// pool. The queue send happens outside the lock and bails out on
// shutdown so a full queue cannot strand the caller.
func (s *HeapScheduler) enqueue(ownerID string) {
	s.mu.Lock()
	fl, ok := s.flights[ownerID]
	if !ok {
		fl = &flight{}
		s.flights[ownerID] = fl
	}
	if fl.running {
		fl.pending = true
		s.mu.Unlock()
		s.debug("run deferred, owner busy", "owner", ownerID)
		return
	}
	fl.running = true
	s.mu.Unlock()

	select {
	case s.queue <- ownerID:
	case <-s.runCtx.Done():
		s.mu.Lock()
		fl.running = false
		s.mu.Unlock()
	}
}

func (s *HeapScheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ownerID := <-s.queue:
			s.run(ctx, ownerID)
			s.finish(ownerID)
		}
	}
}

// finish clears the owner's running flag and re-enqueues if a trigger
// arrived during the run. The re-enqueue happens off the worker
// goroutine: the worker is a consumer the queue may need, so it must
// never block sending to it.
func (s *HeapScheduler) finish(ownerID string) {
	s.mu.Lock()
	fl := s.flights[ownerID]
	fl.running = false
	rerun := fl.pending
	fl.pending = false
	s.mu.Unlock()

	if rerun {
		go s.enqueue(ownerID)
	}
}

// dueHeap is a min-heap of schedule entries ordered by NextDue.
type dueHeap []domain.ScheduleEntry

func (h dueHeap) Len() int           { return len(h) }
func (h dueHeap) Less(i, j int) bool { return h[i].NextDue.Before(h[j].NextDue) }
func (h dueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x any)        { *h = append(*h, x.(domain.ScheduleEntry)) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

func (h *dueHeap) replace(entry domain.ScheduleEntry) {
	for i := range *h {
		if (*h)[i].OwnerID == entry.OwnerID {
			(*h)[i] = entry
			heap.Fix(h, i)
			return
		}
	}
	heap.Push(h, entry)
}

func (s *HeapScheduler) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *HeapScheduler) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *HeapScheduler) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
