package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
)

// memSeenStore is an in-memory SeenStore for pipeline and dedup tests.
type memSeenStore struct {
	mu   sync.Mutex
	sets map[string]map[string]bool
}

func newMemSeenStore() *memSeenStore {
	return &memSeenStore{sets: map[string]map[string]bool{}}
}

func (s *memSeenStore) Seen(_ context.Context, ownerID string, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := map[string]bool{}
	for _, id := range ids {
		if s.sets[ownerID][id] {
			result[id] = true
		}
	}
	return result, nil
}

func (s *memSeenStore) MarkSeen(_ context.Context, ownerID string, ids []string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[ownerID] == nil {
		s.sets[ownerID] = map[string]bool{}
	}
	for _, id := range ids {
		s.sets[ownerID][id] = true
	}
	return nil
}

func (s *memSeenStore) size(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets[ownerID])
}

type memRunStore struct {
	mu   sync.Mutex
	runs []domain.RunRecord
}

func (s *memRunStore) AppendRun(_ context.Context, rec domain.RunRecord) error {
	s.mu.Lock()
	s.runs = append(s.runs, rec)
	s.mu.Unlock()
	return nil
}

func (s *memRunStore) RecentRuns(_ context.Context, ownerID string, limit int) ([]domain.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RunRecord
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.runs[i].OwnerID == ownerID {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

func (s *memRunStore) last() domain.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[len(s.runs)-1]
}

type memBriefingStore struct {
	mu        sync.Mutex
	briefings []domain.Briefing
}

func (s *memBriefingStore) SaveBriefing(_ context.Context, b domain.Briefing) error {
	s.mu.Lock()
	s.briefings = append(s.briefings, b)
	s.mu.Unlock()
	return nil
}

func (s *memBriefingStore) LatestBriefing(_ context.Context, ownerID string) (domain.Briefing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.briefings) - 1; i >= 0; i-- {
		if s.briefings[i].OwnerID == ownerID {
			return s.briefings[i], true, nil
		}
	}
	return domain.Briefing{}, false, nil
}

type memOwnerStore struct {
	owners map[string]domain.Owner
}

func (s *memOwnerStore) Owner(_ context.Context, id string) (domain.Owner, error) {
	if o, ok := s.owners[id]; ok {
		return o, nil
	}
	return domain.Owner{}, fmt.Errorf("owner %s not found", id)
}

func (s *memOwnerStore) Owners(_ context.Context) ([]domain.Owner, error) {
	var out []domain.Owner
	for _, o := range s.owners {
		out = append(out, o)
	}
	return out, nil
}

func (s *memOwnerStore) SaveOwner(_ context.Context, o domain.Owner) error {
	if s.owners == nil {
		s.owners = map[string]domain.Owner{}
	}
	s.owners[o.ID] = o
	return nil
}

// fakeProvider returns scripted results per call.
type fakeProvider struct {
	name    string
	mu      sync.Mutex
	calls   int
	results []fakeFetch
}

type fakeFetch struct {
	result domain.FetchResult
	err    error
}

func (p *fakeProvider) Name() string {
	if p.name != "" {
		return p.name
	}
	return "api"
}

func (p *fakeProvider) Fetch(_ context.Context, _ domain.Owner, _ *time.Time, _ int) (domain.FetchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	scripted := p.results[idx]
	return scripted.result, scripted.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeBackend fails a scripted number of times, then succeeds.
type fakeBackend struct {
	name  string
	text  string
	err   error
	calls int
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Summarize(_ context.Context, _ domain.Owner, _ []domain.FeedItem, _ domain.TimeRange) (string, domain.BriefingFormat, error) {
	b.calls++
	if b.err != nil {
		return "", "", b.err
	}
	return b.text, domain.FormatMarkdown, nil
}

// fakeChannel records deliveries and optionally fails.
type fakeChannel struct {
	name      string
	err       error
	mu        sync.Mutex
	delivered []domain.Briefing
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(_ context.Context, _ domain.Owner, b domain.Briefing) error {
	c.mu.Lock()
	c.delivered = append(c.delivered, b)
	c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}
