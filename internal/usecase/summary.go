package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// SummaryService orchestrates backend selection and fallback.
//
// Backends are tried in order. A recoverable failure (timeout, empty or
// malformed response, backend unavailable) moves to the next backend; a
// fatal failure (invalid input, misconfiguration) aborts immediately.
type SummaryService struct {
	chain  []ports.SummaryBackend
	logger *slog.Logger
}

// NewSummaryService wires the ordered fallback chain.
func NewSummaryService(chain []ports.SummaryBackend, logger *slog.Logger) *SummaryService {
	return &SummaryService{chain: chain, logger: logger}
}

// Summarize produces a briefing for the given items, walking the
// fallback chain. If every backend fails, the returned error is a
// *domain.SummaryGenerationError carrying the last diagnostic.
func (s *SummaryService) Summarize(ctx context.Context, owner domain.Owner, items []domain.FeedItem, window domain.TimeRange) (domain.Briefing, error) {
	if len(s.chain) == 0 {
		return domain.Briefing{}, fmt.Errorf("no summary backends configured")
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	var lastErr error
	lastBackend := ""
	for _, backend := range s.chain {
		text, format, err := backend.Summarize(ctx, owner, items, window)
		if err == nil {
			return domain.Briefing{
				ID:          ulid.Make().String(),
				OwnerID:     owner.ID,
				ItemIDs:     ids,
				Content:     text,
				Format:      format,
				Backend:     backend.Name(),
				GeneratedAt: time.Now().UTC(),
			}, nil
		}

		if domain.FatalSummary(err) {
			return domain.Briefing{}, &domain.SummaryGenerationError{LastBackend: backend.Name(), Err: err}
		}

		s.warn("summary backend failed, falling back", "backend", backend.Name(), "error", err)
		lastErr = err
		lastBackend = backend.Name()
	}

	return domain.Briefing{}, &domain.SummaryGenerationError{LastBackend: lastBackend, Err: lastErr}
}

func (s *SummaryService) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
