package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChristophFri/X-Feed-Reader/internal/config"
	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/feedsource"
	"github.com/ChristophFri/X-Feed-Reader/internal/infrastructure/delivery"
	"github.com/ChristophFri/X-Feed-Reader/internal/infrastructure/provider"
	schedinfra "github.com/ChristophFri/X-Feed-Reader/internal/infrastructure/scheduler"
	"github.com/ChristophFri/X-Feed-Reader/internal/infrastructure/session"
	"github.com/ChristophFri/X-Feed-Reader/internal/infrastructure/storage"
	"github.com/ChristophFri/X-Feed-Reader/internal/infrastructure/summarizer"
	"github.com/ChristophFri/X-Feed-Reader/internal/logging"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
	"github.com/ChristophFri/X-Feed-Reader/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	scheduler *usecase.Scheduler
}

// New builds the full runnable application.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sessions, err := newSessionStore(cfg.Session)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := feedsource.NewRegistry()
	registry.Register(provider.NewAPIProvider(cfg.Providers.API, sessions, logging.Component(baseLogger, "provider.api")))
	registry.Register(provider.NewScrapeProvider(cfg.Providers.Scraper, sessions, logging.Component(baseLogger, "provider.scraper")))

	chain, err := buildSummaryChain(cfg.Summarizer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Sources: registry,
		Dedup:   usecase.NewDedup(store),
		Summary: usecase.NewSummaryService(chain, logging.Component(baseLogger, "summary")),
		Channels: []ports.DeliveryChannel{
			delivery.NewTelegramChannel(cfg.Delivery.Telegram),
			delivery.NewEmailChannel(cfg.Delivery.Email),
			delivery.NewRenderChannel(cfg.Delivery.Render),
		},
		Runs:          store,
		Briefings:     store,
		Owners:        store,
		FetchAttempts: cfg.Pipeline.FetchAttempts,
		BackoffBase:   cfg.Pipeline.BackoffBase,
		Logger:        logging.Component(baseLogger, "pipeline"),
	})

	runFunc := func(ctx context.Context, ownerID string) {
		_, _ = pipeline.Run(ctx, ownerID)
	}
	driver := schedinfra.New(store, runFunc, cfg.Scheduler.Workers, logging.Component(baseLogger, "scheduler"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		scheduler: usecase.NewScheduler(driver),
	}, nil
}

// Run seeds configured owners, starts the scheduler, and blocks until
// the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.seedOwners(ctx); err != nil {
		return err
	}

	// Read before Start: the scheduler fast-forwards stale entries to a
	// future slot when it loads them.
	entries, err := a.store.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	stale := staleOwners(entries, time.Now())

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// Owners that missed at least a full day of slots get one immediate
	// run instead of a burst per missed slot.
	for _, ownerID := range stale {
		a.logger.Info("catch-up run for missed schedule", "owner", ownerID)
		a.scheduler.RunNow(ownerID)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		return err
	}
	return a.store.Close()
}

// seedOwners upserts owners from config and creates schedule entries
// for owners that have none yet. Existing schedules keep their next-due
// anchor.
func (a *Application) seedOwners(ctx context.Context) error {
	if len(a.cfg.Owners) == 0 {
		return nil
	}

	existing, err := a.store.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	scheduled := make(map[string]bool, len(existing))
	for _, entry := range existing {
		scheduled[entry.OwnerID] = true
	}

	for _, seed := range a.cfg.Owners {
		owner, entry, err := ownerFromSeed(seed)
		if err != nil {
			return fmt.Errorf("owner %s: %w", seed.ID, err)
		}
		if err := a.store.SaveOwner(ctx, owner); err != nil {
			return fmt.Errorf("seed owner %s: %w", seed.ID, err)
		}
		if at, ok, err := a.store.LastIngest(ctx, owner.ID); err != nil {
			return fmt.Errorf("last ingest for %s: %w", seed.ID, err)
		} else if ok {
			a.logger.Info("owner has prior ingest state", "owner", owner.ID, "lastIngest", at)
		}
		if scheduled[owner.ID] {
			continue
		}
		if err := a.store.SaveSchedule(ctx, entry); err != nil {
			return fmt.Errorf("seed schedule %s: %w", seed.ID, err)
		}
		a.logger.Info("seeded owner", "owner", owner.ID, "source", owner.FeedSource, "cadence", entry.Cadence.Kind)
	}
	return nil
}

// staleOwners lists owners whose persisted next-due time lies more than
// a day in the past, meaning at least one full slot was missed while
// the process was down. The threshold matches the scheduler's
// fast-forward window.
func staleOwners(entries []domain.ScheduleEntry, now time.Time) []string {
	var out []string
	for _, e := range entries {
		if !e.NextDue.IsZero() && !e.NextDue.After(now.Add(-24*time.Hour)) {
			out = append(out, e.OwnerID)
		}
	}
	return out
}

func ownerFromSeed(seed config.OwnerSeedConfig) (domain.Owner, domain.ScheduleEntry, error) {
	owner := domain.Owner{
		ID:            seed.ID,
		Handle:        seed.Handle,
		Email:         seed.DeliveryEmail,
		Timezone:      seed.Timezone,
		Preset:        seed.Preset,
		FeedSource:    seed.FeedSource,
		MaxItems:      seed.MaxItems,
		SummaryWindow: time.Duration(seed.WindowHours) * time.Hour,
		Channels:      seed.Channels,
	}
	if owner.FeedSource == "" {
		owner.FeedSource = "api"
	}
	if owner.Timezone == "" {
		owner.Timezone = "UTC"
	}
	if owner.Preset == "" {
		owner.Preset = "default"
	}

	entry := domain.ScheduleEntry{
		OwnerID:  owner.ID,
		Timezone: owner.Timezone,
	}
	switch seed.Cadence {
	case "", "daily":
		entry.Cadence.Kind = domain.CadenceDailyAt
		at := seed.DailyAt
		if at == "" {
			at = "08:00"
		}
		hour, minute, err := config.ParseDailyAt(at)
		if err != nil {
			return domain.Owner{}, domain.ScheduleEntry{}, err
		}
		entry.Cadence.Hour = hour
		entry.Cadence.Minute = minute
	case "interval":
		interval, err := time.ParseDuration(seed.Interval)
		if err != nil {
			return domain.Owner{}, domain.ScheduleEntry{}, fmt.Errorf("invalid interval %q: %w", seed.Interval, err)
		}
		entry.Cadence.Kind = domain.CadenceInterval
		entry.Cadence.Interval = interval
	default:
		return domain.Owner{}, domain.ScheduleEntry{}, fmt.Errorf("unknown cadence %q", seed.Cadence)
	}
	if err := entry.Cadence.Validate(); err != nil {
		return domain.Owner{}, domain.ScheduleEntry{}, err
	}

	return owner, entry, nil
}

func buildSummaryChain(cfg config.SummarizerConfig) ([]ports.SummaryBackend, error) {
	chain := make([]ports.SummaryBackend, 0, len(cfg.Chain))
	for _, backend := range cfg.Chain {
		switch backend.Type {
		case "openai":
			chain = append(chain, summarizer.NewOpenAIBackend(backend))
		case "anthropic":
			chain = append(chain, summarizer.NewAnthropicBackend(backend))
		case "keyword":
			chain = append(chain, summarizer.NewKeywordBackend())
		default:
			return nil, fmt.Errorf("unknown summary backend type %q", backend.Type)
		}
	}
	if len(chain) == 0 {
		chain = append(chain, summarizer.NewKeywordBackend())
	}
	return chain, nil
}

func newSessionStore(cfg config.SessionConfig) (ports.SessionStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return session.NewMemoryStore(cfg.TTL), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("session backend redis requires an address")
		}
		return session.NewRedisStore(cfg.RedisAddr), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
