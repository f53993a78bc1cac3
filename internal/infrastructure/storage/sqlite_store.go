package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS owners (
	id             TEXT PRIMARY KEY,
	handle         TEXT NOT NULL,
	email          TEXT NOT NULL DEFAULT '',
	timezone       TEXT NOT NULL DEFAULT 'UTC',
	preset         TEXT NOT NULL DEFAULT 'default',
	custom_prompt  TEXT NOT NULL DEFAULT '',
	feed_source    TEXT NOT NULL DEFAULT 'api',
	max_items      INTEGER NOT NULL DEFAULT 100,
	window_seconds INTEGER NOT NULL DEFAULT 86400,
	channels       TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS seen_items (
	owner_id TEXT NOT NULL,
	item_id  TEXT NOT NULL,
	seen_at  TEXT NOT NULL,
	PRIMARY KEY (owner_id, item_id)
);

CREATE TABLE IF NOT EXISTS seen_meta (
	owner_id       TEXT PRIMARY KEY,
	last_ingest_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS briefings (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	item_ids     TEXT NOT NULL,
	content      TEXT NOT NULL,
	format       TEXT NOT NULL,
	backend      TEXT NOT NULL,
	generated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	stage       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	fetched     INTEGER NOT NULL DEFAULT 0,
	new_items   INTEGER NOT NULL DEFAULT 0,
	briefing_id TEXT NOT NULL DEFAULT '',
	deliveries  TEXT NOT NULL DEFAULT '[]',
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_owner_started ON runs (owner_id, started_at DESC);

CREATE TABLE IF NOT EXISTS schedules (
	owner_id         TEXT PRIMARY KEY,
	cadence_kind     TEXT NOT NULL,
	interval_seconds INTEGER NOT NULL DEFAULT 0,
	hour             INTEGER NOT NULL DEFAULT 0,
	minute           INTEGER NOT NULL DEFAULT 0,
	timezone         TEXT NOT NULL DEFAULT 'UTC',
	next_due         TEXT NOT NULL
);
`

// Store persists all pipeline state in a single sqlite database.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var (
	_ ports.SeenStore     = (*Store)(nil)
	_ ports.RunStore      = (*Store)(nil)
	_ ports.ScheduleStore = (*Store)(nil)
	_ ports.BriefingStore = (*Store)(nil)
	_ ports.OwnerStore    = (*Store)(nil)
)

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// --- SeenStore ---

// Seen returns which of the given item IDs are already in the owner's
// seen set.
func (s *Store) Seen(ctx context.Context, ownerID string, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := s.sb.
		Select("item_id").
		From("seen_items").
		Where(sq.Eq{"owner_id": ownerID, "item_id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build seen query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seen: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen id: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// MarkSeen extends the owner's seen set. Already-present IDs are kept
// untouched, so the set only ever grows.
func (s *Store) MarkSeen(ctx context.Context, ownerID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark seen: %w", err)
	}
	defer tx.Rollback()

	insert := s.sb.
		Insert("seen_items").
		Columns("owner_id", "item_id", "seen_at").
		Suffix("ON CONFLICT (owner_id, item_id) DO NOTHING")
	for _, id := range ids {
		insert = insert.Values(ownerID, id, encodeTime(at))
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build mark seen: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert seen: %w", err)
	}

	metaQuery, metaArgs, err := s.sb.
		Insert("seen_meta").
		Columns("owner_id", "last_ingest_at").
		Values(ownerID, encodeTime(at)).
		Suffix("ON CONFLICT (owner_id) DO UPDATE SET last_ingest_at = excluded.last_ingest_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build seen meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, metaQuery, metaArgs...); err != nil {
		return fmt.Errorf("upsert seen meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark seen: %w", err)
	}
	return nil
}

// LastIngest returns the timestamp of the owner's most recent commit.
func (s *Store) LastIngest(ctx context.Context, ownerID string) (time.Time, bool, error) {
	query, args, err := s.sb.
		Select("last_ingest_at").
		From("seen_meta").
		Where(sq.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build last ingest: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last ingest: %w", err)
	}
	return decodeTime(raw), true, nil
}

// --- RunStore ---

// AppendRun stores one finished run. Records are never updated.
func (s *Store) AppendRun(ctx context.Context, rec domain.RunRecord) error {
	deliveries, err := json.Marshal(rec.Deliveries)
	if err != nil {
		return fmt.Errorf("marshal deliveries: %w", err)
	}

	query, args, err := s.sb.
		Insert("runs").
		Columns("id", "owner_id", "started_at", "finished_at", "stage", "outcome",
			"fetched", "new_items", "briefing_id", "deliveries", "error").
		Values(rec.ID, rec.OwnerID, encodeTime(rec.StartedAt), encodeTime(rec.FinishedAt),
			string(rec.Stage), string(rec.Outcome), rec.Fetched, rec.New,
			rec.BriefingID, string(deliveries), rec.Error).
		ToSql()
	if err != nil {
		return fmt.Errorf("build append run: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns the owner's latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, ownerID string, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query, args, err := s.sb.
		Select("id", "owner_id", "started_at", "finished_at", "stage", "outcome",
			"fetched", "new_items", "briefing_id", "deliveries", "error").
		From("runs").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		var (
			rec                           domain.RunRecord
			started, finished, deliveries string
			stage, outcome                string
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &started, &finished, &stage, &outcome,
			&rec.Fetched, &rec.New, &rec.BriefingID, &deliveries, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.StartedAt = decodeTime(started)
		rec.FinishedAt = decodeTime(finished)
		rec.Stage = domain.Stage(stage)
		rec.Outcome = domain.Outcome(outcome)
		if err := json.Unmarshal([]byte(deliveries), &rec.Deliveries); err != nil {
			return nil, fmt.Errorf("unmarshal deliveries: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

// --- BriefingStore ---

// SaveBriefing persists a generated briefing.
func (s *Store) SaveBriefing(ctx context.Context, b domain.Briefing) error {
	itemIDs, err := json.Marshal(b.ItemIDs)
	if err != nil {
		return fmt.Errorf("marshal item ids: %w", err)
	}

	query, args, err := s.sb.
		Insert("briefings").
		Columns("id", "owner_id", "item_ids", "content", "format", "backend", "generated_at").
		Values(b.ID, b.OwnerID, string(itemIDs), b.Content, string(b.Format), b.Backend, encodeTime(b.GeneratedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save briefing: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert briefing: %w", err)
	}
	return nil
}

// LatestBriefing returns the owner's newest briefing, if any.
func (s *Store) LatestBriefing(ctx context.Context, ownerID string) (domain.Briefing, bool, error) {
	query, args, err := s.sb.
		Select("id", "owner_id", "item_ids", "content", "format", "backend", "generated_at").
		From("briefings").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("generated_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.Briefing{}, false, fmt.Errorf("build latest briefing: %w", err)
	}

	var (
		b                  domain.Briefing
		itemIDs, generated string
		format             string
	)
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&b.ID, &b.OwnerID, &itemIDs, &b.Content, &format, &b.Backend, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Briefing{}, false, nil
	}
	if err != nil {
		return domain.Briefing{}, false, fmt.Errorf("query latest briefing: %w", err)
	}
	if err := json.Unmarshal([]byte(itemIDs), &b.ItemIDs); err != nil {
		return domain.Briefing{}, false, fmt.Errorf("unmarshal item ids: %w", err)
	}
	b.Format = domain.BriefingFormat(format)
	b.GeneratedAt = decodeTime(generated)
	return b, true, nil
}

// --- ScheduleStore ---

// Schedules loads every schedule entry.
func (s *Store) Schedules(ctx context.Context) ([]domain.ScheduleEntry, error) {
	query, args, err := s.sb.
		Select("owner_id", "cadence_kind", "interval_seconds", "hour", "minute", "timezone", "next_due").
		From("schedules").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build schedules: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var entries []domain.ScheduleEntry
	for rows.Next() {
		var (
			entry           domain.ScheduleEntry
			kind, nextDue   string
			intervalSeconds int64
		)
		if err := rows.Scan(&entry.OwnerID, &kind, &intervalSeconds,
			&entry.Cadence.Hour, &entry.Cadence.Minute, &entry.Timezone, &nextDue); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		entry.Cadence.Kind = domain.CadenceKind(kind)
		entry.Cadence.Interval = time.Duration(intervalSeconds) * time.Second
		entry.NextDue = decodeTime(nextDue)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entries, nil
}

// SaveSchedule upserts one schedule entry.
func (s *Store) SaveSchedule(ctx context.Context, entry domain.ScheduleEntry) error {
	query, args, err := s.sb.
		Insert("schedules").
		Columns("owner_id", "cadence_kind", "interval_seconds", "hour", "minute", "timezone", "next_due").
		Values(entry.OwnerID, string(entry.Cadence.Kind), int64(entry.Cadence.Interval/time.Second),
			entry.Cadence.Hour, entry.Cadence.Minute, entry.Timezone, encodeTime(entry.NextDue)).
		Suffix(`ON CONFLICT (owner_id) DO UPDATE SET
			cadence_kind = excluded.cadence_kind,
			interval_seconds = excluded.interval_seconds,
			hour = excluded.hour,
			minute = excluded.minute,
			timezone = excluded.timezone,
			next_due = excluded.next_due`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save schedule: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// --- OwnerStore ---

// Owner loads one owner profile.
func (s *Store) Owner(ctx context.Context, id string) (domain.Owner, error) {
	query, args, err := s.ownerSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Owner{}, fmt.Errorf("build owner: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	owner, err := scanOwner(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Owner{}, fmt.Errorf("owner %s not found", id)
	}
	if err != nil {
		return domain.Owner{}, fmt.Errorf("query owner %s: %w", id, err)
	}
	return owner, nil
}

// Owners loads every owner profile.
func (s *Store) Owners(ctx context.Context) ([]domain.Owner, error) {
	query, args, err := s.ownerSelect().OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build owners: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var owners []domain.Owner
	for rows.Next() {
		owner, err := scanOwner(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return owners, nil
}

// SaveOwner upserts one owner profile.
func (s *Store) SaveOwner(ctx context.Context, o domain.Owner) error {
	channels, err := json.Marshal(o.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query, args, err := s.sb.
		Insert("owners").
		Columns("id", "handle", "email", "timezone", "preset", "custom_prompt",
			"feed_source", "max_items", "window_seconds", "channels").
		Values(o.ID, o.Handle, o.Email, o.Timezone, o.Preset, o.CustomPrompt,
			o.FeedSource, o.MaxItems, int64(o.SummaryWindow/time.Second), string(channels)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			handle = excluded.handle,
			email = excluded.email,
			timezone = excluded.timezone,
			preset = excluded.preset,
			custom_prompt = excluded.custom_prompt,
			feed_source = excluded.feed_source,
			max_items = excluded.max_items,
			window_seconds = excluded.window_seconds,
			channels = excluded.channels`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save owner: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert owner: %w", err)
	}
	return nil
}

func (s *Store) ownerSelect() sq.SelectBuilder {
	return s.sb.
		Select("id", "handle", "email", "timezone", "preset", "custom_prompt",
			"feed_source", "max_items", "window_seconds", "channels").
		From("owners")
}

func scanOwner(scan func(...any) error) (domain.Owner, error) {
	var (
		o             domain.Owner
		windowSeconds int64
		channels      string
	)
	if err := scan(&o.ID, &o.Handle, &o.Email, &o.Timezone, &o.Preset, &o.CustomPrompt,
		&o.FeedSource, &o.MaxItems, &windowSeconds, &channels); err != nil {
		return domain.Owner{}, err
	}
	o.SummaryWindow = time.Duration(windowSeconds) * time.Second
	if err := json.Unmarshal([]byte(channels), &o.Channels); err != nil {
		return domain.Owner{}, fmt.Errorf("unmarshal channels: %w", err)
	}
	return o, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
