/*
postgres.go - PostgreSQL implementation of points.TxStore

PURPOSE:
  Production store for deployments that run more than one server process.
  Same schema as the SQLite store, with jsonb payloads and timestamptz
  columns. Queries are built with squirrel using $n placeholders.

CONCURRENCY:
  Transactions run at SERIALIZABLE isolation. Two activations racing on the
  same configuration type conflict on the partial unique index or on a
  serialization failure; both surface as retryable errors.

ERROR MAPPING:
  23505 on configurations       -> points.ErrConfigConflict
  23505 on idempotency_key      -> points.ErrDuplicateIdempotencyKey
  23505 elsewhere               -> points.ErrDuplicateID
  40001 serialization_failure   -> points.ErrConcurrentModification

SEE ALSO:
  - store/sqlite/sqlite.go: Default single-process store
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/points-engine/factory"
	"github.com/warp/points-engine/points"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	defaultMaxConns        = 10
	connectDeadline        = 30 * time.Second
	connectAttemptTimeout  = 2 * time.Second
)

// Store implements points.TxStore using a pgx connection pool.
type Store struct {
	conn
	pool *pgxpool.Pool
}

// New connects to url, retrying until the database answers or the deadline
// passes, and applies the schema.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	cfg.MaxConns = defaultMaxConns

	var pool *pgxpool.Pool
	deadline := time.Now().Add(connectDeadline)
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, connectAttemptTimeout)
		pool, err = pgxpool.NewWithConfig(attemptCtx, cfg)
		if err == nil {
			if err = pool.Ping(attemptCtx); err == nil {
				cancel()
				break
			}
			pool.Close()
		}
		cancel()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	s := &Store{conn: newConn(pool), pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS configurations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		version INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		payload_json JSONB NOT NULL,
		effective_date TIMESTAMPTZ NOT NULL,
		updated_by TEXT NOT NULL,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT configurations_type_version_key UNIQUE (type, version)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_configurations_one_active
		ON configurations(type) WHERE is_active;

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		total_points INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL REFERENCES participants(id),
		category TEXT NOT NULL,
		title TEXT,
		position TEXT,
		scope TEXT,
		organizer TEXT,
		platform TEXT,
		participation_type TEXT,
		answers_json JSONB,
		status TEXT NOT NULL,
		points_earned INTEGER NOT NULL DEFAULT 0,
		reviewed_by TEXT,
		reviewed_at TIMESTAMPTZ,
		review_note TEXT,
		submitted_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activities_status ON activities(status);
	CREATE INDEX IF NOT EXISTS idx_activities_category ON activities(category);
	CREATE INDEX IF NOT EXISTS idx_activities_position ON activities(position);
	CREATE INDEX IF NOT EXISTS idx_activities_participant ON activities(participant_id);

	CREATE TABLE IF NOT EXISTS point_entries (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL REFERENCES participants(id),
		activity_id TEXT,
		delta INTEGER NOT NULL,
		entry_type TEXT NOT NULL,
		configuration_id TEXT,
		reason TEXT,
		idempotency_key TEXT,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT point_entries_idempotency_key_key UNIQUE (idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_point_entries_participant ON point_entries(participant_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// WithTx runs fn inside a SERIALIZABLE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store points.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(newConn(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "failed to commit transaction")
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE point_entries, activities, participants, configurations")
	return err
}

// =============================================================================
// QUERIES - shared by the pool and transactions
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type conn struct {
	q  querier
	sb sq.StatementBuilderType
}

func newConn(q querier) conn {
	return conn{q: q, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

var rules = factory.NewRuleFactory()

var configColumns = []string{
	"id", "type", "version", "is_active", "payload_json",
	"effective_date", "updated_by", "notes", "created_at",
}

func (c conn) exec(ctx context.Context, b sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return c.q.Exec(ctx, query, args...)
}

func (c conn) query(ctx context.Context, b sq.Sqlizer) (pgx.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return c.q.Query(ctx, query, args...)
}

// -----------------------------------------------------------------------------
// Configurations
// -----------------------------------------------------------------------------

func (c conn) ActiveConfiguration(ctx context.Context, t points.ConfigType) (*points.Configuration, error) {
	rows, err := c.query(ctx, c.sb.Select(configColumns...).
		From("configurations").
		Where(sq.Eq{"type": string(t), "is_active": true}).
		OrderBy("effective_date DESC", "version DESC").
		Limit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to query active configuration: %w", err)
	}
	configs, err := collectConfigurations(rows)
	if err != nil || len(configs) == 0 {
		return nil, err
	}
	return &configs[0], nil
}

func (c conn) LatestVersion(ctx context.Context, t points.ConfigType) (int, error) {
	query, args, err := c.sb.Select("COALESCE(MAX(version), 0)").
		From("configurations").
		Where(sq.Eq{"type": string(t)}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var v int
	if err := c.q.QueryRow(ctx, query, args...).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to query latest version: %w", err)
	}
	return v, nil
}

func (c conn) InsertConfiguration(ctx context.Context, cfg points.Configuration) error {
	payload, err := rules.ToJSON(cfg.Type, cfg.Payload)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, c.sb.Insert("configurations").
		Columns(configColumns...).
		Values(cfg.ID, string(cfg.Type), cfg.Version, cfg.IsActive, string(payload),
			cfg.EffectiveDate.UTC(), cfg.UpdatedBy, nullString(cfg.Notes), cfg.CreatedAt.UTC()))
	if err != nil {
		return mapError(err, "failed to insert configuration")
	}
	return nil
}

func (c conn) DeactivateConfigurations(ctx context.Context, t points.ConfigType, exceptID string) error {
	_, err := c.exec(ctx, c.sb.Update("configurations").
		Set("is_active", false).
		Where(sq.Eq{"type": string(t), "is_active": true}).
		Where(sq.NotEq{"id": exceptID}))
	if err != nil {
		return mapError(err, "failed to deactivate configurations")
	}
	return nil
}

func (c conn) ConfigurationHistory(ctx context.Context, t points.ConfigType) ([]points.Configuration, error) {
	rows, err := c.query(ctx, c.sb.Select(configColumns...).
		From("configurations").
		Where(sq.Eq{"type": string(t)}).
		OrderBy("version DESC"))
	if err != nil {
		return nil, fmt.Errorf("failed to query configuration history: %w", err)
	}
	return collectConfigurations(rows)
}

func (c conn) CountActive(ctx context.Context, t points.ConfigType) (int, error) {
	query, args, err := c.sb.Select("COUNT(*)").
		From("configurations").
		Where(sq.Eq{"type": string(t), "is_active": true}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	err = c.q.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func collectConfigurations(rows pgx.Rows) ([]points.Configuration, error) {
	defer rows.Close()

	var out []points.Configuration
	for rows.Next() {
		var (
			cfg     points.Configuration
			cfgType string
			payload []byte
			notes   *string
		)
		err := rows.Scan(&cfg.ID, &cfgType, &cfg.Version, &cfg.IsActive, &payload,
			&cfg.EffectiveDate, &cfg.UpdatedBy, &notes, &cfg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan configuration: %w", err)
		}
		cfg.Type = points.ConfigType(cfgType)
		cfg.Payload, err = rules.ParseRules(cfg.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("configuration %s has unreadable payload: %w", cfg.ID, err)
		}
		cfg.EffectiveDate = cfg.EffectiveDate.UTC()
		cfg.CreatedAt = cfg.CreatedAt.UTC()
		cfg.Notes = deref(notes)
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Activities
// -----------------------------------------------------------------------------

var activityColumns = []string{
	"id", "participant_id", "category", "title", "position", "scope", "organizer",
	"platform", "participation_type", "answers_json", "status", "points_earned",
	"reviewed_by", "reviewed_at", "review_note", "submitted_at", "updated_at",
}

func (c conn) SaveActivity(ctx context.Context, a points.Activity) error {
	var answers *string
	if len(a.Answers) > 0 {
		b, err := json.Marshal(a.Answers)
		if err != nil {
			return fmt.Errorf("failed to encode answers: %w", err)
		}
		s := string(b)
		answers = &s
	}

	_, err := c.exec(ctx, c.sb.Insert("activities").
		Columns(activityColumns...).
		Values(
			a.ID, a.ParticipantID, a.Category, nullString(a.Title), nullString(a.Position),
			nullString(a.Scope), nullString(a.Organizer), nullString(a.Platform),
			nullString(a.ParticipationType), answers, string(a.Status), a.PointsEarned,
			nullString(a.ReviewedBy), a.ReviewedAt, nullString(a.ReviewNote),
			a.SubmittedAt.UTC(), a.UpdatedAt.UTC(),
		))
	if err != nil {
		return mapError(err, "failed to insert activity")
	}
	return nil
}

func (c conn) GetActivity(ctx context.Context, id string) (points.Activity, error) {
	out, err := c.selectActivities(ctx, sq.Eq{"id": id})
	if err != nil {
		return points.Activity{}, err
	}
	if len(out) == 0 {
		return points.Activity{}, points.ErrActivityNotFound
	}
	return out[0], nil
}

func (c conn) ListActivities(ctx context.Context, f points.ActivityFilter) ([]points.Activity, error) {
	return c.selectActivities(ctx, activityFilter(f))
}

func activityFilter(f points.ActivityFilter) sq.And {
	where := sq.And{}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": string(f.Status)})
	}
	if f.ParticipantID != "" {
		where = append(where, sq.Eq{"participant_id": f.ParticipantID})
	}
	if len(f.Categories) > 0 {
		where = append(where, sq.Eq{"category": f.Categories})
	}
	if len(f.Positions) > 0 {
		where = append(where, sq.Eq{"position": f.Positions})
	}
	return where
}

func (c conn) selectActivities(ctx context.Context, where sq.Sqlizer) ([]points.Activity, error) {
	rows, err := c.query(ctx, c.sb.Select(activityColumns...).
		From("activities").
		Where(where).
		OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var out []points.Activity
	for rows.Next() {
		var (
			a                                   points.Activity
			title, position, scope, organizer   *string
			platform, participation, reviewedBy *string
			reviewNote                          *string
			status                              string
			answers                             []byte
		)
		err := rows.Scan(
			&a.ID, &a.ParticipantID, &a.Category, &title, &position, &scope, &organizer,
			&platform, &participation, &answers, &status, &a.PointsEarned,
			&reviewedBy, &a.ReviewedAt, &reviewNote, &a.SubmittedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Title = deref(title)
		a.Position = deref(position)
		a.Scope = deref(scope)
		a.Organizer = deref(organizer)
		a.Platform = deref(platform)
		a.ParticipationType = deref(participation)
		a.ReviewedBy = deref(reviewedBy)
		a.ReviewNote = deref(reviewNote)
		a.Status = points.Status(status)
		a.SubmittedAt = a.SubmittedAt.UTC()
		a.UpdatedAt = a.UpdatedAt.UTC()
		if a.ReviewedAt != nil {
			t := a.ReviewedAt.UTC()
			a.ReviewedAt = &t
		}
		if len(answers) > 0 {
			if err := json.Unmarshal(answers, &a.Answers); err != nil {
				return nil, fmt.Errorf("activity %s has unreadable answers: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c conn) UpdateActivityPoints(ctx context.Context, id string, oldPoints, newPoints int) error {
	tag, err := c.exec(ctx, c.sb.Update("activities").
		Set("points_earned", newPoints).
		Where(sq.Eq{"id": id, "points_earned": oldPoints}))
	if err != nil {
		return mapError(err, "failed to update activity points")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := c.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM activities WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return points.ErrActivityNotFound
	}
	return points.ErrConcurrentModification
}

func (c conn) UpdateActivityReview(ctx context.Context, a points.Activity) error {
	tag, err := c.exec(ctx, c.sb.Update("activities").
		SetMap(map[string]any{
			"status":        string(a.Status),
			"points_earned": a.PointsEarned,
			"reviewed_by":   nullString(a.ReviewedBy),
			"reviewed_at":   a.ReviewedAt,
			"review_note":   nullString(a.ReviewNote),
			"updated_at":    a.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": a.ID}))
	if err != nil {
		return mapError(err, "failed to update activity review")
	}
	if tag.RowsAffected() == 0 {
		return points.ErrActivityNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Participants
// -----------------------------------------------------------------------------

func (c conn) SaveParticipant(ctx context.Context, p points.Participant) error {
	_, err := c.exec(ctx, c.sb.Insert("participants").
		Columns("id", "name", "total_points", "created_at", "updated_at").
		Values(p.ID, p.Name, p.TotalPoints, p.CreatedAt.UTC(), p.UpdatedAt.UTC()))
	if err != nil {
		return mapError(err, "failed to insert participant")
	}
	return nil
}

func (c conn) GetParticipant(ctx context.Context, id string) (points.Participant, error) {
	out, err := c.selectParticipants(ctx, sq.Eq{"id": id})
	if err != nil {
		return points.Participant{}, err
	}
	if len(out) == 0 {
		return points.Participant{}, points.ErrParticipantNotFound
	}
	return out[0], nil
}

func (c conn) ListParticipants(ctx context.Context) ([]points.Participant, error) {
	return c.selectParticipants(ctx, sq.And{})
}

func (c conn) selectParticipants(ctx context.Context, where sq.Sqlizer) ([]points.Participant, error) {
	rows, err := c.query(ctx, c.sb.Select("id", "name", "total_points", "created_at", "updated_at").
		From("participants").
		Where(where).
		OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []points.Participant
	for rows.Next() {
		var p points.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.TotalPoints, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c conn) AdjustParticipantTotal(ctx context.Context, id string, delta int) error {
	return c.updateTotal(ctx, id, sq.Expr("total_points + ?", delta))
}

func (c conn) SetParticipantTotal(ctx context.Context, id string, total int) error {
	return c.updateTotal(ctx, id, total)
}

func (c conn) updateTotal(ctx context.Context, id string, value any) error {
	tag, err := c.exec(ctx, c.sb.Update("participants").
		Set("total_points", value).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return mapError(err, "failed to update participant total")
	}
	if tag.RowsAffected() == 0 {
		return points.ErrParticipantNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

func (c conn) AppendPointEntry(ctx context.Context, e points.PointEntry) error {
	_, err := c.exec(ctx, c.sb.Insert("point_entries").
		Columns("id", "participant_id", "activity_id", "delta", "entry_type", "configuration_id",
			"reason", "idempotency_key", "created_by", "created_at").
		Values(e.ID, e.ParticipantID, nullString(e.ActivityID), e.Delta, string(e.Type),
			nullString(e.ConfigurationID), nullString(e.Reason), nullString(e.IdempotencyKey),
			nullString(e.CreatedBy), e.CreatedAt.UTC()))
	if err != nil {
		return mapError(err, "failed to append point entry")
	}
	return nil
}

func (c conn) PointEntries(ctx context.Context, participantID string) ([]points.PointEntry, error) {
	rows, err := c.query(ctx, c.sb.Select("id", "participant_id", "activity_id", "delta", "entry_type",
		"configuration_id", "reason", "idempotency_key", "created_by", "created_at").
		From("point_entries").
		Where(sq.Eq{"participant_id": participantID}).
		OrderBy("created_at ASC", "seq ASC"))
	if err != nil {
		return nil, fmt.Errorf("failed to query point entries: %w", err)
	}
	defer rows.Close()

	var out []points.PointEntry
	for rows.Next() {
		var (
			e                            points.PointEntry
			entryType                    string
			activityID, configID, reason *string
			idempotencyKey, createdBy    *string
		)
		err := rows.Scan(&e.ID, &e.ParticipantID, &activityID, &e.Delta, &entryType, &configID,
			&reason, &idempotencyKey, &createdBy, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan point entry: %w", err)
		}
		e.ActivityID = deref(activityID)
		e.Type = points.EntryType(entryType)
		e.ConfigurationID = deref(configID)
		e.Reason = deref(reason)
		e.IdempotencyKey = deref(idempotencyKey)
		e.CreatedBy = deref(createdBy)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// mapError translates Postgres error codes into domain errors.
func mapError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	switch pgErr.Code {
	case pgSerializationFailure:
		return points.ErrConcurrentModification
	case pgUniqueViolation:
		switch {
		case strings.HasPrefix(pgErr.ConstraintName, "configurations_type_version"),
			pgErr.ConstraintName == "idx_configurations_one_active":
			return points.ErrConfigConflict
		case pgErr.ConstraintName == "point_entries_idempotency_key_key":
			return points.ErrDuplicateIdempotencyKey
		default:
			return points.ErrDuplicateID
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
