/*
sqlite.go - SQLite implementation of points.TxStore

PURPOSE:
  Default persistent store. Keeps configuration versions, activities,
  participants and the point ledger in a single SQLite file.

SCHEMA:
  configurations:  One row per version; UNIQUE(type, version) and a partial
                   unique index that allows one active row per type
  participants:    Participant with its delta-maintained total
  activities:      Submission, structured attributes, answers as JSON
  point_entries:   Append-only ledger; idempotency_key is UNIQUE

CONCURRENCY:
  The pool is capped at one connection and all access is serialized by a
  RWMutex. WithTx holds the write lock for the whole transaction, so a
  recalculation never interleaves with another writer.

ERROR MAPPING:
  UNIQUE on configurations       -> points.ErrConfigConflict
  UNIQUE on point_entries key    -> points.ErrDuplicateIdempotencyKey
  PRIMARY KEY on other tables    -> points.ErrDuplicateID

SEE ALSO:
  - points/store.go: Interface contract
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/points-engine/factory"
	"github.com/warp/points-engine/points"
)

// timeFormat is fixed-width so that text timestamps sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// Store implements points.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS configurations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		version INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		payload_json TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(type, version)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_configurations_one_active
		ON configurations(type) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		total_points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
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
		answers_json TEXT,
		status TEXT NOT NULL,
		points_earned INTEGER NOT NULL DEFAULT 0,
		reviewed_by TEXT,
		reviewed_at TEXT,
		review_note TEXT,
		submitted_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activities_status ON activities(status);
	CREATE INDEX IF NOT EXISTS idx_activities_category ON activities(category);
	CREATE INDEX IF NOT EXISTS idx_activities_position ON activities(position);
	CREATE INDEX IF NOT EXISTS idx_activities_participant ON activities(participant_id);

	CREATE TABLE IF NOT EXISTS point_entries (
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL REFERENCES participants(id),
		activity_id TEXT,
		delta INTEGER NOT NULL,
		entry_type TEXT NOT NULL,
		configuration_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_point_entries_participant ON point_entries(participant_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ACCESS - Store implements points.Store
// =============================================================================

func (s *Store) ActiveConfiguration(ctx context.Context, t points.ConfigType) (*points.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.ActiveConfiguration(ctx, t)
}

func (s *Store) LatestVersion(ctx context.Context, t points.ConfigType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.LatestVersion(ctx, t)
}

func (s *Store) InsertConfiguration(ctx context.Context, cfg points.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.InsertConfiguration(ctx, cfg)
}

func (s *Store) DeactivateConfigurations(ctx context.Context, t points.ConfigType, exceptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.DeactivateConfigurations(ctx, t, exceptID)
}

func (s *Store) ConfigurationHistory(ctx context.Context, t points.ConfigType) ([]points.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.ConfigurationHistory(ctx, t)
}

func (s *Store) CountActive(ctx context.Context, t points.ConfigType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.CountActive(ctx, t)
}

func (s *Store) SaveActivity(ctx context.Context, a points.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.SaveActivity(ctx, a)
}

func (s *Store) GetActivity(ctx context.Context, id string) (points.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.GetActivity(ctx, id)
}

func (s *Store) ListActivities(ctx context.Context, f points.ActivityFilter) ([]points.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.ListActivities(ctx, f)
}

func (s *Store) UpdateActivityPoints(ctx context.Context, id string, oldPoints, newPoints int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.UpdateActivityPoints(ctx, id, oldPoints, newPoints)
}

func (s *Store) UpdateActivityReview(ctx context.Context, a points.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.UpdateActivityReview(ctx, a)
}

func (s *Store) SaveParticipant(ctx context.Context, p points.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.SaveParticipant(ctx, p)
}

func (s *Store) GetParticipant(ctx context.Context, id string) (points.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.GetParticipant(ctx, id)
}

func (s *Store) ListParticipants(ctx context.Context) ([]points.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.ListParticipants(ctx)
}

func (s *Store) AdjustParticipantTotal(ctx context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.AdjustParticipantTotal(ctx, id, delta)
}

func (s *Store) SetParticipantTotal(ctx context.Context, id string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.SetParticipantTotal(ctx, id, total)
}

func (s *Store) AppendPointEntry(ctx context.Context, e points.PointEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.AppendPointEntry(ctx, e)
}

func (s *Store) PointEntries(ctx context.Context, participantID string) ([]points.PointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.PointEntries(ctx, participantID)
}

// =============================================================================
// TRANSACTIONAL STORE (points.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store points.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"point_entries", "activities", "participants", "configurations"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store (via *sql.DB) and WithTx (via *sql.Tx)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs queries without locking. Inside WithTx the store lock is already held.
type conn struct {
	q querier
}

var rules = factory.NewRuleFactory()

const configColumns = `id, type, version, is_active, payload_json, effective_date, updated_by, notes, created_at`

func (c conn) ActiveConfiguration(ctx context.Context, t points.ConfigType) (*points.Configuration, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+configColumns+`
		FROM configurations
		WHERE type = ? AND is_active = 1
		ORDER BY effective_date DESC, version DESC
		LIMIT 1
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query active configuration: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	cfg, err := scanConfiguration(rows)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c conn) LatestVersion(ctx context.Context, t points.ConfigType) (int, error) {
	var v int
	err := c.q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM configurations WHERE type = ?", string(t),
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest version: %w", err)
	}
	return v, nil
}

func (c conn) InsertConfiguration(ctx context.Context, cfg points.Configuration) error {
	payload, err := rules.ToJSON(cfg.Type, cfg.Payload)
	if err != nil {
		return err
	}

	_, err = c.q.ExecContext(ctx, `
		INSERT INTO configurations (`+configColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cfg.ID,
		string(cfg.Type),
		cfg.Version,
		cfg.IsActive,
		string(payload),
		formatTime(cfg.EffectiveDate),
		cfg.UpdatedBy,
		nullString(cfg.Notes),
		formatTime(cfg.CreatedAt),
	)
	if err != nil {
		return mapWriteError(err, "failed to insert configuration")
	}
	return nil
}

func (c conn) DeactivateConfigurations(ctx context.Context, t points.ConfigType, exceptID string) error {
	_, err := c.q.ExecContext(ctx,
		"UPDATE configurations SET is_active = 0 WHERE type = ? AND id != ? AND is_active = 1",
		string(t), exceptID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate configurations: %w", err)
	}
	return nil
}

func (c conn) ConfigurationHistory(ctx context.Context, t points.ConfigType) ([]points.Configuration, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+configColumns+`
		FROM configurations
		WHERE type = ?
		ORDER BY version DESC
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query configuration history: %w", err)
	}
	defer rows.Close()

	var out []points.Configuration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (c conn) CountActive(ctx context.Context, t points.ConfigType) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM configurations WHERE type = ? AND is_active = 1", string(t),
	).Scan(&n)
	return n, err
}

func scanConfiguration(rows *sql.Rows) (points.Configuration, error) {
	var (
		cfg           points.Configuration
		cfgType       string
		payloadJSON   string
		effectiveDate string
		notes         sql.NullString
		createdAt     string
	)

	err := rows.Scan(&cfg.ID, &cfgType, &cfg.Version, &cfg.IsActive, &payloadJSON,
		&effectiveDate, &cfg.UpdatedBy, &notes, &createdAt)
	if err != nil {
		return cfg, fmt.Errorf("failed to scan configuration: %w", err)
	}

	cfg.Type = points.ConfigType(cfgType)
	cfg.Payload, err = rules.ParseRules(cfg.Type, []byte(payloadJSON))
	if err != nil {
		return cfg, fmt.Errorf("configuration %s has unreadable payload: %w", cfg.ID, err)
	}
	cfg.EffectiveDate = parseTime(effectiveDate)
	cfg.Notes = notes.String
	cfg.CreatedAt = parseTime(createdAt)
	return cfg, nil
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
	answers, err := marshalAnswers(a.Answers)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert("activities").
		Columns(activityColumns...).
		Values(
			a.ID, a.ParticipantID, a.Category, nullString(a.Title), nullString(a.Position),
			nullString(a.Scope), nullString(a.Organizer), nullString(a.Platform),
			nullString(a.ParticipationType), answers, string(a.Status), a.PointsEarned,
			nullString(a.ReviewedBy), nullTime(a.ReviewedAt), nullString(a.ReviewNote),
			formatTime(a.SubmittedAt), formatTime(a.UpdatedAt),
		).ToSql()
	if err != nil {
		return err
	}

	if _, err := c.q.ExecContext(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to insert activity")
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
	return c.selectActivities(ctx, where)
}

func (c conn) selectActivities(ctx context.Context, where sq.Sqlizer) ([]points.Activity, error) {
	query, args, err := sq.Select(activityColumns...).
		From("activities").
		Where(where).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var out []points.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c conn) UpdateActivityPoints(ctx context.Context, id string, oldPoints, newPoints int) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE activities SET points_earned = ? WHERE id = ? AND points_earned = ?",
		newPoints, id, oldPoints,
	)
	if err != nil {
		return fmt.Errorf("failed to update activity points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM activities WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return points.ErrActivityNotFound
	}
	return points.ErrConcurrentModification
}

func (c conn) UpdateActivityReview(ctx context.Context, a points.Activity) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE activities
		SET status = ?, points_earned = ?, reviewed_by = ?, reviewed_at = ?, review_note = ?, updated_at = ?
		WHERE id = ?
	`,
		string(a.Status), a.PointsEarned, nullString(a.ReviewedBy), nullTime(a.ReviewedAt),
		nullString(a.ReviewNote), formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update activity review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return points.ErrActivityNotFound
	}
	return nil
}

func scanActivity(rows *sql.Rows) (points.Activity, error) {
	var (
		a                                    points.Activity
		title, position, scope, organizer    sql.NullString
		platform, participation, answersJSON sql.NullString
		status                               string
		reviewedBy, reviewedAt, reviewNote   sql.NullString
		submittedAt, updatedAt               string
	)

	err := rows.Scan(
		&a.ID, &a.ParticipantID, &a.Category, &title, &position, &scope, &organizer,
		&platform, &participation, &answersJSON, &status, &a.PointsEarned,
		&reviewedBy, &reviewedAt, &reviewNote, &submittedAt, &updatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan activity: %w", err)
	}

	a.Title = title.String
	a.Position = position.String
	a.Scope = scope.String
	a.Organizer = organizer.String
	a.Platform = platform.String
	a.ParticipationType = participation.String
	a.Status = points.Status(status)
	a.ReviewedBy = reviewedBy.String
	a.ReviewNote = reviewNote.String
	a.SubmittedAt = parseTime(submittedAt)
	a.UpdatedAt = parseTime(updatedAt)
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.String)
		a.ReviewedAt = &t
	}

	if answersJSON.Valid && answersJSON.String != "" {
		if err := json.Unmarshal([]byte(answersJSON.String), &a.Answers); err != nil {
			return a, fmt.Errorf("activity %s has unreadable answers: %w", a.ID, err)
		}
	}
	return a, nil
}

// -----------------------------------------------------------------------------
// Participants
// -----------------------------------------------------------------------------

func (c conn) SaveParticipant(ctx context.Context, p points.Participant) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO participants (id, name, total_points, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.TotalPoints, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return mapWriteError(err, "failed to insert participant")
	}
	return nil
}

func (c conn) GetParticipant(ctx context.Context, id string) (points.Participant, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, total_points, created_at, updated_at
		FROM participants WHERE id = ?
	`, id)
	if err != nil {
		return points.Participant{}, fmt.Errorf("failed to query participant: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return points.Participant{}, err
		}
		return points.Participant{}, points.ErrParticipantNotFound
	}
	return scanParticipant(rows)
}

func (c conn) ListParticipants(ctx context.Context) ([]points.Participant, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, total_points, created_at, updated_at
		FROM participants ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []points.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c conn) AdjustParticipantTotal(ctx context.Context, id string, delta int) error {
	return c.updateTotal(ctx,
		"UPDATE participants SET total_points = total_points + ?, updated_at = ? WHERE id = ?",
		delta, id)
}

func (c conn) SetParticipantTotal(ctx context.Context, id string, total int) error {
	return c.updateTotal(ctx,
		"UPDATE participants SET total_points = ?, updated_at = ? WHERE id = ?",
		total, id)
}

func (c conn) updateTotal(ctx context.Context, query string, value int, id string) error {
	res, err := c.q.ExecContext(ctx, query, value, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update participant total: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return points.ErrParticipantNotFound
	}
	return nil
}

func scanParticipant(rows *sql.Rows) (points.Participant, error) {
	var (
		p                    points.Participant
		createdAt, updatedAt string
	)
	if err := rows.Scan(&p.ID, &p.Name, &p.TotalPoints, &createdAt, &updatedAt); err != nil {
		return p, fmt.Errorf("failed to scan participant: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

func (c conn) AppendPointEntry(ctx context.Context, e points.PointEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO point_entries
		(id, participant_id, activity_id, delta, entry_type, configuration_id,
		 reason, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.ParticipantID,
		nullString(e.ActivityID),
		e.Delta,
		string(e.Type),
		nullString(e.ConfigurationID),
		nullString(e.Reason),
		nullString(e.IdempotencyKey),
		nullString(e.CreatedBy),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return mapWriteError(err, "failed to append point entry")
	}
	return nil
}

func (c conn) PointEntries(ctx context.Context, participantID string) ([]points.PointEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, participant_id, activity_id, delta, entry_type, configuration_id,
		       reason, idempotency_key, created_by, created_at
		FROM point_entries
		WHERE participant_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query point entries: %w", err)
	}
	defer rows.Close()

	var out []points.PointEntry
	for rows.Next() {
		var (
			e                            points.PointEntry
			entryType, createdAt         string
			activityID, configID, reason sql.NullString
			idempotencyKey, createdBy    sql.NullString
		)
		err := rows.Scan(&e.ID, &e.ParticipantID, &activityID, &e.Delta, &entryType, &configID,
			&reason, &idempotencyKey, &createdBy, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan point entry: %w", err)
		}
		e.ActivityID = activityID.String
		e.Type = points.EntryType(entryType)
		e.ConfigurationID = configID.String
		e.Reason = reason.String
		e.IdempotencyKey = idempotencyKey.String
		e.CreatedBy = createdBy.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func marshalAnswers(answers map[string]any) (sql.NullString, error) {
	if len(answers) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode answers: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// mapWriteError translates constraint violations into domain errors.
func mapWriteError(err error, msg string) error {
	if !isUniqueConstraintError(err) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	text := err.Error()
	switch {
	case strings.Contains(text, "configurations."), strings.Contains(text, "idx_configurations"):
		return points.ErrConfigConflict
	case strings.Contains(text, "point_entries.idempotency_key"):
		return points.ErrDuplicateIdempotencyKey
	default:
		return points.ErrDuplicateID
	}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
