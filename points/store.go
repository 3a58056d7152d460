/*
store.go - Persistence interface for configurations, activities, participants and the point ledger

PURPOSE:
  Defines the interface between the engine and the database. Every engine
  operation that writes more than one row runs inside TxStore.WithTx so that
  activation, per-activity point updates, total increments and ledger entries
  commit together or not at all.

KEY INTERFACES:
  ConfigStore:      Versioned configuration rows (insert, deactivate, read)
  ActivityStore:    Activity submissions and their stored points
  ParticipantStore: Participants and their delta-maintained totals
  LedgerStore:      Append-only point entries
  TxStore:          All of the above plus WithTx

WRITE CONTRACT:
  - Configuration rows are inserted, never edited except for the is_active flip
  - UpdateActivityPoints is optimistic: it fails with ErrConcurrentModification
    if the stored points no longer equal the expected old value
  - AdjustParticipantTotal increments by delta; it never overwrites
  - SetParticipantTotal exists only for RebuildTotals

IMPLEMENTATIONS:
  - points/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - configstore.go: Version management on top of ConfigStore
  - recalculation.go: Main WithTx consumer
*/
package points

import "context"

// =============================================================================
// STORE INTERFACES
// =============================================================================

// ConfigStore persists configuration versions.
type ConfigStore interface {
	// ActiveConfiguration returns the active row for t with the latest
	// (EffectiveDate, Version), or nil if none exists.
	ActiveConfiguration(ctx context.Context, t ConfigType) (*Configuration, error)

	// LatestVersion returns the highest version for t, or 0 if none exists.
	LatestVersion(ctx context.Context, t ConfigType) (int, error)

	// InsertConfiguration inserts a new row. A (type, version) collision or a
	// second active row returns ErrConfigConflict.
	InsertConfiguration(ctx context.Context, cfg Configuration) error

	// DeactivateConfigurations clears is_active on every row of t except exceptID.
	DeactivateConfigurations(ctx context.Context, t ConfigType, exceptID string) error

	// ConfigurationHistory returns all versions of t, newest first.
	ConfigurationHistory(ctx context.Context, t ConfigType) ([]Configuration, error)

	CountActive(ctx context.Context, t ConfigType) (int, error)
}

// ActivityFilter narrows ListActivities. Empty fields match everything.
type ActivityFilter struct {
	Status        Status
	ParticipantID string
	Categories    []string
	Positions     []string
}

// ActivityStore persists activity submissions.
type ActivityStore interface {
	SaveActivity(ctx context.Context, a Activity) error
	GetActivity(ctx context.Context, id string) (Activity, error)

	// ListActivities returns matching activities ordered by ID.
	ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)

	// UpdateActivityPoints sets points_earned to newPoints only if it currently
	// equals oldPoints. No other column is touched.
	UpdateActivityPoints(ctx context.Context, id string, oldPoints, newPoints int) error

	// UpdateActivityReview writes status, points and review metadata.
	UpdateActivityReview(ctx context.Context, a Activity) error
}

// ParticipantStore persists participants and their totals.
type ParticipantStore interface {
	SaveParticipant(ctx context.Context, p Participant) error
	GetParticipant(ctx context.Context, id string) (Participant, error)
	ListParticipants(ctx context.Context) ([]Participant, error)

	// AdjustParticipantTotal applies total_points = total_points + delta.
	AdjustParticipantTotal(ctx context.Context, id string, delta int) error

	// SetParticipantTotal overwrites the total. Only RebuildTotals uses it.
	SetParticipantTotal(ctx context.Context, id string, total int) error
}

// LedgerStore persists point entries. Append-only.
type LedgerStore interface {
	// AppendPointEntry fails with ErrDuplicateIdempotencyKey if the key exists.
	AppendPointEntry(ctx context.Context, e PointEntry) error

	// PointEntries returns a participant's entries, oldest first.
	PointEntries(ctx context.Context, participantID string) ([]PointEntry, error)
}

// Store combines every persistence concern the engine needs.
type Store interface {
	ConfigStore
	ActivityStore
	ParticipantStore
	LedgerStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
