/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations translate driver errors into these sentinels so
  callers never depend on SQLite or PostgreSQL error text.

ERROR CATEGORIES:
  1. Configuration errors - Version conflicts, invalid rule tables
  2. Recalculation errors - Failed or oversized batches
  3. Store errors - Missing records, optimistic-lock conflicts

NOT ERRORS:
  - A category with no rule table scores zero (logged, not failed)
  - Ambiguous answer-key matches resolve deterministically (logged)

SEE ALSO:
  - recalculation.go: Produces RecalculationError
  - api/handlers.go: writeDomainError maps these errors to HTTP status codes
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfigConflict is returned when a proposal cannot become the single
	// active version, usually because another proposal won the race.
	// The caller should retry against the latest version.
	ErrConfigConflict = errors.New("configuration conflict")

	// ErrRecalculationFailed is returned when any write in a recalculation
	// batch fails. The whole batch, including activation, is rolled back.
	ErrRecalculationFailed = errors.New("recalculation failed")

	// ErrRecalculationTooLarge is returned when a batch exceeds the configured
	// limit. Nothing is written.
	ErrRecalculationTooLarge = errors.New("recalculation batch too large")

	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidStatus        = errors.New("invalid status")

	ErrNotFound              = errors.New("not found")
	ErrActivityNotFound      = fmt.Errorf("activity %w", ErrNotFound)
	ErrParticipantNotFound   = fmt.Errorf("participant %w", ErrNotFound)
	ErrConfigurationNotFound = fmt.Errorf("configuration %w", ErrNotFound)

	// ErrConcurrentModification is returned when an optimistic check on an
	// activity's stored points fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrDuplicateID = errors.New("duplicate id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RecalculationError reports how far a failed batch got before it was aborted.
// Processed counts activities whose writes succeeded before the failure; all of
// them were rolled back.
type RecalculationError struct {
	ConfigType ConfigType
	Processed  int
	Total      int
	Err        error
}

func (e *RecalculationError) Error() string {
	return fmt.Sprintf("recalculation of %s aborted after %d of %d activities: %v",
		e.ConfigType, e.Processed, e.Total, e.Err)
}

func (e *RecalculationError) Unwrap() []error {
	return []error{ErrRecalculationFailed, e.Err}
}

// BatchTooLargeError carries the size that tripped the limit.
type BatchTooLargeError struct {
	Size  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("recalculation batch too large: %d activities (limit %d)", e.Size, e.Limit)
}

func (e *BatchTooLargeError) Unwrap() error { return ErrRecalculationTooLarge }

// VersionConflictError is returned when a proposal was based on a stale version.
type VersionConflictError struct {
	ConfigType    ConfigType
	BaseVersion   int
	ActiveVersion int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("configuration conflict: %s proposal based on version %d, active version is %d",
		e.ConfigType, e.BaseVersion, e.ActiveVersion)
}

func (e *VersionConflictError) Unwrap() error { return ErrConfigConflict }

// ValidationError describes a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConfigConflict) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrDuplicateID)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
