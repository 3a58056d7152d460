package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/points"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"version collision", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "configurations_type_version_key"}, points.ErrConfigConflict},
		{"second active row", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "idx_configurations_one_active"}, points.ErrConfigConflict},
		{"idempotency key", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "point_entries_idempotency_key_key"}, points.ErrDuplicateIdempotencyKey},
		{"primary key", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "activities_pkey"}, points.ErrDuplicateID},
		{"serialization", &pgconn.PgError{Code: pgSerializationFailure}, points.ErrConcurrentModification},
		{"wrapped", fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgSerializationFailure}), points.ErrConcurrentModification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err, "write"), tt.want)
		})
	}

	assert.True(t, points.IsRetryable(mapError(&pgconn.PgError{Code: pgSerializationFailure}, "commit")))

	other := mapError(errors.New("connection reset"), "failed to insert activity")
	assert.EqualError(t, other, "failed to insert activity: connection reset")
}

func TestListActivitiesQuery(t *testing.T) {
	c := newConn(nil)

	query, args, err := c.sb.Select("id").
		From("activities").
		Where(activityFilter(points.ActivityFilter{
			Status:     points.StatusApproved,
			Categories: []string{"Hackathon", "Publication"},
		})).
		ToSql()

	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM activities WHERE (status = $1 AND category IN ($2,$3))", query)
	assert.Equal(t, []any{"Approved", "Hackathon", "Publication"}, args)
}

// =============================================================================
// INTEGRATION (requires POINTS_TEST_POSTGRES_URL)
// =============================================================================

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("POINTS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("POINTS_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(s.Close)
	return s
}

func TestIntegration_ActivationRecalculates(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	e := points.New(s)

	rules := func(first int) points.Payload {
		return points.Payload{Categories: points.CategoryRules{
			"Hackathon": {
				"Level":   {"International": 50},
				"Outcome": {"First": first},
			},
		}}
	}

	_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type: points.ConfigCategoryRules, Payload: rules(40), UpdatedBy: "admin",
	})
	require.NoError(t, err)

	_, err = e.Reviews.RegisterParticipant(ctx, points.Participant{ID: "p-1", Name: "Ada"})
	require.NoError(t, err)
	_, err = e.Reviews.Submit(ctx, points.Activity{
		ID: "act-1", ParticipantID: "p-1", Category: "Hackathon",
		Scope: "International", Position: "First",
		Answers: map[string]any{"team_size": 3},
	})
	require.NoError(t, err)
	_, err = e.Reviews.Review(ctx, "act-1", points.StatusApproved, "rev", "")
	require.NoError(t, err)

	result, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type: points.ConfigCategoryRules, Payload: rules(60), UpdatedBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, 20, result.PointsDelta)

	p, err := s.GetParticipant(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 110, p.TotalPoints)

	n, err := s.CountActive(ctx, points.ConfigCategoryRules)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	drifts, err := e.Consistency.VerifyTotals(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestIntegration_OptimisticUpdate(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveParticipant(ctx, points.Participant{ID: "p-1", Name: "Ada", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.SaveActivity(ctx, points.Activity{
		ID: "act-1", ParticipantID: "p-1", Category: "Hackathon",
		Status: points.StatusApproved, PointsEarned: 90, SubmittedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, s.UpdateActivityPoints(ctx, "act-1", 90, 110))
	assert.ErrorIs(t, s.UpdateActivityPoints(ctx, "act-1", 90, 120), points.ErrConcurrentModification)
	assert.ErrorIs(t, s.UpdateActivityPoints(ctx, "missing", 0, 1), points.ErrActivityNotFound)
}
