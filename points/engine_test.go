package points_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/points/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var errInjected = errors.New("injected write failure")

// failingStore fails UpdateActivityPoints after failAfter successful calls
// inside a transaction.
type failingStore struct {
	*store.TxMemory
	failAfter int
}

func (f *failingStore) WithTx(ctx context.Context, fn func(points.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s points.Store) error {
		return fn(&failingView{Store: s, remaining: f.failAfter})
	})
}

type failingView struct {
	points.Store
	remaining int
}

func (v *failingView) UpdateActivityPoints(ctx context.Context, id string, oldPoints, newPoints int) error {
	if v.remaining == 0 {
		return errInjected
	}
	v.remaining--
	return v.Store.UpdateActivityPoints(ctx, id, oldPoints, newPoints)
}

func fixedClock() time.Time {
	return time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, s points.TxStore, opts ...points.Option) *points.Engine {
	t.Helper()
	opts = append([]points.Option{points.WithClock(fixedClock)}, opts...)
	return points.New(s, opts...)
}

// seed activates the Hackathon rules and approves three activities:
//
//	act-1  p-1  Hackathon International/First        90
//	act-2  p-2  Hackathon National/Participant        35
//	act-3  p-2  Seminar (no rules)                    0
func seed(t *testing.T, e *points.Engine) {
	t.Helper()
	ctx := context.Background()

	_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigCategoryRules,
		Payload:   points.Payload{Categories: hackathonRules(40)},
		UpdatedBy: "admin",
	})
	require.NoError(t, err)

	for _, id := range []string{"p-1", "p-2"} {
		_, err := e.Reviews.RegisterParticipant(ctx, points.Participant{ID: id, Name: "Participant " + id})
		require.NoError(t, err)
	}

	activities := []points.Activity{
		{ID: "act-1", ParticipantID: "p-1", Category: "Hackathon", Scope: "International", Position: "First"},
		{ID: "act-2", ParticipantID: "p-2", Category: "Hackathon", Scope: "National", Position: "Participant"},
		{ID: "act-3", ParticipantID: "p-2", Category: "Seminar", Position: "First"},
	}
	for _, a := range activities {
		_, err := e.Reviews.Submit(ctx, a)
		require.NoError(t, err)
		_, err = e.Reviews.Review(ctx, a.ID, points.StatusApproved, "reviewer", "")
		require.NoError(t, err)
	}
}

func total(t *testing.T, s points.Store, id string) int {
	t.Helper()
	p, err := s.GetParticipant(context.Background(), id)
	require.NoError(t, err)
	return p.TotalPoints
}

func activityPoints(t *testing.T, s points.Store, id string) int {
	t.Helper()
	a, err := s.GetActivity(context.Background(), id)
	require.NoError(t, err)
	return a.PointsEarned
}

// assertSumInvariant checks TotalPoints == sum of approved points == ledger
// for every participant.
func assertSumInvariant(t *testing.T, e *points.Engine) {
	t.Helper()
	drifts, err := e.Consistency.VerifyTotals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts, "totals drifted from approved points")
}

// =============================================================================
// ACTIVATION AND RECALCULATION
// =============================================================================

func TestActivate_HackathonScenario(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	// GIVEN: act-1 is worth 90 and p-1 holds 90
	require.Equal(t, 90, activityPoints(t, s, "act-1"))
	require.Equal(t, 90, total(t, s, "p-1"))
	require.Equal(t, 35, total(t, s, "p-2"))

	// WHEN: Outcome.First moves from 40 to 60
	result, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigCategoryRules,
		Payload:   points.Payload{Categories: hackathonRules(60)},
		UpdatedBy: "admin",
		Notes:     "raise first place",
	})
	require.NoError(t, err)

	// THEN: only act-1 and p-1 move, by +20
	assert.Equal(t, 110, activityPoints(t, s, "act-1"))
	assert.Equal(t, 110, total(t, s, "p-1"))
	assert.Equal(t, 35, total(t, s, "p-2"), "other participant must not change")

	assert.Equal(t, 2, result.Configuration.Version)
	assert.Equal(t, 1, result.EventsUpdated)
	assert.Equal(t, 20, result.PointsDelta)
	assert.Equal(t, 1, result.ParticipantsAffected)
	assertSumInvariant(t, e)

	entries, err := s.PointEntries(ctx, "p-1")
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, points.EntryRecalculation, last.Type)
	assert.Equal(t, 20, last.Delta)
	assert.Equal(t, points.RecalculationKey(result.Configuration.ID, "act-1"), last.IdempotencyKey)
}

func TestActivate_SingleActiveVersion(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)

	for first := 40; first <= 60; first += 10 {
		_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
			Type:      points.ConfigCategoryRules,
			Payload:   points.Payload{Categories: hackathonRules(first)},
			UpdatedBy: "admin",
		})
		require.NoError(t, err)

		n, err := e.Configs.CountActive(ctx, points.ConfigCategoryRules)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	history, err := e.Configs.History(ctx, points.ConfigCategoryRules)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{history[0].Version, history[1].Version, history[2].Version})
	assert.True(t, history[0].IsActive)
	assert.False(t, history[1].IsActive)
	assert.False(t, history[2].IsActive)

	active, err := e.Configs.GetActive(ctx, points.ConfigCategoryRules)
	require.NoError(t, err)
	assert.Equal(t, 60, active.Payload.Categories["Hackathon"]["Outcome"]["First"])

	// Lineages are independent
	none, err := e.Configs.GetActive(ctx, points.ConfigPositionPoints)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestActivate_StaleBaseVersionConflicts(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	stale := 0
	_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:        points.ConfigCategoryRules,
		Payload:     points.Payload{Categories: hackathonRules(60)},
		UpdatedBy:   "admin",
		BaseVersion: &stale,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, points.ErrConfigConflict)
	assert.True(t, points.IsRetryable(err))
	assert.Equal(t, 90, activityPoints(t, s, "act-1"))

	current := 1
	_, err = e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:        points.ConfigCategoryRules,
		Payload:     points.Payload{Categories: hackathonRules(60)},
		UpdatedBy:   "admin",
		BaseVersion: &current,
	})
	require.NoError(t, err)
}

func TestActivate_FailureMidBatchRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	e := newTestEngine(t, mem)
	seed(t, e)

	entriesBefore, err := mem.PointEntries(ctx, "p-1")
	require.NoError(t, err)

	// GIVEN: a store that fails the second activity update
	failing := &failingStore{TxMemory: mem, failAfter: 1}
	fe := newTestEngine(t, failing)

	// WHEN: a change touching both Hackathon activities is activated
	rules := hackathonRules(60)
	rules["Hackathon"]["Outcome"]["Participant"] = 15
	_, err = fe.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigCategoryRules,
		Payload:   points.Payload{Categories: rules},
		UpdatedBy: "admin",
	})

	// THEN: the error reports partial progress and nothing changed
	require.Error(t, err)
	assert.ErrorIs(t, err, points.ErrRecalculationFailed)
	assert.ErrorIs(t, err, errInjected)

	var recalcErr *points.RecalculationError
	require.ErrorAs(t, err, &recalcErr)
	assert.Equal(t, 1, recalcErr.Processed)
	assert.Equal(t, 2, recalcErr.Total)

	active, err := e.Configs.GetActive(ctx, points.ConfigCategoryRules)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version, "activation must roll back with the batch")
	n, err := e.Configs.CountActive(ctx, points.ConfigCategoryRules)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 90, activityPoints(t, mem, "act-1"))
	assert.Equal(t, 35, activityPoints(t, mem, "act-2"))
	assert.Equal(t, 90, total(t, mem, "p-1"))
	assert.Equal(t, 35, total(t, mem, "p-2"))

	entriesAfter, err := mem.PointEntries(ctx, "p-1")
	require.NoError(t, err)
	assert.Len(t, entriesAfter, len(entriesBefore))
	assertSumInvariant(t, e)
}

func TestActivate_BatchTooLarge(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	seed(t, newTestEngine(t, s))
	e := newTestEngine(t, s, points.WithMaxBatchSize(1))

	rules := hackathonRules(60)
	rules["Hackathon"]["Outcome"]["Participant"] = 15
	_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigCategoryRules,
		Payload:   points.Payload{Categories: rules},
		UpdatedBy: "admin",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, points.ErrRecalculationTooLarge)
	active, err := e.Configs.GetActive(ctx, points.ConfigCategoryRules)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)
	assert.Equal(t, 90, activityPoints(t, s, "act-1"))
}

func TestActivate_PositionPoints(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	result, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigPositionPoints,
		Payload:   points.Payload{Positions: points.PositionPoints{"First": 10, "Second": 5}},
		UpdatedBy: "admin",
	})
	require.NoError(t, err)

	// act-3 is First but its category has no rules
	assert.Equal(t, 1, result.EventsUpdated)
	assert.Equal(t, 100, activityPoints(t, s, "act-1"))
	assert.Equal(t, 0, activityPoints(t, s, "act-3"))
	assert.Equal(t, 100, total(t, s, "p-1"))
	assert.Equal(t, 35, total(t, s, "p-2"))
	assertSumInvariant(t, e)
}

func TestActivate_UnchangedCategoriesAreNotTouched(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	rules := hackathonRules(40)
	rules["Seminar"] = points.CategoryRule{"Organizer": {"IEEE": 8}}
	result, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigCategoryRules,
		Payload:   points.Payload{Categories: rules},
		UpdatedBy: "admin",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.EventsUpdated)
	assert.Equal(t, 2, result.Configuration.Version)
}

func TestActivate_InvalidPayload(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewTxMemory())

	_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigCategoryRules,
		Payload:   points.Payload{Positions: points.PositionPoints{"First": 1}},
		UpdatedBy: "admin",
	})

	assert.ErrorIs(t, err, points.ErrInvalidConfiguration)
	assert.True(t, points.IsClientError(err))
}

func TestRecalculate_RepairsLostUpdate(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	// GIVEN: act-1 and its owner both lost 20 points outside the engine
	require.NoError(t, s.UpdateActivityPoints(ctx, "act-1", 90, 70))
	require.NoError(t, s.AdjustParticipantTotal(ctx, "p-1", -20))
	require.NoError(t, s.AppendPointEntry(ctx, points.PointEntry{
		ID: "manual", ParticipantID: "p-1", Delta: -20, Type: points.EntryRecalculation, IdempotencyKey: "manual",
	}))

	// WHEN
	result, err := e.Coordinator.Recalculate(ctx, points.ConfigCategoryRules, "admin")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 1, result.EventsUpdated)
	assert.Equal(t, 90, activityPoints(t, s, "act-1"))
	assert.Equal(t, 90, total(t, s, "p-1"))
	assertSumInvariant(t, e)

	// Running it again finds nothing
	result, err = e.Coordinator.Recalculate(ctx, points.ConfigCategoryRules, "admin")
	require.NoError(t, err)
	assert.Equal(t, 0, result.EventsUpdated)
}

func TestRecalculate_WithoutActiveConfiguration(t *testing.T) {
	e := newTestEngine(t, store.NewTxMemory())

	_, err := e.Coordinator.Recalculate(context.Background(), points.ConfigPositionPoints, "admin")

	assert.True(t, points.IsNotFound(err))
}

// =============================================================================
// IMPACT SIMULATION
// =============================================================================

func TestSimulate_MatchesCommit(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	rules := hackathonRules(60)
	rules["Hackathon"]["Outcome"]["Participant"] = 2
	payload := points.Payload{Categories: rules}

	// WHEN: simulating, then committing the same payload
	report, err := e.Simulator.Simulate(ctx, points.ConfigCategoryRules, payload)
	require.NoError(t, err)

	active, err := e.Configs.GetActive(ctx, points.ConfigCategoryRules)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version, "simulation must not write")
	assert.Equal(t, 90, total(t, s, "p-1"))

	result, err := e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigCategoryRules,
		Payload:   payload,
		UpdatedBy: "admin",
	})
	require.NoError(t, err)

	// THEN: the preview is exactly what happened
	assert.Equal(t, report.Changes, result.Changes)
	assert.Equal(t, report.ActivitiesChanged, result.EventsUpdated)
	assert.Equal(t, report.TotalDelta, result.PointsDelta)
	assert.Equal(t, report.ParticipantsAffected, result.ParticipantsAffected)

	for _, impact := range report.TopParticipants {
		assert.Equal(t, impact.ProjectedTotal, total(t, s, impact.ParticipantID))
	}
}

func TestSimulate_Report(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	rules := hackathonRules(60)
	rules["Hackathon"]["Outcome"]["Participant"] = 2

	report, err := e.Simulator.Simulate(ctx, points.ConfigCategoryRules, points.Payload{Categories: rules})
	require.NoError(t, err)

	assert.Equal(t, 2, report.ActivitiesConsidered)
	assert.Equal(t, 2, report.ActivitiesChanged)
	assert.Equal(t, 2, report.ParticipantsAffected)
	assert.Equal(t, 1, report.ParticipantsGaining)
	assert.Equal(t, 1, report.ParticipantsLosing)
	assert.Equal(t, 17, report.TotalDelta)
	assert.Equal(t, map[string]int{"Outcome": 17}, report.FieldDeltas)
	assert.Equal(t, "8.50", report.AverageDelta.StringFixed(2))
	assert.Empty(t, report.UnreconciledActivities)

	require.Len(t, report.TopParticipants, 2)
	assert.Equal(t, "p-1", report.TopParticipants[0].ParticipantID)
	assert.Equal(t, 20, report.TopParticipants[0].Delta)
	assert.Equal(t, "p-2", report.TopParticipants[1].ParticipantID)
	assert.Equal(t, -3, report.TopParticipants[1].Delta)
	assert.Equal(t, 32, report.TopParticipants[1].ProjectedTotal)
}

func TestSimulate_TopParticipantsLimit(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	seed(t, newTestEngine(t, s))
	e := newTestEngine(t, s, points.WithTopParticipants(1))

	rules := hackathonRules(60)
	rules["Hackathon"]["Outcome"]["Participant"] = 2

	report, err := e.Simulator.Simulate(ctx, points.ConfigCategoryRules, points.Payload{Categories: rules})
	require.NoError(t, err)

	assert.Equal(t, 2, report.ParticipantsAffected)
	require.Len(t, report.TopParticipants, 1)
	assert.Equal(t, "p-1", report.TopParticipants[0].ParticipantID)
}

func TestSimulate_ReportsUnreconciledActivities(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	require.NoError(t, s.UpdateActivityPoints(ctx, "act-2", 35, 30))

	report, err := e.Simulator.Simulate(ctx, points.ConfigCategoryRules, points.Payload{Categories: hackathonRules(60)})
	require.NoError(t, err)

	assert.Equal(t, []string{"act-2"}, report.UnreconciledActivities)
}

func TestSimulate_NoChange(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	report, err := e.Simulator.Simulate(ctx, points.ConfigCategoryRules, points.Payload{Categories: hackathonRules(40)})
	require.NoError(t, err)

	assert.Equal(t, 0, report.ActivitiesChanged)
	assert.Empty(t, report.TopParticipants)
	assert.True(t, report.AverageDelta.IsZero())
}

// txOnlyStore rejects reads made outside WithTx.
type txOnlyStore struct {
	*store.TxMemory
}

var errOutsideTx = errors.New("read outside transaction")

func (txOnlyStore) ActiveConfiguration(context.Context, points.ConfigType) (*points.Configuration, error) {
	return nil, errOutsideTx
}

func (txOnlyStore) ListActivities(context.Context, points.ActivityFilter) ([]points.Activity, error) {
	return nil, errOutsideTx
}

func (txOnlyStore) GetParticipant(context.Context, string) (points.Participant, error) {
	return points.Participant{}, errOutsideTx
}

func TestSimulate_ReadsOneSnapshot(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	seed(t, newTestEngine(t, s))

	// GIVEN: a store that only serves reads inside a transaction
	e := newTestEngine(t, txOnlyStore{TxMemory: s})

	// WHEN
	report, err := e.Simulator.Simulate(ctx, points.ConfigCategoryRules, points.Payload{Categories: hackathonRules(60)})

	// THEN: every read went through the transaction view
	require.NoError(t, err)
	assert.Equal(t, 20, report.TotalDelta)
	require.Len(t, report.TopParticipants, 1)
	assert.Equal(t, 110, report.TopParticipants[0].ProjectedTotal)
}

// =============================================================================
// REVIEW
// =============================================================================

func TestReview_ApproveThenReject(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	// WHEN: an approved activity is rejected
	a, err := e.Reviews.Review(ctx, "act-1", points.StatusRejected, "reviewer", "duplicate")
	require.NoError(t, err)

	// THEN: points are reversed
	assert.Equal(t, points.StatusRejected, a.Status)
	assert.Equal(t, 0, a.PointsEarned)
	assert.Equal(t, "duplicate", a.ReviewNote)
	assert.Equal(t, 0, total(t, s, "p-1"))

	entries, err := s.PointEntries(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, points.EntryAward, entries[0].Type)
	assert.Equal(t, 90, entries[0].Delta)
	assert.Equal(t, points.EntryReversal, entries[1].Type)
	assert.Equal(t, -90, entries[1].Delta)

	// AND: approving again uses the active rules
	_, err = e.Coordinator.Activate(ctx, points.ActivateInput{
		Type:      points.ConfigCategoryRules,
		Payload:   points.Payload{Categories: hackathonRules(60)},
		UpdatedBy: "admin",
	})
	require.NoError(t, err)
	a, err = e.Reviews.Review(ctx, "act-1", points.StatusApproved, "reviewer", "")
	require.NoError(t, err)
	assert.Equal(t, 110, a.PointsEarned)
	assert.Equal(t, 110, total(t, s, "p-1"))
	assertSumInvariant(t, e)
}

func TestReview_SameStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	_, err := e.Reviews.Review(ctx, "act-1", points.StatusApproved, "reviewer", "again")
	require.NoError(t, err)

	assert.Equal(t, 90, total(t, s, "p-1"))
	entries, err := s.PointEntries(ctx, "p-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReview_InvalidStatus(t *testing.T) {
	e := newTestEngine(t, store.NewTxMemory())

	_, err := e.Reviews.Review(context.Background(), "act-1", points.Status("Archived"), "reviewer", "")

	assert.ErrorIs(t, err, points.ErrInvalidStatus)
}

func TestReview_UnknownActivity(t *testing.T) {
	e := newTestEngine(t, store.NewTxMemory())

	_, err := e.Reviews.Review(context.Background(), "missing", points.StatusApproved, "reviewer", "")

	assert.ErrorIs(t, err, points.ErrActivityNotFound)
}

func TestSubmit_RequiresParticipant(t *testing.T) {
	e := newTestEngine(t, store.NewTxMemory())

	_, err := e.Reviews.Submit(context.Background(), points.Activity{ParticipantID: "ghost", Category: "Hackathon"})

	assert.ErrorIs(t, err, points.ErrParticipantNotFound)
}

func TestSubmit_StartsPendingWithZeroPoints(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewTxMemory())
	_, err := e.Reviews.RegisterParticipant(ctx, points.Participant{ID: "p-1", Name: "Ada"})
	require.NoError(t, err)

	a, err := e.Reviews.Submit(ctx, points.Activity{
		ParticipantID: "p-1",
		Category:      "Hackathon",
		Status:        points.StatusApproved,
		PointsEarned:  500,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, points.StatusPending, a.Status)
	assert.Equal(t, 0, a.PointsEarned)
	assert.Equal(t, fixedClock(), a.SubmittedAt)
}

// =============================================================================
// CONSISTENCY
// =============================================================================

func TestConsistency_DetectsAndRebuildsDrift(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	// GIVEN: p-2's total was bumped without a matching activity
	require.NoError(t, s.AdjustParticipantTotal(ctx, "p-2", 7))

	drifts, err := e.Consistency.VerifyTotals(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, "p-2", drifts[0].ParticipantID)
	assert.Equal(t, 42, drifts[0].StoredTotal)
	assert.Equal(t, 35, drifts[0].ApprovedSum)
	assert.Equal(t, -7, drifts[0].Difference())

	// WHEN
	fixed, err := e.Consistency.RebuildTotals(ctx, "admin")
	require.NoError(t, err)

	// THEN
	assert.Len(t, fixed, 1)
	assert.Equal(t, 35, total(t, s, "p-2"))
	assertSumInvariant(t, e)
}

func TestConsistency_RebuildBalancesLedger(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	// GIVEN: an activity's points changed without moving the total
	require.NoError(t, s.UpdateActivityPoints(ctx, "act-1", 90, 95))

	_, err := e.Consistency.RebuildTotals(ctx, "admin")
	require.NoError(t, err)

	assert.Equal(t, 95, total(t, s, "p-1"))
	entries, err := s.PointEntries(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 95, points.LedgerBalance(entries))
	assert.Equal(t, points.EntryRebuild, entries[len(entries)-1].Type)
	assertSumInvariant(t, e)
}

// =============================================================================
// SUM INVARIANT ACROSS A SEQUENCE
// =============================================================================

func TestSumInvariant_HoldsAcrossOperations(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	e := newTestEngine(t, s)
	seed(t, e)

	steps := []func() error{
		func() error {
			_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
				Type: points.ConfigPositionPoints, UpdatedBy: "admin",
				Payload: points.Payload{Positions: points.PositionPoints{"First": 10, "Participant": 1}},
			})
			return err
		},
		func() error {
			_, err := e.Reviews.Review(ctx, "act-2", points.StatusRejected, "reviewer", "")
			return err
		},
		func() error {
			_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
				Type: points.ConfigCategoryRules, UpdatedBy: "admin",
				Payload: points.Payload{Categories: points.CategoryRules{}},
			})
			return err
		},
		func() error {
			_, err := e.Reviews.Review(ctx, "act-2", points.StatusApproved, "reviewer", "")
			return err
		},
		func() error {
			_, err := e.Coordinator.Activate(ctx, points.ActivateInput{
				Type: points.ConfigCategoryRules, UpdatedBy: "admin",
				Payload: points.Payload{Categories: hackathonRules(25)},
			})
			return err
		},
	}

	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		assertSumInvariant(t, e)
	}

	// Final: act-1 = 50+25+10, act-2 = 30+5+1
	assert.Equal(t, 85, total(t, s, "p-1"))
	assert.Equal(t, 36, total(t, s, "p-2"))
}
