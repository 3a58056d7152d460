/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos of configuration changes, impact analysis and repair.
	Each scenario activates the preset rule tables, registers participants
	and approves a set of activities through the engine, so totals and the
	point ledger are consistent from the start.

AVAILABLE SCENARIOS:

	hackathon-season:  Competitions and hackathons across three participants
	fuzzy-answers:     Category-specific answers matched by fuzzy field lookup
	drifted-totals:    A lost update leaves one total out of sync (for repair)

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Activate preset categoryRules and positionPoints via factory
 3. Register participants
 4. Submit activities and approve them (awards points)
 5. Optionally corrupt state to demonstrate repair endpoints

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "hackathon-season"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Engine-backed handlers
  - factory/presets.go: Default rule tables
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/points-engine/factory"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "hackathon-season",
		Name:        "Hackathon Season",
		Description: "Approved competitions and hackathons; try raising Hackathon Outcome.First",
	},
	{
		ID:          "fuzzy-answers",
		Name:        "Fuzzy Answers",
		Description: "Competitive programming and certification answers resolved by fuzzy key match",
	},
	{
		ID:          "drifted-totals",
		Name:        "Drifted Totals",
		Description: "One participant total is out of sync; verify and rebuild via admin consistency",
	},
}

type scenarioActivity struct {
	activity points.Activity
	status   points.Status
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	var loader func(ctx context.Context, actor string) error
	switch req.ScenarioID {
	case "hackathon-season":
		loader = h.loadHackathonSeasonScenario
	case "fuzzy-answers":
		loader = h.loadFuzzyAnswersScenario
	case "drifted-totals":
		loader = h.loadDriftedTotalsScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := loader(ctx, actorFrom(ctx)); err != nil {
		h.log.Error("scenario load failed", "scenario", req.ScenarioID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.log.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadHackathonSeasonScenario(ctx context.Context, actor string) error {
	return h.seed(ctx, actor,
		[]points.Participant{
			{ID: "p-ada", Name: "Ada"},
			{ID: "p-grace", Name: "Grace"},
			{ID: "p-linus", Name: "Linus"},
		},
		[]scenarioActivity{
			{points.Activity{ID: "act-001", ParticipantID: "p-ada", Category: "Hackathon", Title: "Global Hack Week",
				Scope: "International", Position: "First"}, points.StatusApproved},
			{points.Activity{ID: "act-002", ParticipantID: "p-grace", Category: "Hackathon", Title: "City Hack",
				Scope: "National", Position: "Participant"}, points.StatusApproved},
			{points.Activity{ID: "act-003", ParticipantID: "p-grace", Category: "Competition", Title: "Robotics Cup",
				Scope: "Regional", Position: "Second"}, points.StatusApproved},
			{points.Activity{ID: "act-004", ParticipantID: "p-linus", Category: "Competition", Title: "Math Olympiad",
				Scope: "National", Position: "Finalist"}, points.StatusApproved},
			{points.Activity{ID: "act-005", ParticipantID: "p-linus", Category: "Hackathon", Title: "Campus Hack",
				Scope: "National", Position: "First"}, points.StatusPending},
		})
}

func (h *Handler) loadFuzzyAnswersScenario(ctx context.Context, actor string) error {
	return h.seed(ctx, actor,
		[]points.Participant{
			{ID: "p-ken", Name: "Ken"},
			{ID: "p-barbara", Name: "Barbara"},
		},
		[]scenarioActivity{
			{points.Activity{ID: "act-101", ParticipantID: "p-ken", Category: "Competitive Programming",
				Title: "Div. 2 Round", Answers: map[string]any{"coding_platform": "CodeForces", "rating": 1820}}, points.StatusApproved},
			{points.Activity{ID: "act-102", ParticipantID: "p-barbara", Category: "Competitive Programming",
				Title: "Weekly Contest", Answers: map[string]any{"Contest Platform": "LeetCode"}}, points.StatusApproved},
			{points.Activity{ID: "act-103", ParticipantID: "p-barbara", Category: "Certification",
				Title: "Solutions Architect", Organizer: "AWS",
				Answers: map[string]any{"course_duration": "Long"}}, points.StatusApproved},
			{points.Activity{ID: "act-104", ParticipantID: "p-ken", Category: "Publication",
				Title: "Type Systems Survey", Answers: map[string]any{"publisher_type": "Journal", "indexed_by": "Scopus"}}, points.StatusApproved},
		})
}

func (h *Handler) loadDriftedTotalsScenario(ctx context.Context, actor string) error {
	if err := h.loadHackathonSeasonScenario(ctx, actor); err != nil {
		return err
	}
	// Simulate a lost update: the total moves without an activity or ledger entry.
	return h.Store.AdjustParticipantTotal(ctx, "p-grace", 15)
}

// seed activates the preset rule tables, registers participants and submits
// activities, approving those marked Approved.
func (h *Handler) seed(ctx context.Context, actor string, participants []points.Participant, activities []scenarioActivity) error {
	if actor == "" {
		actor = "scenario-loader"
	}

	for _, t := range points.ConfigTypes {
		payload, err := factory.DefaultPayload(t)
		if err != nil {
			return err
		}
		_, err = h.Engine.Coordinator.Activate(ctx, points.ActivateInput{
			Type:      t,
			Payload:   payload,
			UpdatedBy: actor,
			Notes:     "preset",
		})
		if err != nil {
			return fmt.Errorf("activate preset %s: %w", t, err)
		}
	}

	for _, p := range participants {
		if _, err := h.Engine.Reviews.RegisterParticipant(ctx, p); err != nil {
			return fmt.Errorf("register %s: %w", p.ID, err)
		}
	}

	for _, sa := range activities {
		if _, err := h.Engine.Reviews.Submit(ctx, sa.activity); err != nil {
			return fmt.Errorf("submit %s: %w", sa.activity.ID, err)
		}
		if sa.status == points.StatusPending {
			continue
		}
		if _, err := h.Engine.Reviews.Review(ctx, sa.activity.ID, sa.status, actor, "scenario"); err != nil {
			return fmt.Errorf("review %s: %w", sa.activity.ID, err)
		}
	}
	return nil
}
