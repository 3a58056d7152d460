/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes configuration management, impact analysis, activity review and
  admin repair operations via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the points engine.

ENDPOINTS:
  Configuration:
    GET    /api/configuration/{configType}          Active configuration or {}
    PUT    /api/configuration/{configType}          Activate a new version (recalculates)
    GET    /api/configuration/{configType}/history  All versions, newest first
    POST   /api/configuration/impact-analysis       Preview a proposed configuration

  Activities:
    POST   /api/activities                          Submit an activity (Pending)
    GET    /api/activities/{id}                     Get activity
    PATCH  /api/activity/{id}/review                Approve / reject / reset

  Participants:
    POST   /api/participants                        Register participant
    GET    /api/participants/{id}                   Participant with point history

  Admin:
    POST   /api/admin/recalculate/{configType}      Repair against the active version
    GET    /api/admin/consistency                   Verify totals
    POST   /api/admin/consistency/rebuild           Rebuild drifted totals

ACTOR IDENTITY:
  Authentication happens upstream. Mutating admin and review calls carry the
  authenticated actor in the X-Actor-ID header; requests without it get 401.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid rule tables, unknown status
  - 401: Missing X-Actor-ID
  - 404: Activity, participant or configuration not found
  - 409: Stale base_version, concurrent activation, duplicate id
  - 413: Recalculation larger than the configured batch limit
  - 500: Recalculation failure; body carries "processed" and "changed": false

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/points-engine/factory"
	"github.com/warp/points-engine/logger"
	"github.com/warp/points-engine/points"
)

// ActorHeader carries the authenticated actor id.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the engine's TxStore plus Reset
// for demo scenarios.
type Store interface {
	points.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       Store
	Engine      *points.Engine
	RuleFactory *factory.RuleFactory

	log      logger.Logger
	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over store and engine.
func NewHandler(store Store, engine *points.Engine, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		Store:       store,
		Engine:      engine,
		RuleFactory: factory.NewRuleFactory(),
		log:         log,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// ACTOR
// =============================================================================

type actorKey struct{}

// RequireActor rejects requests without X-Actor-ID and stores the actor in
// the request context.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+ActorHeader+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// GetConfiguration returns the active configuration, or {} if none exists.
func (h *Handler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	t, err := points.ParseConfigType(chi.URLParam(r, "configType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration type", err)
		return
	}

	cfg, err := h.Engine.Configs.GetActive(r.Context(), t)
	if err != nil {
		h.writeDomainError(w, "Failed to get configuration", err)
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	dto, err := h.toConfigurationDTO(*cfg)
	if err != nil {
		h.writeDomainError(w, "Failed to render configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// ConfigurationHistory returns every version of a configuration type.
func (h *Handler) ConfigurationHistory(w http.ResponseWriter, r *http.Request) {
	t, err := points.ParseConfigType(chi.URLParam(r, "configType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration type", err)
		return
	}

	history, err := h.Engine.Configs.History(r.Context(), t)
	if err != nil {
		h.writeDomainError(w, "Failed to list configuration history", err)
		return
	}

	dtos := make([]ConfigurationDTO, 0, len(history))
	for _, cfg := range history {
		dto, err := h.toConfigurationDTO(cfg)
		if err != nil {
			h.writeDomainError(w, "Failed to render configuration", err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateConfiguration activates a new version and recalculates affected
// approved activities in the same transaction.
func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	t, err := points.ParseConfigType(chi.URLParam(r, "configType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration type", err)
		return
	}

	var req UpdateConfigurationRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	payload, err := h.RuleFactory.ParseRules(t, req.Configuration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration", err)
		return
	}

	in := points.ActivateInput{
		Type:        t,
		Payload:     payload,
		UpdatedBy:   actorFrom(r.Context()),
		Notes:       req.Notes,
		BaseVersion: req.BaseVersion,
	}
	if req.EffectiveDate != nil {
		in.EffectiveDate = *req.EffectiveDate
	}

	result, err := h.Engine.Coordinator.Activate(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "Failed to activate configuration", err)
		return
	}

	resp, err := h.toActivationResponse(result)
	if err != nil {
		h.writeDomainError(w, "Failed to render configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ImpactAnalysis previews a proposed configuration without writing anything.
func (h *Handler) ImpactAnalysis(w http.ResponseWriter, r *http.Request) {
	var req ImpactAnalysisRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	t := points.ConfigType(req.ConfigType)
	payload, err := h.RuleFactory.ParseRules(t, req.Configuration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration", err)
		return
	}

	report, err := h.Engine.Simulator.Simulate(r.Context(), t, payload)
	if err != nil {
		h.writeDomainError(w, "Failed to analyze impact", err)
		return
	}
	writeJSON(w, http.StatusOK, toImpactReportDTO(report))
}

// =============================================================================
// ACTIVITY HANDLERS
// =============================================================================

// SubmitActivity stores a new Pending activity.
func (h *Handler) SubmitActivity(w http.ResponseWriter, r *http.Request) {
	var req SubmitActivityRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.Engine.Reviews.Submit(r.Context(), points.Activity{
		ID:                req.ID,
		ParticipantID:     req.ParticipantID,
		Category:          req.Category,
		Title:             req.Title,
		Position:          req.Position,
		Scope:             req.Scope,
		Organizer:         req.Organizer,
		Platform:          req.Platform,
		ParticipationType: req.ParticipationType,
		Answers:           req.Answers,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to submit activity", err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityDTO(*a))
}

// GetActivity returns a single activity.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.Reviews.Activity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get activity", err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityDTO(*a))
}

// ReviewActivity changes an activity's status and moves its owner's total.
func (h *Handler) ReviewActivity(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.Engine.Reviews.Review(r.Context(),
		chi.URLParam(r, "id"),
		points.Status(req.Status),
		actorFrom(r.Context()),
		req.Note,
	)
	if err != nil {
		h.writeDomainError(w, "Failed to review activity", err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityDTO(*a))
}

// =============================================================================
// PARTICIPANT HANDLERS
// =============================================================================

// CreateParticipant registers a participant with a zero total.
func (h *Handler) CreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req CreateParticipantRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.Engine.Reviews.RegisterParticipant(r.Context(), points.Participant{ID: req.ID, Name: req.Name})
	if err != nil {
		h.writeDomainError(w, "Failed to create participant", err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantDTO(*p))
}

// GetParticipant returns a participant with their point history.
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, entries, err := h.Engine.Reviews.Participant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get participant", err)
		return
	}

	dto := toParticipantDTO(*p)
	dto.Entries = make([]PointEntryDTO, len(entries))
	for i, e := range entries {
		dto.Entries[i] = toPointEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Recalculate reconciles approved activities with the active configuration.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	t, err := points.ParseConfigType(chi.URLParam(r, "configType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration type", err)
		return
	}

	result, err := h.Engine.Coordinator.Recalculate(r.Context(), t, actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, "Failed to recalculate", err)
		return
	}

	resp, err := h.toActivationResponse(result)
	if err != nil {
		h.writeDomainError(w, "Failed to render configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyConsistency reports participants whose totals have drifted.
func (h *Handler) VerifyConsistency(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Engine.Consistency.VerifyTotals(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to verify totals", err)
		return
	}
	writeJSON(w, http.StatusOK, ConsistencyResponse{
		Consistent: len(drifts) == 0,
		Drifts:     toDriftDTOs(drifts),
	})
}

// RebuildConsistency overwrites drifted totals from approved activities.
func (h *Handler) RebuildConsistency(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Engine.Consistency.RebuildTotals(r.Context(), actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, "Failed to rebuild totals", err)
		return
	}
	writeJSON(w, http.StatusOK, ConsistencyResponse{
		Consistent: true,
		Drifts:     toDriftDTOs(drifts),
		Rebuilt:    len(drifts) > 0,
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeAndValidate decodes the body into v and runs struct validation.
// It writes a 400 and returns false on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
			}
			err = errors.New(strings.Join(fields, "; "))
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var recalcErr *points.RecalculationError
	switch {
	case errors.Is(err, points.ErrRecalculationTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, message, err)
	case errors.As(err, &recalcErr):
		h.log.Error(message, "error", err, "processed", recalcErr.Processed)
		processed, changed := recalcErr.Processed, false
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:     message + "; no changes were applied",
			Details:   err.Error(),
			Processed: &processed,
			Changed:   &changed,
		})
	case errors.Is(err, points.ErrConfigConflict),
		errors.Is(err, points.ErrConcurrentModification),
		errors.Is(err, points.ErrDuplicateID),
		errors.Is(err, points.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, message, err)
	case points.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case points.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *Handler) toConfigurationDTO(cfg points.Configuration) (ConfigurationDTO, error) {
	raw, err := h.RuleFactory.ToJSON(cfg.Type, cfg.Payload)
	if err != nil {
		return ConfigurationDTO{}, err
	}
	return ConfigurationDTO{
		ID:            cfg.ID,
		ConfigType:    string(cfg.Type),
		Version:       cfg.Version,
		IsActive:      cfg.IsActive,
		Configuration: raw,
		EffectiveDate: cfg.EffectiveDate.Format(time.RFC3339),
		UpdatedBy:     cfg.UpdatedBy,
		Notes:         cfg.Notes,
		CreatedAt:     cfg.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (h *Handler) toActivationResponse(result *points.ActivationResult) (ActivationResponse, error) {
	cfg, err := h.toConfigurationDTO(*result.Configuration)
	if err != nil {
		return ActivationResponse{}, err
	}
	changes := result.Changes
	if changes == nil {
		changes = []points.Change{}
	}
	return ActivationResponse{
		Configuration:        cfg,
		EventsUpdated:        result.EventsUpdated,
		PointsDelta:          result.PointsDelta,
		ParticipantsAffected: result.ParticipantsAffected,
		Changes:              changes,
	}, nil
}
