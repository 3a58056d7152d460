/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Configuration:
    ConfigurationDTO, UpdateConfigurationRequest, ActivationResponse

  Impact analysis:
    ImpactAnalysisRequest, ImpactReportDTO, ParticipantImpactDTO

  Activities and participants:
    ActivityDTO, SubmitActivityRequest, ReviewRequest
    ParticipantDTO, CreateParticipantRequest, PointEntryDTO

  Admin:
    DriftDTO, ConsistencyResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator/v10 struct tags; handlers call
  decodeAndValidate before touching the engine. Rule tables inside requests
  are validated separately by factory.ParseRules.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: Rule table JSON
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// ConfigurationDTO represents a configuration version in API responses.
type ConfigurationDTO struct {
	ID            string          `json:"id"`
	ConfigType    string          `json:"configType"`
	Version       int             `json:"version"`
	IsActive      bool            `json:"isActive"`
	Configuration json.RawMessage `json:"configuration"`
	EffectiveDate string          `json:"effectiveDate"`
	UpdatedBy     string          `json:"updatedBy"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     string          `json:"createdAt"`
}

// UpdateConfigurationRequest is the body of PUT /api/configuration/{configType}.
type UpdateConfigurationRequest struct {
	Configuration json.RawMessage `json:"configuration" validate:"required"`
	Notes         string          `json:"notes" validate:"max=1000"`
	BaseVersion   *int            `json:"base_version" validate:"omitempty,min=0"`
	EffectiveDate *time.Time      `json:"effective_date"`
}

// ActivationResponse reports a committed activation or repair.
type ActivationResponse struct {
	Configuration        ConfigurationDTO `json:"configuration"`
	EventsUpdated        int              `json:"eventsUpdated"`
	PointsDelta          int              `json:"pointsDelta"`
	ParticipantsAffected int              `json:"participantsAffected"`
	Changes              []points.Change  `json:"changes"`
}

// =============================================================================
// IMPACT ANALYSIS
// =============================================================================

// ImpactAnalysisRequest is the body of POST /api/configuration/impact-analysis.
type ImpactAnalysisRequest struct {
	ConfigType    string          `json:"configType" validate:"required,oneof=positionPoints categoryRules"`
	Configuration json.RawMessage `json:"configuration" validate:"required"`
}

// ParticipantImpactDTO is one row of the top-participants table.
type ParticipantImpactDTO struct {
	ParticipantID  string `json:"participantId"`
	Name           string `json:"name"`
	CurrentTotal   int    `json:"currentTotal"`
	ProjectedTotal int    `json:"projectedTotal"`
	Delta          int    `json:"delta"`
}

// ImpactReportDTO is the read-only preview of a proposed configuration.
type ImpactReportDTO struct {
	ConfigType             string                 `json:"configType"`
	ActivitiesConsidered   int                    `json:"activitiesConsidered"`
	ActivitiesChanged      int                    `json:"activitiesChanged"`
	ParticipantsAffected   int                    `json:"participantsAffected"`
	ParticipantsGaining    int                    `json:"participantsGaining"`
	ParticipantsLosing     int                    `json:"participantsLosing"`
	TotalDelta             int                    `json:"totalDelta"`
	AverageDelta           string                 `json:"averageDelta"`
	FieldDeltas            map[string]int         `json:"fieldDeltas"`
	TopParticipants        []ParticipantImpactDTO `json:"topParticipants"`
	UnreconciledActivities []string               `json:"unreconciledActivities"`
	Changes                []points.Change        `json:"changes"`
}

// =============================================================================
// ACTIVITIES AND PARTICIPANTS
// =============================================================================

// ActivityDTO represents an activity in API responses.
type ActivityDTO struct {
	ID                string         `json:"id"`
	ParticipantID     string         `json:"participantId"`
	Category          string         `json:"category"`
	Title             string         `json:"title,omitempty"`
	Position          string         `json:"position,omitempty"`
	Scope             string         `json:"scope,omitempty"`
	Organizer         string         `json:"organizer,omitempty"`
	Platform          string         `json:"platform,omitempty"`
	ParticipationType string         `json:"participationType,omitempty"`
	Answers           map[string]any `json:"answers,omitempty"`
	Status            string         `json:"status"`
	PointsEarned      int            `json:"pointsEarned"`
	ReviewedBy        string         `json:"reviewedBy,omitempty"`
	ReviewedAt        string         `json:"reviewedAt,omitempty"`
	ReviewNote        string         `json:"reviewNote,omitempty"`
	SubmittedAt       string         `json:"submittedAt"`
	UpdatedAt         string         `json:"updatedAt"`
}

// SubmitActivityRequest is the body of POST /api/activities.
type SubmitActivityRequest struct {
	ID                string         `json:"id" validate:"omitempty,max=64"`
	ParticipantID     string         `json:"participantId" validate:"required"`
	Category          string         `json:"category" validate:"required,max=100"`
	Title             string         `json:"title" validate:"max=200"`
	Position          string         `json:"position"`
	Scope             string         `json:"scope"`
	Organizer         string         `json:"organizer"`
	Platform          string         `json:"platform"`
	ParticipationType string         `json:"participationType"`
	Answers           map[string]any `json:"answers"`
}

// ReviewRequest is the body of PATCH /api/activity/{id}/review.
type ReviewRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=1000"`
}

// ParticipantDTO represents a participant in API responses.
type ParticipantDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	TotalPoints int             `json:"totalPoints"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	Entries     []PointEntryDTO `json:"entries,omitempty"`
}

// CreateParticipantRequest is the body of POST /api/participants.
type CreateParticipantRequest struct {
	ID   string `json:"id" validate:"omitempty,max=64"`
	Name string `json:"name" validate:"required,max=200"`
}

// PointEntryDTO is one row of a participant's point history.
type PointEntryDTO struct {
	ID              string `json:"id"`
	ActivityID      string `json:"activityId,omitempty"`
	Delta           int    `json:"delta"`
	Type            string `json:"type"`
	ConfigurationID string `json:"configurationId,omitempty"`
	Reason          string `json:"reason,omitempty"`
	CreatedBy       string `json:"createdBy,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

// =============================================================================
// ADMIN
// =============================================================================

// DriftDTO reports one participant whose total disagrees with its sources.
type DriftDTO struct {
	ParticipantID string `json:"participantId"`
	StoredTotal   int    `json:"storedTotal"`
	ApprovedSum   int    `json:"approvedSum"`
	LedgerSum     int    `json:"ledgerSum"`
	Difference    int    `json:"difference"`
}

// ConsistencyResponse is returned by the consistency endpoints.
type ConsistencyResponse struct {
	Consistent bool       `json:"consistent"`
	Drifts     []DriftDTO `json:"drifts"`
	Rebuilt    bool       `json:"rebuilt,omitempty"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Processed *int   `json:"processed,omitempty"`
	Changed   *bool  `json:"changed,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toActivityDTO(a points.Activity) ActivityDTO {
	dto := ActivityDTO{
		ID:                a.ID,
		ParticipantID:     a.ParticipantID,
		Category:          a.Category,
		Title:             a.Title,
		Position:          a.Position,
		Scope:             a.Scope,
		Organizer:         a.Organizer,
		Platform:          a.Platform,
		ParticipationType: a.ParticipationType,
		Answers:           a.Answers,
		Status:            string(a.Status),
		PointsEarned:      a.PointsEarned,
		ReviewedBy:        a.ReviewedBy,
		ReviewNote:        a.ReviewNote,
		SubmittedAt:       a.SubmittedAt.Format(time.RFC3339),
		UpdatedAt:         a.UpdatedAt.Format(time.RFC3339),
	}
	if a.ReviewedAt != nil {
		dto.ReviewedAt = a.ReviewedAt.Format(time.RFC3339)
	}
	return dto
}

func toParticipantDTO(p points.Participant) ParticipantDTO {
	return ParticipantDTO{
		ID:          p.ID,
		Name:        p.Name,
		TotalPoints: p.TotalPoints,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

func toPointEntryDTO(e points.PointEntry) PointEntryDTO {
	return PointEntryDTO{
		ID:              e.ID,
		ActivityID:      e.ActivityID,
		Delta:           e.Delta,
		Type:            string(e.Type),
		ConfigurationID: e.ConfigurationID,
		Reason:          e.Reason,
		CreatedBy:       e.CreatedBy,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
}

func toDriftDTOs(drifts []points.Drift) []DriftDTO {
	out := make([]DriftDTO, len(drifts))
	for i, d := range drifts {
		out[i] = DriftDTO{
			ParticipantID: d.ParticipantID,
			StoredTotal:   d.StoredTotal,
			ApprovedSum:   d.ApprovedSum,
			LedgerSum:     d.LedgerSum,
			Difference:    d.Difference(),
		}
	}
	return out
}

func toImpactReportDTO(r *points.ImpactReport) ImpactReportDTO {
	top := make([]ParticipantImpactDTO, len(r.TopParticipants))
	for i, p := range r.TopParticipants {
		top[i] = ParticipantImpactDTO{
			ParticipantID:  p.ParticipantID,
			Name:           p.Name,
			CurrentTotal:   p.CurrentTotal,
			ProjectedTotal: p.ProjectedTotal,
			Delta:          p.Delta,
		}
	}
	return ImpactReportDTO{
		ConfigType:             string(r.ConfigType),
		ActivitiesConsidered:   r.ActivitiesConsidered,
		ActivitiesChanged:      r.ActivitiesChanged,
		ParticipantsAffected:   r.ParticipantsAffected,
		ParticipantsGaining:    r.ParticipantsGaining,
		ParticipantsLosing:     r.ParticipantsLosing,
		TotalDelta:             r.TotalDelta,
		AverageDelta:           r.AverageDelta.StringFixed(2),
		FieldDeltas:            r.FieldDeltas,
		TopParticipants:        top,
		UnreconciledActivities: r.UnreconciledActivities,
		Changes:                r.Changes,
	}
}
