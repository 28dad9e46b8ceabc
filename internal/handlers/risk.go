package handlers

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/vigil/internal/models"
	pkghttp "github.com/BradenHooton/vigil/pkg/http"
)

// RiskAssessor defines the interface for scoring an action
type RiskAssessor interface {
	Assess(ctx context.Context, principalID, action string, amount float64, meta models.RequestMeta) *models.RiskAssessment
}

// EventQuerier defines the interface for reading a principal's event trail
type EventQuerier interface {
	Query(ctx context.Context, principalID string, since time.Time, types ...models.EventType) iter.Seq[models.SecurityEvent]
}

// RiskHandler exposes the risk engine and the security event ledger
type RiskHandler struct {
	engine RiskAssessor
	events EventQuerier
}

func NewRiskHandler(engine RiskAssessor, events EventQuerier) *RiskHandler {
	return &RiskHandler{engine: engine, events: events}
}

// AssessRequest describes the action to score. The network context comes
// from the request body, not the connection: the caller is a backend
// relaying the end client's attributes.
type AssessRequest struct {
	PrincipalID       string           `json:"principal_id" validate:"required"`
	Action            string           `json:"action" validate:"required"`
	Amount            float64          `json:"amount,omitempty" validate:"gte=0"`
	IPAddress         string           `json:"ip_address" validate:"required,ip"`
	UserAgent         string           `json:"user_agent,omitempty"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty"`
	Location          *GeoPointRequest `json:"location,omitempty"`
	CorrelationID     string           `json:"correlation_id,omitempty"`
}

// SignalResponse is one evaluator's contribution
type SignalResponse struct {
	Name    string   `json:"name"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// AssessmentResponse is the scored outcome
type AssessmentResponse struct {
	PrincipalID       string           `json:"principal_id"`
	Action            string           `json:"action"`
	Score             int              `json:"score"`
	Level             string           `json:"level"`
	Blocked           bool             `json:"blocked"`
	RequiresReview    bool             `json:"requires_review"`
	RecommendedAction string           `json:"recommended_action"`
	Signals           []SignalResponse `json:"signals,omitempty"`
	Reasons           []string         `json:"reasons,omitempty"`
	AssessedAt        time.Time        `json:"assessed_at"`
}

// Assess scores one action for one principal
func (h *RiskHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := models.RequestMeta{
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		CorrelationID:     req.CorrelationID,
	}
	if req.Location != nil {
		meta.Location = &models.GeoPoint{Lat: req.Location.Lat, Lon: req.Location.Lon}
	}

	assessment := h.engine.Assess(r.Context(), req.PrincipalID, req.Action, req.Amount, meta)

	writeJSON(w, http.StatusOK, assessmentToResponse(assessment))
}

func assessmentToResponse(a *models.RiskAssessment) AssessmentResponse {
	resp := AssessmentResponse{
		PrincipalID:       a.PrincipalID,
		Action:            a.Action,
		Score:             a.Score,
		Level:             string(a.Level),
		Blocked:           a.Block,
		RequiresReview:    a.Review,
		RecommendedAction: string(a.Recommended),
		Reasons:           a.Reasons,
		AssessedAt:        a.AssessedAt,
	}
	for _, sig := range a.Signals {
		resp.Signals = append(resp.Signals, SignalResponse{
			Name:    sig.Name,
			Score:   sig.Score,
			Reasons: sig.Reasons,
		})
	}
	return resp
}

// EventResponse is one ledger entry. Detail is shaped per event type.
type EventResponse struct {
	ID                string           `json:"id"`
	Type              string           `json:"type"`
	Timestamp         time.Time        `json:"timestamp"`
	IPAddress         string           `json:"ip_address,omitempty"`
	UserAgent         string           `json:"user_agent,omitempty"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty"`
	Location          *GeoPointRequest `json:"location,omitempty"`
	CorrelationID     string           `json:"correlation_id,omitempty"`
	Detail            any              `json:"detail,omitempty"`
}

// EventListResponse wraps a principal's retained events
type EventListResponse struct {
	PrincipalID string          `json:"principal_id"`
	Events      []EventResponse `json:"events"`
}

// ListEvents returns a principal's retained events, oldest first. Optional
// query parameters: since (RFC 3339) and type (repeatable).
func (h *RiskHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")
	if principalID == "" {
		pkghttp.WriteBadRequest(w, "Principal id is required")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			pkghttp.WriteBadRequest(w, "Invalid since parameter, expected RFC 3339")
			return
		}
		since = parsed
	}

	var types []models.EventType
	for _, raw := range r.URL.Query()["type"] {
		types = append(types, models.EventType(raw))
	}

	resp := EventListResponse{PrincipalID: principalID, Events: []EventResponse{}}
	for ev := range h.events.Query(r.Context(), principalID, since, types...) {
		resp.Events = append(resp.Events, eventToResponse(ev))
	}

	writeJSON(w, http.StatusOK, resp)
}

func eventToResponse(ev models.SecurityEvent) EventResponse {
	resp := EventResponse{
		ID:                ev.ID,
		Type:              string(ev.Type),
		Timestamp:         ev.Timestamp,
		IPAddress:         ev.IPAddress,
		UserAgent:         ev.UserAgent,
		DeviceFingerprint: ev.DeviceFingerprint,
		CorrelationID:     ev.CorrelationID,
		Detail:            detailToResponse(ev.Detail),
	}
	if ev.Location != nil {
		resp.Location = &GeoPointRequest{Lat: ev.Location.Lat, Lon: ev.Location.Lon}
	}
	return resp
}

// detailToResponse maps the closed detail variants onto JSON shapes. The
// switch is exhaustive over the variant set; an unknown variant would be a
// programming error in the models package.
func detailToResponse(detail models.EventDetail) any {
	switch d := detail.(type) {
	case models.AuthFailureDetail:
		return map[string]any{"reason": d.Reason, "attempt": d.Attempt}
	case models.LockDetail:
		return map[string]any{"until": d.Until, "failures": d.Failures}
	case models.SecondFactorDetail:
		return map[string]any{"method": d.Method}
	case models.ActionDetail:
		return map[string]any{"action": d.Action, "amount": d.Amount}
	case models.SuspiciousActivityDetail:
		return map[string]any{"action": d.Action, "score": d.Score, "level": string(d.Level), "reasons": d.Reasons}
	case models.ResetDetail:
		return map[string]any{"token_id": d.TokenID}
	default:
		return nil
	}
}
