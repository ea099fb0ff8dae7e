package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"iwitness/internal/consent"
	"iwitness/internal/jurisdiction"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/platform/httputil"
	"iwitness/pkg/requestcontext"
)

type incidentHandler struct {
	gate     *jurisdiction.Gate
	consents *consent.Validator
	logger   *slog.Logger
}

func newIncidentHandler(gate *jurisdiction.Gate, consents *consent.Validator, logger *slog.Logger) *incidentHandler {
	return &incidentHandler{gate: gate, consents: consents, logger: logger}
}

func (h *incidentHandler) register(r chi.Router) {
	r.Post("/incidents", h.handleCreate)
	r.Get("/incidents/{incidentID}/gate", h.handleGate)
	r.Post("/incidents/{incidentID}/request-help", h.handleRequestHelp)
	r.Get("/incidents/{incidentID}/marketplace-eligibility", h.handleMarketplaceEligibility)
}

type createIncidentRequest struct {
	State      string `json:"state"`
	County     string `json:"county,omitempty"`
	OccurredAt string `json:"occurred_at,omitempty"`
}

func (r createIncidentRequest) Validate() error {
	if r.State == "" {
		return dErrors.New(dErrors.CodeBadRequest, "state is required")
	}
	if r.OccurredAt != "" {
		if _, err := time.Parse(time.RFC3339, r.OccurredAt); err != nil {
			return dErrors.New(dErrors.CodeBadRequest, "occurred_at must be RFC3339")
		}
	}
	return nil
}

type incidentResponse struct {
	IncidentID      string `json:"incident_id"`
	UserID          string `json:"user_id"`
	State           string `json:"state"`
	County          string `json:"county,omitempty"`
	Status          string `json:"status"`
	OccurredAt      string `json:"occurred_at,omitempty"`
	HelpRequestedAt string `json:"help_requested_at,omitempty"`
}

func fromIncident(i jurisdiction.Incident) incidentResponse {
	resp := incidentResponse{
		IncidentID: i.ID,
		UserID:     i.UserID,
		State:      i.State,
		County:     i.County,
		Status:     string(i.Status),
	}
	if i.OccurredAt != nil {
		resp.OccurredAt = i.OccurredAt.UTC().Format(time.RFC3339)
	}
	if i.HelpRequestedAt != nil {
		resp.HelpRequestedAt = i.HelpRequestedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type gateResponse struct {
	Passed                 bool   `json:"passed"`
	DaysPassed             int    `json:"days_passed"`
	DaysRemaining          int    `json:"days_remaining"`
	WaitingPeriodDays      int    `json:"waiting_period_days"`
	AllowMarketplace       bool   `json:"allow_marketplace"`
	RequireExplicitRequest bool   `json:"require_explicit_request"`
	Reason                 string `json:"reason,omitempty"`
}

func fromGateStatus(s jurisdiction.GateStatus) gateResponse {
	return gateResponse{
		Passed:                 s.Passed,
		DaysPassed:             s.DaysPassed,
		DaysRemaining:          s.DaysRemaining,
		WaitingPeriodDays:      s.WaitingPeriodDays,
		AllowMarketplace:       s.AllowMarketplace,
		RequireExplicitRequest: s.RequireExplicitRequest,
		Reason:                 s.Reason,
	}
}

func (h *incidentHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createIncidentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	incident := jurisdiction.Incident{
		ID:     uuid.NewString(),
		UserID: requestcontext.UserID(ctx),
		State:  req.State,
		County: req.County,
	}
	if req.OccurredAt != "" {
		t, _ := time.Parse(time.RFC3339, req.OccurredAt)
		t = t.UTC()
		incident.OccurredAt = &t
	}

	created, err := h.gate.CreateIncident(ctx, incident)
	if err != nil {
		h.logger.ErrorContext(ctx, "incident creation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromIncident(created))
}

func (h *incidentHandler) handleGate(w http.ResponseWriter, r *http.Request) {
	status, err := h.gate.Check(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromGateStatus(status))
}

func (h *incidentHandler) handleRequestHelp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	incidentID := chi.URLParam(r, "incidentID")
	userID := requestcontext.UserID(ctx)

	if err := h.consents.Require(ctx, userID, consent.PurposeMarketplaceMatching); err != nil {
		httputil.WriteError(w, err)
		return
	}

	decision, err := h.gate.RequestHelp(ctx, incidentID, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "help request failed",
			"request_id", requestcontext.RequestID(ctx),
			"incident_id", incidentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"can_request":       decision.CanRequest,
		"already_requested": decision.AlreadyRequested,
		"days_remaining":    decision.DaysRemaining,
		"reason":            decision.Reason,
	})
}

func (h *incidentHandler) handleMarketplaceEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	incidentID := chi.URLParam(r, "incidentID")
	if err := h.consents.RequireMarketplace(ctx, requestcontext.UserID(ctx), incidentID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"eligible": true})
}
