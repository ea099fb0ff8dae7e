package httptransport

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"iwitness/internal/lead"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/platform/httputil"
	"iwitness/pkg/requestcontext"
)

type leadHandler struct {
	leads  *lead.Reconciler
	logger *slog.Logger
}

func newLeadHandler(leads *lead.Reconciler, logger *slog.Logger) *leadHandler {
	return &leadHandler{leads: leads, logger: logger}
}

// registerPublic mounts the anonymous tracking endpoint. Visitors have no
// token yet; identity arrives later through the link endpoint.
func (h *leadHandler) registerPublic(r chi.Router) {
	r.Post("/leads/track", h.handleTrack)
}

func (h *leadHandler) register(r chi.Router) {
	r.Get("/leads/{leadID}", h.handleGet)
	r.Post("/leads/{leadID}/status", h.handleStatus)
	r.Post("/leads/{leadID}/link", h.handleLink)
}

type trackRequest struct {
	URL string `json:"url"`
	// DeviceHash lets a native client send a precomputed hash instead of
	// raw attributes.
	DeviceHash string `json:"device_hash,omitempty"`
}

func (r trackRequest) Validate() error {
	if r.URL == "" {
		return dErrors.New(dErrors.CodeBadRequest, "url is required")
	}
	if _, err := url.Parse(r.URL); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "url is not parseable")
	}
	return nil
}

type leadResponse struct {
	LeadID        string           `json:"lead_id"`
	Status        string           `json:"status"`
	DeviceHash    string           `json:"device_hash"`
	Attribution   lead.Attribution `json:"attribution"`
	FirstTouchURL string           `json:"first_touch_url"`
	LastTouchURL  string           `json:"last_touch_url"`
	SessionID     string           `json:"session_id,omitempty"`
	UserID        string           `json:"user_id,omitempty"`
	LeadHash      string           `json:"lead_hash"`
	CreatedAt     string           `json:"created_at_utc"`
	LastUpdated   string           `json:"last_updated_utc"`
}

func fromLead(l lead.Lead) leadResponse {
	return leadResponse{
		LeadID:        l.LeadID.String(),
		Status:        string(l.Status),
		DeviceHash:    l.DeviceHash,
		Attribution:   l.Attribution,
		FirstTouchURL: l.FirstTouchURL,
		LastTouchURL:  l.LastTouchURL,
		SessionID:     l.SessionID,
		UserID:        l.UserID,
		LeadHash:      l.LeadHash,
		CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339Nano),
		LastUpdated:   l.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
}

func (h *leadHandler) handleTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[trackRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	parsed, _ := url.Parse(req.URL)
	outcome, err := h.leads.CreateOrUpdate(ctx, lead.TouchParams{
		Attribution: lead.ParseAttribution(parsed.Query()),
		URL:         req.URL,
		UserID:      requestcontext.UserID(ctx),
		DeviceHash:  req.DeviceHash,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "lead tracking failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, map[string]any{
		"lead":    fromLead(outcome.Lead),
		"created": outcome.Created,
	})
}

func (h *leadHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	leadID, ok := pathUUID(w, r, "leadID")
	if !ok {
		return
	}
	l, err := h.leads.Get(r.Context(), leadID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromLead(l))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (r statusRequest) Validate() error {
	if r.Status == "" {
		return dErrors.New(dErrors.CodeBadRequest, "status is required")
	}
	return nil
}

func (h *leadHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID, ok := pathUUID(w, r, "leadID")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[statusRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	l, err := h.leads.UpdateStatus(ctx, leadID, lead.Status(req.Status), requestcontext.UserID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromLead(l))
}

type linkRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

func (r linkRequest) Validate() error {
	if r.SessionID == "" && r.UserID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "session_id or user_id is required")
	}
	return nil
}

func (h *leadHandler) handleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID, ok := pathUUID(w, r, "leadID")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[linkRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	var (
		l   lead.Lead
		err error
	)
	if req.SessionID != "" {
		userID := req.UserID
		if userID == "" {
			userID = requestcontext.UserID(ctx)
		}
		l, err = h.leads.LinkToSession(ctx, leadID, req.SessionID, userID)
	} else {
		l, err = h.leads.LinkToUser(ctx, leadID, req.UserID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromLead(l))
}
