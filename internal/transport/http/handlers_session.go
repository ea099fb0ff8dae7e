package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"iwitness/internal/evidence"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/platform/httputil"
	"iwitness/pkg/requestcontext"
)

type sessionHandler struct {
	sessions *evidence.Manager
	logger   *slog.Logger
}

func newSessionHandler(sessions *evidence.Manager, logger *slog.Logger) *sessionHandler {
	return &sessionHandler{sessions: sessions, logger: logger}
}

func (h *sessionHandler) register(r chi.Router) {
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Post("/sessions/{sessionID}/complete", h.handleComplete)
	r.Get("/sessions/{sessionID}/verify", h.handleVerify)
	r.Post("/sessions/{sessionID}/incident", h.handleLinkIncident)
}

// locationRequest is a client-captured position relayed with the create
// request. Browsers hold the geolocation permission, so the position arrives
// here rather than being captured server-side.
type locationRequest struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

type createSessionRequest struct {
	TriggerSource string           `json:"trigger_source"`
	Nonce         string           `json:"nonce,omitempty"`
	Ref           string           `json:"ref,omitempty"`
	Source        string           `json:"source,omitempty"`
	IncidentID    string           `json:"incident_id,omitempty"`
	Location      *locationRequest `json:"location,omitempty"`
}

func (r createSessionRequest) Validate() error {
	if r.TriggerSource == "" {
		return dErrors.New(dErrors.CodeBadRequest, "trigger_source is required")
	}
	if r.Nonce != "" {
		if _, err := uuid.Parse(r.Nonce); err != nil {
			return dErrors.New(dErrors.CodeBadRequest, "nonce must be a UUID")
		}
	}
	if r.Location != nil {
		if r.Location.Lat < -90 || r.Location.Lat > 90 {
			return dErrors.New(dErrors.CodeBadRequest, "location.lat out of range")
		}
		if r.Location.Lng < -180 || r.Location.Lng > 180 {
			return dErrors.New(dErrors.CodeBadRequest, "location.lng out of range")
		}
	}
	return nil
}

type locationResponse struct {
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
	PermissionStatus string   `json:"permission_status"`
}

type sessionResponse struct {
	SessionID     string            `json:"session_id"`
	UserID        string            `json:"user_id"`
	IncidentID    string            `json:"incident_id,omitempty"`
	TriggerSource string            `json:"trigger_source"`
	Status        string            `json:"status"`
	TimestampUTC  string            `json:"timestamp_utc"`
	Location      *locationResponse `json:"location_snapshot,omitempty"`
	DeviceHash    string            `json:"device_hash"`
	Nonce         string            `json:"nonce"`
	Ref           string            `json:"ref,omitempty"`
	Source        string            `json:"source,omitempty"`
	IntegrityHash string            `json:"integrity_hash"`
	CompletedAt   string            `json:"completed_at,omitempty"`
}

func fromSession(s evidence.Session) sessionResponse {
	resp := sessionResponse{
		SessionID:     s.SessionID.String(),
		UserID:        s.UserID,
		IncidentID:    s.IncidentID,
		TriggerSource: string(s.Trigger),
		Status:        string(s.Status),
		TimestampUTC:  s.Timestamp.UTC().Format(time.RFC3339Nano),
		DeviceHash:    s.DeviceHash,
		Nonce:         s.Nonce.String(),
		Ref:           s.Ref,
		Source:        s.Source,
		IntegrityHash: s.IntegrityHash,
	}
	if s.CompletedAt != nil {
		resp.CompletedAt = s.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if s.Location != nil {
		loc := &locationResponse{PermissionStatus: string(s.Location.PermissionStatus)}
		if s.Location.Coordinates != nil {
			loc.Lat = &s.Location.Coordinates.Lat
			loc.Lng = &s.Location.Coordinates.Lng
			loc.Accuracy = &s.Location.Coordinates.Accuracy
		}
		if !s.Location.Timestamp.IsZero() {
			loc.Timestamp = s.Location.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		resp.Location = loc
	}
	return resp
}

func (h *sessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	params := evidence.CreateParams{
		Ref:        req.Ref,
		Source:     req.Source,
		IncidentID: req.IncidentID,
	}
	if req.Nonce != "" {
		params.Nonce = uuid.MustParse(req.Nonce)
	}
	if req.Location != nil {
		params.Locations = evidence.StaticProvider{Coords: evidence.Coordinates{
			Lat:      req.Location.Lat,
			Lng:      req.Location.Lng,
			Accuracy: req.Location.Accuracy,
		}}
	}

	session, err := h.sessions.Create(ctx, requestcontext.UserID(ctx), evidence.TriggerSource(req.TriggerSource), params)
	if err != nil {
		h.logger.ErrorContext(ctx, "session creation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "session created",
		"request_id", requestID,
		"session_id", session.SessionID,
		"trigger_source", req.TriggerSource,
	)
	httputil.WriteJSON(w, http.StatusCreated, fromSession(session))
}

func (h *sessionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	session, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSession(session))
}

func (h *sessionHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := pathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	session, err := h.sessions.Complete(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "session completed",
		"request_id", requestcontext.RequestID(ctx),
		"session_id", session.SessionID,
	)
	httputil.WriteJSON(w, http.StatusOK, fromSession(session))
}

func (h *sessionHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	session, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": session.SessionID.String(),
		"verified":   h.sessions.Verify(session),
	})
}

type linkIncidentRequest struct {
	IncidentID string `json:"incident_id"`
}

func (r linkIncidentRequest) Validate() error {
	if r.IncidentID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "incident_id is required")
	}
	return nil
}

func (h *sessionHandler) handleLinkIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := pathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[linkIncidentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	session, err := h.sessions.LinkIncident(ctx, sessionID, req.IncidentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSession(session))
}

// pathUUID parses a UUID path parameter, writing the error response itself on
// failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
