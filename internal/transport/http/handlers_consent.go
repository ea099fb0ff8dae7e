package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"iwitness/internal/consent"
	dErrors "iwitness/pkg/domain-errors"
	"iwitness/pkg/platform/httputil"
	"iwitness/pkg/requestcontext"
)

type consentHandler struct {
	consents *consent.Validator
	logger   *slog.Logger
}

func newConsentHandler(consents *consent.Validator, logger *slog.Logger) *consentHandler {
	return &consentHandler{consents: consents, logger: logger}
}

func (h *consentHandler) register(r chi.Router) {
	r.Post("/consents", h.handleGrant)
	r.Get("/consents", h.handleList)
	r.Delete("/consents/{purpose}", h.handleRevoke)
}

type grantConsentRequest struct {
	Purposes   []string `json:"purposes"`
	TTLSeconds int64    `json:"ttl_seconds,omitempty"`
}

func (r grantConsentRequest) Validate() error {
	if len(r.Purposes) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "purposes must not be empty")
	}
	if r.TTLSeconds < 0 {
		return dErrors.New(dErrors.CodeBadRequest, "ttl_seconds must not be negative")
	}
	return nil
}

type consentResponse struct {
	UserID    string `json:"user_id"`
	Purpose   string `json:"purpose"`
	GrantedAt string `json:"granted_at"`
	ExpiresAt string `json:"expires_at"`
	RevokedAt string `json:"revoked_at,omitempty"`
}

func fromConsent(r consent.Record) consentResponse {
	resp := consentResponse{
		UserID:    r.UserID,
		Purpose:   string(r.Purpose),
		GrantedAt: r.GrantedAt.UTC().Format(time.RFC3339),
		ExpiresAt: r.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if r.RevokedAt != nil {
		resp.RevokedAt = r.RevokedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// defaultConsentTTL applies when the client grants without an explicit TTL.
const defaultConsentTTL = 365 * 24 * time.Hour

func (h *consentHandler) handleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[grantConsentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	ttl := defaultConsentTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	purposes := make([]consent.Purpose, 0, len(req.Purposes))
	for _, p := range req.Purposes {
		purposes = append(purposes, consent.Purpose(p))
	}

	records, err := h.consents.Grant(ctx, requestcontext.UserID(ctx), purposes, ttl)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]consentResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, fromConsent(rec))
	}
	h.logger.InfoContext(ctx, "consent granted",
		"request_id", requestID,
		"purposes", req.Purposes,
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"consents": out})
}

func (h *consentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.consents.List(ctx, requestcontext.UserID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]consentResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, fromConsent(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"consents": out})
}

func (h *consentHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	purpose := consent.Purpose(chi.URLParam(r, "purpose"))
	if !consent.ValidPurpose(purpose) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid purpose: "+string(purpose)))
		return
	}
	if err := h.consents.Revoke(ctx, requestcontext.UserID(ctx), purpose); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "consent revoked",
		"request_id", requestcontext.RequestID(ctx),
		"purpose", string(purpose),
	)
	w.WriteHeader(http.StatusNoContent)
}
