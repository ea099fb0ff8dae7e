// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// domain services, and encode; business rules live below.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iwitness/internal/consent"
	"iwitness/internal/evidence"
	jwttoken "iwitness/internal/jwt_token"
	"iwitness/internal/jurisdiction"
	"iwitness/internal/lead"
	"iwitness/internal/ledger"
	"iwitness/pkg/platform/middleware/auth"
	"iwitness/pkg/platform/middleware/device"
	"iwitness/pkg/platform/middleware/requestid"
	"iwitness/pkg/platform/middleware/requesttime"
)

// Services bundles the domain services the router exposes.
type Services struct {
	Sessions *evidence.Manager
	Leads    *lead.Reconciler
	Ledger   *ledger.Log
	Gate     *jurisdiction.Gate
	Consents *consent.Validator
	JWT      *jwttoken.JWTService
	Logger   *slog.Logger
}

// NewRouter wires all public endpoints behind the shared middleware chain.
// Lead tracking accepts anonymous traffic; everything else requires a bearer
// token.
func NewRouter(s Services) http.Handler {
	validator := tokenValidator{svc: s.JWT}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(device.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(validator))
		newLeadHandler(s.Leads, s.Logger).registerPublic(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(validator, s.Logger))
		newSessionHandler(s.Sessions, s.Logger).register(r)
		newLeadHandler(s.Leads, s.Logger).register(r)
		newLedgerHandler(s.Ledger, s.Logger).register(r)
		newIncidentHandler(s.Gate, s.Consents, s.Logger).register(r)
		newConsentHandler(s.Consents, s.Logger).register(r)
	})

	return r
}

// tokenValidator adapts the JWT service to the auth middleware.
type tokenValidator struct {
	svc *jwttoken.JWTService
}

func (v tokenValidator) Validate(tokenString string) (auth.Claims, error) {
	claims, err := v.svc.ValidateToken(tokenString)
	if err != nil {
		return auth.Claims{}, err
	}
	return auth.Claims{UserID: claims.UserID, Email: claims.Email}, nil
}
