package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"iwitness/pkg/platform/httputil"
	"iwitness/pkg/requestcontext"

	dErrors "iwitness/pkg/domain-errors"
)

// Claims are the fields the middleware needs from a validated token.
type Claims struct {
	UserID string
	Email  string
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(tokenString string) (Claims, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated identity in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := bearerClaims(r, validator)
			if err != nil {
				logger.WarnContext(r.Context(), "request rejected",
					"path", r.URL.Path,
					"error", err.Error(),
				)
				httputil.WriteError(w, err)
				return
			}
			ctx := requestcontext.WithUserID(r.Context(), claims.UserID)
			if claims.Email != "" {
				ctx = requestcontext.WithUserEmail(ctx, claims.Email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth stores the identity when a valid token is present and lets
// anonymous requests through untouched. Attribution tracking serves both.
func OptionalAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := bearerClaims(r, validator)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := requestcontext.WithUserID(r.Context(), claims.UserID)
			if claims.Email != "" {
				ctx = requestcontext.WithUserEmail(ctx, claims.Email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerClaims(r *http.Request, validator TokenValidator) (Claims, error) {
	const bearerPrefix = "Bearer "
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return Claims{}, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}
	return validator.Validate(strings.TrimPrefix(authHeader, bearerPrefix))
}
