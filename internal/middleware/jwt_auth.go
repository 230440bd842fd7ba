package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/tokens"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

type ServiceAuth struct {
	tokens  TokenValidator
	revoked tokens.RevocationList
}

// NewServiceAuth builds the bearer-token check. revoked may be nil.
func NewServiceAuth(t TokenValidator, revoked tokens.RevocationList) *ServiceAuth {
	return &ServiceAuth{tokens: t, revoked: revoked}
}

// Middleware verifies the service token and injects the Caller.
func (m *ServiceAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		claims, err := m.tokens.ValidateToken(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if m.revoked != nil {
			revoked, err := m.revoked.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				// fail closed
				log.Error().Err(err).Msg("token revocation check failed")
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if revoked {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}

		ctx := WithCaller(r.Context(), &Caller{Service: claims.Service, TokenID: claims.ID, Scopes: claims.Scopes})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects callers whose token lacks scope. Requests without a
// caller pass, so routes stay open when auth is disabled.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, ok := GetCaller(r.Context()); ok {
				claims := tokens.Claims{Scopes: c.Scopes}
				if !claims.HasScope(scope) {
					respondError(w, http.StatusForbidden, "missing scope "+scope)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
