package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/auctoritas/auctoritas"
)

// Validator validates access tokens. *auctoritas.Engine implements it.
type Validator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auctoritas.AccessClaims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims Guard attached to ctx.
func ClaimsFromContext(ctx context.Context) (*auctoritas.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*auctoritas.AccessClaims)
	return claims, ok && claims != nil
}

// Guard rejects requests without a valid bearer access token. The request
// must already carry a tenant, normally from [RequestContext]. Validated
// claims are attached to the request context.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := v.ValidateAccessToken(r.Context(), token)
			if err != nil {
				code := auctoritas.CodeOf(err)
				status := http.StatusUnauthorized
				if auctoritas.KindOf(err) == auctoritas.KindInternal {
					status = http.StatusInternalServerError
				}
				writeError(w, status, code)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireKind admits only principals of the given kinds. It must run after
// Guard.
func RequireKind(kinds ...auctoritas.PrincipalKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, k := range kinds {
				if claims.PrincipalKind == k {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, code string) {
	if code == "" {
		code = "internal_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
