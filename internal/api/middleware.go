package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/reedfamily/mcwarden/internal/auth"
)

type userContextKey struct{}

// bearerToken returns the token of an "Authorization: Bearer" header. Browsers cannot set
// headers on WebSocket upgrades, so a token query parameter is accepted too.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

func AuthMiddleware(authSvc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			user, err := authSvc.ValidateSession(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom returns the user AuthMiddleware stored in ctx.
func UserFrom(ctx context.Context) (*auth.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*auth.User)
	return u, ok
}
