package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// RequireBearerAuth wraps next with a bearer-token check against secret,
// active only when AUTH_ENABLED is set (SPEC_FULL §6). A request without a
// valid, unexpired token is rejected before next ever sees it.
func RequireBearerAuth(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", logger, nil)
				return
			}

			parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !parsed.Valid {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token", logger, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
