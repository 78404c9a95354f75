package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/discovery/internal/middleware"
)

// Error codes written by RequireRole.
const (
	errCodeAuthFailed = "auth_failed"
	errCodeForbidden  = "forbidden"
)

// RequireRole rejects requests without a valid bearer token granting role.
// The token subject becomes the request's actor id. Websocket upgrades may
// pass the token as the access_token query parameter.
func RequireRole(svc *JWTService, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				token = r.URL.Query().Get("access_token")
				ok = token != ""
			}
			if !ok || strings.TrimSpace(token) == "" {
				writeAuthError(w, r, http.StatusUnauthorized, errCodeAuthFailed, "Bearer token required")
				return
			}

			claims, err := svc.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "Token has expired"
				}
				writeAuthError(w, r, http.StatusUnauthorized, errCodeAuthFailed, msg)
				return
			}
			if !claims.HasRole(role) {
				slog.WarnContext(r.Context(), "role check failed", "subject", claims.Subject, "role", claims.Role, "required", role)
				writeAuthError(w, r, http.StatusForbidden, errCodeForbidden, "Insufficient role")
				return
			}

			ctx := middleware.SetActorID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	ctx := middleware.SetErrorCode(r.Context(), code)
	middleware.UpdateResponseContext(w, ctx)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
}
