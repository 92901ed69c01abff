package middleware

import (
	"net/http"
	"strings"

	"trailwatch/backend/internal/audit"
	auditdomain "trailwatch/backend/internal/audit/domain"
	"trailwatch/backend/internal/security"
)

const bearerPrefix = "bearer "

// DeviceAuth validates the Bearer access token and sets owner_id and device_id in the
// request context. Missing or invalid tokens get 401; invalid (not missing) tokens are audited.
func DeviceAuth(tokens *security.TokenProvider, auditLogger audit.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid authorization")
				return
			}
			ownerID, deviceID, err := tokens.ValidateAccess(token)
			if err != nil {
				if auditLogger != nil {
					auditLogger.LogEvent(r.Context(), "", "", auditdomain.ActionDeviceAuthFailure, r.URL.Path, "")
				}
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid authorization")
				return
			}
			ctx := WithIdentity(r.Context(), ownerID, deviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LabelerAuth admits only the AI labeling service's shared token.
func LabelerAuth(auth *security.LabelerAuthenticator, auditLogger audit.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Verify(extractBearer(r)) {
				if auditLogger != nil {
					auditLogger.LogEvent(r.Context(), "", "labeler", auditdomain.ActionLabelerAuthFailure, r.URL.Path, "")
				}
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid authorization")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
