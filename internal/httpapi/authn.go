package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatherly.app/internal/audit"
	"gatherly.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.opts.Issuer == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatherly"`)
			writeError(w, r, http.StatusUnauthorized, "authentication is not configured")
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatherly"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.opts.Issuer.Parse(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatherly", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := auth.ContextWithUser(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor describes the authenticated caller for audit entries.
func actor(r *http.Request) audit.Actor {
	userID, _ := auth.UserIDFromContext(r.Context())
	return audit.Actor{
		UserID:    userID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: requestIDFrom(r.Context()),
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
