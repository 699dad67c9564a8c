package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/identity"
)

type tokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken mints a token for a known user. It only exists for
// development deployments.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.opts.DevTokens || a.opts.Issuer == nil {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	var (
		user identity.User
		err  error
	)
	switch {
	case strings.TrimSpace(req.UserID) != "":
		user, err = a.svc.Users.FindByID(r.Context(), strings.TrimSpace(req.UserID))
	case strings.TrimSpace(req.Email) != "":
		user, err = a.svc.Users.FindByEmail(r.Context(), identity.NormalizeEmail(req.Email))
	default:
		writeError(w, r, http.StatusBadRequest, "user_id or email is required")
		return
	}
	if errors.Is(err, apperr.ErrNotFound) {
		writeError(w, r, http.StatusUnauthorized, "unknown user")
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}

	token, exp, err := a.opts.Issuer.Issue(user.ID, user.Email)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info("auth.token.issued",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("user_id", user.ID),
		zap.Time("expires_at", exp),
	)
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp})
}

func (a *API) handleAssignPlan(w http.ResponseWriter, r *http.Request) {
	act := actor(r)
	sub, err := a.svc.Subscriptions.AssignFreePlan(r.Context(), act, act.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}
