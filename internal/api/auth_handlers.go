package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/auth"
	"careerpilot.app/career-chat/internal/core"
)

type authError struct {
	Error   string            `json:"error"`
	Details []core.FieldError `json:"details,omitempty"`
}

type signupResponse struct {
	Message string           `json:"message"`
	User    *core.PublicUser `json:"user"`
}

type signinResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      *core.PublicUser `json:"user"`
}

// writeAuthError renders service errors in the flat {"error": ...} shape
// used by the auth endpoints.
func (h *APIHandler) writeAuthError(w http.ResponseWriter, op string, err error) {
	var verr *core.ValidationError
	var rerr *core.RequestError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, authError{Error: verr.Message, Details: verr.Fields})
	case errors.As(err, &rerr):
		writeJSON(w, http.StatusBadRequest, authError{Error: rerr.Message})
	case errors.Is(err, core.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, authError{Error: "Invalid email or password"})
	default:
		h.log.Error(op+" failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, authError{Error: "Internal server error"})
	}
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req core.SignupInput
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, authError{Error: "Invalid input"})
		return
	}

	user, err := h.users.Signup(r.Context(), req)
	if err != nil {
		h.writeAuthError(w, "signup", err)
		return
	}
	writeJSON(w, http.StatusCreated, signupResponse{Message: "User created successfully", User: user})
}

func (h *APIHandler) SigninHandler(w http.ResponseWriter, r *http.Request) {
	var req core.SignInInput
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, authError{Error: "Invalid input"})
		return
	}

	user, err := h.users.Authenticate(r.Context(), req)
	if err != nil {
		h.writeAuthError(w, "signin", err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.writeAuthError(w, "signin", err)
		return
	}

	http.SetCookie(w, h.sessionCookie(token, expiresAt))
	writeJSON(w, http.StatusOK, signinResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// SignoutHandler revokes the presented token, if any, and clears the cookie.
// It succeeds even when the caller was not signed in.
func (h *APIHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := tokenFromRequest(r); token != "" {
		if claims, err := h.tokens.Validate(r.Context(), token); err == nil {
			if err := h.tokens.Revoke(r.Context(), claims); err != nil {
				h.log.Warn("failed to revoke token", zap.String("user_id", claims.UserID), zap.Error(err))
			}
		}
	}

	expired := h.sessionCookie("", time.Unix(0, 0))
	expired.MaxAge = -1
	http.SetCookie(w, expired)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out"})
}

func (h *APIHandler) sessionCookie(value string, expires time.Time) *http.Cookie {
	name := auth.SessionCookieName
	if h.secureCookies {
		name = auth.SecureSessionCookieName
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
