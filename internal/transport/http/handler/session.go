package handler

import (
	"net/http"

	"github.com/ecolens-api/internal/application/session"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"github.com/ecolens-api/internal/transport/http/cookies"
)

// SessionHandler resolves and rotates cookie sessions.
type SessionHandler struct {
	svc     session.Service
	cookies *cookies.Manager
	logger  *logging.Service
}

func NewSessionHandler(svc session.Service, cm *cookies.Manager, logger *logging.Service) *SessionHandler {
	return &SessionHandler{svc: svc, cookies: cm, logger: logger}
}

// Me answers 200 with {id} or 200 with null. It never returns 401.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := h.svc.WhoAmI(r.Context(), cookies.AccessToken(r), cookies.RefreshToken(r))
	if sess == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if sess.Rotated {
		h.cookies.SetSession(w, sess.AccessToken, sess.RefreshToken)
	}
	writeJSON(w, http.StatusOK, IdentityEnvelope{ID: sess.UserID})
}

func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	rt := cookies.RefreshToken(r)
	if rt == "" {
		h.cookies.ClearSession(w)
		writeJSON(w, http.StatusUnauthorized, MessageEnvelope{Error: "missing refresh token", Reason: "no_refresh_token"})
		return
	}
	sess, err := h.svc.Refresh(r.Context(), rt)
	if err != nil {
		h.cookies.ClearSession(w)
		writeJSON(w, http.StatusUnauthorized, MessageEnvelope{Error: "invalid or expired refresh token", Reason: "invalid_refresh_token"})
		return
	}
	h.cookies.SetSession(w, sess.AccessToken, sess.RefreshToken)
	writeJSON(w, http.StatusOK, IdentityEnvelope{ID: sess.UserID})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.cookies.ClearSession(w)
	h.cookies.ClearVerification(w)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "Logged out"})
}
