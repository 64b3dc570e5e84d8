package api

import (
	"net/http"
	"strings"

	"github.com/starford/mailroom/internal/session"
)

func (h *Handler) sessionState() SessionResponse {
	var resp SessionResponse
	user, ok := h.sess.User()
	if !ok {
		return resp
	}
	resp.Authenticated = true
	resp.User = &user
	if exp, ok := h.sess.ExpiresAt(); ok {
		resp.ExpiresAt = &exp
	}
	return resp
}

// GetSession handles GET /api/session.
//
//	@Summary		Current sign-in state
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Router			/session [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionState())
}

// SignIn handles POST /api/session. The session is stored before the backend
// sync; a failed sync is reported in syncError and the session is kept.
//
//	@Summary		Sign in with an identity-provider token
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SignInRequest	true	"Token and user"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Router			/session [post]
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.sess.SignIn(r.Context(), session.Identity{Token: req.Token, User: req.User})
	if err != nil && !h.sess.IsAuthenticated() {
		writeError(w, h.log, "sign in", err)
		return
	}
	resp := h.sessionState()
	if err != nil {
		resp.SyncError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SignOut handles DELETE /api/session. The composer is closed so no selection
// survives into the next session.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.SignOut(); err != nil {
		writeError(w, h.log, "sign out", err)
		return
	}
	h.composer.Close()
	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail handles POST /api/verify-email. It needs no session.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("verification token required"))
		return
	}
	msg, err := h.verifier.VerifyEmail(r.Context(), token)
	if err != nil {
		writeError(w, h.log, "verify email", err)
		return
	}
	h.log.Info("email verified")
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}
