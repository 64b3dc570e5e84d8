package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/apperr"
	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/reconcile"
	"github.com/starford/mailroom/internal/remote"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("json encode failed", zap.Error(err))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// stepErrResponse is returned when a group save stops part-way.
type stepErrResponse struct {
	Error   string            `json:"error"`
	Step    reconcile.Step    `json:"step"`
	GroupID models.ID         `json:"groupId,omitempty"`
	Result  *reconcile.Result `json:"result,omitempty"`
}

// decodeJSON reads a bounded JSON body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	var re *remote.Error
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.As(err, &re):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and answers with the mapped status. Internal errors
// are not echoed to the client.
func writeError(w http.ResponseWriter, log *zap.Logger, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error(op+" failed", zap.Error(err))
		msg = "internal error"
	} else {
		log.Warn(op+" failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody(msg))
}
