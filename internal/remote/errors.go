package remote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/starford/mailroom/internal/apperr"
)

// Error is a non-2xx response from the backend.
type Error struct {
	Status  int
	Message string
	Body    string
}

func (e *Error) Error() string {
	if e == nil {
		return "remote error"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("remote: status=%d message=%s", e.Status, msg)
}

// Is maps well-known statuses onto the shared sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case apperr.ErrUnauthenticated:
		return e.Status == http.StatusUnauthorized
	case apperr.ErrNotFound:
		return e.Status == http.StatusNotFound
	case apperr.ErrConflict:
		return e.Status == http.StatusConflict
	case apperr.ErrValidation:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	}
	return false
}

func parseError(status int, raw []byte) error {
	body := strings.TrimSpace(string(raw))

	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(raw, &env); err == nil {
		msg = strings.TrimSpace(env.Message)
		if msg == "" {
			msg = strings.TrimSpace(env.Error)
		}
	}
	if msg == "" && len(body) <= 200 && !strings.HasPrefix(body, "<") {
		msg = body
	}
	return &Error{Status: status, Message: msg, Body: body}
}
