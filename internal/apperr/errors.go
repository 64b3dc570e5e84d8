// Package apperr holds the sentinel errors shared by every layer.
package apperr

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrAlreadyExists        = errors.New("already exists")
	ErrValidation           = errors.New("validation failed")
	ErrUnauthenticated      = errors.New("sign in required")
	ErrBusy                 = errors.New("operation already in progress")
	ErrConfirmationRequired = errors.New("confirmation required")
)
