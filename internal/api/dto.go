package api

import (
	"time"

	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/reconcile"
)

// SignInRequest is the request body for starting a session.
type SignInRequest struct {
	Token string      `json:"token" example:"eyJhbGciOi..." validate:"required"`
	User  models.User `json:"user"`
}

// SessionResponse describes the current session.
type SessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *models.User `json:"user,omitempty"`
	ExpiresAt     *time.Time   `json:"expiresAt,omitempty"`
	SyncError     string       `json:"syncError,omitempty"`
}

// VerifyEmailRequest carries the token from a verification link.
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// ContactRequest is the request body for creating or updating a contact.
type ContactRequest struct {
	Name  string `json:"name" example:"Ann" validate:"required"`
	Email string `json:"email" example:"ann@example.com" validate:"required"`
}

// GroupRequest is the request body for saving a group with its members.
type GroupRequest struct {
	Name        string      `json:"name" example:"Team" validate:"required"`
	Description string      `json:"description" example:"Everyone on the team"`
	ContactIDs  []models.ID `json:"contactIds"`
}

func (g GroupRequest) form(id models.ID) reconcile.GroupForm {
	return reconcile.GroupForm{ID: id, Name: g.Name, Description: g.Description, ContactIDs: g.ContactIDs}
}

// MembershipRequest is the request body for raw membership changes.
type MembershipRequest struct {
	ContactIDs []models.ID `json:"contactIds" validate:"required"`
}

// TemplateRequest is the JSON request body for creating or updating a template.
type TemplateRequest struct {
	Name    string `json:"name" example:"Welcome" validate:"required"`
	Content string `json:"content" example:"Hello and welcome!" validate:"required"`
}

// ProfileRequest is the request body for updating the profile.
type ProfileRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Password string `json:"password,omitempty"`
}

// ComposeOpenRequest opens the composer for a template.
type ComposeOpenRequest struct {
	TemplateID models.ID `json:"templateId" validate:"required"`
}

// ComposeEditRequest overrides the draft's subject or body.
type ComposeEditRequest struct {
	Subject *string `json:"subject,omitempty"`
	Body    *string `json:"body,omitempty"`
}

// ToggleResponse reports the outcome of a recipient toggle.
type ToggleResponse struct {
	Selected bool `json:"selected,omitempty"`
	Added    int  `json:"added,omitempty"`
	Removed  int  `json:"removed,omitempty"`
	Count    int  `json:"count"`
}
