package remote

import "github.com/starford/mailroom/internal/models"

// ContactInput is the writable part of a contact.
type ContactInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GroupInput is the writable scalar part of a group. Membership is never
// sent here; it goes through the membership endpoints.
type GroupInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TemplateInput is the body of a template update.
type TemplateInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// TemplateUpload is a new template, optionally carrying the source file.
type TemplateUpload struct {
	Name     string
	Content  string
	FileName string
	File     []byte
}

// EmailRequest is a bulk send delegated to the backend.
type EmailRequest struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// ProfileUpdate changes the account profile. An empty Password keeps the
// current one.
type ProfileUpdate struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// LoginSync links the signed-in identity to the backend account.
type LoginSync struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoURL"`
}

type membershipRequest struct {
	ContactIDs []models.ID `json:"contactIds"`
}

type authURLResponse struct {
	AuthURL string `json:"authUrl"`
}

type messageResponse struct {
	Message string `json:"message"`
}
