package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/mutation"
	"github.com/starford/mailroom/internal/reconcile"
	"github.com/starford/mailroom/internal/recipients"
	"github.com/starford/mailroom/internal/remote"
	"github.com/starford/mailroom/internal/session"
)

const maxUploadBytes = 5 << 20

// EmailVerifier confirms email verification tokens.
type EmailVerifier interface {
	VerifyEmail(ctx context.Context, token string) (string, error)
}

// Handler holds API route handlers.
type Handler struct {
	svc      *mutation.Service
	rec      *reconcile.Reconciler
	composer *recipients.Composer
	sess     *session.Session
	verifier EmailVerifier
	log      *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(
	svc *mutation.Service,
	rec *reconcile.Reconciler,
	composer *recipients.Composer,
	sess *session.Session,
	verifier EmailVerifier,
	log *zap.Logger,
) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, rec: rec, composer: composer, sess: sess, verifier: verifier, log: log.Named("api")}
}

func idParam(r *http.Request) models.ID {
	return models.ID(chi.URLParam(r, "id"))
}

// Dashboard handles GET /api/dashboard.
//
//	@Summary		Profile, contacts, groups and templates in one response
//	@Tags			dashboard
//	@Produce		json
//	@Success		200	{object}	mutation.Dashboard
//	@Failure		401	{object}	errResponse
//	@Router			/dashboard [get]
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dashboard(r.Context())
	if err != nil {
		writeError(w, h.log, "dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- contacts ---

// ListContacts handles GET /api/contacts.
//
//	@Summary		List contacts
//	@Tags			contacts
//	@Produce		json
//	@Success		200	{array}		models.Contact
//	@Failure		401	{object}	errResponse
//	@Router			/contacts [get]
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.svc.Contacts(r.Context())
	if err != nil {
		writeError(w, h.log, "list contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// CreateContact handles POST /api/contacts.
//
//	@Summary		Create a contact
//	@Tags			contacts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ContactRequest	true	"Contact to create"
//	@Success		201		{object}	models.Contact
//	@Failure		400		{object}	errResponse
//	@Router			/contacts [post]
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.CreateContact(r.Context(), remote.ContactInput(req))
	if err != nil {
		writeError(w, h.log, "create contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// UpdateContact handles PUT /api/contacts/{id}.
func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpdateContact(r.Context(), idParam(r), remote.ContactInput(req)); err != nil {
		writeError(w, h.log, "update contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteContact handles DELETE /api/contacts/{id}.
func (h *Handler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteContact(r.Context(), idParam(r)); err != nil {
		writeError(w, h.log, "delete contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- groups ---

// ListGroups handles GET /api/groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.Groups(r.Context())
	if err != nil {
		writeError(w, h.log, "list groups", err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// GetGroup handles GET /api/groups/{id}.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Group(r.Context(), idParam(r))
	if err != nil {
		writeError(w, h.log, "get group", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// CreateGroup handles POST /api/groups: create, then add the selected members.
//
//	@Summary		Create a group with initial members
//	@Tags			groups
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GroupRequest	true	"Group to create"
//	@Success		201		{object}	reconcile.Result
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	stepErrResponse
//	@Router			/groups [post]
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.saveGroup(w, r, req.form(""), http.StatusCreated)
}

// SaveGroup handles PUT /api/groups/{id}: update, then remove and add the
// membership difference.
//
//	@Summary		Save a group and reconcile its members
//	@Tags			groups
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Group ID"
//	@Param			body	body		GroupRequest	true	"Desired group state"
//	@Success		200		{object}	reconcile.Result
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	stepErrResponse
//	@Router			/groups/{id} [put]
func (h *Handler) SaveGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.saveGroup(w, r, req.form(idParam(r)), http.StatusOK)
}

func (h *Handler) saveGroup(w http.ResponseWriter, r *http.Request, form reconcile.GroupForm, okStatus int) {
	res, err := h.rec.Save(r.Context(), form)
	if err != nil {
		var se *reconcile.StepError
		if errors.As(err, &se) {
			h.log.Warn("group save incomplete", zap.String("step", string(se.Step)), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, stepErrResponse{
				Error:   se.Error(),
				Step:    se.Step,
				GroupID: se.GroupID,
				Result:  res,
			})
			return
		}
		writeError(w, h.log, "save group", err)
		return
	}
	writeJSON(w, okStatus, res)
}

// PreviewGroup handles POST /api/groups/{id}/preview and returns the
// membership plan a save would issue.
func (h *Handler) PreviewGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	plan, err := h.rec.Preview(r.Context(), req.form(idParam(r)))
	if err != nil {
		writeError(w, h.log, "preview group", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// DeleteGroup handles DELETE /api/groups/{id}?confirm=true.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := h.svc.DeleteGroup(r.Context(), idParam(r), confirmed); err != nil {
		writeError(w, h.log, "delete group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListGroupContacts handles GET /api/groups/{id}/contacts.
func (h *Handler) ListGroupContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.svc.GroupContacts(r.Context(), idParam(r))
	if err != nil {
		writeError(w, h.log, "list group contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// AddGroupContacts handles POST /api/groups/{id}/contacts.
func (h *Handler) AddGroupContacts(w http.ResponseWriter, r *http.Request) {
	var req MembershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.AddContactsToGroup(r.Context(), idParam(r), req.ContactIDs); err != nil {
		writeError(w, h.log, "add group contacts", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveGroupContacts handles DELETE /api/groups/{id}/contacts.
func (h *Handler) RemoveGroupContacts(w http.ResponseWriter, r *http.Request) {
	var req MembershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.RemoveContactsFromGroup(r.Context(), idParam(r), req.ContactIDs); err != nil {
		writeError(w, h.log, "remove group contacts", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- templates ---

// ListTemplates handles GET /api/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.svc.Templates(r.Context())
	if err != nil {
		writeError(w, h.log, "list templates", err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// CreateTemplate handles POST /api/templates. It accepts a JSON body or
// multipart/form-data with an optional "file" field plus "name" and
// "content".
//
//	@Summary		Create a template
//	@Tags			templates
//	@Accept			json
//	@Accept			mpfd
//	@Produce		json
//	@Param			body	body		TemplateRequest	false	"Template to create"
//	@Success		201		{object}	models.Template
//	@Failure		400		{object}	errResponse
//	@Router			/templates [post]
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in remote.TemplateUpload

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
			return
		}
		in.Name = r.FormValue("name")
		in.Content = r.FormValue("content")
		if file, header, err := r.FormFile("file"); err == nil {
			raw, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
				return
			}
			in.File, in.FileName = raw, header.Filename
		}
	} else {
		var req TemplateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in.Name, in.Content = req.Name, req.Content
	}

	t, err := h.svc.CreateTemplate(r.Context(), in)
	if err != nil {
		writeError(w, h.log, "create template", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// UpdateTemplate handles PUT /api/templates/{id}.
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpdateTemplate(r.Context(), idParam(r), remote.TemplateInput(req)); err != nil {
		writeError(w, h.log, "update template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTemplate handles DELETE /api/templates/{id}.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTemplate(r.Context(), idParam(r)); err != nil {
		writeError(w, h.log, "delete template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- profile ---

// GetProfile handles GET /api/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Profile(r.Context())
	if err != nil {
		writeError(w, h.log, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProfile handles PUT /api/profile.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpdateProfile(r.Context(), remote.ProfileUpdate(req)); err != nil {
		writeError(w, h.log, "update profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DisconnectGoogle handles DELETE /api/profile/google-connection.
func (h *Handler) DisconnectGoogle(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DisconnectGoogle(r.Context()); err != nil {
		writeError(w, h.log, "disconnect google", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GoogleAuthURL handles GET /api/profile/google-auth-url.
func (h *Handler) GoogleAuthURL(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GoogleAuthURL(r.Context())
	if err != nil {
		writeError(w, h.log, "google auth url", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": u})
}
