package api

import (
	"net/http"
)

// GetCompose handles GET /api/compose.
//
//	@Summary		Current draft and selected recipients
//	@Tags			compose
//	@Produce		json
//	@Success		200	{object}	recipients.Draft
//	@Router			/compose [get]
func (h *Handler) GetCompose(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.composer.State())
}

// OpenCompose handles POST /api/compose/open. The selection is kept.
func (h *Handler) OpenCompose(w http.ResponseWriter, r *http.Request) {
	var req ComposeOpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.composer.OpenTemplate(r.Context(), req.TemplateID); err != nil {
		writeError(w, h.log, "open compose", err)
		return
	}
	writeJSON(w, http.StatusOK, h.composer.State())
}

// EditCompose handles PATCH /api/compose.
func (h *Handler) EditCompose(w http.ResponseWriter, r *http.Request) {
	var req ComposeEditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.composer.Edit(req.Subject, req.Body); err != nil {
		writeError(w, h.log, "edit compose", err)
		return
	}
	writeJSON(w, http.StatusOK, h.composer.State())
}

// ToggleContact handles POST /api/compose/contacts/{id}/toggle.
func (h *Handler) ToggleContact(w http.ResponseWriter, r *http.Request) {
	selected, err := h.composer.ToggleContact(r.Context(), idParam(r))
	if err != nil {
		writeError(w, h.log, "toggle contact", err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{Selected: selected, Count: h.composer.Selection().Len()})
}

// ToggleGroup handles POST /api/compose/groups/{id}/toggle. If any member is
// already selected every member is removed, otherwise the missing ones are
// added.
func (h *Handler) ToggleGroup(w http.ResponseWriter, r *http.Request) {
	added, removed, err := h.composer.ToggleGroup(r.Context(), idParam(r))
	if err != nil {
		writeError(w, h.log, "toggle group", err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{Added: added, Removed: removed, Count: h.composer.Selection().Len()})
}

// SendCompose handles POST /api/compose/send.
//
//	@Summary		Send the draft to every selected recipient
//	@Tags			compose
//	@Produce		json
//	@Success		200	{object}	map[string]int
//	@Failure		400	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Router			/compose/send [post]
func (h *Handler) SendCompose(w http.ResponseWriter, r *http.Request) {
	n, err := h.composer.Send(r.Context())
	if err != nil {
		writeError(w, h.log, "send", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": n})
}

// CloseCompose handles DELETE /api/compose.
func (h *Handler) CloseCompose(w http.ResponseWriter, r *http.Request) {
	h.composer.Close()
	w.WriteHeader(http.StatusNoContent)
}
