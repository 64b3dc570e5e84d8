package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// The session and verify-email routes are public; everything else requires
// a signed-in session. events, if non-nil, is mounted at GET /events.
func NewRouter(h *Handler, events http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/session", h.GetSession)
	r.Post("/session", h.SignIn)
	r.Delete("/session", h.SignOut)
	r.Post("/verify-email", h.VerifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware(h.sess))

		r.Get("/dashboard", h.Dashboard)

		r.Route("/profile", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Put("/", h.UpdateProfile)
			r.Delete("/google-connection", h.DisconnectGoogle)
			r.Get("/google-auth-url", h.GoogleAuthURL)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.Post("/", h.CreateContact)
			r.Put("/{id}", h.UpdateContact)
			r.Delete("/{id}", h.DeleteContact)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetGroup)
				r.Put("/", h.SaveGroup)
				r.Delete("/", h.DeleteGroup)
				r.Post("/preview", h.PreviewGroup)
				r.Get("/contacts", h.ListGroupContacts)
				r.Post("/contacts", h.AddGroupContacts)
				r.Delete("/contacts", h.RemoveGroupContacts)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Put("/{id}", h.UpdateTemplate)
			r.Delete("/{id}", h.DeleteTemplate)
		})

		r.Route("/compose", func(r chi.Router) {
			r.Get("/", h.GetCompose)
			r.Patch("/", h.EditCompose)
			r.Delete("/", h.CloseCompose)
			r.Post("/open", h.OpenCompose)
			r.Post("/send", h.SendCompose)
			r.Post("/contacts/{id}/toggle", h.ToggleContact)
			r.Post("/groups/{id}/toggle", h.ToggleGroup)
		})

		if events != nil {
			r.Get("/events", events.ServeHTTP)
		}
	})

	return r
}
