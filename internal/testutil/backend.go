package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mailroom/internal/models"
)

// Call is one request observed by the fake backend.
type Call struct {
	Method     string
	Path       string
	ContactIDs []models.ID
	Auth       string
}

// String renders the call as "METHOD path [ids]".
func (c Call) String() string {
	if len(c.ContactIDs) == 0 {
		return c.Method + " " + c.Path
	}
	ids := make([]string, len(c.ContactIDs))
	for i, id := range c.ContactIDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%s %s [%s]", c.Method, c.Path, strings.Join(ids, ","))
}

type groupRec struct {
	group   models.Group
	members []models.ID
}

// Backend is an in-memory stand-in for the REST API. It records every
// call so tests can assert exact request order.
type Backend struct {
	mu        sync.Mutex
	contacts  []models.Contact
	groups    []*groupRec
	templates []models.Template
	profile   models.Profile
	sent      []map[string]any
	calls     []Call
	failures  map[string]int
	token     string
	nextID    int

	Server *httptest.Server
}

// NewBackend starts a fake backend that is closed when the test ends.
// A non-empty token makes every /api route except the login and verify
// endpoints require "Authorization: Bearer <token>".
func NewBackend(t *testing.T, token string) *Backend {
	t.Helper()
	b := &Backend{
		failures: make(map[string]int),
		token:    token,
		nextID:   100,
		profile:  models.Profile{Name: "Owner", Email: "owner@example.com"},
	}
	b.Server = httptest.NewServer(b.router())
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the base URL of the fake backend.
func (b *Backend) URL() string { return b.Server.URL }

// FailOn makes the next requests matching method and path answer status.
func (b *Backend) FailOn(method, path string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method+" "+path] = status
}

// ClearFailures removes all injected failures.
func (b *Backend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = make(map[string]int)
}

// Calls returns a copy of the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Mutations returns the recorded calls excluding GETs.
func (b *Backend) Mutations() []string {
	var out []string
	for _, c := range b.Calls() {
		if c.Method != http.MethodGet {
			out = append(out, c.String())
		}
	}
	return out
}

// CountGets returns how many GET requests hit path.
func (b *Backend) CountGets(path string) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Method == http.MethodGet && c.Path == path {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// SeedContact stores a contact and returns it.
func (b *Backend) SeedContact(name, email string) models.Contact {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := models.Contact{ID: b.newID(), Name: name, Email: email}
	b.contacts = append(b.contacts, c)
	return c
}

// SeedGroup stores a group with the given members and returns it.
func (b *Backend) SeedGroup(name string, members ...models.ID) models.Group {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := &groupRec{group: models.Group{ID: b.newID(), Name: name}, members: append([]models.ID(nil), members...)}
	b.groups = append(b.groups, g)
	return b.render(g)
}

// SeedTemplate stores a template and returns it.
func (b *Backend) SeedTemplate(name, content string) models.Template {
	b.mu.Lock()
	defer b.mu.Unlock()
	tpl := models.Template{ID: b.newID(), Name: name, Content: content}
	b.templates = append(b.templates, tpl)
	return tpl
}

// Members returns the member IDs of a group in stored order.
func (b *Backend) Members(id models.ID) []models.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g := b.findGroup(id); g != nil {
		return append([]models.ID(nil), g.members...)
	}
	return nil
}

// Templates returns a copy of the stored templates.
func (b *Backend) Templates() []models.Template {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Template(nil), b.templates...)
}

// Sent returns the decoded bodies of every send-email call.
func (b *Backend) Sent() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.sent...)
}

func (b *Backend) newID() models.ID {
	b.nextID++
	return models.ID(fmt.Sprintf("%d", b.nextID))
}

func (b *Backend) findGroup(id models.ID) *groupRec {
	for _, g := range b.groups {
		if g.group.ID == id {
			return g
		}
	}
	return nil
}

func (b *Backend) findContact(id models.ID) (models.Contact, bool) {
	for _, c := range b.contacts {
		if c.ID == id {
			return c, true
		}
	}
	return models.Contact{}, false
}

func (b *Backend) render(g *groupRec) models.Group {
	out := g.group
	out.Contacts = []models.Contact{}
	for _, id := range g.members {
		if c, ok := b.findContact(id); ok {
			out.Contacts = append(out.Contacts, c)
		}
	}
	return out
}

func (b *Backend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(b.record)

	r.Post("/api/google-login", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	r.Post("/api/verify-email", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "good" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
	})

	r.Group(func(r chi.Router) {
		r.Use(b.requireToken)

		r.Get("/api/user/profile", func(w http.ResponseWriter, _ *http.Request) {
			b.mu.Lock()
			defer b.mu.Unlock()
			writeJSON(w, http.StatusOK, b.profile)
		})
		r.Put("/api/user/profile", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			b.mu.Lock()
			b.profile.Name, b.profile.Email = req.Name, req.Email
			b.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})
		r.Delete("/api/user/profile/google-connection", func(w http.ResponseWriter, _ *http.Request) {
			b.mu.Lock()
			b.profile.IsGoogleConnected = false
			b.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/api/auth/google", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"authUrl": "https://accounts.example.com/o/oauth2"})
		})

		r.Get("/api/contacts", func(w http.ResponseWriter, _ *http.Request) {
			b.mu.Lock()
			defer b.mu.Unlock()
			writeJSON(w, http.StatusOK, append([]models.Contact{}, b.contacts...))
		})
		r.Post("/api/contacts", func(w http.ResponseWriter, r *http.Request) {
			var req models.Contact
			_ = json.NewDecoder(r.Body).Decode(&req)
			b.mu.Lock()
			defer b.mu.Unlock()
			req.ID = b.newID()
			b.contacts = append(b.contacts, req)
			writeJSON(w, http.StatusCreated, req)
		})
		r.Put("/api/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
			var req models.Contact
			_ = json.NewDecoder(r.Body).Decode(&req)
			id := models.ID(chi.URLParam(r, "id"))
			b.mu.Lock()
			defer b.mu.Unlock()
			for i := range b.contacts {
				if b.contacts[i].ID == id {
					b.contacts[i].Name, b.contacts[i].Email = req.Name, req.Email
					writeJSON(w, http.StatusOK, b.contacts[i])
					return
				}
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "contact not found"})
		})
		r.Delete("/api/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := models.ID(chi.URLParam(r, "id"))
			b.mu.Lock()
			defer b.mu.Unlock()
			for i := range b.contacts {
				if b.contacts[i].ID == id {
					b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
					for _, g := range b.groups {
						g.members = without(g.members, []models.ID{id})
					}
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "contact not found"})
		})

		r.Get("/api/groups", func(w http.ResponseWriter, _ *http.Request) {
			b.mu.Lock()
			defer b.mu.Unlock()
			out := make([]models.Group, 0, len(b.groups))
			for _, g := range b.groups {
				out = append(out, b.render(g))
			}
			writeJSON(w, http.StatusOK, out)
		})
		r.Post("/api/groups", func(w http.ResponseWriter, r *http.Request) {
			var req models.Group
			_ = json.NewDecoder(r.Body).Decode(&req)
			b.mu.Lock()
			defer b.mu.Unlock()
			g := &groupRec{group: models.Group{ID: b.newID(), Name: req.Name, Description: req.Description}}
			b.groups = append(b.groups, g)
			writeJSON(w, http.StatusCreated, b.render(g))
		})
		r.Put("/api/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
			var req models.Group
			_ = json.NewDecoder(r.Body).Decode(&req)
			b.mu.Lock()
			defer b.mu.Unlock()
			g := b.findGroup(models.ID(chi.URLParam(r, "id")))
			if g == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "group not found"})
				return
			}
			g.group.Name, g.group.Description = req.Name, req.Description
			writeJSON(w, http.StatusOK, b.render(g))
		})
		r.Delete("/api/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := models.ID(chi.URLParam(r, "id"))
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, g := range b.groups {
				if g.group.ID == id {
					b.groups = append(b.groups[:i], b.groups[i+1:]...)
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "group not found"})
		})
		r.Get("/api/groups/{id}/contacts", func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			defer b.mu.Unlock()
			g := b.findGroup(models.ID(chi.URLParam(r, "id")))
			if g == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "group not found"})
				return
			}
			writeJSON(w, http.StatusOK, b.render(g).Contacts)
		})
		r.Post("/api/groups/{id}/contacts", func(w http.ResponseWriter, r *http.Request) {
			b.membership(w, r, true)
		})
		r.Delete("/api/groups/{id}/contacts", func(w http.ResponseWriter, r *http.Request) {
			b.membership(w, r, false)
		})

		r.Get("/api/templates", func(w http.ResponseWriter, _ *http.Request) {
			b.mu.Lock()
			defer b.mu.Unlock()
			writeJSON(w, http.StatusOK, append([]models.Template{}, b.templates...))
		})
		r.Post("/api/templates", func(w http.ResponseWriter, r *http.Request) {
			mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if mediaType != "multipart/form-data" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "multipart required"})
				return
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
				return
			}
			tpl := models.Template{Name: r.FormValue("name"), Content: r.FormValue("content")}
			if tpl.Content == "" {
				if f, _, err := r.FormFile("file"); err == nil {
					raw, _ := io.ReadAll(f)
					_ = f.Close()
					tpl.Content = string(raw)
				}
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			tpl.ID = b.newID()
			b.templates = append(b.templates, tpl)
			writeJSON(w, http.StatusCreated, tpl)
		})
		r.Put("/api/templates/{id}", func(w http.ResponseWriter, r *http.Request) {
			var req models.Template
			_ = json.NewDecoder(r.Body).Decode(&req)
			id := models.ID(chi.URLParam(r, "id"))
			b.mu.Lock()
			defer b.mu.Unlock()
			for i := range b.templates {
				if b.templates[i].ID == id {
					b.templates[i].Name, b.templates[i].Content = req.Name, req.Content
					writeJSON(w, http.StatusOK, b.templates[i])
					return
				}
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "template not found"})
		})
		r.Delete("/api/templates/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := models.ID(chi.URLParam(r, "id"))
			b.mu.Lock()
			defer b.mu.Unlock()
			for i := range b.templates {
				if b.templates[i].ID == id {
					b.templates = append(b.templates[:i], b.templates[i+1:]...)
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "template not found"})
		})

		r.Post("/api/send-email", func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
				return
			}
			b.mu.Lock()
			b.sent = append(b.sent, req)
			b.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]string{"message": "sent"})
		})
	})
	return r
}

func (b *Backend) membership(w http.ResponseWriter, r *http.Request, add bool) {
	ids := contactIDs(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	g := b.findGroup(models.ID(chi.URLParam(r, "id")))
	if g == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "group not found"})
		return
	}
	if add {
		for _, id := range ids {
			if !containsID(g.members, id) {
				g.members = append(g.members, id)
			}
		}
	} else {
		g.members = without(g.members, ids)
	}
	writeJSON(w, http.StatusOK, b.render(g))
}

// record logs the call, then answers with an injected failure if one matches.
func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := Call{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		if strings.HasSuffix(r.URL.Path, "/contacts") && strings.HasPrefix(r.URL.Path, "/api/groups/") && r.Method != http.MethodGet {
			raw, _ := io.ReadAll(r.Body)
			_ = r.Body.Close()
			var req struct {
				ContactIDs []models.ID `json:"contactIds"`
			}
			_ = json.Unmarshal(raw, &req)
			call.ContactIDs = req.ContactIDs
			r.Body = io.NopCloser(strings.NewReader(string(raw)))
		}

		b.mu.Lock()
		b.calls = append(b.calls, call)
		status, fail := b.failures[r.Method+" "+r.URL.Path]
		b.mu.Unlock()

		if fail {
			writeJSON(w, status, map[string]string{"message": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.token != "" && r.Header.Get("Authorization") != "Bearer "+b.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func contactIDs(r *http.Request) []models.ID {
	var req struct {
		ContactIDs []models.ID `json:"contactIds"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req.ContactIDs
}

func containsID(ids []models.ID, id models.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func without(ids, drop []models.ID) []models.ID {
	out := ids[:0:0]
	for _, id := range ids {
		if !containsID(drop, id) {
			out = append(out, id)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
