package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/starford/mailroom/internal/cache"
	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/mutation"
	"github.com/starford/mailroom/internal/reconcile"
	"github.com/starford/mailroom/internal/recipients"
	"github.com/starford/mailroom/internal/remote"
	"github.com/starford/mailroom/internal/session"
	"github.com/starford/mailroom/internal/testutil"
)

const backendToken = "tok"

type testEnv struct {
	router  http.Handler
	backend *testutil.Backend
	sess    *session.Session
}

// newEnv wires the API against a fake backend. signedIn starts a session
// holding the token the backend accepts.
func newEnv(t *testing.T, signedIn bool) *testEnv {
	t.Helper()
	b := testutil.NewBackend(t, backendToken)
	store := testutil.TestStore(t)

	var tokens tokenRef
	client, err := remote.New(remote.Options{BaseURL: b.URL(), Tokens: &tokens})
	if err != nil {
		t.Fatal(err)
	}
	sess, err := session.New(store, client, nil)
	if err != nil {
		t.Fatal(err)
	}
	tokens.s = sess

	c := cache.New()
	sess.OnChange(c.Reset)
	svc := mutation.NewService(client, c, nil)
	h := NewHandler(svc, reconcile.New(svc, nil), recipients.NewComposer(client, svc, nil), sess, client, nil)
	env := &testEnv{router: NewRouter(h, nil), backend: b, sess: sess}

	if signedIn {
		if err := sess.SignIn(context.Background(), session.Identity{Token: backendToken, User: models.User{Email: "owner@example.com"}}); err != nil {
			t.Fatal(err)
		}
		b.ResetCalls()
	}
	return env
}

type tokenRef struct{ s *session.Session }

func (r *tokenRef) AccessToken() string {
	if r.s == nil {
		return ""
	}
	return r.s.AccessToken()
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestAccountSwitchRefetchesCollections(t *testing.T) {
	env := newEnv(t, false)
	env.backend.SeedContact("Alice secret", "a@x.io")

	signIn := func(email string) {
		t.Helper()
		w := env.do(t, http.MethodPost, "/session", SignInRequest{Token: backendToken, User: models.User{Email: email}})
		if w.Code != http.StatusOK {
			t.Fatalf("sign in %s = %d %s", email, w.Code, w.Body.String())
		}
	}

	signIn("alice@x.io")
	if got := decode[[]models.Contact](t, env.do(t, http.MethodGet, "/contacts", nil)); len(got) != 1 {
		t.Fatalf("alice contacts = %+v", got)
	}
	if w := env.do(t, http.MethodDelete, "/session", nil); w.Code != http.StatusNoContent {
		t.Fatalf("sign out = %d", w.Code)
	}

	env.backend.SeedContact("Bob only", "b@x.io")
	signIn("bob@x.io")
	got := decode[[]models.Contact](t, env.do(t, http.MethodGet, "/contacts", nil))
	if len(got) != 2 {
		t.Errorf("contacts after account switch = %+v", got)
	}
	if n := env.backend.CountGets("/api/contacts"); n != 2 {
		t.Errorf("contact fetches = %d, want 2", n)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newEnv(t, false)
	for _, path := range []string{"/contacts", "/groups", "/templates", "/dashboard", "/compose"} {
		w := env.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, w.Code)
		}
	}
	if calls := env.backend.Calls(); len(calls) != 0 {
		t.Errorf("backend hit while signed out: %v", calls)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newEnv(t, false)

	w := env.do(t, http.MethodGet, "/session", nil)
	if got := decode[SessionResponse](t, w); got.Authenticated {
		t.Fatalf("session = %+v", got)
	}

	w = env.do(t, http.MethodPost, "/session", SignInRequest{Token: backendToken, User: models.User{Email: "owner@example.com", DisplayName: "Owner"}})
	if w.Code != http.StatusOK {
		t.Fatalf("sign in = %d %s", w.Code, w.Body.String())
	}
	got := decode[SessionResponse](t, w)
	if !got.Authenticated || got.User == nil || got.User.Email != "owner@example.com" || got.SyncError != "" {
		t.Errorf("session = %+v", got)
	}
	calls := env.backend.Calls()
	if len(calls) != 1 || calls[0].Path != "/api/google-login" || calls[0].Auth != "Bearer "+backendToken {
		t.Errorf("sync calls = %v", calls)
	}

	if w := env.do(t, http.MethodGet, "/contacts", nil); w.Code != http.StatusOK {
		t.Errorf("contacts after sign in = %d", w.Code)
	}

	if w := env.do(t, http.MethodDelete, "/session", nil); w.Code != http.StatusNoContent {
		t.Fatalf("sign out = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/contacts", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("contacts after sign out = %d", w.Code)
	}
}

func TestSignInKeepsSessionWhenSyncFails(t *testing.T) {
	env := newEnv(t, false)
	env.backend.FailOn(http.MethodPost, "/api/google-login", http.StatusInternalServerError)

	w := env.do(t, http.MethodPost, "/session", SignInRequest{Token: backendToken})
	if w.Code != http.StatusOK {
		t.Fatalf("sign in = %d", w.Code)
	}
	got := decode[SessionResponse](t, w)
	if !got.Authenticated || got.SyncError == "" {
		t.Errorf("session = %+v", got)
	}
}

func TestSignInRequiresToken(t *testing.T) {
	env := newEnv(t, false)
	w := env.do(t, http.MethodPost, "/session", SignInRequest{Token: "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestVerifyEmailIsPublic(t *testing.T) {
	env := newEnv(t, false)

	w := env.do(t, http.MethodPost, "/verify-email", VerifyEmailRequest{Token: "good"})
	if w.Code != http.StatusOK {
		t.Fatalf("verify = %d %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]string](t, w); got["message"] != "Email verified" {
		t.Errorf("body = %v", got)
	}

	if w := env.do(t, http.MethodPost, "/verify-email", VerifyEmailRequest{Token: "bad"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad token = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/verify-email", VerifyEmailRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing token = %d", w.Code)
	}
}

func TestContactCRUD(t *testing.T) {
	env := newEnv(t, true)

	w := env.do(t, http.MethodPost, "/contacts", ContactRequest{Name: "Ann", Email: "ann@example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	c := decode[models.Contact](t, w)

	w = env.do(t, http.MethodPut, "/contacts/"+string(c.ID), ContactRequest{Name: "Ann B", Email: "ann@example.com"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("update = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/contacts", nil)
	list := decode[[]models.Contact](t, w)
	if len(list) != 1 || list[0].Name != "Ann B" {
		t.Errorf("contacts = %+v", list)
	}

	if w := env.do(t, http.MethodDelete, "/contacts/"+string(c.ID), nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/contacts/"+string(c.ID), nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", w.Code)
	}
}

func TestContactValidation(t *testing.T) {
	env := newEnv(t, true)
	cases := []ContactRequest{
		{Name: "", Email: "a@example.com"},
		{Name: "Ann", Email: "not-an-email"},
	}
	for _, c := range cases {
		if w := env.do(t, http.MethodPost, "/contacts", c); w.Code != http.StatusBadRequest {
			t.Errorf("%+v = %d", c, w.Code)
		}
	}
	if m := env.backend.Mutations(); len(m) != 0 {
		t.Errorf("invalid input reached backend: %v", m)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	env := newEnv(t, true)
	req := httptest.NewRequest(http.MethodPost, "/contacts", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestSaveGroupReconcilesMembers(t *testing.T) {
	env := newEnv(t, true)
	b := env.backend
	c1 := b.SeedContact("One", "1@example.com")
	c2 := b.SeedContact("Two", "2@example.com")
	c3 := b.SeedContact("Three", "3@example.com")
	g := b.SeedGroup("team", c1.ID, c2.ID)

	form := GroupRequest{Name: "team", ContactIDs: []models.ID{c2.ID, c3.ID}}
	w := env.do(t, http.MethodPost, "/groups/"+string(g.ID)+"/preview", form)
	plan := decode[reconcile.Plan](t, w)
	if !reflect.DeepEqual(plan.ToRemove, []models.ID{c1.ID}) || !reflect.DeepEqual(plan.ToAdd, []models.ID{c3.ID}) {
		t.Errorf("plan = %+v", plan)
	}
	b.ResetCalls()

	w = env.do(t, http.MethodPut, "/groups/"+string(g.ID), form)
	if w.Code != http.StatusOK {
		t.Fatalf("save = %d %s", w.Code, w.Body.String())
	}
	want := []string{
		"PUT /api/groups/" + string(g.ID),
		fmt.Sprintf("DELETE /api/groups/%s/contacts [%s]", g.ID, c1.ID),
		fmt.Sprintf("POST /api/groups/%s/contacts [%s]", g.ID, c3.ID),
	}
	if got := b.Mutations(); !reflect.DeepEqual(got, want) {
		t.Errorf("mutations = %v, want %v", got, want)
	}
	if got := b.Members(g.ID); !reflect.DeepEqual(got, []models.ID{c2.ID, c3.ID}) {
		t.Errorf("members = %v", got)
	}
}

func TestCreateGroupAddsToNewID(t *testing.T) {
	env := newEnv(t, true)
	c1 := env.backend.SeedContact("One", "1@example.com")

	w := env.do(t, http.MethodPost, "/groups", GroupRequest{Name: "new", ContactIDs: []models.ID{c1.ID}})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	res := decode[reconcile.Result](t, w)
	if !res.Created || res.GroupID == "" {
		t.Fatalf("result = %+v", res)
	}
	if got := env.backend.Members(res.GroupID); !reflect.DeepEqual(got, []models.ID{c1.ID}) {
		t.Errorf("members = %v", got)
	}
}

func TestSaveGroupPartialFailure(t *testing.T) {
	env := newEnv(t, true)
	c1 := env.backend.SeedContact("One", "1@example.com")
	// Contact 101 is seeded, so the created group gets ID 102.
	env.backend.FailOn(http.MethodPost, "/api/groups/102/contacts", http.StatusInternalServerError)

	w := env.do(t, http.MethodPost, "/groups", GroupRequest{Name: "new", ContactIDs: []models.ID{c1.ID}})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	got := decode[stepErrResponse](t, w)
	if got.Step != reconcile.StepAdd || got.GroupID == "" || got.Result == nil || !got.Result.Created {
		t.Errorf("body = %+v", got)
	}
}

func TestDeleteGroupNeedsConfirmation(t *testing.T) {
	env := newEnv(t, true)
	g := env.backend.SeedGroup("team")

	if w := env.do(t, http.MethodDelete, "/groups/"+string(g.ID), nil); w.Code != http.StatusPreconditionRequired {
		t.Errorf("unconfirmed delete = %d", w.Code)
	}
	if m := env.backend.Mutations(); len(m) != 0 {
		t.Errorf("unconfirmed delete reached backend: %v", m)
	}
	if w := env.do(t, http.MethodDelete, "/groups/"+string(g.ID)+"?confirm=true", nil); w.Code != http.StatusNoContent {
		t.Errorf("confirmed delete = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/groups/"+string(g.ID), nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
}

func TestGroupMembershipEndpoints(t *testing.T) {
	env := newEnv(t, true)
	c1 := env.backend.SeedContact("One", "1@example.com")
	g := env.backend.SeedGroup("team")
	path := "/groups/" + string(g.ID) + "/contacts"

	if w := env.do(t, http.MethodPost, path, MembershipRequest{ContactIDs: []models.ID{c1.ID}}); w.Code != http.StatusNoContent {
		t.Fatalf("add = %d", w.Code)
	}
	list := decode[[]models.Contact](t, env.do(t, http.MethodGet, path, nil))
	if len(list) != 1 || list[0].ID != c1.ID {
		t.Errorf("members = %+v", list)
	}
	if w := env.do(t, http.MethodDelete, path, MembershipRequest{ContactIDs: []models.ID{c1.ID}}); w.Code != http.StatusNoContent {
		t.Fatalf("remove = %d", w.Code)
	}
	if got := env.backend.Members(g.ID); len(got) != 0 {
		t.Errorf("members after remove = %v", got)
	}
}

func TestCreateTemplateJSONAndMultipart(t *testing.T) {
	env := newEnv(t, true)

	w := env.do(t, http.MethodPost, "/templates", TemplateRequest{Name: "Welcome", Content: "Hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("json create = %d %s", w.Code, w.Body.String())
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "reminder.txt")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("Don't forget"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/templates", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("multipart create = %d %s", w.Code, w.Body.String())
	}
	tpl := decode[models.Template](t, w)
	if tpl.Name != "reminder" || tpl.Content != "Don't forget" {
		t.Errorf("template = %+v", tpl)
	}

	list := decode[[]models.Template](t, env.do(t, http.MethodGet, "/templates", nil))
	if len(list) != 2 {
		t.Errorf("templates = %+v", list)
	}
}

func TestComposeFlow(t *testing.T) {
	env := newEnv(t, true)
	b := env.backend
	ann := b.SeedContact("Ann", "ann@example.com")
	bob := b.SeedContact("Bob", "bob@example.com")
	g := b.SeedGroup("all", ann.ID, bob.ID)
	tpl := b.SeedTemplate("Hello", "Body text")

	if w := env.do(t, http.MethodPost, "/compose/open", ComposeOpenRequest{TemplateID: tpl.ID}); w.Code != http.StatusOK {
		t.Fatalf("open = %d %s", w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodPost, "/compose/contacts/"+string(ann.ID)+"/toggle", nil)
	if got := decode[ToggleResponse](t, w); !got.Selected || got.Count != 1 {
		t.Errorf("toggle contact = %+v", got)
	}

	// Ann is already selected, so toggling the group removes everyone.
	w = env.do(t, http.MethodPost, "/compose/groups/"+string(g.ID)+"/toggle", nil)
	if got := decode[ToggleResponse](t, w); got.Removed != 1 || got.Count != 0 {
		t.Errorf("toggle group = %+v", got)
	}
	w = env.do(t, http.MethodPost, "/compose/groups/"+string(g.ID)+"/toggle", nil)
	if got := decode[ToggleResponse](t, w); got.Added != 2 || got.Count != 2 {
		t.Errorf("toggle group again = %+v", got)
	}

	subject := "Greetings"
	w = env.do(t, http.MethodPatch, "/compose", ComposeEditRequest{Subject: &subject})
	if got := decode[recipients.Draft](t, w); got.Subject != "Greetings" || got.Body != "Body text" {
		t.Errorf("draft = %+v", got)
	}

	w = env.do(t, http.MethodPost, "/compose/send", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send = %d %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]int](t, w); got["sent"] != 2 {
		t.Errorf("send = %v", got)
	}
	sent := b.Sent()
	if len(sent) != 1 || sent[0]["subject"] != "Greetings" {
		t.Errorf("sent = %v", sent)
	}

	draft := decode[recipients.Draft](t, env.do(t, http.MethodGet, "/compose", nil))
	if draft.Open || len(draft.Recipients) != 0 {
		t.Errorf("draft after send = %+v", draft)
	}
}

func TestSendWithoutRecipients(t *testing.T) {
	env := newEnv(t, true)
	tpl := env.backend.SeedTemplate("Hello", "Body")
	env.do(t, http.MethodPost, "/compose/open", ComposeOpenRequest{TemplateID: tpl.ID})

	if w := env.do(t, http.MethodPost, "/compose/send", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	if len(env.backend.Sent()) != 0 {
		t.Error("email sent with no recipients")
	}
}

func TestSendFailureKeepsDraft(t *testing.T) {
	env := newEnv(t, true)
	ann := env.backend.SeedContact("Ann", "ann@example.com")
	tpl := env.backend.SeedTemplate("Hello", "Body")
	env.do(t, http.MethodPost, "/compose/open", ComposeOpenRequest{TemplateID: tpl.ID})
	env.do(t, http.MethodPost, "/compose/contacts/"+string(ann.ID)+"/toggle", nil)
	env.backend.FailOn(http.MethodPost, "/api/send-email", http.StatusInternalServerError)

	if w := env.do(t, http.MethodPost, "/compose/send", nil); w.Code != http.StatusBadGateway {
		t.Errorf("status = %d", w.Code)
	}
	draft := decode[recipients.Draft](t, env.do(t, http.MethodGet, "/compose", nil))
	if !draft.Open || len(draft.Recipients) != 1 {
		t.Errorf("draft after failed send = %+v", draft)
	}
}

func TestDashboardAndProfile(t *testing.T) {
	env := newEnv(t, true)
	env.backend.SeedContact("Ann", "ann@example.com")

	w := env.do(t, http.MethodGet, "/dashboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard = %d", w.Code)
	}
	d := decode[mutation.Dashboard](t, w)
	if d.Profile == nil || d.Profile.Email != "owner@example.com" || len(d.Contacts) != 1 {
		t.Errorf("dashboard = %+v", d)
	}

	if w := env.do(t, http.MethodPut, "/profile", ProfileRequest{Name: "New", Email: "new@example.com"}); w.Code != http.StatusNoContent {
		t.Fatalf("update profile = %d %s", w.Code, w.Body.String())
	}
	p := decode[models.Profile](t, env.do(t, http.MethodGet, "/profile", nil))
	if p.Name != "New" {
		t.Errorf("profile = %+v", p)
	}

	u := decode[map[string]string](t, env.do(t, http.MethodGet, "/profile/google-auth-url", nil))
	if u["authUrl"] == "" {
		t.Errorf("auth url = %v", u)
	}
}
