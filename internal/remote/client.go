// Package remote is the HTTP client for the contacts/templates/email backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/models"
)

const maxResponseBytes = 8 << 20

// TokenSource supplies the bearer token attached to authenticated calls.
type TokenSource interface {
	AccessToken() string
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues backend calls. It never retries: every failure is
// returned to the caller as-is.
type Client struct {
	baseURL    string
	timeout    time.Duration
	tokens     TokenSource
	httpClient *http.Client
	log        *zap.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote: base URL required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		timeout:    opts.Timeout,
		tokens:     opts.Tokens,
		httpClient: hc,
		log:        log.Named("remote"),
	}, nil
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// --- Profile ---

// GetProfile fetches the signed-in account profile.
func (c *Client) GetProfile(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/user/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile changes name, email and optionally password.
func (c *Client) UpdateProfile(ctx context.Context, in ProfileUpdate) error {
	return c.doJSON(ctx, http.MethodPut, "/api/user/profile", in, nil)
}

// DisconnectGoogle removes the Google account link.
func (c *Client) DisconnectGoogle(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/user/profile/google-connection", nil, nil)
}

// GoogleAuthURL returns the URL that starts the Google connection flow.
func (c *Client) GoogleAuthURL(ctx context.Context) (string, error) {
	var resp authURLResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/google", nil, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.AuthURL) == "" {
		return "", errors.New("remote: no authUrl in response")
	}
	return resp.AuthURL, nil
}

// --- Contacts ---

// ListContacts fetches every contact of the account.
func (c *Client) ListContacts(ctx context.Context) ([]models.Contact, error) {
	var out []models.Contact
	if err := c.doJSON(ctx, http.MethodGet, "/api/contacts", nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

// CreateContact adds a contact.
func (c *Client) CreateContact(ctx context.Context, in ContactInput) (*models.Contact, error) {
	var out models.Contact
	if err := c.doJSON(ctx, http.MethodPost, "/api/contacts", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateContact replaces a contact's name and email.
func (c *Client) UpdateContact(ctx context.Context, id models.ID, in ContactInput) error {
	return c.doJSON(ctx, http.MethodPut, "/api/contacts/"+escape(id), in, nil)
}

// DeleteContact removes a contact.
func (c *Client) DeleteContact(ctx context.Context, id models.ID) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/contacts/"+escape(id), nil, nil)
}

// --- Groups ---

// ListGroups fetches every group with its nested member contacts.
func (c *Client) ListGroups(ctx context.Context) ([]models.Group, error) {
	var out []models.Group
	if err := c.doJSON(ctx, http.MethodGet, "/api/groups", nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

// CreateGroup creates a group without members and returns it with the
// server-assigned ID.
func (c *Client) CreateGroup(ctx context.Context, in GroupInput) (*models.Group, error) {
	var out models.Group
	if err := c.doJSON(ctx, http.MethodPost, "/api/groups", in, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("remote: create group response carries no id")
	}
	return &out, nil
}

// UpdateGroup changes a group's name and description.
func (c *Client) UpdateGroup(ctx context.Context, id models.ID, in GroupInput) error {
	return c.doJSON(ctx, http.MethodPut, "/api/groups/"+escape(id), in, nil)
}

// DeleteGroup removes a group.
func (c *Client) DeleteGroup(ctx context.Context, id models.ID) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/groups/"+escape(id), nil, nil)
}

// ListGroupContacts fetches the members of one group.
func (c *Client) ListGroupContacts(ctx context.Context, groupID models.ID) ([]models.Contact, error) {
	var out []models.Contact
	if err := c.doJSON(ctx, http.MethodGet, "/api/groups/"+escape(groupID)+"/contacts", nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

// AddContactsToGroup adds membership edges.
func (c *Client) AddContactsToGroup(ctx context.Context, groupID models.ID, contactIDs []models.ID) error {
	return c.doJSON(ctx, http.MethodPost, "/api/groups/"+escape(groupID)+"/contacts", membershipRequest{ContactIDs: contactIDs}, nil)
}

// RemoveContactsFromGroup removes membership edges.
func (c *Client) RemoveContactsFromGroup(ctx context.Context, groupID models.ID, contactIDs []models.ID) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/groups/"+escape(groupID)+"/contacts", membershipRequest{ContactIDs: contactIDs}, nil)
}

// --- Templates ---

// ListTemplates fetches every template.
func (c *Client) ListTemplates(ctx context.Context) ([]models.Template, error) {
	var out []models.Template
	if err := c.doJSON(ctx, http.MethodGet, "/api/templates", nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

// CreateTemplate uploads a new template as multipart form data.
func (c *Client) CreateTemplate(ctx context.Context, in TemplateUpload) (*models.Template, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if in.File != nil {
		name := in.FileName
		if name == "" {
			name = in.Name
		}
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			return nil, fmt.Errorf("remote: multipart file: %w", err)
		}
		if _, err := fw.Write(in.File); err != nil {
			return nil, fmt.Errorf("remote: multipart file: %w", err)
		}
	}
	if err := mw.WriteField("name", in.Name); err != nil {
		return nil, fmt.Errorf("remote: multipart name: %w", err)
	}
	if err := mw.WriteField("content", in.Content); err != nil {
		return nil, fmt.Errorf("remote: multipart content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("remote: multipart close: %w", err)
	}

	var out models.Template
	if err := c.do(ctx, http.MethodPost, "/api/templates", mw.FormDataContentType(), buf.Bytes(), true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTemplate replaces a template's name and content.
func (c *Client) UpdateTemplate(ctx context.Context, id models.ID, in TemplateInput) error {
	return c.doJSON(ctx, http.MethodPut, "/api/templates/"+escape(id), in, nil)
}

// DeleteTemplate removes a template.
func (c *Client) DeleteTemplate(ctx context.Context, id models.ID) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/templates/"+escape(id), nil, nil)
}

// --- Email and auth ---

// SendEmail hands a bulk message to the backend for delivery.
func (c *Client) SendEmail(ctx context.Context, in EmailRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/send-email", in, nil)
}

// GoogleLogin links a freshly signed-in identity to the backend account.
// The token is passed explicitly because the session is not yet stored.
func (c *Client) GoogleLogin(ctx context.Context, token string, in LoginSync) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodPost, "/api/google-login", "application/json", raw)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.send(req, nil)
}

// VerifyEmail confirms an email verification token. It needs no session.
func (c *Client) VerifyEmail(ctx context.Context, token string) (string, error) {
	raw, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodPost, "/api/verify-email", "application/json", raw)
	if err != nil {
		return "", err
	}
	var resp messageResponse
	if err := c.send(req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// --- plumbing ---

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("remote: encode body: %w", err)
		}
	}
	return c.do(ctx, method, path, "application/json", raw, true, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, auth bool, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	if auth && c.tokens != nil {
		if tok := strings.TrimSpace(c.tokens.AccessToken()); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return c.send(req, out)
}

// withTimeout bounds ctx by the configured timeout, if any.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body []byte) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		return fmt.Errorf("remote: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("remote: read response: %w", err)
	}
	c.log.Debug("request done",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", req.Header.Get("X-Request-ID")),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func escape(id models.ID) string {
	return url.PathEscape(string(id))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
