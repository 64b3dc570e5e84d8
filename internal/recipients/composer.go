package recipients

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/apperr"
	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/remote"
)

// Sender delivers a bulk message.
type Sender interface {
	SendEmail(ctx context.Context, in remote.EmailRequest) error
}

// Source resolves IDs against the cached collections.
type Source interface {
	Contacts(ctx context.Context) ([]models.Contact, error)
	Groups(ctx context.Context) ([]models.Group, error)
	Templates(ctx context.Context) ([]models.Template, error)
}

// Draft is the current state of the composer.
type Draft struct {
	Open       bool             `json:"open"`
	TemplateID models.ID        `json:"templateId,omitempty"`
	Subject    string           `json:"subject"`
	Body       string           `json:"body"`
	Recipients []models.Contact `json:"recipients"`
}

// Composer is the send flow around a Selection. Opening it for another
// template keeps the selection; closing it or a successful send clears it.
type Composer struct {
	mu         sync.Mutex
	open       bool
	templateID models.ID
	subject    string
	body       string
	sending    bool

	sel    *Selection
	sender Sender
	source Source
	log    *zap.Logger
}

// NewComposer creates a closed composer with an empty selection.
func NewComposer(sender Sender, source Source, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{sel: NewSelection(), sender: sender, source: source, log: log.Named("composer")}
}

// errSending is returned for draft changes while a send is in flight.
var errSending = fmt.Errorf("%w: send in progress", apperr.ErrBusy)

// Selection exposes the underlying recipient set.
func (c *Composer) Selection() *Selection { return c.sel }

// Open starts composing from t: its name becomes the subject and its
// content the body. The selection is left as it is.
func (c *Composer) Open(t models.Template) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return errSending
	}
	c.open = true
	c.templateID = t.ID
	c.subject = t.Name
	c.body = t.Content
	return nil
}

// OpenTemplate looks the template up by ID and opens it.
func (c *Composer) OpenTemplate(ctx context.Context, id models.ID) error {
	templates, err := c.source.Templates(ctx)
	if err != nil {
		return err
	}
	for _, t := range templates {
		if t.ID == id {
			return c.Open(t)
		}
	}
	return fmt.Errorf("template %s: %w", id, apperr.ErrNotFound)
}

// Edit overrides subject and body. Nil leaves a field unchanged.
func (c *Composer) Edit(subject, body *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return errSending
	}
	if subject != nil {
		c.subject = *subject
	}
	if body != nil {
		c.body = *body
	}
	return nil
}

// ToggleContact toggles one contact by ID.
func (c *Composer) ToggleContact(ctx context.Context, id models.ID) (bool, error) {
	contacts, err := c.source.Contacts(ctx)
	if err != nil {
		return false, err
	}
	for _, ct := range contacts {
		if ct.ID == id {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.sending {
				return false, errSending
			}
			return c.sel.ToggleContact(ct), nil
		}
	}
	return false, fmt.Errorf("contact %s: %w", id, apperr.ErrNotFound)
}

// ToggleGroup toggles every member of a group by group ID.
func (c *Composer) ToggleGroup(ctx context.Context, id models.ID) (added, removed int, err error) {
	groups, err := c.source.Groups(ctx)
	if err != nil {
		return 0, 0, err
	}
	g, ok := models.FindGroup(groups, id)
	if !ok {
		return 0, 0, fmt.Errorf("group %s: %w", id, apperr.ErrNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return 0, 0, errSending
	}
	added, removed = c.sel.ToggleGroup(g)
	return added, removed, nil
}

// Close discards the draft and the selection.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Composer) closeLocked() {
	c.open = false
	c.templateID = ""
	c.subject = ""
	c.body = ""
	c.sel.Reset()
}

// State returns a snapshot of the draft.
func (c *Composer) State() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Draft{
		Open:       c.open,
		TemplateID: c.templateID,
		Subject:    c.subject,
		Body:       c.body,
		Recipients: c.sel.Contacts(),
	}
}

// Send dispatches the draft to the selected addresses. On success the
// composer is closed; on failure everything is kept for a manual retry.
func (c *Composer) Send(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: send", apperr.ErrBusy)
	}
	req := remote.EmailRequest{
		Recipients: c.sel.Emails(),
		Subject:    strings.TrimSpace(c.subject),
		Body:       c.body,
	}
	if len(req.Recipients) == 0 {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: at least one recipient required", apperr.ErrValidation)
	}
	if req.Subject == "" {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: subject required", apperr.ErrValidation)
	}
	c.sending = true
	c.mu.Unlock()

	err := c.sender.SendEmail(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if err != nil {
		c.log.Warn("send failed", zap.Int("recipients", len(req.Recipients)), zap.Error(err))
		return 0, fmt.Errorf("send email: %w", err)
	}
	c.log.Info("email sent", zap.Int("recipients", len(req.Recipients)), zap.String("subject", req.Subject))
	c.closeLocked()
	return len(req.Recipients), nil
}
