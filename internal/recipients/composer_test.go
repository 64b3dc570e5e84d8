package recipients

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/starford/mailroom/internal/apperr"
	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/remote"
)

type fakeSender struct {
	sent []remote.EmailRequest
	err  error
}

func (f *fakeSender) SendEmail(_ context.Context, in remote.EmailRequest) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, in)
	return nil
}

type fakeSource struct{}

func (fakeSource) Contacts(context.Context) ([]models.Contact, error) {
	return []models.Contact{ann, bob, cat, dan}, nil
}

func (fakeSource) Groups(context.Context) ([]models.Group, error) {
	return []models.Group{{ID: "team", Name: "Team", Contacts: []models.Contact{ann, bob}}}, nil
}

func (fakeSource) Templates(context.Context) ([]models.Template, error) {
	return []models.Template{
		{ID: "t1", Name: "Welcome", Content: "Hello"},
		{ID: "t2", Name: "Reminder", Content: "Don't forget"},
	}, nil
}

func TestOpenKeepsSelection(t *testing.T) {
	c := NewComposer(&fakeSender{}, fakeSource{}, nil)
	ctx := context.Background()

	if err := c.OpenTemplate(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ToggleContact(ctx, "3"); err != nil {
		t.Fatal(err)
	}
	if err := c.OpenTemplate(ctx, "t2"); err != nil {
		t.Fatal(err)
	}

	d := c.State()
	if !d.Open || d.Subject != "Reminder" || d.Body != "Don't forget" {
		t.Errorf("draft = %+v", d)
	}
	if len(d.Recipients) != 1 || d.Recipients[0].Email != cat.Email {
		t.Errorf("recipients = %+v", d.Recipients)
	}
}

func TestCloseResets(t *testing.T) {
	c := NewComposer(&fakeSender{}, fakeSource{}, nil)
	ctx := context.Background()
	_ = c.OpenTemplate(ctx, "t1")
	if _, _, err := c.ToggleGroup(ctx, "team"); err != nil {
		t.Fatal(err)
	}
	c.Close()
	d := c.State()
	if d.Open || d.Subject != "" || len(d.Recipients) != 0 {
		t.Errorf("after close = %+v", d)
	}
}

func TestSendSuccessResets(t *testing.T) {
	sender := &fakeSender{}
	c := NewComposer(sender, fakeSource{}, nil)
	ctx := context.Background()
	_ = c.OpenTemplate(ctx, "t1")
	_, _, _ = c.ToggleGroup(ctx, "team")
	subject := "Custom subject"
	c.Edit(&subject, nil)

	n, err := c.Send(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(sender.sent) != 1 {
		t.Fatalf("n = %d, sent = %+v", n, sender.sent)
	}
	want := remote.EmailRequest{Recipients: []string{ann.Email, bob.Email}, Subject: "Custom subject", Body: "Hello"}
	if !reflect.DeepEqual(sender.sent[0], want) {
		t.Errorf("request = %+v, want %+v", sender.sent[0], want)
	}
	if c.Selection().Len() != 0 || c.State().Open {
		t.Error("composer not reset after send")
	}
}

func TestSendFailureKeepsDraft(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp relay down")}
	c := NewComposer(sender, fakeSource{}, nil)
	ctx := context.Background()
	_ = c.OpenTemplate(ctx, "t1")
	_, _ = c.ToggleContact(ctx, "1")

	if _, err := c.Send(ctx); err == nil {
		t.Fatal("expected error")
	}
	if c.Selection().Len() != 1 || c.State().Subject != "Welcome" {
		t.Errorf("draft lost: %+v", c.State())
	}
}

type blockingSender struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSender) SendEmail(context.Context, remote.EmailRequest) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestDraftLockedWhileSending(t *testing.T) {
	sender := &blockingSender{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewComposer(sender, fakeSource{}, nil)
	ctx := context.Background()
	_ = c.OpenTemplate(ctx, "t1")
	_, _ = c.ToggleContact(ctx, "1")

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx)
		done <- err
	}()
	<-sender.entered

	if _, err := c.ToggleContact(ctx, "3"); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("toggle contact err = %v", err)
	}
	if _, _, err := c.ToggleGroup(ctx, "team"); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("toggle group err = %v", err)
	}
	subject := "changed"
	if err := c.Edit(&subject, nil); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("edit err = %v", err)
	}
	if err := c.OpenTemplate(ctx, "t2"); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("open err = %v", err)
	}

	close(sender.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, err := c.ToggleContact(ctx, "3"); err != nil {
		t.Errorf("toggle after send = %v", err)
	}
	if d := c.State(); len(d.Recipients) != 1 || d.Recipients[0].Email != cat.Email {
		t.Errorf("recipients after send = %+v", d.Recipients)
	}
}

func TestSendValidation(t *testing.T) {
	sender := &fakeSender{}
	c := NewComposer(sender, fakeSource{}, nil)
	ctx := context.Background()

	_ = c.OpenTemplate(ctx, "t1")
	if _, err := c.Send(ctx); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("no recipients err = %v", err)
	}

	_, _ = c.ToggleContact(ctx, "1")
	empty := "   "
	c.Edit(&empty, nil)
	if _, err := c.Send(ctx); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty subject err = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("invalid draft was sent")
	}
}

func TestUnknownIDs(t *testing.T) {
	c := NewComposer(&fakeSender{}, fakeSource{}, nil)
	ctx := context.Background()
	if err := c.OpenTemplate(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("template err = %v", err)
	}
	if _, err := c.ToggleContact(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("contact err = %v", err)
	}
	if _, _, err := c.ToggleGroup(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("group err = %v", err)
	}
}
