// Package templatedrop turns text files dropped into a folder into backend
// templates. Each file is uploaded once per distinct content; the SHA-256 of
// the last upload is kept in the local store.
package templatedrop

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/starford/mailroom/internal/apperr"
	"github.com/starford/mailroom/internal/localstore"
	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/parser"
	"github.com/starford/mailroom/internal/remote"
	"github.com/starford/mailroom/internal/storage"
)

// Outcome is what processing a file did.
type Outcome string

const (
	Skipped Outcome = "skipped"
	Created Outcome = "created"
	Updated Outcome = "updated"
	Failed  Outcome = "failed"
)

// Event reports one processed file.
type Event struct {
	Outcome    Outcome
	Path       string
	TemplateID models.ID
	Err        error
}

// Notifier receives an Event for every file that was not skipped.
type Notifier func(Event)

// Uploader creates and updates templates on the backend.
type Uploader interface {
	CreateTemplate(ctx context.Context, in remote.TemplateUpload) (*models.Template, error)
	UpdateTemplate(ctx context.Context, id models.ID, in remote.TemplateInput) error
}

// Ledger remembers what was uploaded for each path.
type Ledger interface {
	GetUpload(path string) (localstore.Upload, bool, error)
	PutUpload(u localstore.Upload) error
	DeleteUpload(path string) error
}

// Syncer uploads drop-folder files.
type Syncer struct {
	store  storage.Provider
	ledger Ledger
	up     Uploader
	notify Notifier
	log    *zap.Logger
	now    func() time.Time
}

// New creates a Syncer. notify may be nil.
func New(store storage.Provider, ledger Ledger, up Uploader, notify Notifier, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	if notify == nil {
		notify = func(Event) {}
	}
	return &Syncer{store: store, ledger: ledger, up: up, notify: notify, log: log.Named("templatedrop"), now: time.Now}
}

// Process uploads the file at rel unless its content matches the last
// upload. A file uploaded before is updated in place; if the backend no
// longer has that template a new one is created.
func (s *Syncer) Process(ctx context.Context, rel string) (Outcome, error) {
	data, err := s.store.Read(rel)
	if err != nil {
		return s.fail(rel, err)
	}
	sum := storage.Checksum(data)

	prev, seen, err := s.ledger.GetUpload(rel)
	if err != nil {
		return s.fail(rel, err)
	}
	if seen && prev.Checksum == sum {
		return Skipped, nil
	}

	res := parser.Parse(data)
	name := res.NameOr(stem(rel))
	if strings.TrimSpace(res.Body) == "" {
		return s.fail(rel, fmt.Errorf("%w: template body is empty", apperr.ErrValidation))
	}

	outcome := Created
	var id models.ID
	if seen && prev.TemplateID != "" {
		id = models.ID(prev.TemplateID)
		err = s.up.UpdateTemplate(ctx, id, remote.TemplateInput{Name: name, Content: res.Body})
		if err == nil {
			outcome = Updated
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return s.fail(rel, err)
		}
	}
	if outcome == Created {
		t, err := s.up.CreateTemplate(ctx, remote.TemplateUpload{
			Name:     name,
			Content:  res.Body,
			FileName: path.Base(rel),
			File:     []byte(res.Body),
		})
		if err != nil {
			return s.fail(rel, err)
		}
		id = t.ID
	}

	if err := s.ledger.PutUpload(localstore.Upload{
		Path:       rel,
		Checksum:   sum,
		TemplateID: string(id),
		UploadedAt: s.now(),
	}); err != nil {
		return s.fail(rel, err)
	}
	s.log.Info("template synced", zap.String("path", rel), zap.String("outcome", string(outcome)), zap.String("template_id", string(id)))
	s.notify(Event{Outcome: outcome, Path: rel, TemplateID: id})
	return outcome, nil
}

// Scan processes every file currently in the drop folder. Individual
// failures are reported through the notifier and do not stop the scan.
func (s *Syncer) Scan(ctx context.Context) error {
	metas, err := s.store.List("")
	if err != nil {
		return err
	}
	for _, m := range metas {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, _ = s.Process(ctx, m.Path)
	}
	return nil
}

// Forget drops the upload record for a removed file. The backend template
// is kept.
func (s *Syncer) Forget(rel string) {
	if err := s.ledger.DeleteUpload(rel); err != nil {
		s.log.Warn("forget failed", zap.String("path", rel), zap.Error(err))
		return
	}
	s.log.Debug("forgot", zap.String("path", rel))
}

// Export writes templates into the drop folder as files with a name front
// matter and records them as uploaded, so the watcher does not send them
// back. Existing files are not overwritten.
func (s *Syncer) Export(templates []models.Template) (int, error) {
	existing, err := s.store.List("")
	if err != nil {
		return 0, err
	}
	taken := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		taken[m.Path] = struct{}{}
	}

	n := 0
	for _, t := range templates {
		rel := fileName(t)
		if _, ok := taken[rel]; ok {
			continue
		}
		data, err := render(t)
		if err != nil {
			return n, err
		}
		if err := s.store.Write(rel, data); err != nil {
			return n, err
		}
		if err := s.ledger.PutUpload(localstore.Upload{
			Path:       rel,
			Checksum:   storage.Checksum(data),
			TemplateID: string(t.ID),
			UploadedAt: s.now(),
		}); err != nil {
			return n, err
		}
		taken[rel] = struct{}{}
		n++
	}
	return n, nil
}

func (s *Syncer) fail(rel string, err error) (Outcome, error) {
	s.log.Warn("template sync failed", zap.String("path", rel), zap.Error(err))
	s.notify(Event{Outcome: Failed, Path: rel, Err: err})
	return Failed, fmt.Errorf("templatedrop: %s: %w", rel, err)
}

func stem(rel string) string {
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}

func fileName(t models.Template) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(t.Name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	name := b.String()
	if name == "" {
		name = "template"
	}
	return name + "-" + string(t.ID) + storage.Ext
}

func render(t models.Template) ([]byte, error) {
	fm, err := yaml.Marshal(struct {
		Name string `yaml:"name"`
	}{t.Name})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(fm)+len(t.Content)+8)
	out = append(out, "---\n"...)
	out = append(out, fm...)
	out = append(out, "---\n"...)
	out = append(out, t.Content...)
	return out, nil
}
