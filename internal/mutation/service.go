// Package mutation issues create/update/delete calls against the backend and
// invalidates the cached collections each call changes. Reads go through
// the cache.
package mutation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mailroom/internal/apperr"
	"github.com/starford/mailroom/internal/cache"
	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/remote"
)

// Backend is the subset of the remote client the service drives.
type Backend interface {
	GetProfile(ctx context.Context) (*models.Profile, error)
	UpdateProfile(ctx context.Context, in remote.ProfileUpdate) error
	DisconnectGoogle(ctx context.Context) error
	GoogleAuthURL(ctx context.Context) (string, error)

	ListContacts(ctx context.Context) ([]models.Contact, error)
	CreateContact(ctx context.Context, in remote.ContactInput) (*models.Contact, error)
	UpdateContact(ctx context.Context, id models.ID, in remote.ContactInput) error
	DeleteContact(ctx context.Context, id models.ID) error

	ListGroups(ctx context.Context) ([]models.Group, error)
	CreateGroup(ctx context.Context, in remote.GroupInput) (*models.Group, error)
	UpdateGroup(ctx context.Context, id models.ID, in remote.GroupInput) error
	DeleteGroup(ctx context.Context, id models.ID) error
	ListGroupContacts(ctx context.Context, groupID models.ID) ([]models.Contact, error)
	AddContactsToGroup(ctx context.Context, groupID models.ID, contactIDs []models.ID) error
	RemoveContactsFromGroup(ctx context.Context, groupID models.ID, contactIDs []models.ID) error

	ListTemplates(ctx context.Context) ([]models.Template, error)
	CreateTemplate(ctx context.Context, in remote.TemplateUpload) (*models.Template, error)
	UpdateTemplate(ctx context.Context, id models.ID, in remote.TemplateInput) error
	DeleteTemplate(ctx context.Context, id models.ID) error
}

// Dashboard is every collection fetched at once.
type Dashboard struct {
	Profile   *models.Profile   `json:"profile"`
	Contacts  []models.Contact  `json:"contacts"`
	Groups    []models.Group    `json:"groups"`
	Templates []models.Template `json:"templates"`
}

// Service coordinates backend calls and cache invalidation.
type Service struct {
	backend Backend
	cache   *cache.Cache
	guard   *Guard
	log     *zap.Logger
}

// NewService creates a new mutation service.
func NewService(backend Backend, c *cache.Cache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{backend: backend, cache: c, guard: NewGuard(), log: log.Named("mutation")}
}

// --- reads ---

// Contacts returns the cached contacts collection.
func (s *Service) Contacts(ctx context.Context) ([]models.Contact, error) {
	return cache.Get(ctx, s.cache, cache.KeyContacts, s.backend.ListContacts)
}

// Groups returns the cached groups collection with nested members.
func (s *Service) Groups(ctx context.Context) ([]models.Group, error) {
	return cache.Get(ctx, s.cache, cache.KeyGroups, s.backend.ListGroups)
}

// Group returns one group from the cached collection.
func (s *Service) Group(ctx context.Context, id models.ID) (models.Group, error) {
	groups, err := s.Groups(ctx)
	if err != nil {
		return models.Group{}, err
	}
	g, ok := models.FindGroup(groups, id)
	if !ok {
		return models.Group{}, fmt.Errorf("group %s: %w", id, apperr.ErrNotFound)
	}
	return g, nil
}

// GroupContacts returns the cached member list of one group.
func (s *Service) GroupContacts(ctx context.Context, id models.ID) ([]models.Contact, error) {
	return cache.Get(ctx, s.cache, cache.GroupContacts(id), func(ctx context.Context) ([]models.Contact, error) {
		return s.backend.ListGroupContacts(ctx, id)
	})
}

// Templates returns the cached templates collection.
func (s *Service) Templates(ctx context.Context) ([]models.Template, error) {
	return cache.Get(ctx, s.cache, cache.KeyTemplates, s.backend.ListTemplates)
}

// Profile returns the cached account profile.
func (s *Service) Profile(ctx context.Context) (*models.Profile, error) {
	return cache.Get(ctx, s.cache, cache.KeyUserProfile, s.backend.GetProfile)
}

// Dashboard fetches every collection concurrently.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { d.Profile, err = s.Profile(gCtx); return })
	g.Go(func() (err error) { d.Contacts, err = s.Contacts(gCtx); return })
	g.Go(func() (err error) { d.Groups, err = s.Groups(gCtx); return })
	g.Go(func() (err error) { d.Templates, err = s.Templates(gCtx); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- contacts ---

// CreateContact validates and adds a contact.
func (s *Service) CreateContact(ctx context.Context, in remote.ContactInput) (*models.Contact, error) {
	if err := validateContact(&in); err != nil {
		return nil, err
	}
	release, err := s.guard.Acquire("contact:new:" + models.NormalizeEmail(in.Email))
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.backend.CreateContact(ctx, in)
	if err != nil {
		return nil, s.failed("create contact", err)
	}
	s.cache.Invalidate(cache.KeyContacts)
	return c, nil
}

// UpdateContact validates and replaces a contact's fields.
func (s *Service) UpdateContact(ctx context.Context, id models.ID, in remote.ContactInput) error {
	if err := validateContact(&in); err != nil {
		return err
	}
	return s.run(ctx, "contact:"+string(id), "update contact", func(ctx context.Context) error {
		return s.backend.UpdateContact(ctx, id, in)
	}, cache.KeyContacts)
}

// DeleteContact removes a contact.
func (s *Service) DeleteContact(ctx context.Context, id models.ID) error {
	return s.run(ctx, "contact:"+string(id), "delete contact", func(ctx context.Context) error {
		return s.backend.DeleteContact(ctx, id)
	}, cache.KeyContacts)
}

// --- groups ---

// CreateGroup validates and creates a group without members.
func (s *Service) CreateGroup(ctx context.Context, in remote.GroupInput) (*models.Group, error) {
	if err := validateGroup(&in); err != nil {
		return nil, err
	}
	release, err := s.guard.Acquire("group:new:" + in.Name)
	if err != nil {
		return nil, err
	}
	defer release()

	g, err := s.backend.CreateGroup(ctx, in)
	if err != nil {
		return nil, s.failed("create group", err)
	}
	s.cache.Invalidate(cache.KeyGroups)
	return g, nil
}

// UpdateGroup validates and changes a group's name and description.
func (s *Service) UpdateGroup(ctx context.Context, id models.ID, in remote.GroupInput) error {
	if err := validateGroup(&in); err != nil {
		return err
	}
	return s.run(ctx, "group:"+string(id), "update group", func(ctx context.Context) error {
		return s.backend.UpdateGroup(ctx, id, in)
	}, cache.KeyGroups)
}

// DeleteGroup removes a group. confirmed must be true.
func (s *Service) DeleteGroup(ctx context.Context, id models.ID, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("delete group %s: %w", id, apperr.ErrConfirmationRequired)
	}
	return s.run(ctx, "group:"+string(id), "delete group", func(ctx context.Context) error {
		return s.backend.DeleteGroup(ctx, id)
	}, cache.KeyGroups, cache.GroupContacts(id))
}

// AddContactsToGroup adds membership edges. An empty list issues no call.
func (s *Service) AddContactsToGroup(ctx context.Context, groupID models.ID, contactIDs []models.ID) error {
	if len(contactIDs) == 0 {
		return nil
	}
	return s.run(ctx, "group:"+string(groupID)+":members", "add group members", func(ctx context.Context) error {
		return s.backend.AddContactsToGroup(ctx, groupID, contactIDs)
	}, cache.KeyGroups, cache.GroupContacts(groupID))
}

// RemoveContactsFromGroup removes membership edges. An empty list issues no call.
func (s *Service) RemoveContactsFromGroup(ctx context.Context, groupID models.ID, contactIDs []models.ID) error {
	if len(contactIDs) == 0 {
		return nil
	}
	return s.run(ctx, "group:"+string(groupID)+":members", "remove group members", func(ctx context.Context) error {
		return s.backend.RemoveContactsFromGroup(ctx, groupID, contactIDs)
	}, cache.KeyGroups, cache.GroupContacts(groupID))
}

// --- templates ---

// CreateTemplate uploads a template. Content defaults to the file body and
// the name to the file name without extension.
func (s *Service) CreateTemplate(ctx context.Context, in remote.TemplateUpload) (*models.Template, error) {
	if err := prepareUpload(&in); err != nil {
		return nil, err
	}
	release, err := s.guard.Acquire("template:new:" + in.Name)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := s.backend.CreateTemplate(ctx, in)
	if err != nil {
		return nil, s.failed("create template", err)
	}
	s.cache.Invalidate(cache.KeyTemplates)
	return t, nil
}

// UpdateTemplate validates and replaces a template.
func (s *Service) UpdateTemplate(ctx context.Context, id models.ID, in remote.TemplateInput) error {
	if err := validateTemplate(&in); err != nil {
		return err
	}
	return s.run(ctx, "template:"+string(id), "update template", func(ctx context.Context) error {
		return s.backend.UpdateTemplate(ctx, id, in)
	}, cache.KeyTemplates)
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id models.ID) error {
	return s.run(ctx, "template:"+string(id), "delete template", func(ctx context.Context) error {
		return s.backend.DeleteTemplate(ctx, id)
	}, cache.KeyTemplates)
}

// --- profile ---

// UpdateProfile changes name and email, and the password when set.
func (s *Service) UpdateProfile(ctx context.Context, in remote.ProfileUpdate) error {
	if err := validateProfile(&in); err != nil {
		return err
	}
	return s.run(ctx, "profile", "update profile", func(ctx context.Context) error {
		return s.backend.UpdateProfile(ctx, in)
	}, cache.KeyUserProfile)
}

// DisconnectGoogle removes the Google link from the account.
func (s *Service) DisconnectGoogle(ctx context.Context) error {
	return s.run(ctx, "profile", "disconnect google", s.backend.DisconnectGoogle, cache.KeyUserProfile)
}

// GoogleAuthURL returns the URL that starts connecting a Google account.
func (s *Service) GoogleAuthURL(ctx context.Context) (string, error) {
	u, err := s.backend.GoogleAuthURL(ctx)
	if err != nil {
		return "", s.failed("google auth url", err)
	}
	return u, nil
}

// run holds the guard for key while call executes and invalidates keys on
// success only.
func (s *Service) run(ctx context.Context, key, op string, call func(context.Context) error, keys ...cache.Key) error {
	release, err := s.guard.Acquire(key)
	if err != nil {
		return err
	}
	defer release()

	if err := call(ctx); err != nil {
		return s.failed(op, err)
	}
	s.cache.Invalidate(keys...)
	return nil
}

func (s *Service) failed(op string, err error) error {
	s.log.Warn("remote call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
