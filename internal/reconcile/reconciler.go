package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/apperr"
	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/mutation"
	"github.com/starford/mailroom/internal/remote"
)

// Step names one remote call of a save.
type Step string

const (
	StepCreate Step = "create"
	StepUpdate Step = "update"
	StepRemove Step = "remove"
	StepAdd    Step = "add"
)

// StepError reports the step that failed. Steps applied before it stay
// applied.
type StepError struct {
	Step    Step
	GroupID models.ID
	Err     error
}

func (e *StepError) Error() string {
	if e.GroupID == "" {
		return fmt.Sprintf("reconcile: %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("reconcile: %s failed for group %s: %v", e.Step, e.GroupID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// GroupForm is the edited state of a group. An empty ID means a new group.
type GroupForm struct {
	ID          models.ID   `json:"id,omitempty"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ContactIDs  []models.ID `json:"contactIds"`
}

// Result describes what a save did.
type Result struct {
	GroupID models.ID `json:"groupId"`
	Created bool      `json:"created"`
	Plan    Plan      `json:"plan"`
	Applied []Step    `json:"applied"`
}

// Mutator is the set of operations a save issues. *mutation.Service
// implements it.
type Mutator interface {
	Groups(ctx context.Context) ([]models.Group, error)
	CreateGroup(ctx context.Context, in remote.GroupInput) (*models.Group, error)
	UpdateGroup(ctx context.Context, id models.ID, in remote.GroupInput) error
	AddContactsToGroup(ctx context.Context, groupID models.ID, contactIDs []models.ID) error
	RemoveContactsFromGroup(ctx context.Context, groupID models.ID, contactIDs []models.ID) error
}

// Reconciler saves group forms.
type Reconciler struct {
	m     Mutator
	guard *mutation.Guard
	log   *zap.Logger
}

// New creates a Reconciler.
func New(m Mutator, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{m: m, guard: mutation.NewGuard(), log: log.Named("reconcile")}
}

// Preview returns the plan a save of form would issue, without calling
// anything but the cache.
func (r *Reconciler) Preview(ctx context.Context, form GroupForm) (Plan, error) {
	if form.ID == "" {
		return Diff(nil, form.ContactIDs), nil
	}
	original, err := r.originalMembers(ctx, form.ID)
	if err != nil {
		return Plan{}, err
	}
	return Diff(original, form.ContactIDs), nil
}

// Save applies form. For an existing group the order is update, remove,
// add; for a new one it is create, then add to the returned ID. Each call
// is independent: a failure stops the save and returns a *StepError along
// with the Result of the steps already applied.
func (r *Reconciler) Save(ctx context.Context, form GroupForm) (*Result, error) {
	in := remote.GroupInput{Name: form.Name, Description: form.Description}
	if err := mutation.ValidateGroup(&in); err != nil {
		return nil, err
	}

	key := "save:" + string(form.ID)
	if form.ID == "" {
		key = "save:new:" + in.Name
	}
	release, err := r.guard.Acquire(key)
	if err != nil {
		return nil, err
	}
	defer release()

	if form.ID == "" {
		return r.create(ctx, in, form.ContactIDs)
	}
	return r.update(ctx, form.ID, in, form.ContactIDs)
}

func (r *Reconciler) create(ctx context.Context, in remote.GroupInput, desired []models.ID) (*Result, error) {
	res := &Result{Created: true, Plan: Diff(nil, desired)}

	g, err := r.m.CreateGroup(ctx, in)
	if err != nil {
		return res, r.fail(res, StepCreate, err)
	}
	res.GroupID = g.ID
	res.Applied = append(res.Applied, StepCreate)

	if len(res.Plan.ToAdd) > 0 {
		if err := r.m.AddContactsToGroup(ctx, g.ID, res.Plan.ToAdd); err != nil {
			return res, r.fail(res, StepAdd, err)
		}
		res.Applied = append(res.Applied, StepAdd)
	}
	r.log.Info("group created", zap.String("group", string(g.ID)), zap.Int("added", len(res.Plan.ToAdd)))
	return res, nil
}

func (r *Reconciler) update(ctx context.Context, id models.ID, in remote.GroupInput, desired []models.ID) (*Result, error) {
	// Membership must be read before the update, which invalidates groups.
	original, err := r.originalMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &Result{GroupID: id, Plan: Diff(original, desired)}

	if err := r.m.UpdateGroup(ctx, id, in); err != nil {
		return res, r.fail(res, StepUpdate, err)
	}
	res.Applied = append(res.Applied, StepUpdate)

	if len(res.Plan.ToRemove) > 0 {
		if err := r.m.RemoveContactsFromGroup(ctx, id, res.Plan.ToRemove); err != nil {
			return res, r.fail(res, StepRemove, err)
		}
		res.Applied = append(res.Applied, StepRemove)
	}
	if len(res.Plan.ToAdd) > 0 {
		if err := r.m.AddContactsToGroup(ctx, id, res.Plan.ToAdd); err != nil {
			return res, r.fail(res, StepAdd, err)
		}
		res.Applied = append(res.Applied, StepAdd)
	}
	r.log.Info("group saved",
		zap.String("group", string(id)),
		zap.Int("removed", len(res.Plan.ToRemove)),
		zap.Int("added", len(res.Plan.ToAdd)))
	return res, nil
}

func (r *Reconciler) originalMembers(ctx context.Context, id models.ID) ([]models.ID, error) {
	groups, err := r.m.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load groups: %w", err)
	}
	g, ok := models.FindGroup(groups, id)
	if !ok {
		return nil, fmt.Errorf("reconcile: group %s: %w", id, apperr.ErrNotFound)
	}
	return g.MemberIDs(), nil
}

func (r *Reconciler) fail(res *Result, step Step, err error) error {
	r.log.Warn("save step failed",
		zap.String("step", string(step)),
		zap.String("group", string(res.GroupID)),
		zap.Any("applied", res.Applied),
		zap.Error(err))
	return &StepError{Step: step, GroupID: res.GroupID, Err: err}
}
