// Package recipients builds the de-duplicated recipient set for one send.
package recipients

import (
	"sync"

	"github.com/starford/mailroom/internal/models"
)

// Selection is a set of contacts keyed by normalized email. Insertion order
// is kept for the dispatched list. It is safe for concurrent use.
type Selection struct {
	mu      sync.Mutex
	order   []string
	byEmail map[string]models.Contact
}

// NewSelection creates an empty selection.
func NewSelection() *Selection {
	return &Selection{byEmail: make(map[string]models.Contact)}
}

// ToggleContact removes c when its email is selected and adds it otherwise.
// It reports whether c is selected afterwards. Contacts without an email
// are ignored.
func (s *Selection) ToggleContact(c models.Contact) bool {
	key := models.NormalizeEmail(c.Email)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[key]; ok {
		s.remove(key)
		return false
	}
	s.add(key, c)
	return true
}

// ToggleGroup removes every member of g when any member is selected, even
// members that were picked individually. Otherwise it adds the members not
// yet present. A group without members is a no-op.
func (s *Selection) ToggleGroup(g models.Group) (added, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anySelected := false
	for _, c := range g.Contacts {
		if _, ok := s.byEmail[models.NormalizeEmail(c.Email)]; ok {
			anySelected = true
			break
		}
	}

	for _, c := range g.Contacts {
		key := models.NormalizeEmail(c.Email)
		if key == "" {
			continue
		}
		_, present := s.byEmail[key]
		switch {
		case anySelected && present:
			s.remove(key)
			removed++
		case !anySelected && !present:
			s.add(key, c)
			added++
		}
	}
	return added, removed
}

// Contains reports whether email is selected.
func (s *Selection) Contains(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byEmail[models.NormalizeEmail(email)]
	return ok
}

// Contacts returns the selected contacts in insertion order.
func (s *Selection) Contacts() []models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Contact, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byEmail[k])
	}
	return out
}

// Emails returns the selected addresses in insertion order, as they were
// given on the contacts.
func (s *Selection) Emails() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byEmail[k].Email)
	}
	return out
}

// Len returns the number of selected contacts.
func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Reset empties the selection.
func (s *Selection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byEmail = make(map[string]models.Contact)
}

func (s *Selection) add(key string, c models.Contact) {
	s.byEmail[key] = c
	s.order = append(s.order, key)
}

func (s *Selection) remove(key string) {
	delete(s.byEmail, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
