package recipients

import (
	"reflect"
	"testing"

	"github.com/starford/mailroom/internal/models"
)

var (
	ann = models.Contact{ID: "1", Name: "Ann", Email: "ann@example.com"}
	bob = models.Contact{ID: "2", Name: "Bob", Email: "bob@example.com"}
	cat = models.Contact{ID: "3", Name: "Cat", Email: "cat@example.com"}
	dan = models.Contact{ID: "4", Name: "Dan", Email: "dan@example.com"}
)

func TestToggleContactTwiceRestores(t *testing.T) {
	s := NewSelection()
	s.ToggleContact(ann)
	before := s.Emails()

	if !s.ToggleContact(bob) {
		t.Error("first toggle should select")
	}
	if s.ToggleContact(bob) {
		t.Error("second toggle should deselect")
	}
	if got := s.Emails(); !reflect.DeepEqual(got, before) {
		t.Errorf("emails = %v, want %v", got, before)
	}
}

func TestToggleContactKeyedByEmail(t *testing.T) {
	s := NewSelection()
	s.ToggleContact(ann)
	dup := models.Contact{ID: "99", Name: "Ann again", Email: "  ANN@example.com"}
	if s.ToggleContact(dup) {
		t.Error("same email with other ID should toggle off")
	}
	if s.Len() != 0 {
		t.Errorf("len = %d", s.Len())
	}
}

func TestToggleContactWithoutEmailIgnored(t *testing.T) {
	s := NewSelection()
	if s.ToggleContact(models.Contact{ID: "x"}) || s.Len() != 0 {
		t.Error("contact without email selected")
	}
}

func TestToggleGroupAllOrNothing(t *testing.T) {
	s := NewSelection()
	g := models.Group{ID: "g", Contacts: []models.Contact{ann, bob, cat}}

	s.ToggleContact(ann)
	added, removed := s.ToggleGroup(g)
	if added != 0 || removed != 1 {
		t.Errorf("added=%d removed=%d", added, removed)
	}
	if s.Len() != 0 {
		t.Errorf("selection = %v, want empty", s.Emails())
	}
}

func TestToggleGroupAddsMissing(t *testing.T) {
	s := NewSelection()
	s.ToggleContact(dan)
	g := models.Group{ID: "g", Contacts: []models.Contact{ann, bob}}

	added, _ := s.ToggleGroup(g)
	if added != 2 {
		t.Errorf("added = %d", added)
	}
	want := []string{dan.Email, ann.Email, bob.Email}
	if got := s.Emails(); !reflect.DeepEqual(got, want) {
		t.Errorf("emails = %v, want %v", got, want)
	}

	// A second toggle removes the group members but keeps the outsider.
	s.ToggleGroup(g)
	if got := s.Emails(); !reflect.DeepEqual(got, []string{dan.Email}) {
		t.Errorf("emails = %v", got)
	}
}

func TestToggleGroupRemovesManualPick(t *testing.T) {
	s := NewSelection()
	g := models.Group{ID: "g", Contacts: []models.Contact{ann, bob, cat}}
	s.ToggleGroup(g)
	s.ToggleContact(bob)
	s.ToggleContact(bob)

	s.ToggleGroup(g)
	if s.Len() != 0 {
		t.Errorf("selection = %v, want empty", s.Emails())
	}
}

func TestToggleEmptyGroupNoop(t *testing.T) {
	s := NewSelection()
	s.ToggleContact(ann)
	added, removed := s.ToggleGroup(models.Group{ID: "empty"})
	if added != 0 || removed != 0 || s.Len() != 1 {
		t.Errorf("added=%d removed=%d len=%d", added, removed, s.Len())
	}
}

func TestGroupOverlapDeduplicates(t *testing.T) {
	s := NewSelection()
	s.ToggleGroup(models.Group{ID: "a", Contacts: []models.Contact{ann, bob}})
	s.ToggleGroup(models.Group{ID: "b", Contacts: []models.Contact{cat, dan}})
	if s.Len() != 4 {
		t.Errorf("len = %d", s.Len())
	}
	if !s.Contains("CAT@example.com") {
		t.Error("Contains should normalize")
	}
	s.Reset()
	if s.Len() != 0 || len(s.Contacts()) != 0 {
		t.Error("reset left contacts")
	}
}
