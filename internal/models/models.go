// Package models defines the domain types for mailroom.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is an opaque server-assigned identifier. The backend emits either JSON
// strings or JSON numbers; both decode into the same textual form. An ID
// whose text is a canonical integer encodes back as a JSON number, any other
// ID as a string.
type ID string

// MarshalJSON writes canonical integers as numbers and everything else as
// strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// numeric reports whether the ID reads back unchanged through int64, so
// "42" and "-7" qualify but "007", "1e3" and "42.0" do not.
func (id ID) numeric() bool {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == string(id)
}

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("models: id must be string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the textual form of the ID.
func (id ID) String() string { return string(id) }

// Contact is a single addressable person.
type Contact struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Group is a named set of contacts.
type Group struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Contacts    []Contact `json:"contacts,omitempty"`
}

// MemberIDs returns the IDs of the group's contacts in listing order.
func (g Group) MemberIDs() []ID {
	out := make([]ID, 0, len(g.Contacts))
	for _, c := range g.Contacts {
		out = append(out, c.ID)
	}
	return out
}

// Template is a reusable email body. Name doubles as the default subject.
type Template struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Profile is the signed-in account as the backend reports it.
type Profile struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	IsGoogleConnected bool   `json:"isGoogleConnected"`
}

// User is the minimal identity kept in the local session.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// NormalizeEmail lower-cases and trims an address for use as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindGroup returns the group with the given ID.
func FindGroup(groups []Group, id ID) (Group, bool) {
	for _, g := range groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}
