package cache

import "github.com/starford/mailroom/internal/models"

// Key names a cached collection.
type Key string

const (
	KeyContacts    Key = "contacts"
	KeyGroups      Key = "groups"
	KeyTemplates   Key = "templates"
	KeyUserProfile Key = "userProfile"

	// GroupContactsPrefix prefixes every per-group membership key.
	GroupContactsPrefix = "groupContacts/"
)

// GroupContacts is the membership key of one group.
func GroupContacts(id models.ID) Key {
	return Key(GroupContactsPrefix + string(id))
}
