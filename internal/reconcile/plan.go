// Package reconcile turns an edited group form into the minimal set of
// membership calls against the group's last-known membership.
package reconcile

import "github.com/starford/mailroom/internal/models"

// Plan is the membership change needed to go from one set to another.
type Plan struct {
	ToAdd    []models.ID `json:"toAdd"`
	ToRemove []models.ID `json:"toRemove"`
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// Diff computes ToRemove = original − desired and ToAdd = desired − original.
// IDs keep the order of their first appearance; duplicates collapse.
func Diff(original, desired []models.ID) Plan {
	orig := toSet(original)
	want := toSet(desired)
	return Plan{
		ToAdd:    minus(desired, orig),
		ToRemove: minus(original, want),
	}
}

// Apply returns (original − p.ToRemove) ∪ p.ToAdd, in original order with
// additions appended.
func Apply(original []models.ID, p Plan) []models.ID {
	removed := toSet(p.ToRemove)
	out := make([]models.ID, 0, len(original)+len(p.ToAdd))
	seen := make(map[models.ID]struct{}, len(original)+len(p.ToAdd))
	for _, id := range original {
		if _, gone := removed[id]; gone {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range p.ToAdd {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func toSet(ids []models.ID) map[models.ID]struct{} {
	s := make(map[models.ID]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// minus returns the IDs of from that are not in exclude, deduplicated.
func minus(from []models.ID, exclude map[models.ID]struct{}) []models.ID {
	out := make([]models.ID, 0, len(from))
	seen := make(map[models.ID]struct{})
	for _, id := range from {
		if _, skip := exclude[id]; skip {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
