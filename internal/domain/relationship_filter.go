package domain

import (
	"slices"
	"strings"
)

// RelationshipFilter narrows the relationships returned for an entity.
type RelationshipFilter struct {
	// TypeGUID limits results to one relationship type when set.
	TypeGUID string
	// Statuses limits results to the listed statuses when non-empty.
	Statuses  []InstanceStatus
	FromIndex int
	// PageSize of zero means no limit.
	PageSize int
}

// Matches reports whether a relationship passes the type and status filters.
// Tombstoned relationships never match.
func (f RelationshipFilter) Matches(rel Relationship) bool {
	if rel.IsDeleted() {
		return false
	}
	if f.TypeGUID != "" && rel.Type.GUID != f.TypeGUID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, rel.Status) {
		return false
	}
	return true
}

// Apply filters, orders and pages the relationships. It returns nil when
// nothing remains.
func (f RelationshipFilter) Apply(rels []Relationship) []Relationship {
	var matched []Relationship
	for _, rel := range rels {
		if f.Matches(rel) {
			matched = append(matched, rel)
		}
	}
	slices.SortFunc(matched, func(a, b Relationship) int {
		if c := a.CreateTime.Compare(b.CreateTime); c != 0 {
			return c
		}
		return strings.Compare(a.GUID, b.GUID)
	})
	if f.FromIndex > 0 {
		if f.FromIndex >= len(matched) {
			return nil
		}
		matched = matched[f.FromIndex:]
	}
	if f.PageSize > 0 && len(matched) > f.PageSize {
		matched = matched[:f.PageSize]
	}
	if len(matched) == 0 {
		return nil
	}
	return matched
}
