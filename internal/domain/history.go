package domain

import "time"

// PropertySnapshot is a retained copy of an instance's properties as they
// were at a given version.
type PropertySnapshot struct {
	Version    int64              `json:"version"`
	Properties InstanceProperties `json:"properties,omitempty"`
	UpdatedBy  string             `json:"updatedBy,omitempty"`
	UpdateTime time.Time          `json:"updateTime"`
}

// Clone returns a deep copy of the snapshot.
func (s PropertySnapshot) Clone() PropertySnapshot {
	cp := s
	cp.Properties = s.Properties.Clone()
	return cp
}

func cloneSnapshots(in []PropertySnapshot) []PropertySnapshot {
	if in == nil {
		return nil
	}
	out := make([]PropertySnapshot, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// EntityRecord is the unit of storage for an entity: its current state plus
// the retained snapshots, oldest first.
type EntityRecord struct {
	Entity  EntityDetail       `json:"entity"`
	History []PropertySnapshot `json:"history,omitempty"`
}

// Clone returns a deep copy of the record.
func (r EntityRecord) Clone() EntityRecord {
	return EntityRecord{Entity: r.Entity.Clone(), History: cloneSnapshots(r.History)}
}

// GUID returns the entity GUID.
func (r EntityRecord) GUID() string { return r.Entity.GUID }

// RelationshipRecord is the unit of storage for a relationship.
type RelationshipRecord struct {
	Relationship Relationship       `json:"relationship"`
	History      []PropertySnapshot `json:"history,omitempty"`
}

// Clone returns a deep copy of the record.
func (r RelationshipRecord) Clone() RelationshipRecord {
	return RelationshipRecord{Relationship: r.Relationship.Clone(), History: cloneSnapshots(r.History)}
}

// GUID returns the relationship GUID.
func (r RelationshipRecord) GUID() string { return r.Relationship.GUID }
