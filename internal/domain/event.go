package domain

import "time"

// InstanceEventKind names the change an event reports.
type InstanceEventKind string

const (
	EventNewEntity                       InstanceEventKind = "NEW_ENTITY"
	EventUpdatedEntity                   InstanceEventKind = "UPDATED_ENTITY"
	EventUndoneEntity                    InstanceEventKind = "UNDONE_ENTITY"
	EventDeletedEntity                   InstanceEventKind = "DELETED_ENTITY"
	EventRestoredEntity                  InstanceEventKind = "RESTORED_ENTITY"
	EventPurgedEntity                    InstanceEventKind = "PURGED_ENTITY"
	EventClassifiedEntity                InstanceEventKind = "CLASSIFIED_ENTITY"
	EventReclassifiedEntity              InstanceEventKind = "RECLASSIFIED_ENTITY"
	EventDeclassifiedEntity              InstanceEventKind = "DECLASSIFIED_ENTITY"
	EventEntityReferenceCopySaved        InstanceEventKind = "ENTITY_REFERENCE_COPY_SAVED"
	EventEntityReferenceCopyPurged       InstanceEventKind = "ENTITY_REFERENCE_COPY_PURGED"
	EventNewRelationship                 InstanceEventKind = "NEW_RELATIONSHIP"
	EventUpdatedRelationship             InstanceEventKind = "UPDATED_RELATIONSHIP"
	EventUndoneRelationship              InstanceEventKind = "UNDONE_RELATIONSHIP"
	EventDeletedRelationship             InstanceEventKind = "DELETED_RELATIONSHIP"
	EventRestoredRelationship            InstanceEventKind = "RESTORED_RELATIONSHIP"
	EventPurgedRelationship              InstanceEventKind = "PURGED_RELATIONSHIP"
	EventRelationshipReferenceCopySaved  InstanceEventKind = "RELATIONSHIP_REFERENCE_COPY_SAVED"
	EventRelationshipReferenceCopyPurged InstanceEventKind = "RELATIONSHIP_REFERENCE_COPY_PURGED"
)

// InstanceEvent is published after every committed change.
type InstanceEvent struct {
	Kind                 InstanceEventKind `json:"kind"`
	GUID                 string            `json:"guid"`
	Type                 TypeRef           `json:"type"`
	Version              int64             `json:"version"`
	Status               InstanceStatus    `json:"status"`
	PreviousStatus       InstanceStatus    `json:"previousStatus,omitempty"`
	MetadataCollectionID string            `json:"metadataCollectionId"`
	Classification       string            `json:"classification,omitempty"`
	User                 string            `json:"user"`
	Time                 time.Time         `json:"time"`
}

// IsEntityEvent reports whether the event concerns an entity.
func (e InstanceEvent) IsEntityEvent() bool {
	switch e.Kind {
	case EventNewRelationship, EventUpdatedRelationship, EventUndoneRelationship,
		EventDeletedRelationship, EventRestoredRelationship, EventPurgedRelationship,
		EventRelationshipReferenceCopySaved, EventRelationshipReferenceCopyPurged:
		return false
	}
	return true
}
