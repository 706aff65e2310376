package repository

import (
	"context"
	"errors"

	"github.com/rpattn/metarepo/internal/domain"
)

var (
	// ErrNotFound is returned when no record is stored under the GUID.
	ErrNotFound = errors.New("repository: record not found")
	// ErrVersionConflict is returned when the stored version is not the one
	// the caller read before mutating.
	ErrVersionConflict = errors.New("repository: version conflict")
	// ErrAlreadyExists is returned when inserting over an existing record.
	ErrAlreadyExists = errors.New("repository: record already exists")
)

// Capabilities describes what a backend can support. The store combines
// these with configuration and per-type flags.
type Capabilities struct {
	SoftDelete bool
	History    bool
}

// EntityRepository stores entity records. Replace and Remove only succeed
// when the stored version equals expectedVersion.
type EntityRepository interface {
	GetEntity(ctx context.Context, guid string) (domain.EntityRecord, error)
	// GetEntities returns the records found, keyed by GUID. Missing GUIDs
	// are omitted.
	GetEntities(ctx context.Context, guids []string) (map[string]domain.EntityRecord, error)
	InsertEntity(ctx context.Context, rec domain.EntityRecord) error
	ReplaceEntity(ctx context.Context, rec domain.EntityRecord, expectedVersion int64) error
	RemoveEntity(ctx context.Context, guid string, expectedVersion int64) error
}

// RelationshipRepository stores relationship records with an index from each
// end's entity GUID.
type RelationshipRepository interface {
	GetRelationship(ctx context.Context, guid string) (domain.RelationshipRecord, error)
	InsertRelationship(ctx context.Context, rec domain.RelationshipRecord) error
	ReplaceRelationship(ctx context.Context, rec domain.RelationshipRecord, expectedVersion int64) error
	RemoveRelationship(ctx context.Context, guid string, expectedVersion int64) error
	// ListRelationshipsForEntity returns every stored relationship, tombstones
	// included, that has the entity at either end.
	ListRelationshipsForEntity(ctx context.Context, entityGUID string) ([]domain.RelationshipRecord, error)
}

// InstanceRepository is the storage contract of the instance store.
type InstanceRepository interface {
	EntityRepository
	RelationshipRepository
	Capabilities() Capabilities
	Close() error
}
