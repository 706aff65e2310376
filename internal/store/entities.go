package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/ledger"
	"github.com/rpattn/metarepo/internal/lifecycle"
	"github.com/rpattn/metarepo/internal/repository"
)

// entityChange applies one mutation to a loaded record. It returns the event
// kind to publish and, for classification changes, the classification name.
type entityChange func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error)

// mutateEntity is the read, check, stamp, swap cycle shared by every entity
// mutation. A lost race fails with ConcurrentModification and is not retried.
func (s *Store) mutateEntity(ctx context.Context, op, user, guid string, change entityChange) (domain.EntityDetail, error) {
	var out domain.EntityDetail
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if err != nil {
			return s.entityReadError(op, guid, err)
		}
		if err := s.checkHome(op, rec.Entity.InstanceHeader); err != nil {
			return err
		}
		def, err := s.typeFor(op, rec.Entity.InstanceHeader)
		if err != nil {
			return err
		}

		expected := rec.Entity.Version
		previous := rec.Entity.Status
		kind, classification, err := change(def, &rec)
		if err != nil {
			if errors.Is(err, lifecycle.ErrTombstoned) {
				return domain.EntityNotKnown(op, guid, s.cfg.Collection.ID)
			}
			return relabel(err, op)
		}
		s.ledger.Stamp(&rec.Entity.InstanceHeader, user)

		if err := s.repo.ReplaceEntity(ctx, rec, expected); err != nil {
			return s.entityWriteError(ctx, op, rec.Entity.InstanceHeader, err)
		}
		s.committed(kind, rec.Entity.InstanceHeader, previous, classification, user)
		out = rec.Entity.Clone()
		return nil
	})
	return out, err
}

func (s *Store) entityReadError(op, guid string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.EntityNotKnown(op, guid, s.cfg.Collection.ID)
	}
	return fmt.Errorf("%s: failed to read entity %s: %w", op, guid, err)
}

// entityWriteError translates a failed swap. The current header is re-read so
// the caller learns the version that won.
func (s *Store) entityWriteError(ctx context.Context, op string, h domain.InstanceHeader, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.EntityNotKnown(op, h.GUID, s.cfg.Collection.ID)
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrAlreadyExists):
		current := h
		if rec, rerr := s.repo.GetEntity(ctx, h.GUID); rerr == nil {
			current = rec.Entity.InstanceHeader
		}
		return domain.ConcurrentModification(op, current, err)
	default:
		return fmt.Errorf("%s: failed to write entity %s: %w", op, h.GUID, err)
	}
}

// AddEntity creates a locally homed entity at version 1 in the type's
// initial status. Classifications are optional and are checked like
// ClassifyEntity would check them.
func (s *Store) AddEntity(ctx context.Context, user string, typeRef domain.TypeRef, properties domain.InstanceProperties, classifications ...domain.Classification) (domain.EntityDetail, error) {
	const op = "addEntity"
	var out domain.EntityDetail
	err := s.observe(ctx, op, "", func(ctx context.Context) error {
		def, ok := s.types.Lookup(typeRef)
		if !ok || def.Category != domain.CategoryEntityDef {
			return domain.TypeError(op, "", typeRef, errors.New("not a known entity type"))
		}
		if err := s.validator.ValidateProperties(def, properties).Err(); err != nil {
			return domain.TypeError(op, "", def.Ref(), err)
		}

		now := s.ledger.Now()
		attached := make([]domain.Classification, 0, len(classifications))
		for _, c := range classifications {
			for _, prev := range attached {
				if prev.Name == c.Name {
					return domain.InvalidParameter(op, "classifications", "classification "+c.Name+" is listed twice")
				}
			}
			classDef, err := s.classificationDef(op, "", c.Name)
			if err != nil {
				return err
			}
			if err := s.validator.ValidateClassification(classDef, def, c.Properties).Err(); err != nil {
				return domain.TypeError(op, "", classDef.Ref(), err)
			}
			attached = append(attached, newClassification(classDef, c.Properties, user, now))
		}

		entity := domain.EntityDetail{
			InstanceHeader: domain.InstanceHeader{
				GUID:                   s.newGUID(),
				Type:                   def.Ref(),
				Status:                 def.InitialStatus,
				MetadataCollectionID:   s.cfg.Collection.ID,
				MetadataCollectionName: s.cfg.Collection.Name,
				Provenance:             domain.ProvenanceLocalCohort,
			},
			Properties: nonEmpty(properties),
		}
		if len(attached) > 0 {
			entity.Classifications = attached
		}
		s.ledger.StampNew(&entity.InstanceHeader, user)

		if err := s.repo.InsertEntity(ctx, domain.EntityRecord{Entity: entity}); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return domain.InvalidParameter(op, "guid", "generated GUID "+entity.GUID+" is already in use")
			}
			return fmt.Errorf("%s: failed to insert entity: %w", op, err)
		}
		s.committed(domain.EventNewEntity, entity.InstanceHeader, "", "", user)
		out = entity.Clone()
		return nil
	})
	return out, err
}

// IsEntityKnown returns the stored entity, soft-deleted or not. An unknown
// GUID is reported through the boolean, never as an error.
func (s *Store) IsEntityKnown(ctx context.Context, guid string) (domain.EntityDetail, bool, error) {
	var (
		out   domain.EntityDetail
		known bool
	)
	err := s.observe(ctx, "isEntityKnown", guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("isEntityKnown: failed to read entity %s: %w", guid, err)
		}
		out, known = rec.Entity, true
		return nil
	})
	return out, known, err
}

// GetEntitySummary returns the entity header and classifications. Soft-deleted
// entities are still summarised.
func (s *Store) GetEntitySummary(ctx context.Context, guid string) (domain.EntitySummary, error) {
	const op = "getEntitySummary"
	var out domain.EntitySummary
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if err != nil {
			return s.entityReadError(op, guid, err)
		}
		out = rec.Entity.Summary()
		return nil
	})
	return out, err
}

// GetEntityDetail returns the live entity. Soft-deleted entities are not known.
func (s *Store) GetEntityDetail(ctx context.Context, guid string) (domain.EntityDetail, error) {
	const op = "getEntityDetail"
	var out domain.EntityDetail
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if err != nil {
			return s.entityReadError(op, guid, err)
		}
		if rec.Entity.IsDeleted() {
			return domain.EntityNotKnown(op, guid, s.cfg.Collection.ID)
		}
		out = rec.Entity
		return nil
	})
	return out, err
}

// GetRelationshipsForEntity returns the live relationships with the entity at
// either end. It returns nil when none match, and NotKnown when the GUID is
// neither a stored entity nor the end of a stored relationship.
func (s *Store) GetRelationshipsForEntity(ctx context.Context, guid string, filter domain.RelationshipFilter) ([]domain.Relationship, error) {
	const op = "getRelationshipsForEntity"
	var out []domain.Relationship
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		if filter.FromIndex < 0 {
			return domain.InvalidParameter(op, "fromIndex", "must not be negative")
		}
		if filter.PageSize < 0 {
			return domain.InvalidParameter(op, "pageSize", "must not be negative")
		}
		records, err := s.repo.ListRelationshipsForEntity(ctx, guid)
		if err != nil {
			return fmt.Errorf("%s: failed to list relationships: %w", op, err)
		}
		if len(records) == 0 {
			if _, err := s.repo.GetEntity(ctx, guid); err != nil {
				return s.entityReadError(op, guid, err)
			}
			return nil
		}
		rels := make([]domain.Relationship, len(records))
		for i, rec := range records {
			rels[i] = rec.Relationship
		}
		out = filter.Apply(rels)
		return nil
	})
	return out, err
}

// UpdateEntityStatus moves a live entity to another valid status. DELETED is
// never accepted here.
func (s *Store) UpdateEntityStatus(ctx context.Context, user, guid string, status domain.InstanceStatus) (domain.EntityDetail, error) {
	return s.mutateEntity(ctx, "updateEntityStatus", user, guid, func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error) {
		if err := s.machine.Apply(lifecycle.OpUpdateStatus, def, &rec.Entity.InstanceHeader, status); err != nil {
			return "", "", err
		}
		return domain.EventUpdatedEntity, "", nil
	})
}

// UpdateEntityProperties replaces the whole property bag. An empty bag clears
// every property. The previous bag is retained for undo.
func (s *Store) UpdateEntityProperties(ctx context.Context, user, guid string, properties domain.InstanceProperties) (domain.EntityDetail, error) {
	const op = "updateEntityProperties"
	return s.mutateEntity(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error) {
		h := rec.Entity.InstanceHeader
		if err := s.machine.Check(lifecycle.OpUpdateProperties, def, h, ""); err != nil {
			return "", "", err
		}
		if err := s.validator.ValidateProperties(def, properties).Err(); err != nil {
			return "", "", domain.TypeError(op, guid, def.Ref(), err)
		}
		rec.History = s.ledger.Retain(rec.History, s.ledger.Snapshot(h, rec.Entity.Properties))
		rec.Entity.Properties = nonEmpty(properties)
		return domain.EventUpdatedEntity, "", nil
	})
}

// UndoEntityUpdate restores the most recently retained property bag as a new
// version.
func (s *Store) UndoEntityUpdate(ctx context.Context, user, guid string) (domain.EntityDetail, error) {
	const op = "undoEntityUpdate"
	return s.mutateEntity(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error) {
		h := rec.Entity.InstanceHeader
		if err := s.machine.Check(lifecycle.OpUndo, def, h, ""); err != nil {
			return "", "", err
		}
		snap, rest, err := s.undo(op, h, rec.History)
		if err != nil {
			return "", "", err
		}
		rec.Entity.Properties = snap.Properties
		rec.History = rest
		return domain.EventUndoneEntity, "", nil
	})
}

func (s *Store) undo(op string, h domain.InstanceHeader, history []domain.PropertySnapshot) (domain.PropertySnapshot, []domain.PropertySnapshot, error) {
	snap, rest, err := s.ledger.Undo(history)
	switch {
	case errors.Is(err, ledger.ErrHistoryDisabled):
		return snap, nil, domain.FunctionNotSupported(op, h)
	case errors.Is(err, ledger.ErrNoSnapshot):
		return snap, nil, domain.InvalidTransition(op, h)
	}
	return snap, rest, err
}

// DeleteEntity soft-deletes the entity. typeRef, when set, must match the
// stored type. Relationships that proxy the entity are left untouched.
func (s *Store) DeleteEntity(ctx context.Context, user, guid string, typeRef domain.TypeRef) (domain.EntityDetail, error) {
	const op = "deleteEntity"
	return s.mutateEntity(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error) {
		if err := s.machine.Check(lifecycle.OpDelete, def, rec.Entity.InstanceHeader, ""); err != nil {
			return "", "", err
		}
		if err := checkExpectedType(op, def, typeRef); err != nil {
			return "", "", err
		}
		if err := s.machine.Apply(lifecycle.OpDelete, def, &rec.Entity.InstanceHeader, ""); err != nil {
			return "", "", err
		}
		return domain.EventDeletedEntity, "", nil
	})
}

// RestoreEntity brings a soft-deleted entity back in the status it held
// before the delete.
func (s *Store) RestoreEntity(ctx context.Context, user, guid string) (domain.EntityDetail, error) {
	return s.mutateEntity(ctx, "restoreEntity", user, guid, func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error) {
		if err := s.machine.Apply(lifecycle.OpRestore, def, &rec.Entity.InstanceHeader, ""); err != nil {
			return "", "", err
		}
		return domain.EventRestoredEntity, "", nil
	})
}

// PurgeEntity removes the entity for good. It must be soft-deleted first
// unless soft delete is unavailable for its type.
func (s *Store) PurgeEntity(ctx context.Context, user, guid string, typeRef domain.TypeRef) error {
	const op = "purgeEntity"
	return s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if err != nil {
			return s.entityReadError(op, guid, err)
		}
		h := rec.Entity.InstanceHeader
		if err := s.checkHome(op, h); err != nil {
			return err
		}
		def, err := s.typeFor(op, h)
		if err != nil {
			return err
		}
		if err := checkExpectedType(op, def, typeRef); err != nil {
			return err
		}
		if err := s.machine.Check(lifecycle.OpPurge, def, h, ""); err != nil {
			return relabel(err, op)
		}
		if err := s.repo.RemoveEntity(ctx, guid, h.Version); err != nil {
			return s.entityWriteError(ctx, op, h, err)
		}
		s.committed(domain.EventPurgedEntity, h, h.Status, "", user)
		return nil
	})
}

func nonEmpty(properties domain.InstanceProperties) domain.InstanceProperties {
	if len(properties) == 0 {
		return nil
	}
	return properties.Clone()
}
