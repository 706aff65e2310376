package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/repository"
)

// checkCopyHeader validates the identity fields of an incoming reference copy.
func (s *Store) checkCopyHeader(op string, h domain.InstanceHeader) error {
	switch {
	case h.GUID == "":
		return domain.InvalidParameter(op, "guid", "reference copy has no GUID")
	case h.MetadataCollectionID == "":
		return domain.InvalidParameter(op, "metadataCollectionId", "reference copy has no home metadata collection")
	case h.IsHomedIn(s.cfg.Collection.ID):
		return domain.InvalidParameter(op, "metadataCollectionId", "reference copies must be homed in another metadata collection")
	case h.Version < 1:
		return domain.InvalidParameter(op, "version", "reference copy version must be at least 1")
	}
	return nil
}

// checkCopyReplace decides whether an incoming copy may replace the stored one.
func (s *Store) checkCopyReplace(op string, stored, incoming domain.InstanceHeader) error {
	if !stored.IsHomedIn(incoming.MetadataCollectionID) {
		return domain.NotHome(op, stored, incoming.MetadataCollectionID)
	}
	if incoming.Version > stored.Version || (!s.cfg.StrictReferenceCopies && incoming.Version == stored.Version) {
		return nil
	}
	return domain.InvalidParameter(op, "version",
		fmt.Sprintf("reference copy version %d is not newer than stored version %d", incoming.Version, stored.Version))
}

// SaveEntityReferenceCopy stores or refreshes a copy of an entity homed in
// another metadata collection. Its version and provenance are kept as sent.
func (s *Store) SaveEntityReferenceCopy(ctx context.Context, user string, entity domain.EntityDetail) error {
	const op = "saveEntityReferenceCopy"
	return s.observe(ctx, op, entity.GUID, func(ctx context.Context) error {
		if err := s.checkCopyHeader(op, entity.InstanceHeader); err != nil {
			return err
		}
		def, ok := s.types.Lookup(entity.Type)
		if !ok || def.Category != domain.CategoryEntityDef {
			return domain.TypeError(op, entity.GUID, entity.Type, errors.New("not a known entity type"))
		}
		if err := s.validator.ValidateProperties(def, entity.Properties).Err(); err != nil {
			return domain.TypeError(op, entity.GUID, def.Ref(), err)
		}

		rec := domain.EntityRecord{Entity: entity.Clone()}
		stored, err := s.repo.GetEntity(ctx, entity.GUID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if err := s.repo.InsertEntity(ctx, rec); err != nil {
				return s.entityWriteError(ctx, op, entity.InstanceHeader, err)
			}
		case err != nil:
			return s.entityReadError(op, entity.GUID, err)
		default:
			if err := s.checkCopyReplace(op, stored.Entity.InstanceHeader, entity.InstanceHeader); err != nil {
				return err
			}
			if err := s.repo.ReplaceEntity(ctx, rec, stored.Entity.Version); err != nil {
				return s.entityWriteError(ctx, op, entity.InstanceHeader, err)
			}
		}
		s.committed(domain.EventEntityReferenceCopySaved, entity.InstanceHeader, "", "", user)
		return nil
	})
}

// PurgeEntityReferenceCopy removes a reference copy. Locally homed entities
// are purged through PurgeEntity instead.
func (s *Store) PurgeEntityReferenceCopy(ctx context.Context, user, guid string) error {
	const op = "purgeEntityReferenceCopy"
	return s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if err != nil {
			return s.entityReadError(op, guid, err)
		}
		h := rec.Entity.InstanceHeader
		if h.IsHomedIn(s.cfg.Collection.ID) {
			return domain.InvalidParameter(op, "guid", "entity "+guid+" is homed locally and is not a reference copy")
		}
		if err := s.repo.RemoveEntity(ctx, guid, h.Version); err != nil {
			return s.entityWriteError(ctx, op, h, err)
		}
		s.committed(domain.EventEntityReferenceCopyPurged, h, h.Status, "", user)
		return nil
	})
}

// SaveRelationshipReferenceCopy stores or refreshes a copy of a relationship
// homed in another metadata collection.
func (s *Store) SaveRelationshipReferenceCopy(ctx context.Context, user string, rel domain.Relationship) error {
	const op = "saveRelationshipReferenceCopy"
	return s.observe(ctx, op, rel.GUID, func(ctx context.Context) error {
		if err := s.checkCopyHeader(op, rel.InstanceHeader); err != nil {
			return err
		}
		def, ok := s.types.Lookup(rel.Type)
		if !ok || def.Category != domain.CategoryRelationshipDef {
			return domain.TypeError(op, rel.GUID, rel.Type, errors.New("not a known relationship type"))
		}
		if err := s.validator.ValidateProperties(def, rel.Properties).Err(); err != nil {
			return domain.TypeError(op, rel.GUID, def.Ref(), err)
		}
		if err := s.validator.ValidateRelationshipEnds(def, s.types, rel.EndOne.Proxy, rel.EndTwo.Proxy).Err(); err != nil {
			return domain.TypeError(op, rel.GUID, def.Ref(), err)
		}

		rec := domain.RelationshipRecord{Relationship: rel.Clone()}
		stored, err := s.repo.GetRelationship(ctx, rel.GUID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if err := s.repo.InsertRelationship(ctx, rec); err != nil {
				return s.relationshipWriteError(ctx, op, rel.InstanceHeader, err)
			}
		case err != nil:
			return s.relationshipReadError(op, rel.GUID, err)
		default:
			if err := s.checkCopyReplace(op, stored.Relationship.InstanceHeader, rel.InstanceHeader); err != nil {
				return err
			}
			if err := s.repo.ReplaceRelationship(ctx, rec, stored.Relationship.Version); err != nil {
				return s.relationshipWriteError(ctx, op, rel.InstanceHeader, err)
			}
		}
		s.committed(domain.EventRelationshipReferenceCopySaved, rel.InstanceHeader, "", "", user)
		return nil
	})
}

// PurgeRelationshipReferenceCopy removes a relationship reference copy.
func (s *Store) PurgeRelationshipReferenceCopy(ctx context.Context, user, guid string) error {
	const op = "purgeRelationshipReferenceCopy"
	return s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetRelationship(ctx, guid)
		if err != nil {
			return s.relationshipReadError(op, guid, err)
		}
		h := rec.Relationship.InstanceHeader
		if h.IsHomedIn(s.cfg.Collection.ID) {
			return domain.InvalidParameter(op, "guid", "relationship "+guid+" is homed locally and is not a reference copy")
		}
		if err := s.repo.RemoveRelationship(ctx, guid, h.Version); err != nil {
			return s.relationshipWriteError(ctx, op, h, err)
		}
		s.committed(domain.EventRelationshipReferenceCopyPurged, h, h.Status, "", user)
		return nil
	})
}
