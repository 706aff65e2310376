package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/lifecycle"
	"github.com/rpattn/metarepo/internal/repository"
)

type relationshipChange func(def domain.TypeDef, rec *domain.RelationshipRecord) (domain.InstanceEventKind, error)

func (s *Store) mutateRelationship(ctx context.Context, op, user, guid string, change relationshipChange) (domain.Relationship, error) {
	var out domain.Relationship
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetRelationship(ctx, guid)
		if err != nil {
			return s.relationshipReadError(op, guid, err)
		}
		if err := s.checkHome(op, rec.Relationship.InstanceHeader); err != nil {
			return err
		}
		def, err := s.typeFor(op, rec.Relationship.InstanceHeader)
		if err != nil {
			return err
		}

		expected := rec.Relationship.Version
		previous := rec.Relationship.Status
		kind, err := change(def, &rec)
		if err != nil {
			if errors.Is(err, lifecycle.ErrTombstoned) {
				return domain.RelationshipNotKnown(op, guid, s.cfg.Collection.ID)
			}
			return relabel(err, op)
		}
		s.ledger.Stamp(&rec.Relationship.InstanceHeader, user)

		if err := s.repo.ReplaceRelationship(ctx, rec, expected); err != nil {
			return s.relationshipWriteError(ctx, op, rec.Relationship.InstanceHeader, err)
		}
		s.committed(kind, rec.Relationship.InstanceHeader, previous, "", user)
		out = rec.Relationship.Clone()
		return nil
	})
	return out, err
}

func (s *Store) relationshipReadError(op, guid string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.RelationshipNotKnown(op, guid, s.cfg.Collection.ID)
	}
	return fmt.Errorf("%s: failed to read relationship %s: %w", op, guid, err)
}

func (s *Store) relationshipWriteError(ctx context.Context, op string, h domain.InstanceHeader, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.RelationshipNotKnown(op, h.GUID, s.cfg.Collection.ID)
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrAlreadyExists):
		current := h
		if rec, rerr := s.repo.GetRelationship(ctx, h.GUID); rerr == nil {
			current = rec.Relationship.InstanceHeader
		}
		return domain.ConcurrentModification(op, current, err)
	default:
		return fmt.Errorf("%s: failed to write relationship %s: %w", op, h.GUID, err)
	}
}

// ProxyFor builds a proxy for a live local entity, carrying the values of the
// attributes its type marks unique.
func (s *Store) ProxyFor(ctx context.Context, guid string) (domain.EntityProxy, error) {
	const op = "proxyFor"
	var out domain.EntityProxy
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if err != nil {
			return s.entityReadError(op, guid, err)
		}
		if rec.Entity.IsDeleted() {
			return domain.EntityNotKnown(op, guid, s.cfg.Collection.ID)
		}
		def, err := s.typeFor(op, rec.Entity.InstanceHeader)
		if err != nil {
			return err
		}
		out = proxyOf(def, rec.Entity)
		return nil
	})
	return out, err
}

func proxyOf(def domain.TypeDef, entity domain.EntityDetail) domain.EntityProxy {
	proxy := domain.EntityProxy{
		GUID:                 entity.GUID,
		Type:                 entity.Type,
		MetadataCollectionID: entity.MetadataCollectionID,
	}
	for _, name := range def.UniqueAttributes() {
		v, ok := entity.Properties[name]
		if !ok {
			continue
		}
		if proxy.UniqueProperties == nil {
			proxy.UniqueProperties = domain.InstanceProperties{}
		}
		proxy.UniqueProperties[name] = v.Clone()
	}
	return proxy
}

// AddRelationship creates a locally homed relationship between two proxies.
// The ends need not be held locally but their types must match the
// relationship's declared end types.
func (s *Store) AddRelationship(ctx context.Context, user string, typeRef domain.TypeRef, properties domain.InstanceProperties, endOne, endTwo domain.EntityProxy) (domain.Relationship, error) {
	const op = "addRelationship"
	var out domain.Relationship
	err := s.observe(ctx, op, "", func(ctx context.Context) error {
		def, ok := s.types.Lookup(typeRef)
		if !ok || def.Category != domain.CategoryRelationshipDef {
			return domain.TypeError(op, "", typeRef, errors.New("not a known relationship type"))
		}
		if err := s.validator.ValidateProperties(def, properties).Err(); err != nil {
			return domain.TypeError(op, "", def.Ref(), err)
		}
		if err := s.validator.ValidateRelationshipEnds(def, s.types, endOne, endTwo).Err(); err != nil {
			return domain.TypeError(op, "", def.Ref(), err)
		}

		rel := domain.Relationship{
			InstanceHeader: domain.InstanceHeader{
				GUID:                   s.newGUID(),
				Type:                   def.Ref(),
				Status:                 def.InitialStatus,
				MetadataCollectionID:   s.cfg.Collection.ID,
				MetadataCollectionName: s.cfg.Collection.Name,
				Provenance:             domain.ProvenanceLocalCohort,
			},
			Properties: nonEmpty(properties),
			EndOne:     domain.RelationshipEnd{Proxy: endOne.Clone(), ProxyName: def.EndOne.AttributeName, Ordinal: domain.EndOne},
			EndTwo:     domain.RelationshipEnd{Proxy: endTwo.Clone(), ProxyName: def.EndTwo.AttributeName, Ordinal: domain.EndTwo},
		}
		s.ledger.StampNew(&rel.InstanceHeader, user)

		if err := s.repo.InsertRelationship(ctx, domain.RelationshipRecord{Relationship: rel}); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return domain.InvalidParameter(op, "guid", "generated GUID "+rel.GUID+" is already in use")
			}
			return fmt.Errorf("%s: failed to insert relationship: %w", op, err)
		}
		s.committed(domain.EventNewRelationship, rel.InstanceHeader, "", "", user)
		out = rel.Clone()
		return nil
	})
	return out, err
}

// IsRelationshipKnown returns the stored relationship, soft-deleted or not.
func (s *Store) IsRelationshipKnown(ctx context.Context, guid string) (domain.Relationship, bool, error) {
	var (
		out   domain.Relationship
		known bool
	)
	err := s.observe(ctx, "isRelationshipKnown", guid, func(ctx context.Context) error {
		rec, err := s.repo.GetRelationship(ctx, guid)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("isRelationshipKnown: failed to read relationship %s: %w", guid, err)
		}
		out, known = rec.Relationship, true
		return nil
	})
	return out, known, err
}

// GetRelationship returns the live relationship. Soft-deleted relationships
// are not known.
func (s *Store) GetRelationship(ctx context.Context, guid string) (domain.Relationship, error) {
	const op = "getRelationship"
	var out domain.Relationship
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetRelationship(ctx, guid)
		if err != nil {
			return s.relationshipReadError(op, guid, err)
		}
		if rec.Relationship.IsDeleted() {
			return domain.RelationshipNotKnown(op, guid, s.cfg.Collection.ID)
		}
		out = rec.Relationship
		return nil
	})
	return out, err
}

func (s *Store) UpdateRelationshipStatus(ctx context.Context, user, guid string, status domain.InstanceStatus) (domain.Relationship, error) {
	return s.mutateRelationship(ctx, "updateRelationshipStatus", user, guid, func(def domain.TypeDef, rec *domain.RelationshipRecord) (domain.InstanceEventKind, error) {
		if err := s.machine.Apply(lifecycle.OpUpdateStatus, def, &rec.Relationship.InstanceHeader, status); err != nil {
			return "", err
		}
		return domain.EventUpdatedRelationship, nil
	})
}

func (s *Store) UpdateRelationshipProperties(ctx context.Context, user, guid string, properties domain.InstanceProperties) (domain.Relationship, error) {
	const op = "updateRelationshipProperties"
	return s.mutateRelationship(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.RelationshipRecord) (domain.InstanceEventKind, error) {
		h := rec.Relationship.InstanceHeader
		if err := s.machine.Check(lifecycle.OpUpdateProperties, def, h, ""); err != nil {
			return "", err
		}
		if err := s.validator.ValidateProperties(def, properties).Err(); err != nil {
			return "", domain.TypeError(op, guid, def.Ref(), err)
		}
		rec.History = s.ledger.Retain(rec.History, s.ledger.Snapshot(h, rec.Relationship.Properties))
		rec.Relationship.Properties = nonEmpty(properties)
		return domain.EventUpdatedRelationship, nil
	})
}

func (s *Store) UndoRelationshipUpdate(ctx context.Context, user, guid string) (domain.Relationship, error) {
	const op = "undoRelationshipUpdate"
	return s.mutateRelationship(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.RelationshipRecord) (domain.InstanceEventKind, error) {
		h := rec.Relationship.InstanceHeader
		if err := s.machine.Check(lifecycle.OpUndo, def, h, ""); err != nil {
			return "", err
		}
		snap, rest, err := s.undo(op, h, rec.History)
		if err != nil {
			return "", err
		}
		rec.Relationship.Properties = snap.Properties
		rec.History = rest
		return domain.EventUndoneRelationship, nil
	})
}

func (s *Store) DeleteRelationship(ctx context.Context, user, guid string, typeRef domain.TypeRef) (domain.Relationship, error) {
	const op = "deleteRelationship"
	return s.mutateRelationship(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.RelationshipRecord) (domain.InstanceEventKind, error) {
		if err := s.machine.Check(lifecycle.OpDelete, def, rec.Relationship.InstanceHeader, ""); err != nil {
			return "", err
		}
		if err := checkExpectedType(op, def, typeRef); err != nil {
			return "", err
		}
		if err := s.machine.Apply(lifecycle.OpDelete, def, &rec.Relationship.InstanceHeader, ""); err != nil {
			return "", err
		}
		return domain.EventDeletedRelationship, nil
	})
}

func (s *Store) RestoreRelationship(ctx context.Context, user, guid string) (domain.Relationship, error) {
	return s.mutateRelationship(ctx, "restoreRelationship", user, guid, func(def domain.TypeDef, rec *domain.RelationshipRecord) (domain.InstanceEventKind, error) {
		if err := s.machine.Apply(lifecycle.OpRestore, def, &rec.Relationship.InstanceHeader, ""); err != nil {
			return "", err
		}
		return domain.EventRestoredRelationship, nil
	})
}

func (s *Store) PurgeRelationship(ctx context.Context, user, guid string, typeRef domain.TypeRef) error {
	const op = "purgeRelationship"
	return s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetRelationship(ctx, guid)
		if err != nil {
			return s.relationshipReadError(op, guid, err)
		}
		h := rec.Relationship.InstanceHeader
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
		if err := s.repo.RemoveRelationship(ctx, guid, h.Version); err != nil {
			return s.relationshipWriteError(ctx, op, h, err)
		}
		s.committed(domain.EventPurgedRelationship, h, h.Status, "", user)
		return nil
	})
}
