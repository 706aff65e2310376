package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/lifecycle"
)

func (s *Store) classificationDef(op, guid, name string) (domain.TypeDef, error) {
	ref := domain.TypeRef{Name: name}
	def, ok := s.types.Lookup(ref)
	if !ok || def.Category != domain.CategoryClassificationDef {
		return domain.TypeDef{}, domain.TypeError(op, guid, ref, errors.New("not a known classification"))
	}
	return def, nil
}

func newClassification(def domain.TypeDef, properties domain.InstanceProperties, user string, now time.Time) domain.Classification {
	return domain.Classification{
		Name:       def.Name,
		Type:       def.Ref(),
		Status:     def.InitialStatus,
		Version:    1,
		Properties: nonEmpty(properties),
		CreatedBy:  user,
		CreateTime: now,
		UpdatedBy:  user,
		UpdateTime: now,
	}
}

func classificationIndex(entity domain.EntityDetail, name string) int {
	return slices.IndexFunc(entity.Classifications, func(c domain.Classification) bool { return c.Name == name })
}

// ClassifyEntity attaches a classification. The classification type must list
// the entity's type, or one of its supertypes, among its valid entity types.
func (s *Store) ClassifyEntity(ctx context.Context, user, guid, name string, properties domain.InstanceProperties) (domain.EntityDetail, error) {
	const op = "classifyEntity"
	return s.mutateEntity(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error) {
		if err := s.machine.Check(lifecycle.OpClassify, def, rec.Entity.InstanceHeader, ""); err != nil {
			return "", "", err
		}
		classDef, err := s.classificationDef(op, guid, name)
		if err != nil {
			return "", "", err
		}
		if classificationIndex(rec.Entity, classDef.Name) >= 0 {
			return "", "", domain.InvalidParameter(op, "classificationName", "entity is already classified as "+classDef.Name)
		}
		if err := s.validator.ValidateClassification(classDef, def, properties).Err(); err != nil {
			return "", "", domain.TypeError(op, guid, classDef.Ref(), err)
		}
		c := newClassification(classDef, properties, user, s.ledger.Now())
		rec.Entity.Classifications = append(rec.Entity.Classifications, c)
		return domain.EventClassifiedEntity, c.Name, nil
	})
}

// ReclassifyEntity replaces the properties of an attached classification and
// advances its own version.
func (s *Store) ReclassifyEntity(ctx context.Context, user, guid, name string, properties domain.InstanceProperties) (domain.EntityDetail, error) {
	const op = "reclassifyEntity"
	return s.mutateEntity(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error) {
		if err := s.machine.Check(lifecycle.OpReclassify, def, rec.Entity.InstanceHeader, ""); err != nil {
			return "", "", err
		}
		idx := classificationIndex(rec.Entity, name)
		if idx < 0 {
			return "", "", domain.InvalidParameter(op, "classificationName", "entity is not classified as "+name)
		}
		classDef, err := s.classificationDef(op, guid, name)
		if err != nil {
			return "", "", err
		}
		if err := s.validator.ValidateProperties(classDef, properties).Err(); err != nil {
			return "", "", domain.TypeError(op, guid, classDef.Ref(), err)
		}
		c := &rec.Entity.Classifications[idx]
		c.Properties = nonEmpty(properties)
		c.Version++
		c.UpdatedBy = user
		c.UpdateTime = s.ledger.Now()
		return domain.EventReclassifiedEntity, c.Name, nil
	})
}

// DeclassifyEntity removes an attached classification.
func (s *Store) DeclassifyEntity(ctx context.Context, user, guid, name string) (domain.EntityDetail, error) {
	const op = "declassifyEntity"
	return s.mutateEntity(ctx, op, user, guid, func(def domain.TypeDef, rec *domain.EntityRecord) (domain.InstanceEventKind, string, error) {
		if err := s.machine.Check(lifecycle.OpDeclassify, def, rec.Entity.InstanceHeader, ""); err != nil {
			return "", "", err
		}
		idx := classificationIndex(rec.Entity, name)
		if idx < 0 {
			return "", "", domain.InvalidParameter(op, "classificationName", "entity is not classified as "+name)
		}
		rec.Entity.Classifications = slices.Delete(rec.Entity.Classifications, idx, idx+1)
		if len(rec.Entity.Classifications) == 0 {
			rec.Entity.Classifications = nil
		}
		return domain.EventDeclassifiedEntity, name, nil
	})
}
