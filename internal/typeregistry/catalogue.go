// Package typeregistry holds the read-only catalogue of type definitions the
// lifecycle engine consults.
package typeregistry

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rpattn/metarepo/internal/domain"
	schemavalidator "github.com/rpattn/metarepo/internal/schema/validator"
)

// Catalogue is an immutable, resolved set of type definitions. Supertype
// chains are flattened so every definition carries its inherited attributes.
type Catalogue struct {
	byGUID map[string]domain.TypeDef
	byName map[string]string
}

// New validates and resolves the definitions into a catalogue.
func New(defs ...domain.TypeDef) (*Catalogue, error) {
	c := &Catalogue{
		byGUID: make(map[string]domain.TypeDef, len(defs)),
		byName: make(map[string]string, len(defs)),
	}

	var errs []error
	for _, def := range defs {
		if err := schemavalidator.ValidateTypeDef(def); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.byGUID[def.GUID]; dup {
			errs = append(errs, fmt.Errorf("type GUID %s declared twice", def.GUID))
			continue
		}
		if _, dup := c.byName[def.Name]; dup {
			errs = append(errs, fmt.Errorf("type name %s declared twice", def.Name))
			continue
		}
		c.byGUID[def.GUID] = def
		c.byName[def.Name] = def.GUID
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	resolved := make(map[string]domain.TypeDef, len(c.byGUID))
	for guid := range c.byGUID {
		def, err := c.resolve(guid, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved[guid] = def
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	c.byGUID = resolved

	if err := c.checkReferences(); err != nil {
		return nil, err
	}
	return c, nil
}

// resolve flattens the supertype chain for one definition.
func (c *Catalogue) resolve(guid string, visiting []string) (domain.TypeDef, error) {
	if slices.Contains(visiting, guid) {
		return domain.TypeDef{}, fmt.Errorf("supertype cycle through %s", strings.Join(append(visiting, guid), " -> "))
	}
	def := c.byGUID[guid]
	if def.SuperType == nil {
		def.SuperTypes = nil
		return def, nil
	}

	superGUID, ok := c.refGUID(*def.SuperType)
	if !ok {
		return domain.TypeDef{}, fmt.Errorf("type %s: supertype %s is not known", def.Name, refLabel(*def.SuperType))
	}
	super, err := c.resolve(superGUID, append(visiting, guid))
	if err != nil {
		return domain.TypeDef{}, err
	}
	if super.Category != def.Category {
		return domain.TypeDef{}, fmt.Errorf("type %s: supertype %s is a %s", def.Name, super.Name, super.Category)
	}

	superRef := super.Ref()
	def.SuperType = &superRef
	def.SuperTypes = append([]domain.TypeRef{superRef}, super.SuperTypes...)

	attrs := make([]domain.AttributeDef, 0, len(super.Attributes)+len(def.Attributes))
	for _, inherited := range super.Attributes {
		if _, overridden := def.Attribute(inherited.Name); !overridden {
			attrs = append(attrs, inherited)
		}
	}
	def.Attributes = append(attrs, def.Attributes...)
	def.OpenProperties = def.OpenProperties || super.OpenProperties
	return def, nil
}

func (c *Catalogue) checkReferences() error {
	var errs []error
	for _, def := range c.All() {
		switch def.Category {
		case domain.CategoryRelationshipDef:
			for _, ordinal := range []domain.EndOrdinal{domain.EndOne, domain.EndTwo} {
				end := def.EndDef(ordinal)
				endType, ok := c.Lookup(end.EntityType)
				if !ok {
					errs = append(errs, fmt.Errorf("type %s: end %d entity type %s is not known", def.Name, ordinal, refLabel(end.EntityType)))
					continue
				}
				if endType.Category != domain.CategoryEntityDef {
					errs = append(errs, fmt.Errorf("type %s: end %d type %s is not an entity", def.Name, ordinal, endType.Name))
					continue
				}
				end.EntityType = endType.Ref()
				if ordinal == domain.EndOne {
					def.EndOne = end
				} else {
					def.EndTwo = end
				}
			}
		case domain.CategoryClassificationDef:
			for i, ref := range def.ValidEntityDefs {
				entityType, ok := c.Lookup(ref)
				if !ok || entityType.Category != domain.CategoryEntityDef {
					errs = append(errs, fmt.Errorf("type %s: valid entity def %s is not a known entity", def.Name, refLabel(ref)))
					continue
				}
				def.ValidEntityDefs[i] = entityType.Ref()
			}
		}
		c.byGUID[def.GUID] = def
	}
	return errors.Join(errs...)
}

func (c *Catalogue) refGUID(ref domain.TypeRef) (string, bool) {
	if ref.GUID != "" {
		def, ok := c.byGUID[ref.GUID]
		if !ok || (ref.Name != "" && def.Name != ref.Name) {
			return "", false
		}
		return ref.GUID, true
	}
	guid, ok := c.byName[ref.Name]
	return guid, ok
}

// Lookup resolves a reference by GUID, by name, or by both. When both halves
// are set they must name the same type.
func (c *Catalogue) Lookup(ref domain.TypeRef) (domain.TypeDef, bool) {
	guid, ok := c.refGUID(ref)
	if !ok {
		return domain.TypeDef{}, false
	}
	return cloneTypeDef(c.byGUID[guid]), true
}

// TypeDefByGUID returns the definition with the given GUID.
func (c *Catalogue) TypeDefByGUID(guid string) (domain.TypeDef, bool) {
	return c.Lookup(domain.TypeRef{GUID: guid})
}

// TypeDefByName returns the definition with the given name.
func (c *Catalogue) TypeDefByName(name string) (domain.TypeDef, bool) {
	return c.Lookup(domain.TypeRef{Name: name})
}

// All returns every definition ordered by category then name.
func (c *Catalogue) All() []domain.TypeDef {
	out := make([]domain.TypeDef, 0, len(c.byGUID))
	for _, def := range c.byGUID {
		out = append(out, cloneTypeDef(def))
	}
	slices.SortFunc(out, func(a, b domain.TypeDef) int {
		if a.Category != b.Category {
			return strings.Compare(string(a.Category), string(b.Category))
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Len returns the number of definitions.
func (c *Catalogue) Len() int {
	return len(c.byGUID)
}

func cloneTypeDef(def domain.TypeDef) domain.TypeDef {
	cp := def
	if def.SuperType != nil {
		super := *def.SuperType
		cp.SuperType = &super
	}
	cp.SuperTypes = slices.Clone(def.SuperTypes)
	cp.ValidStatuses = slices.Clone(def.ValidStatuses)
	cp.ValidEntityDefs = slices.Clone(def.ValidEntityDefs)
	cp.Attributes = make([]domain.AttributeDef, len(def.Attributes))
	for i, attr := range def.Attributes {
		attr.EnumValues = slices.Clone(attr.EnumValues)
		cp.Attributes[i] = attr
	}
	return cp
}

func refLabel(ref domain.TypeRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return ref.GUID
}
