package domain

import "slices"

// TypeDefCategory distinguishes entity, relationship and classification types.
type TypeDefCategory string

const (
	CategoryEntityDef         TypeDefCategory = "ENTITY_DEF"
	CategoryRelationshipDef   TypeDefCategory = "RELATIONSHIP_DEF"
	CategoryClassificationDef TypeDefCategory = "CLASSIFICATION_DEF"
)

// Cardinality describes how many values an attribute or relationship end may hold.
type Cardinality string

const (
	CardinalityAtMostOne           Cardinality = "AT_MOST_ONE"
	CardinalityOneOnly             Cardinality = "ONE_ONLY"
	CardinalityAtLeastOneOrdered   Cardinality = "AT_LEAST_ONE_ORDERED"
	CardinalityAtLeastOneUnordered Cardinality = "AT_LEAST_ONE_UNORDERED"
	CardinalityAnyNumberOrdered    Cardinality = "ANY_NUMBER_ORDERED"
	CardinalityAnyNumberUnordered  Cardinality = "ANY_NUMBER_UNORDERED"
)

// IsMandatory reports whether at least one value is required.
func (c Cardinality) IsMandatory() bool {
	switch c {
	case CardinalityOneOnly, CardinalityAtLeastOneOrdered, CardinalityAtLeastOneUnordered:
		return true
	}
	return false
}

// IsMultiValued reports whether the attribute holds an array of values.
func (c Cardinality) IsMultiValued() bool {
	switch c {
	case CardinalityAtLeastOneOrdered, CardinalityAtLeastOneUnordered,
		CardinalityAnyNumberOrdered, CardinalityAnyNumberUnordered:
		return true
	}
	return false
}

// AttributeDef declares one attribute of a type.
type AttributeDef struct {
	Name        string           `json:"name" validate:"required"`
	Description string           `json:"description,omitempty"`
	Category    PropertyCategory `json:"category" validate:"required,oneof=PRIMITIVE ENUM MAP ARRAY"`
	// Primitive is the value kind for PRIMITIVE attributes and the element
	// kind for ARRAY attributes.
	Primitive   PrimitiveKind `json:"primitiveKind,omitempty"`
	EnumValues  []EnumValue   `json:"enumValues,omitempty" validate:"required_if=Category ENUM,dive"`
	MapValue    PrimitiveKind `json:"mapValueKind,omitempty" validate:"required_if=Category MAP"`
	Cardinality Cardinality   `json:"cardinality" validate:"omitempty,oneof=AT_MOST_ONE ONE_ONLY AT_LEAST_ONE_ORDERED AT_LEAST_ONE_UNORDERED ANY_NUMBER_ORDERED ANY_NUMBER_UNORDERED"`
	Unique      bool          `json:"unique,omitempty"`
}

// EnumMember returns the enum value with the given ordinal.
func (a AttributeDef) EnumMember(ordinal int) (EnumValue, bool) {
	for _, v := range a.EnumValues {
		if v.Ordinal == ordinal {
			return v, true
		}
	}
	return EnumValue{}, false
}

// RelationshipEndDef declares one end of a relationship type.
type RelationshipEndDef struct {
	EntityType    TypeRef     `json:"entityType"`
	AttributeName string      `json:"attributeName" validate:"required"`
	Cardinality   Cardinality `json:"cardinality"`
}

// TypeDef is the read-only type metadata consulted by the lifecycle engine.
type TypeDef struct {
	GUID        string          `json:"guid" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	Category    TypeDefCategory `json:"category" validate:"required,oneof=ENTITY_DEF RELATIONSHIP_DEF CLASSIFICATION_DEF"`
	Version     int64           `json:"version" validate:"gte=1"`
	Description string          `json:"description,omitempty"`
	SuperType   *TypeRef        `json:"superType,omitempty"`
	// SuperTypes lists every ancestor, nearest first. It is filled in by the
	// registry when the catalogue is resolved.
	SuperTypes         []TypeRef          `json:"superTypes,omitempty"`
	InitialStatus      InstanceStatus     `json:"initialStatus" validate:"required"`
	ValidStatuses      []InstanceStatus   `json:"validStatuses" validate:"required,min=1"`
	Attributes         []AttributeDef     `json:"attributes,omitempty" validate:"dive"`
	OpenProperties     bool               `json:"openProperties,omitempty"`
	SupportsSoftDelete bool               `json:"supportsSoftDelete"`
	SupportsUndo       bool               `json:"supportsUndo"`
	// End definitions are only meaningful for relationship types and are
	// checked by the schema validator for that category alone.
	EndOne             RelationshipEndDef `json:"endDef1" validate:"-"`
	EndTwo             RelationshipEndDef `json:"endDef2" validate:"-"`
	ValidEntityDefs    []TypeRef          `json:"validEntityDefs,omitempty"`
}

// Ref returns the type reference for instances of this type.
func (t TypeDef) Ref() TypeRef {
	return TypeRef{GUID: t.GUID, Name: t.Name}
}

// Matches reports whether the reference names this type. Either half of the
// reference may be empty but a non-empty half must agree.
func (t TypeDef) Matches(ref TypeRef) bool {
	if ref.IsZero() {
		return false
	}
	if ref.GUID != "" && ref.GUID != t.GUID {
		return false
	}
	if ref.Name != "" && ref.Name != t.Name {
		return false
	}
	return true
}

// IsA reports whether the type is the referenced type or inherits from it.
func (t TypeDef) IsA(ref TypeRef) bool {
	if t.Matches(ref) {
		return true
	}
	if ref.IsZero() {
		return false
	}
	for _, super := range t.SuperTypes {
		if (ref.GUID == "" || ref.GUID == super.GUID) && (ref.Name == "" || ref.Name == super.Name) {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether the status is declared for this type.
func (t TypeDef) IsValidStatus(status InstanceStatus) bool {
	return slices.Contains(t.ValidStatuses, status)
}

// Attribute looks up a declared attribute by name.
func (t TypeDef) Attribute(name string) (AttributeDef, bool) {
	for _, attr := range t.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return AttributeDef{}, false
}

// UniqueAttributes returns the names of attributes flagged unique.
func (t TypeDef) UniqueAttributes() []string {
	var names []string
	for _, attr := range t.Attributes {
		if attr.Unique {
			names = append(names, attr.Name)
		}
	}
	return names
}

// EndDef returns the end definition for the given ordinal.
func (t TypeDef) EndDef(ordinal EndOrdinal) RelationshipEndDef {
	if ordinal == EndTwo {
		return t.EndTwo
	}
	return t.EndOne
}
