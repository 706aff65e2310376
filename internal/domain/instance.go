package domain

import (
	"slices"
	"time"
)

// InstanceStatus is the lifecycle status of an entity, relationship or classification.
type InstanceStatus string

const (
	StatusUnknown    InstanceStatus = "UNKNOWN"
	StatusProposed   InstanceStatus = "PROPOSED"
	StatusDraft      InstanceStatus = "DRAFT"
	StatusPrepared   InstanceStatus = "PREPARED"
	StatusActive     InstanceStatus = "ACTIVE"
	StatusDeprecated InstanceStatus = "DEPRECATED"
	StatusOther      InstanceStatus = "OTHER"
	// StatusDeleted is reserved for soft-deleted instances. It can only be
	// reached through a delete operation.
	StatusDeleted InstanceStatus = "DELETED"
)

// InstanceProvenanceType records where an instance came from.
type InstanceProvenanceType string

const (
	ProvenanceUnknown                InstanceProvenanceType = "UNKNOWN"
	ProvenanceLocalCohort            InstanceProvenanceType = "LOCAL_COHORT"
	ProvenanceExportArchive          InstanceProvenanceType = "EXPORT_ARCHIVE"
	ProvenanceContentPack            InstanceProvenanceType = "CONTENT_PACK"
	ProvenanceDeregisteredRepository InstanceProvenanceType = "DEREGISTERED_REPOSITORY"
	ProvenanceConfiguration          InstanceProvenanceType = "CONFIGURATION"
	ProvenanceExternalSource         InstanceProvenanceType = "EXTERNAL_SOURCE"
)

// TypeRef binds an instance to its type definition.
type TypeRef struct {
	GUID string `json:"typeDefGUID" yaml:"guid"`
	Name string `json:"typeDefName" yaml:"name"`
}

// IsZero reports whether neither half of the reference is set.
func (t TypeRef) IsZero() bool {
	return t.GUID == "" && t.Name == ""
}

// MetadataCollection identifies a cooperating repository.
type MetadataCollection struct {
	ID   string `json:"metadataCollectionId"`
	Name string `json:"metadataCollectionName,omitempty"`
}

// InstanceHeader carries the identity, type, status and audit fields shared by
// entities and relationships.
type InstanceHeader struct {
	GUID                   string                 `json:"guid"`
	Type                   TypeRef                `json:"type"`
	Status                 InstanceStatus         `json:"status"`
	StatusOnDelete         InstanceStatus         `json:"statusOnDelete,omitempty"`
	Version                int64                  `json:"version"`
	MetadataCollectionID   string                 `json:"metadataCollectionId"`
	MetadataCollectionName string                 `json:"metadataCollectionName,omitempty"`
	Provenance             InstanceProvenanceType `json:"instanceProvenanceType"`
	CreatedBy              string                 `json:"createdBy"`
	CreateTime             time.Time              `json:"createTime"`
	UpdatedBy              string                 `json:"updatedBy,omitempty"`
	UpdateTime             time.Time              `json:"updateTime"`
	MaintainedBy           []string               `json:"maintainedBy,omitempty"`
}

// IsDeleted reports whether the instance is tombstoned.
func (h InstanceHeader) IsDeleted() bool {
	return h.Status == StatusDeleted
}

// IsHomedIn reports whether the instance is owned by the given metadata collection.
func (h InstanceHeader) IsHomedIn(metadataCollectionID string) bool {
	return h.MetadataCollectionID == metadataCollectionID
}

func (h InstanceHeader) clone() InstanceHeader {
	cp := h
	cp.MaintainedBy = slices.Clone(h.MaintainedBy)
	return cp
}

// Classification is a named, typed property bag attached to an entity.
type Classification struct {
	Name       string             `json:"name"`
	Type       TypeRef            `json:"type"`
	Status     InstanceStatus     `json:"status"`
	Version    int64              `json:"version"`
	Properties InstanceProperties `json:"properties,omitempty"`
	CreatedBy  string             `json:"createdBy"`
	CreateTime time.Time          `json:"createTime"`
	UpdatedBy  string             `json:"updatedBy,omitempty"`
	UpdateTime time.Time          `json:"updateTime"`
}

// Clone returns a deep copy of the classification.
func (c Classification) Clone() Classification {
	cp := c
	cp.Properties = c.Properties.Clone()
	return cp
}

func cloneClassifications(in []Classification) []Classification {
	if in == nil {
		return nil
	}
	out := make([]Classification, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// EntitySummary is the header-level projection of an entity.
type EntitySummary struct {
	InstanceHeader
	Classifications []Classification `json:"classifications,omitempty"`
}

// EntityDetail is the full entity including its property bag.
type EntityDetail struct {
	InstanceHeader
	Properties      InstanceProperties `json:"properties,omitempty"`
	Classifications []Classification   `json:"classifications,omitempty"`
}

// Summary projects the entity without its properties.
func (e EntityDetail) Summary() EntitySummary {
	return EntitySummary{
		InstanceHeader:  e.InstanceHeader.clone(),
		Classifications: cloneClassifications(e.Classifications),
	}
}

// Clone returns a deep copy of the entity.
func (e EntityDetail) Clone() EntityDetail {
	return EntityDetail{
		InstanceHeader:  e.InstanceHeader.clone(),
		Properties:      e.Properties.Clone(),
		Classifications: cloneClassifications(e.Classifications),
	}
}

// WithProperties returns a copy of the entity carrying the given property bag.
func (e EntityDetail) WithProperties(properties InstanceProperties) EntityDetail {
	cp := e.Clone()
	cp.Properties = properties.Clone()
	return cp
}

// Classification returns the named classification if the entity carries it.
func (e EntityDetail) Classification(name string) (Classification, bool) {
	for _, c := range e.Classifications {
		if c.Name == name {
			return c.Clone(), true
		}
	}
	return Classification{}, false
}

// EntityProxy stands in for an entity that is referenced by a relationship
// but may not be held locally.
type EntityProxy struct {
	GUID                 string             `json:"guid"`
	Type                 TypeRef            `json:"type"`
	MetadataCollectionID string             `json:"metadataCollectionId,omitempty"`
	UniqueProperties     InstanceProperties `json:"uniqueProperties,omitempty"`
}

// Clone returns a deep copy of the proxy.
func (p EntityProxy) Clone() EntityProxy {
	cp := p
	cp.UniqueProperties = p.UniqueProperties.Clone()
	return cp
}

// EndOrdinal identifies which end of a relationship a proxy sits on.
type EndOrdinal int

const (
	EndOne EndOrdinal = 1
	EndTwo EndOrdinal = 2
)

// RelationshipEnd is one side of a relationship.
type RelationshipEnd struct {
	Proxy     EntityProxy `json:"proxy"`
	ProxyName string      `json:"proxyName"`
	Ordinal   EndOrdinal  `json:"ordinal"`
}

// Relationship links two entities through their proxies.
type Relationship struct {
	InstanceHeader
	Properties InstanceProperties `json:"properties,omitempty"`
	EndOne     RelationshipEnd    `json:"endOne"`
	EndTwo     RelationshipEnd    `json:"endTwo"`
}

// Clone returns a deep copy of the relationship.
func (r Relationship) Clone() Relationship {
	cp := r
	cp.InstanceHeader = r.InstanceHeader.clone()
	cp.Properties = r.Properties.Clone()
	cp.EndOne.Proxy = r.EndOne.Proxy.Clone()
	cp.EndTwo.Proxy = r.EndTwo.Proxy.Clone()
	return cp
}

// References reports whether either end of the relationship proxies the entity.
func (r Relationship) References(entityGUID string) bool {
	return r.EndOne.Proxy.GUID == entityGUID || r.EndTwo.Proxy.GUID == entityGUID
}

// FarEnd returns the end opposite to the given entity. The boolean is false
// when the relationship does not reference the entity.
func (r Relationship) FarEnd(entityGUID string) (RelationshipEnd, bool) {
	switch entityGUID {
	case r.EndOne.Proxy.GUID:
		return r.EndTwo, true
	case r.EndTwo.Proxy.GUID:
		return r.EndOne, true
	default:
		return RelationshipEnd{}, false
	}
}
