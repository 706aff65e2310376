package validator

import (
	"strings"
	"testing"

	"github.com/rpattn/metarepo/internal/domain"
)

func validTopic() domain.TypeDef {
	return domain.TypeDef{
		GUID:          "topic-guid",
		Name:          "Topic",
		Category:      domain.CategoryEntityDef,
		Version:       1,
		InitialStatus: domain.StatusActive,
		ValidStatuses: []domain.InstanceStatus{domain.StatusDraft, domain.StatusActive, domain.StatusDeprecated},
		Attributes: []domain.AttributeDef{
			{Name: "qualifiedName", Category: domain.CategoryPrimitive, Primitive: domain.PrimitiveString, Cardinality: domain.CardinalityOneOnly, Unique: true},
			{Name: "topicType", Category: domain.CategoryEnum, EnumValues: []domain.EnumValue{{Ordinal: 0, Symbolic: "Queue"}}},
		},
		SupportsSoftDelete: true,
		SupportsUndo:       true,
	}
}

func TestValidateTypeDef_AcceptsWellFormedEntity(t *testing.T) {
	if err := ValidateTypeDef(validTopic()); err != nil {
		t.Fatalf("expected validation to pass, got error: %v", err)
	}
}

func TestValidateTypeDef_RequiresIdentity(t *testing.T) {
	def := validTopic()
	def.GUID = ""

	err := ValidateTypeDef(def)
	if err == nil || !strings.Contains(err.Error(), "GUID") {
		t.Fatalf("expected missing GUID to be reported, got %v", err)
	}
}

func TestValidateTypeDef_InitialStatusMustBeValid(t *testing.T) {
	def := validTopic()
	def.InitialStatus = domain.StatusProposed

	if err := ValidateTypeDef(def); err == nil {
		t.Fatalf("expected error when initial status is not a valid status")
	}

	def.InitialStatus = domain.StatusDeleted
	def.ValidStatuses = append(def.ValidStatuses, domain.StatusDeleted)
	if err := ValidateTypeDef(def); err == nil {
		t.Fatalf("expected error when initial status is DELETED")
	}
}

func TestValidateTypeDef_RejectsUnknownStatus(t *testing.T) {
	def := validTopic()
	def.ValidStatuses = append(def.ValidStatuses, domain.InstanceStatus("ARCHIVED"))

	if err := ValidateTypeDef(def); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestValidateTypeDef_AttributeChecks(t *testing.T) {
	def := validTopic()
	def.Attributes = append(def.Attributes,
		domain.AttributeDef{Name: "qualifiedName", Category: domain.CategoryPrimitive, Primitive: domain.PrimitiveString},
		domain.AttributeDef{Name: "blob", Category: domain.CategoryPrimitive, Primitive: domain.PrimitiveKind("BLOB")},
	)

	err := ValidateTypeDef(def)
	if err == nil {
		t.Fatalf("expected attribute errors")
	}
	if !strings.Contains(err.Error(), "declared twice") || !strings.Contains(err.Error(), "BLOB") {
		t.Fatalf("expected duplicate and kind errors, got %v", err)
	}
}

func TestValidateTypeDef_EnumRequiresValues(t *testing.T) {
	def := validTopic()
	def.Attributes = []domain.AttributeDef{{Name: "topicType", Category: domain.CategoryEnum}}

	if err := ValidateTypeDef(def); err == nil {
		t.Fatalf("expected enum without values to be rejected")
	}
}

func TestValidateTypeDef_RelationshipEnds(t *testing.T) {
	rel := domain.TypeDef{
		GUID:          "ts-guid",
		Name:          "TopicSubscribers",
		Category:      domain.CategoryRelationshipDef,
		Version:       1,
		InitialStatus: domain.StatusActive,
		ValidStatuses: []domain.InstanceStatus{domain.StatusActive},
		EndOne:        domain.RelationshipEndDef{EntityType: domain.TypeRef{Name: "SubscriberList"}, AttributeName: "subscribers"},
		EndTwo:        domain.RelationshipEndDef{EntityType: domain.TypeRef{Name: "Topic"}, AttributeName: "topics"},
	}
	if err := ValidateTypeDef(rel); err != nil {
		t.Fatalf("expected relationship to validate, got %v", err)
	}

	rel.EndTwo = domain.RelationshipEndDef{}
	if err := ValidateTypeDef(rel); err == nil {
		t.Fatalf("expected missing end two to be rejected")
	}
}
