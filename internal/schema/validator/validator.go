package validator

import (
	"errors"
	"fmt"
	"slices"

	playground "github.com/go-playground/validator/v10"

	"github.com/rpattn/metarepo/internal/domain"
)

// typeDefValidate checks TypeDef struct tags. Initialised in init() with the
// custom status and primitive checks.
var typeDefValidate *playground.Validate

var knownStatuses = []domain.InstanceStatus{
	domain.StatusUnknown,
	domain.StatusProposed,
	domain.StatusDraft,
	domain.StatusPrepared,
	domain.StatusActive,
	domain.StatusDeprecated,
	domain.StatusOther,
	domain.StatusDeleted,
}

func init() {
	typeDefValidate = playground.New()
	_ = typeDefValidate.RegisterValidation("instancestatus", func(fl playground.FieldLevel) bool {
		return slices.Contains(knownStatuses, domain.InstanceStatus(fl.Field().String()))
	})
	_ = typeDefValidate.RegisterValidation("primitivekind", func(fl playground.FieldLevel) bool {
		return domain.PrimitiveKind(fl.Field().String()).IsKnown()
	})
}

// ValidateTypeDef checks a type definition before it enters the registry. All
// problems found are returned joined together.
func ValidateTypeDef(def domain.TypeDef) error {
	var errs []error

	if err := typeDefValidate.Struct(def); err != nil {
		var fieldErrs playground.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Errorf("type %s: field %s failed %s", def.Name, fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, fmt.Errorf("type %s: %w", def.Name, err))
		}
	}

	for _, status := range def.ValidStatuses {
		if err := typeDefValidate.Var(string(status), "instancestatus"); err != nil {
			errs = append(errs, fmt.Errorf("type %s: unknown status %s", def.Name, status))
		}
	}
	if def.InitialStatus == domain.StatusDeleted {
		errs = append(errs, fmt.Errorf("type %s: initial status cannot be DELETED", def.Name))
	} else if def.InitialStatus != "" && !def.IsValidStatus(def.InitialStatus) {
		errs = append(errs, fmt.Errorf("type %s: initial status %s is not a valid status", def.Name, def.InitialStatus))
	}

	errs = append(errs, validateAttributes(def)...)

	switch def.Category {
	case domain.CategoryRelationshipDef:
		for _, ordinal := range []domain.EndOrdinal{domain.EndOne, domain.EndTwo} {
			end := def.EndDef(ordinal)
			if end.EntityType.IsZero() {
				errs = append(errs, fmt.Errorf("type %s: end %d has no entity type", def.Name, ordinal))
			}
			if end.AttributeName == "" {
				errs = append(errs, fmt.Errorf("type %s: end %d has no attribute name", def.Name, ordinal))
			}
		}
		if def.EndOne.AttributeName != "" && def.EndOne.AttributeName == def.EndTwo.AttributeName {
			errs = append(errs, fmt.Errorf("type %s: both ends use attribute name %s", def.Name, def.EndOne.AttributeName))
		}
	case domain.CategoryClassificationDef:
		for _, ref := range def.ValidEntityDefs {
			if ref.IsZero() {
				errs = append(errs, fmt.Errorf("type %s: empty valid entity def", def.Name))
			}
		}
	}

	return errors.Join(errs...)
}

func validateAttributes(def domain.TypeDef) []error {
	var errs []error
	seen := make(map[string]struct{}, len(def.Attributes))
	for _, attr := range def.Attributes {
		if _, dup := seen[attr.Name]; dup {
			errs = append(errs, fmt.Errorf("type %s: attribute %s declared twice", def.Name, attr.Name))
		}
		seen[attr.Name] = struct{}{}

		switch attr.Category {
		case domain.CategoryPrimitive, domain.CategoryArray:
			if err := typeDefValidate.Var(string(attr.Primitive), "primitivekind"); err != nil {
				errs = append(errs, fmt.Errorf("type %s: attribute %s has unknown primitive kind %q", def.Name, attr.Name, attr.Primitive))
			}
		case domain.CategoryMap:
			if err := typeDefValidate.Var(string(attr.MapValue), "primitivekind"); err != nil {
				errs = append(errs, fmt.Errorf("type %s: attribute %s has unknown map value kind %q", def.Name, attr.Name, attr.MapValue))
			}
		case domain.CategoryEnum:
			ordinals := make(map[int]struct{}, len(attr.EnumValues))
			for _, v := range attr.EnumValues {
				if _, dup := ordinals[v.Ordinal]; dup {
					errs = append(errs, fmt.Errorf("type %s: attribute %s repeats enum ordinal %d", def.Name, attr.Name, v.Ordinal))
				}
				ordinals[v.Ordinal] = struct{}{}
			}
		}
		if attr.Unique && attr.Category != domain.CategoryPrimitive {
			errs = append(errs, fmt.Errorf("type %s: unique attribute %s must be a primitive", def.Name, attr.Name))
		}
	}
	return errs
}
