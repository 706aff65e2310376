package validator

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rpattn/metarepo/internal/domain"
)

// TypeLookup resolves type references to their definitions.
type TypeLookup interface {
	Lookup(ref domain.TypeRef) (domain.TypeDef, bool)
}

// ConformanceValidator checks instance payloads against type definitions. It
// holds no state and performs no I/O.
type ConformanceValidator struct{}

// NewConformanceValidator creates a new conformance validator
func NewConformanceValidator() *ConformanceValidator {
	return &ConformanceValidator{}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

func newResult() ValidationResult {
	return ValidationResult{IsValid: true, Errors: []ValidationError{}}
}

func (r *ValidationResult) fail(field, message string, value any) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Value: value})
}

// Err returns nil for a valid result and a ValidationErrors value otherwise.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return ValidationErrors(r.Errors)
}

// ValidationErrors is the error form of a failed ValidationResult.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Message
	}
	return strings.Join(msgs, "; ")
}

// ValidateProperties validates a property bag against a type definition.
// An empty bag is always valid.
func (cv *ConformanceValidator) ValidateProperties(def domain.TypeDef, properties domain.InstanceProperties) ValidationResult {
	result := newResult()
	if len(properties) == 0 {
		return result
	}

	for _, attr := range def.Attributes {
		value, exists := properties[attr.Name]
		if !exists {
			if attr.Cardinality.IsMandatory() {
				result.fail(attr.Name, fmt.Sprintf("mandatory attribute '%s' is missing", attr.Name), nil)
			}
			continue
		}
		if err := cv.validateAttribute(attr, value); err != nil {
			result.fail(attr.Name, err.Error(), value.Interface())
		}
	}

	// Check for extra properties not defined in the type
	if !def.OpenProperties {
		for _, name := range properties.Names() {
			if _, ok := def.Attribute(name); !ok {
				result.fail(name, fmt.Sprintf("property '%s' is not defined by type %s", name, def.Name), properties[name].Interface())
			}
		}
	}

	return result
}

// ValidateClassification checks that a classification may be attached to an
// entity of the given type and that its properties conform.
func (cv *ConformanceValidator) ValidateClassification(classification, entityType domain.TypeDef, properties domain.InstanceProperties) ValidationResult {
	result := newResult()
	if classification.Category != domain.CategoryClassificationDef {
		result.fail("classification", fmt.Sprintf("type %s is not a classification", classification.Name), nil)
		return result
	}
	if len(classification.ValidEntityDefs) > 0 {
		allowed := false
		for _, ref := range classification.ValidEntityDefs {
			if entityType.IsA(ref) {
				allowed = true
				break
			}
		}
		if !allowed {
			result.fail("classification", fmt.Sprintf("classification %s is not valid for entity type %s", classification.Name, entityType.Name), nil)
		}
	}
	props := cv.ValidateProperties(classification, properties)
	if !props.IsValid {
		result.IsValid = false
		result.Errors = append(result.Errors, props.Errors...)
	}
	return result
}

// ValidateRelationshipEnds checks both proxies against the end types declared
// by the relationship definition. Proxy types are resolved through lookup so
// subtypes of the declared end type are accepted.
func (cv *ConformanceValidator) ValidateRelationshipEnds(def domain.TypeDef, lookup TypeLookup, endOne, endTwo domain.EntityProxy) ValidationResult {
	result := newResult()
	if def.Category != domain.CategoryRelationshipDef {
		result.fail("type", fmt.Sprintf("type %s is not a relationship", def.Name), nil)
		return result
	}
	for _, end := range []struct {
		ordinal domain.EndOrdinal
		proxy   domain.EntityProxy
	}{{domain.EndOne, endOne}, {domain.EndTwo, endTwo}} {
		endDef := def.EndDef(end.ordinal)
		field := endDef.AttributeName
		if end.proxy.GUID == "" {
			result.fail(field, fmt.Sprintf("end %d proxy has no GUID", end.ordinal), nil)
			continue
		}
		proxyType, ok := lookup.Lookup(end.proxy.Type)
		if !ok {
			result.fail(field, fmt.Sprintf("end %d proxy type %s is not known", end.ordinal, typeLabel(end.proxy.Type)), end.proxy.GUID)
			continue
		}
		if !proxyType.IsA(endDef.EntityType) {
			result.fail(field, fmt.Sprintf("end %d proxy type %s does not match %s", end.ordinal, proxyType.Name, typeLabel(endDef.EntityType)), end.proxy.GUID)
		}
	}
	return result
}

func typeLabel(ref domain.TypeRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return ref.GUID
}

func (cv *ConformanceValidator) validateAttribute(attr domain.AttributeDef, value domain.PropertyValue) error {
	switch {
	case attr.Category == domain.CategoryArray || attr.Cardinality.IsMultiValued():
		if value.Category != domain.CategoryArray {
			return fmt.Errorf("attribute '%s' must be an array, got %s", attr.Name, value.Category)
		}
		if attr.Cardinality.IsMandatory() && len(value.Array) == 0 {
			return fmt.Errorf("attribute '%s' requires at least one value", attr.Name)
		}
		for i, item := range value.Array {
			if err := cv.validateScalar(fmt.Sprintf("%s[%d]", attr.Name, i), attr, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return cv.validateScalar(attr.Name, attr, value)
	}
}

func (cv *ConformanceValidator) validateScalar(field string, attr domain.AttributeDef, value domain.PropertyValue) error {
	switch attr.Category {
	case domain.CategoryEnum:
		if value.Category != domain.CategoryEnum {
			return fmt.Errorf("attribute '%s' must be an enum, got %s", field, value.Category)
		}
		member, ok := attr.EnumMember(value.Enum.Ordinal)
		if !ok {
			return fmt.Errorf("attribute '%s' has no enum member with ordinal %d", field, value.Enum.Ordinal)
		}
		if value.Enum.Symbolic != "" && value.Enum.Symbolic != member.Symbolic {
			return fmt.Errorf("attribute '%s' enum ordinal %d is %s, not %s", field, member.Ordinal, member.Symbolic, value.Enum.Symbolic)
		}
		return nil
	case domain.CategoryMap:
		if value.Category != domain.CategoryMap {
			return fmt.Errorf("attribute '%s' must be a map, got %s", field, value.Category)
		}
		for _, key := range value.Map.Names() {
			if err := cv.validatePrimitive(field+"."+key, attr.MapValue, value.Map[key]); err != nil {
				return err
			}
		}
		return nil
	default:
		return cv.validatePrimitive(field, attr.Primitive, value)
	}
}

// validatePrimitive accepts a value of the declared kind, or an integral or
// floating value whose magnitude fits the declared kind.
func (cv *ConformanceValidator) validatePrimitive(field string, kind domain.PrimitiveKind, value domain.PropertyValue) error {
	if value.Category != domain.CategoryPrimitive {
		return fmt.Errorf("attribute '%s' must be a %s primitive, got %s", field, kind, value.Category)
	}
	if value.Value == nil {
		return fmt.Errorf("attribute '%s' has no value", field)
	}
	if value.Primitive != kind && !compatibleKinds(kind, value.Primitive) {
		return fmt.Errorf("attribute '%s' must be %s, got %s", field, kind, value.Primitive)
	}

	switch {
	case kind.IsIntegral():
		n, ok := value.Value.(int64)
		if !ok {
			return fmt.Errorf("attribute '%s' must hold an integer, got %T", field, value.Value)
		}
		if !isInRange(kind, n) {
			return fmt.Errorf("attribute '%s' value %d overflows %s", field, n, kind)
		}
	case kind.IsFloating():
		f, ok := value.Value.(float64)
		if !ok {
			return fmt.Errorf("attribute '%s' must hold a float, got %T", field, value.Value)
		}
		if kind == domain.PrimitiveFloat && math.Abs(f) > math.MaxFloat32 {
			return fmt.Errorf("attribute '%s' value %g overflows %s", field, f, kind)
		}
	case kind == domain.PrimitiveBoolean:
		if _, ok := value.Value.(bool); !ok {
			return fmt.Errorf("attribute '%s' must hold a boolean, got %T", field, value.Value)
		}
	case kind == domain.PrimitiveDate:
		if _, ok := value.Value.(time.Time); !ok {
			return fmt.Errorf("attribute '%s' must hold a date, got %T", field, value.Value)
		}
	case kind.IsTextual():
		s, ok := value.Value.(string)
		if !ok {
			return fmt.Errorf("attribute '%s' must hold a string, got %T", field, value.Value)
		}
		return validateText(field, kind, s)
	default:
		return fmt.Errorf("attribute '%s' declares unknown primitive kind %s", field, kind)
	}
	return nil
}

func compatibleKinds(declared, actual domain.PrimitiveKind) bool {
	return (declared.IsIntegral() && actual.IsIntegral()) || (declared.IsFloating() && actual.IsFloating())
}

func isInRange(kind domain.PrimitiveKind, n int64) bool {
	switch kind {
	case domain.PrimitiveByte:
		return n >= math.MinInt8 && n <= math.MaxInt8
	case domain.PrimitiveShort:
		return n >= math.MinInt16 && n <= math.MaxInt16
	case domain.PrimitiveInt:
		return n >= math.MinInt32 && n <= math.MaxInt32
	}
	return true
}

func validateText(field string, kind domain.PrimitiveKind, s string) error {
	switch kind {
	case domain.PrimitiveChar:
		if utf8.RuneCountInString(s) != 1 {
			return fmt.Errorf("attribute '%s' must be a single character", field)
		}
	case domain.PrimitiveBigInteger:
		if _, ok := new(big.Int).SetString(s, 10); !ok {
			return fmt.Errorf("attribute '%s' value %q is not an integer", field, s)
		}
	case domain.PrimitiveBigDecimal:
		if _, ok := new(big.Float).SetString(s); !ok {
			return fmt.Errorf("attribute '%s' value %q is not a decimal", field, s)
		}
	}
	return nil
}
