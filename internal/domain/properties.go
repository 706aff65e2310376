package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// PropertyCategory distinguishes the shapes a property value can take.
type PropertyCategory string

const (
	CategoryPrimitive PropertyCategory = "PRIMITIVE"
	CategoryEnum      PropertyCategory = "ENUM"
	CategoryMap       PropertyCategory = "MAP"
	CategoryArray     PropertyCategory = "ARRAY"
)

// PrimitiveKind enumerates the primitive attribute types.
type PrimitiveKind string

const (
	PrimitiveString     PrimitiveKind = "STRING"
	PrimitiveInt        PrimitiveKind = "INT"
	PrimitiveLong       PrimitiveKind = "LONG"
	PrimitiveShort      PrimitiveKind = "SHORT"
	PrimitiveByte       PrimitiveKind = "BYTE"
	PrimitiveChar       PrimitiveKind = "CHAR"
	PrimitiveBoolean    PrimitiveKind = "BOOLEAN"
	PrimitiveFloat      PrimitiveKind = "FLOAT"
	PrimitiveDouble     PrimitiveKind = "DOUBLE"
	PrimitiveDate       PrimitiveKind = "DATE"
	PrimitiveBigInteger PrimitiveKind = "BIGINTEGER"
	PrimitiveBigDecimal PrimitiveKind = "BIGDECIMAL"
)

// IsIntegral reports whether the kind stores an int64.
func (k PrimitiveKind) IsIntegral() bool {
	switch k {
	case PrimitiveInt, PrimitiveLong, PrimitiveShort, PrimitiveByte:
		return true
	}
	return false
}

// IsFloating reports whether the kind stores a float64.
func (k PrimitiveKind) IsFloating() bool {
	return k == PrimitiveFloat || k == PrimitiveDouble
}

// IsTextual reports whether the kind stores a string.
func (k PrimitiveKind) IsTextual() bool {
	switch k {
	case PrimitiveString, PrimitiveChar, PrimitiveBigInteger, PrimitiveBigDecimal:
		return true
	}
	return false
}

// IsKnown reports whether the kind is one of the declared primitives.
func (k PrimitiveKind) IsKnown() bool {
	return k.IsIntegral() || k.IsFloating() || k.IsTextual() || k == PrimitiveBoolean || k == PrimitiveDate
}

// EnumValue is a single member of an enumerated attribute type.
type EnumValue struct {
	Ordinal  int    `json:"ordinal" yaml:"ordinal"`
	Symbolic string `json:"symbolicName" yaml:"name"`
}

// PropertyValue is a typed value held in an instance property bag.
//
// Primitive values are normalised to int64, float64, string, bool or a UTC
// time.Time depending on their kind.
type PropertyValue struct {
	Category  PropertyCategory
	Primitive PrimitiveKind
	Value     any
	Enum      EnumValue
	Map       InstanceProperties
	Array     []PropertyValue
}

// InstanceProperties maps attribute names to typed values.
type InstanceProperties map[string]PropertyValue

// StringValue builds a STRING primitive.
func StringValue(s string) PropertyValue {
	return PropertyValue{Category: CategoryPrimitive, Primitive: PrimitiveString, Value: s}
}

// IntValue builds an INT primitive.
func IntValue(i int64) PropertyValue {
	return PropertyValue{Category: CategoryPrimitive, Primitive: PrimitiveInt, Value: i}
}

// BoolValue builds a BOOLEAN primitive.
func BoolValue(b bool) PropertyValue {
	return PropertyValue{Category: CategoryPrimitive, Primitive: PrimitiveBoolean, Value: b}
}

// DateValue builds a DATE primitive.
func DateValue(t time.Time) PropertyValue {
	return PropertyValue{Category: CategoryPrimitive, Primitive: PrimitiveDate, Value: t.UTC()}
}

// NewPrimitive builds a primitive of the given kind, normalising the Go value.
func NewPrimitive(kind PrimitiveKind, value any) (PropertyValue, error) {
	normalised, err := normalisePrimitive(kind, value)
	if err != nil {
		return PropertyValue{}, err
	}
	return PropertyValue{Category: CategoryPrimitive, Primitive: kind, Value: normalised}, nil
}

// EnumOf builds an enum value.
func EnumOf(ordinal int, symbolic string) PropertyValue {
	return PropertyValue{Category: CategoryEnum, Enum: EnumValue{Ordinal: ordinal, Symbolic: symbolic}}
}

// MapOf builds a map value.
func MapOf(entries InstanceProperties) PropertyValue {
	return PropertyValue{Category: CategoryMap, Map: entries.Clone()}
}

// ArrayOf builds an array value.
func ArrayOf(items ...PropertyValue) PropertyValue {
	out := make([]PropertyValue, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return PropertyValue{Category: CategoryArray, Array: out}
}

// Clone returns a deep copy of the value.
func (v PropertyValue) Clone() PropertyValue {
	cp := v
	cp.Map = v.Map.Clone()
	if v.Array != nil {
		cp.Array = make([]PropertyValue, len(v.Array))
		for i, item := range v.Array {
			cp.Array[i] = item.Clone()
		}
	}
	return cp
}

// Equal compares two values structurally.
func (v PropertyValue) Equal(other PropertyValue) bool {
	if v.Category != other.Category {
		return false
	}
	switch v.Category {
	case CategoryPrimitive:
		if v.Primitive != other.Primitive {
			return false
		}
		if a, ok := v.Value.(time.Time); ok {
			b, ok := other.Value.(time.Time)
			return ok && a.Equal(b)
		}
		return v.Value == other.Value
	case CategoryEnum:
		return v.Enum == other.Enum
	case CategoryMap:
		return v.Map.Equal(other.Map)
	case CategoryArray:
		return slices.EqualFunc(v.Array, other.Array, PropertyValue.Equal)
	}
	return false
}

// Interface returns a plain Go representation used for diffing and display.
func (v PropertyValue) Interface() any {
	switch v.Category {
	case CategoryEnum:
		return v.Enum.Symbolic
	case CategoryMap:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.Interface()
		}
		return out
	case CategoryArray:
		out := make([]any, len(v.Array))
		for i, item := range v.Array {
			out[i] = item.Interface()
		}
		return out
	}
	if t, ok := v.Value.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return v.Value
}

// Clone returns a deep copy of the property bag. A nil bag stays nil.
func (p InstanceProperties) Clone() InstanceProperties {
	if p == nil {
		return nil
	}
	out := make(InstanceProperties, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

// Equal compares two bags. Nil and empty bags are equal.
func (p InstanceProperties) Equal(other InstanceProperties) bool {
	return maps.EqualFunc(p, other, PropertyValue.Equal)
}

// Names returns the attribute names in sorted order.
func (p InstanceProperties) Names() []string {
	return slices.Sorted(maps.Keys(p))
}

// Interface converts the bag to a plain map.
func (p InstanceProperties) Interface() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}

type propertyValueJSON struct {
	Category  PropertyCategory         `json:"category"`
	Primitive PrimitiveKind            `json:"primitiveKind,omitempty"`
	Value     json.RawMessage          `json:"value,omitempty"`
	Enum      *EnumValue               `json:"enum,omitempty"`
	Map       map[string]PropertyValue `json:"map,omitempty"`
	Array     []PropertyValue          `json:"array,omitempty"`
}

// MarshalJSON encodes the value with its category and primitive kind so it
// can be decoded back into the same Go representation.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	wire := propertyValueJSON{Category: v.Category}
	switch v.Category {
	case CategoryPrimitive:
		wire.Primitive = v.Primitive
		raw, err := json.Marshal(v.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s value: %w", v.Primitive, err)
		}
		wire.Value = raw
	case CategoryEnum:
		enum := v.Enum
		wire.Enum = &enum
	case CategoryMap:
		wire.Map = v.Map
		if wire.Map == nil {
			wire.Map = map[string]PropertyValue{}
		}
	case CategoryArray:
		wire.Array = v.Array
	default:
		return nil, fmt.Errorf("unknown property category %q", v.Category)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a value written by MarshalJSON.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var wire propertyValueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := PropertyValue{Category: wire.Category}
	switch wire.Category {
	case CategoryPrimitive:
		value, err := decodePrimitive(wire.Primitive, wire.Value)
		if err != nil {
			return err
		}
		out.Primitive = wire.Primitive
		out.Value = value
	case CategoryEnum:
		if wire.Enum != nil {
			out.Enum = *wire.Enum
		}
	case CategoryMap:
		out.Map = InstanceProperties(wire.Map)
		if out.Map == nil {
			out.Map = InstanceProperties{}
		}
	case CategoryArray:
		out.Array = wire.Array
	default:
		return fmt.Errorf("unknown property category %q", wire.Category)
	}
	*v = out
	return nil
}

func decodePrimitive(kind PrimitiveKind, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch {
	case kind.IsIntegral():
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", kind, err)
		}
		return n, nil
	case kind.IsFloating():
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", kind, err)
		}
		return f, nil
	case kind.IsTextual():
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", kind, err)
		}
		return s, nil
	case kind == PrimitiveBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", kind, err)
		}
		return b, nil
	case kind == PrimitiveDate:
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", kind, err)
		}
		return t.UTC(), nil
	}
	return nil, fmt.Errorf("unknown primitive kind %q", kind)
}

func normalisePrimitive(kind PrimitiveKind, value any) (any, error) {
	switch {
	case kind.IsIntegral():
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case kind.IsFloating():
		switch f := value.(type) {
		case float32:
			return float64(f), nil
		case float64:
			return f, nil
		case int:
			return float64(f), nil
		case int64:
			return float64(f), nil
		}
	case kind.IsTextual():
		switch s := value.(type) {
		case string:
			return s, nil
		case rune:
			if kind == PrimitiveChar {
				return string(s), nil
			}
		case fmt.Stringer:
			return s.String(), nil
		}
	case kind == PrimitiveBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case kind == PrimitiveDate:
		switch t := value.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("parse %s value: %w", kind, err)
			}
			return parsed.UTC(), nil
		}
	default:
		return nil, fmt.Errorf("unknown primitive kind %q", kind)
	}
	return nil, fmt.Errorf("value %v (%T) is not a valid %s", value, value, kind)
}
