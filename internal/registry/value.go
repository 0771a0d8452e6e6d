package registry

import (
	"fmt"
	"sort"
)

// ValueKind enumerates the closed set of kinds an agent config value may
// have. Dynamic provider-specific configuration is carried as tagged values
// instead of raw interface{} so it can be validated against a declared
// schema at registration time.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindMap
)

// String returns the kind name used in validation errors.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged configuration value. Exactly one of the payload fields
// is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Map  map[string]Value
}

// StringValue builds a string Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue builds a numeric Value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// BoolValue builds a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// MapValue builds a nested mapping Value.
func MapValue(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// ValueFromAny converts a decoded JSON value (string, float64, bool,
// map[string]any, or integer types) into a tagged Value.
func ValueFromAny(v any) (Value, error) {
	switch t := v.(type) {
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case int:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, raw := range t {
			nested, err := ValueFromAny(raw)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = nested
		}
		return MapValue(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported config value type %T", v)
	}
}

// ConfigFromAny converts a decoded JSON object into a tagged config map.
func ConfigFromAny(raw map[string]any) (map[string]Value, error) {
	cfg := make(map[string]Value, len(raw))
	for k, v := range raw {
		val, err := ValueFromAny(v)
		if err != nil {
			return nil, fmt.Errorf("config key %q: %w", k, err)
		}
		cfg[k] = val
	}
	return cfg, nil
}

// Any returns the plain Go representation of the value, suitable for JSON
// encoding or for handing to an executor.
func (v Value) Any() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindMap:
		m := make(map[string]any, len(v.Map))
		for k, nested := range v.Map {
			m[k] = nested.Any()
		}
		return m
	default:
		return nil
	}
}

// ConfigToAny converts a tagged config map back to plain Go values.
func ConfigToAny(cfg map[string]Value) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v.Any()
	}
	return out
}

// cloneConfig deep-copies a tagged config map.
func cloneConfig(cfg map[string]Value) map[string]Value {
	if cfg == nil {
		return nil
	}
	out := make(map[string]Value, len(cfg))
	for k, v := range cfg {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	if v.Kind == KindMap {
		v.Map = cloneConfig(v.Map)
	}
	return v
}

// FieldSchema declares the expected kind of one config field. For KindMap
// fields, Fields describes the nested object.
type FieldSchema struct {
	Kind     ValueKind
	Required bool
	Fields   map[string]FieldSchema
}

// ConfigSchema declares the config fields an agent type accepts. Unknown
// keys are rejected so typos surface at registration, not at dispatch.
type ConfigSchema map[string]FieldSchema

// ValidationError reports a single config field that failed schema
// validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config field %q: %s", e.Field, e.Message)
}

// Validate checks a tagged config map against the schema.
func (s ConfigSchema) Validate(cfg map[string]Value) error {
	return validateObject("", s, cfg)
}

func validateObject(prefix string, schema map[string]FieldSchema, cfg map[string]Value) error {
	// Deterministic field order keeps error messages stable.
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := schema[name]
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		val, ok := cfg[name]
		if !ok {
			if field.Required {
				return &ValidationError{Field: path, Message: "required field is missing"}
			}
			continue
		}
		if val.Kind != field.Kind {
			return &ValidationError{
				Field:   path,
				Message: fmt.Sprintf("expected %s, got %s", field.Kind, val.Kind),
			}
		}
		if field.Kind == KindMap && field.Fields != nil {
			if err := validateObject(path, field.Fields, val.Map); err != nil {
				return err
			}
		}
	}

	for name := range cfg {
		if _, ok := schema[name]; !ok {
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			return &ValidationError{Field: path, Message: "unknown field"}
		}
	}
	return nil
}
