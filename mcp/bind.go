package mcp

import (
	"encoding/json"
	"math"
	"strings"
)

// bindParams binds raw wire params to the declared parameter list. Arrays
// bind positionally in declaration order; objects bind by case-insensitive
// name. Missing optional parameters take their declared default; missing
// required parameters and coercion failures yield InvalidParams.
func bindParams(specs []ParamSpec, raw json.RawMessage) (map[string]any, *Error) {
	var positional []any
	var named map[string]any

	if len(raw) > 0 && string(raw) != "null" {
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()

		switch firstByte(raw) {
		case '[':
			if err := dec.Decode(&positional); err != nil {
				return nil, NewInvalidParams("params array is malformed: %v", err)
			}
		case '{':
			if err := dec.Decode(&named); err != nil {
				return nil, NewInvalidParams("params object is malformed: %v", err)
			}
		default:
			return nil, NewInvalidParams("params must be an array or an object")
		}
	}

	if len(positional) > len(specs) {
		return nil, NewInvalidParams("too many positional params: got %d, method takes %d", len(positional), len(specs))
	}

	args := make(map[string]any, len(specs))
	for i, spec := range specs {
		value, present := positionalOrNamed(positional, named, i, spec.Name)
		if !present {
			if spec.Default != nil {
				args[spec.Name] = spec.Default
				continue
			}
			if spec.Required {
				return nil, NewInvalidParams("missing required parameter: %s", spec.Name)
			}
			continue
		}

		coerced, ok := coerce(spec.Kind, value)
		if !ok {
			return nil, NewInvalidParams("parameter %s: cannot convert %v to %s", spec.Name, value, spec.Kind)
		}
		args[spec.Name] = coerced
	}

	return args, nil
}

func firstByte(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

func positionalOrNamed(positional []any, named map[string]any, index int, name string) (any, bool) {
	if positional != nil {
		if index < len(positional) {
			return positional[index], true
		}
		return nil, false
	}
	for key, value := range named {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return nil, false
}

// coerce converts a decoded JSON value into the declared kind. JSON numbers
// arrive as json.Number because binding decodes with UseNumber; integral
// values satisfy ParamInt, anything numeric satisfies ParamFloat.
func coerce(kind ParamKind, value any) (any, bool) {
	switch kind {
	case ParamAny:
		return normalizeNumbers(value), true
	case ParamString:
		s, ok := value.(string)
		return s, ok
	case ParamBool:
		b, ok := value.(bool)
		return b, ok
	case ParamInt:
		switch n := value.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
			if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
				return int64(f), true
			}
			return nil, false
		case float64:
			if n == math.Trunc(n) {
				return int64(n), true
			}
			return nil, false
		case int64:
			return n, true
		case int:
			return int64(n), true
		default:
			return nil, false
		}
	case ParamFloat:
		switch n := value.(type) {
		case json.Number:
			f, err := n.Float64()
			return f, err == nil
		case float64:
			return n, true
		case int64:
			return float64(n), true
		case int:
			return float64(n), true
		default:
			return nil, false
		}
	case ParamObject:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		return normalizeNumbers(m), true
	case ParamArray:
		a, ok := value.([]any)
		if !ok {
			return nil, false
		}
		return normalizeNumbers(a), true
	default:
		return nil, false
	}
}

// normalizeNumbers rewrites json.Number values inside untyped containers to
// float64 so handlers see ordinary decoded JSON.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, item := range v {
			v[k] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	default:
		return value
	}
}
