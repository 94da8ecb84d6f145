package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// SerializationError reports a parameter value that cannot be normalized into
// a stable JSON form. It indicates malformed caller input, not a cache fault.
type SerializationError struct {
	// Param is the parameter name, with an index suffix for sequence members.
	Param string

	// Type is the Go type of the offending value.
	Type string

	// Reason is set when the type is known but the value is not representable.
	Reason string
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("serialize param %q (%s): %s", e.Param, e.Type, e.Reason)
	}
	return fmt.Sprintf("serialize param %q: unsupported type %s", e.Param, e.Type)
}

// keyDocument is the canonical document hashed into a cache key.
type keyDocument struct {
	Endpoint string         `json:"endpoint"`
	Params   map[string]any `json:"params"`
}

// Key returns the cache key for a request against endpoint with params.
// Format: lowercase hex SHA-256 of {"endpoint":...,"params":{...}}
//
// The key does not depend on map iteration order.
func Key(endpoint string, params map[string]any) (string, error) {
	normalized, err := Canonicalize(params)
	if err != nil {
		return "", err
	}

	// json.Marshal writes map keys in sorted order
	doc, err := json.Marshal(keyDocument{Endpoint: endpoint, Params: normalized})
	if err != nil {
		return "", fmt.Errorf("marshal key document: %w", err)
	}

	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize normalizes every parameter value into one of int64, uint64,
// float64, bool, string or []any (of those scalars). It returns a
// *SerializationError for anything else.
func Canonicalize(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for name, v := range params {
		nv, err := normalize(name, v, true)
		if err != nil {
			return nil, err
		}
		out[name] = nv
	}
	return out, nil
}

func normalize(name string, v any, allowSeq bool) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case float32:
		return normalizeFloat(name, "float32", float64(x))
	case float64:
		return normalizeFloat(name, "float64", x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, &SerializationError{Param: name, Type: "json.Number", Reason: err.Error()}
		}
		return normalizeFloat(name, "json.Number", f)
	case nil:
		return nil, &SerializationError{Param: name, Type: "nil"}
	}

	// Named types and sequences
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(name, rv.Type().String(), rv.Float())
	case reflect.Slice, reflect.Array:
		if !allowSeq {
			return nil, &SerializationError{Param: name, Type: rv.Type().String(), Reason: "nested sequence"}
		}
		seq := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := normalize(fmt.Sprintf("%s[%d]", name, i), rv.Index(i).Interface(), false)
			if err != nil {
				return nil, err
			}
			seq[i] = item
		}
		return seq, nil
	}

	return nil, &SerializationError{Param: name, Type: rv.Type().String()}
}

func normalizeFloat(name, typ string, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &SerializationError{Param: name, Type: typ, Reason: "not a finite number"}
	}
	return f, nil
}
