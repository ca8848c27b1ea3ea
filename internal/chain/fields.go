package chain

import (
	"encoding/json"
	"fmt"
)

// Uint64Field reads an unsigned integer out of a decoded JSON object. Gateways
// return numbers as json.Number or float64 depending on the decoder path, so
// both are accepted.
func Uint64Field(data map[string]any, key string) (uint64, error) {
	raw, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("chain: response missing %q", key)
	}
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil || n < 0 {
			return 0, fmt.Errorf("chain: field %q is not a uint64: %v", key, raw)
		}
		return uint64(n), nil
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("chain: field %q is not a uint64: %v", key, raw)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("chain: field %q is negative: %d", key, v)
		}
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("chain: field %q is negative: %d", key, v)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("chain: field %q has unexpected type %T", key, raw)
	}
}

// Int64Field reads a signed integer out of a decoded JSON object.
func Int64Field(data map[string]any, key string) (int64, error) {
	raw, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("chain: response missing %q", key)
	}
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("chain: field %q is not an int64: %v", key, raw)
		}
		return n, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("chain: field %q is not an int64: %v", key, raw)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("chain: field %q has unexpected type %T", key, raw)
	}
}

