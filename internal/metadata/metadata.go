// Package metadata checks the flat key/value objects attached to users,
// groups, threads, messages, notifications and locations.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFlat = errors.New("metadata values must be strings, numbers or booleans")

// Validate reports whether every value is a scalar. A nil map is valid.
func Validate(values map[string]any) error {
	for key, value := range values {
		if _, ok := scalar(value); !ok {
			return fmt.Errorf("%w: key %q", ErrNotFlat, key)
		}
	}
	return nil
}

// Matches reports whether have contains every key/value pair of want.
// Numbers compare by value regardless of their Go representation.
func Matches(have, want map[string]any) bool {
	for key, wantValue := range want {
		haveValue, ok := have[key]
		if !ok {
			return false
		}
		a, okA := scalar(haveValue)
		b, okB := scalar(wantValue)
		if !okA || !okB || a != b {
			return false
		}
	}
	return true
}

// scalar normalises a metadata value into a comparable form.
func scalar(value any) (any, bool) {
	switch v := value.(type) {
	case string, bool:
		return v, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}
