// Package mapsafe reads typed values out of loosely typed parameter maps, such
// as the ones decoded from JSON request bodies.
package mapsafe

import "time"

// Get retrieves a typed value from a map[string]any.
// JSON numbers arrive as float64 and are converted to the requested numeric
// type. Durations accept either a Go duration string or a number of seconds.
// If the key is missing or the value cannot be converted, defaultValue is returned.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}

	var out any
	switch any(defaultValue).(type) {
	case int:
		if n, ok := number(val); ok {
			out = int(n)
		}
	case int32:
		if n, ok := number(val); ok {
			out = int32(n)
		}
	case float64:
		if n, ok := number(val); ok {
			out = n
		}
	case string:
		if s, ok := val.(string); ok {
			out = s
		}
	case bool:
		if b, ok := val.(bool); ok {
			out = b
		}
	case time.Duration:
		switch x := val.(type) {
		case time.Duration:
			out = x
		case string:
			if d, err := time.ParseDuration(x); err == nil {
				out = d
			}
		default:
			if n, ok := number(val); ok {
				out = time.Duration(n * float64(time.Second))
			}
		}
	default:
		if v, ok := val.(T); ok {
			return v
		}
	}

	if v, ok := out.(T); ok {
		return v
	}
	return defaultValue
}

// Has reports whether key is present with a non-nil value.
func Has(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

func number(val any) (float64, bool) {
	switch x := val.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
