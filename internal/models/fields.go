package models

import (
	"time"
)

// Document fields round-trip through JSON columns and pub/sub payloads, so
// decoding has to accept both native Go values and their JSON renderings
// (times as RFC3339 strings, string sets as []any).

func fieldString(fields map[string]any, key string) string {
	if value, ok := fields[key].(string); ok {
		return value
	}
	return ""
}

func fieldBool(fields map[string]any, key string) bool {
	if value, ok := fields[key].(bool); ok {
		return value
	}
	return false
}

func fieldTime(fields map[string]any, key string) time.Time {
	return decodeTime(fields[key])
}

func decodeTime(value any) time.Time {
	switch v := value.(type) {
	case time.Time:
		return v
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func fieldStringSlice(fields map[string]any, key string) []string {
	return decodeStringSlice(fields[key])
}

func decodeStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fieldTimeMap(fields map[string]any, key string) map[string]time.Time {
	raw, ok := fields[key].(map[string]any)
	if !ok {
		return map[string]time.Time{}
	}
	out := make(map[string]time.Time, len(raw))
	for k, v := range raw {
		if t := decodeTime(v); !t.IsZero() {
			out[k] = t
		}
	}
	return out
}

func fieldStringSetMap(fields map[string]any, key string) map[string][]string {
	raw, ok := fields[key].(map[string]any)
	if !ok {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		out[k] = decodeStringSlice(v)
	}
	return out
}

// EncodeTime renders a timestamp the way document fields store them.
func EncodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
