package config

import "time"

// Typed accessors for component properties. Values decoded from YAML or
// JSON arrive as float64, []any and strings; these helpers accept those as
// well as native Go types.

// GetString safely extracts a string value from a property map
func GetString(props map[string]any, key string, defaultVal string) string {
	if val, ok := props[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetInt safely extracts an integer value from a property map
func GetInt(props map[string]any, key string, defaultVal int) int {
	if val, ok := props[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case int32:
			return int(v)
		case float64:
			return int(v)
		case float32:
			return int(v)
		}
	}
	return defaultVal
}

// GetBool safely extracts a boolean value from a property map
func GetBool(props map[string]any, key string, defaultVal bool) bool {
	if val, ok := props[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetDuration accepts a duration, a string such as "5s", or a number of
// nanoseconds.
func GetDuration(props map[string]any, key string, defaultVal time.Duration) time.Duration {
	val, ok := props[key]
	if !ok {
		return defaultVal
	}
	switch v := val.(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v)
	case int64:
		return time.Duration(v)
	case float64:
		return time.Duration(v)
	}
	return defaultVal
}

// GetStringSlice safely extracts a string slice from a property map
func GetStringSlice(props map[string]any, key string, defaultVal []string) []string {
	val, ok := props[key]
	if !ok {
		return defaultVal
	}
	if slice, ok := val.([]string); ok {
		return slice
	}
	if items, ok := val.([]any); ok {
		result := make([]string, 0, len(items))
		for _, item := range items {
			str, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, str)
		}
		return result
	}
	return defaultVal
}
