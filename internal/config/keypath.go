package config

import (
	"fmt"
	"reflect"
	"strings"
)

// sections lists the top-level config keys, read from the Config yaml tags.
var sections = func() map[string]bool {
	out := map[string]bool{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name != "" && name != "-" {
			out[name] = true
		}
	}
	return out
}()

// ParseConfigPath splits a dot-separated key such as "models.providers.claude.apiKey"
// into segments. The first segment must name a config section; every
// segment is limited to letters, digits, '_' and '-'.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if !validSegment(p) {
			return nil, &ConfigError{Message: fmt.Sprintf("config path segment %q has invalid characters", p)}
		}
	}
	if !sections[parts[0]] {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown config section %q", parts[0])}
	}
	return parts, nil
}

func validSegment(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath sets a value in a nested map, creating intermediate maps
// as needed. It refuses to replace a scalar with a map.
func SetValueAtPath(root map[string]any, path []string, value any) error {
	current := root
	for i, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok || next == nil {
			m := map[string]any{}
			current[key] = m
			current = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return &ConfigError{Message: fmt.Sprintf("%s holds %T, not a section", strings.Join(path[:i+1], "."), next)}
		}
		current = m
	}
	current[path[len(path)-1]] = value
	return nil
}

// UnsetValueAtPath removes the value at path and prunes any parent maps
// left empty. Returns true if a value was removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	if len(path) == 1 {
		if _, ok := root[path[0]]; !ok {
			return false
		}
		delete(root, path[0])
		return true
	}
	child, ok := root[path[0]].(map[string]any)
	if !ok || !UnsetValueAtPath(child, path[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(root, path[0])
	}
	return true
}
