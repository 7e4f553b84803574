package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPrefix marks environment variables recognized as config overrides.
// Path segments within a variable name are separated by a double underscore,
// e.g. SKILLLAB_CORRECTION__MIN_COVERAGE_THRESHOLD=0.95.
const (
	envPrefix  = "SKILLLAB_"
	envPathSep = "__"
)

// applyEnvOverrides overlays SKILLLAB_-prefixed environment variables onto
// the configuration. Overrides win over both file values and defaults.
func (c *Config) applyEnvOverrides() error {
	overlay := map[string]any{}

	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		path := strings.Split(strings.TrimPrefix(name, envPrefix), envPathSep)
		for i := range path {
			path[i] = strings.ToLower(path[i])
		}
		if len(path) == 0 || path[0] == "" {
			continue
		}
		setNested(overlay, path, parseScalar(value))
	}

	if len(overlay) == 0 {
		return nil
	}

	// Round-trip the overlay through YAML so it lands on the same tags the
	// file loader uses.
	data, err := yaml.Marshal(overlay)
	if err != nil {
		return fmt.Errorf("failed to encode env overrides: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return nil
}

// setNested writes value into m at the given key path, creating intermediate
// maps as needed.
func setNested(m map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// parseScalar interprets an override value: bool, number, null, then JSON,
// then the raw string.
func parseScalar(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") || strings.HasPrefix(s, "\"") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}
