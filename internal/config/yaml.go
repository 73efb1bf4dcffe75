package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML config as JSON so both formats share the
// strict decoder. Bare numbers under duration keys ("timeout: 90") become
// strings and are read as seconds by ParseDurationField.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("yaml: top level must be a mapping, got %T", v)
	}
	j, err := json.Marshal(normalizeYAML("", v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json: %w", err)
	}
	return j, nil
}

// normalizeYAML stringifies map keys so the tree can be JSON-marshaled and
// quotes numeric durations. key is the map key v was found under.
func normalizeYAML(key string, in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks := fmt.Sprint(k)
			m[ks] = normalizeYAML(ks, v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(k, v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML("", x[i])
		}
		return x
	case int, int64, uint64, float64:
		if isDurationKey(key) {
			return fmt.Sprint(x)
		}
		return in
	default:
		return in
	}
}

func isDurationKey(k string) bool {
	switch k {
	case "timeout", "reset_after":
		return true
	}
	for _, suffix := range []string{"_timeout", "_delay", "_ttl", "_cooldown"} {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}
