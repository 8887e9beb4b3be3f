package env

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseSpecs turns CLI-style environment entries into a map. Each entry is
// either "KEY=value" or a bare "KEY", which inherits the value from the
// calling process and fails when it is not set there.
func ParseSpecs(specs []string) (map[string]string, error) {
	out := make(map[string]string, len(specs))

	for _, entry := range specs {
		if entry == "" {
			return nil, fmt.Errorf("environment variable spec cannot be empty")
		}

		key, value, explicit := strings.Cut(entry, "=")
		if !keyPattern.MatchString(key) {
			return nil, fmt.Errorf("invalid environment variable key %q", key)
		}

		if !explicit {
			inherited, ok := os.LookupEnv(key)
			if !ok {
				return nil, fmt.Errorf("environment variable %q is not set", key)
			}
			value = inherited
		}

		out[key] = value
	}

	return out, nil
}

// MergeMaps combines base and override, override winning on shared keys. The
// result is always a fresh non-nil map.
func MergeMaps(base map[string]string, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
