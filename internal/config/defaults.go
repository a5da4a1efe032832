package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const header = `# worktrack configuration
# Project files at .worktrack/config.yaml override these values.
# Any key can also be set as WORKTRACK_<KEY>, e.g. WORKTRACK_IDLE_THRESHOLD=15m.
`

// DefaultConfig returns the configuration used when no file sets anything
func DefaultConfig() *Config {
	cfg, err := LoadFiles()
	if err != nil {
		// only reachable if the defaults table itself fails to decode
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

// WriteDefault writes the default configuration as YAML. An existing file is
// left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	content, err := yaml.Marshal(nestedDefaults())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, append([]byte(header), content...), 0o644)
}

func nestedDefaults() map[string]any {
	root := map[string]any{}
	for key, value := range defaults {
		// secrets belong in the environment
		if strings.HasSuffix(key, ".token") || strings.HasSuffix(key, ".api_key") {
			continue
		}
		parts := strings.Split(key, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return root
}
