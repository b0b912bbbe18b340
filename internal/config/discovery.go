package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfig names the environment variable consulted after --config.
const EnvConfig = "CKPTKEEP_CONFIG"

// Candidates returns the config locations in priority order:
// $CKPTKEEP_CONFIG, ~/.config/ckptkeep/config.yaml, ./ckptkeep.yaml.
func Candidates() []string {
	var out []string
	if p := os.Getenv(EnvConfig); p != "" {
		out = append(out, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "ckptkeep", "config.yaml"))
	}
	return append(out, "ckptkeep.yaml")
}

// Discover resolves the config file to load. An explicit path must exist.
// Otherwise the first existing candidate wins; "" means use the defaults.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	if p := os.Getenv(EnvConfig); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("$%s points at %s, which does not exist", EnvConfig, p)
		}
		return p, nil
	}

	for _, p := range Candidates() {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

// LoadDiscovered runs Discover and loads the result, falling back to the
// defaults when nothing is found.
func LoadDiscovered(explicit string) (*Config, error) {
	path, err := Discover(explicit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return LoadDefault()
	}
	return Load(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
