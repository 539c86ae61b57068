package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
	"gopkg.in/yaml.v3"
)

// ConfigDir resolves $XDG_CONFIG_HOME/flotilla or ~/.config/flotilla.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "flotilla")
}

// LoadConfig reads YAML configuration from a path. If path is empty, it resolves
// config.yaml under the flotilla config directory. A missing default file
// yields the zero config so the local backend works out of the box.
func LoadConfig(path string) (prov.Config, error) {
	var cfg prov.Config
	explicit := path != ""
	if !explicit {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !os.IsNotExist(err):
		return cfg, fmt.Errorf("open config: %w", err)
	}

	// Tokens live in secrets.env or the environment, not in YAML
	secrets, _ := LoadSecretsEnv("")
	if v := os.Getenv("HCLOUD_TOKEN"); v != "" {
		secrets["HCLOUD_TOKEN"] = v
	}
	if t, ok := secrets["HCLOUD_TOKEN"]; ok && t != "" {
		cfg.Providers.Hetzner.Token = t
	}
	if v := os.Getenv("FLOTILLA_PROVIDER"); v != "" {
		cfg.Providers.Default = v
	}
	return cfg, nil
}
