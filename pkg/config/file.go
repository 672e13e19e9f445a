package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile loads configuration from defaults, then the YAML file at path,
// then environment overrides. A missing file is not an error when path
// came from the CONFIG_FILE default; callers that pass an explicit path
// should check os.Stat themselves.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	overlayEnv(cfg)
	return cfg, nil
}
