package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/fitsync/internal/flagx"
)

// parseFile overlays cfg with values from the YAML config file.
//
// The file path comes from the -c/-config flags; when neither is given,
// "config.yaml" in the working directory is used if it exists. An explicitly
// requested file that cannot be read or parsed is a fatal config error.
func parseFile(cfg *Config) error {
	path := flagx.ConfigFileFlags()
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
