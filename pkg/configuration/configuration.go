// Package configuration provides configuration management for the committer service.
package configuration

import (
	"fmt"

	"github.com/BurntSushi/toml"

	committer "github.com/blockproofs/committer"
)

// DefaultConfigFile is the config path used when none is supplied.
const DefaultConfigFile = "committer.toml"

// LoadConfig loads the committer configuration from a file.
func LoadConfig(filePath string) (*committer.Configuration, error) {
	var config committer.Configuration
	if _, err := toml.DecodeFile(filePath, &config); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", filePath, err)
	}
	return &config, nil
}

// LoadConfigString loads the committer configuration from a string.
func LoadConfigString(configStr string) (*committer.Configuration, error) {
	var config committer.Configuration
	if _, err := toml.Decode(configStr, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}
