package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/reconcilekit/pkg/logging"
)

const (
	userConfigDir  = ".config/reconcilekit"
	configFileName = "config.yaml"
)

// DefaultPath returns ~/.config/reconcilekit/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// Load reads the configuration file at path on top of the defaults. A missing
// file yields the defaults. Unknown fields are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config found at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, NewConfigurationError(path, "", ErrorTypeParse, err.Error())
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return cfg, nil
}
