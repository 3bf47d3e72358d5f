// Package config loads the repository configuration consumed by the core:
// the local storage root and the name of the active runtime, read from a
// YAML file and overlaid with SPFS_-prefixed environment variables.
package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// EnvPrefix is prepended to every environment variable this package reads,
// e.g. SPFS_STORAGE_ROOT, SPFS_RUNTIME.
const EnvPrefix = "SPFS"

// Storage configures the on-disk layout of a local repository.
type Storage struct {
	// Root is the repository root directory (contains objects/, payloads/,
	// tags/, renders/, VERSION).
	Root string `yaml:"root"`
}

// Log configures the ambient logging subsystem.
type Log struct {
	Level     string `yaml:"level,omitempty"`
	Formatter string `yaml:"formatter,omitempty"`
}

// Config is the top-level repository configuration, intended to be loaded
// from a YAML file and then overlaid with environment variables.
type Config struct {
	Storage Storage `yaml:"storage"`
	Log     Log     `yaml:"log,omitempty"`

	// Runtime names the active runtime, as set by the tool that
	// materializes the mounted stack. It must not be treated as a
	// process-wide mutable singleton; callers read it once at startup and
	// pass it explicitly down the commit path.
	Runtime string `yaml:"runtime,omitempty"`
}

// Default returns a Config with a repository root under the user's home
// directory, matching the convention used by the CLI when no config file is
// given.
func Default() Config {
	root := os.Getenv("HOME")
	if root == "" {
		root = "."
	}
	return Config{
		Storage: Storage{Root: root + "/.local/share/spfs"},
		Log:     Log{Level: "info", Formatter: "text"},
	}
}

// Load parses a YAML configuration from data, then overlays environment
// variables under EnvPrefix (SPFS_STORAGE_ROOT, SPFS_RUNTIME, ...).
func Load(data []byte) (Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := OverlayEnv(EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile loads configuration from a YAML file at path, tolerating a
// missing file by falling back to defaults plus environment overlay.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return Config{}, err
	}
	return Load(data)
}
