// Package config loads the daemon's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the server and client commands. Zero
// fields fall back to defaults.
type Config struct {
	// RuntimeDir holds the session sockets.
	RuntimeDir string `yaml:"runtime_dir"`
	// Shell is the program each session runs; empty means autodetect.
	Shell     string   `yaml:"shell"`
	ShellArgs []string `yaml:"shell_args"`

	PollInterval time.Duration `yaml:"poll_interval"`
	QueueDepth   int           `yaml:"queue_depth"`
	ReadBuffer   int           `yaml:"read_buffer"`

	// Rows and Cols set the initial pty size when no client has reported one.
	Rows uint16 `yaml:"rows"`
	Cols uint16 `yaml:"cols"`
}

const (
	defaultRows = 24
	defaultCols = 80
)

// DefaultConfigDir returns $PTYMUX_HOME, or ~/.ptymux.
func DefaultConfigDir() string {
	if v := os.Getenv("PTYMUX_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".ptymux")
}

// DefaultConfigPath returns the config file location used when none is given.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yml")
}

// DefaultRuntimeDir returns $PTYMUX_RUNTIME_DIR, $XDG_RUNTIME_DIR/ptymux,
// or a per-user directory under the system temp dir, in that order.
func DefaultRuntimeDir() string {
	if v := os.Getenv("PTYMUX_RUNTIME_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, "ptymux")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("ptymux-%d", os.Getuid()))
}

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	trimmed := strings.TrimSpace(path)
	if trimmed != "" {
		expanded, err := ExpandPath(trimmed)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(expanded)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", expanded, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate rejects values that cannot be defaulted away.
func (c *Config) Validate() error {
	switch {
	case c.PollInterval < 0:
		return fmt.Errorf("poll_interval must not be negative")
	case c.QueueDepth < 0:
		return fmt.Errorf("queue_depth must not be negative")
	case c.ReadBuffer < 0:
		return fmt.Errorf("read_buffer must not be negative")
	case len(c.ShellArgs) > 0 && c.Shell == "":
		return fmt.Errorf("shell_args requires shell")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.RuntimeDir == "" {
		c.RuntimeDir = DefaultRuntimeDir()
	} else if expanded, err := ExpandPath(c.RuntimeDir); err == nil {
		c.RuntimeDir = expanded
	}
	if c.Rows == 0 {
		c.Rows = defaultRows
	}
	if c.Cols == 0 {
		c.Cols = defaultCols
	}
}

// ExpandPath expands a leading tilde (~) to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	if path[1] == '/' || path[1] == '\\' {
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
