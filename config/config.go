// Package config loads optional on-disk configuration for the loop runner.
//
// Configuration lives in a .ralphloop.yaml file, discovered in the working
// directory first and the user's home directory second. Every field is
// optional; file values fill in whatever the command line left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/ralphloop/loop"
)

// FileName is the configuration file looked up during discovery.
const FileName = ".ralphloop.yaml"

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// File mirrors the YAML configuration file. Zero values mean "not set".
type File struct {
	MaxIterations       int      `yaml:"max_iterations"`
	Timeout             Duration `yaml:"timeout"`
	Promise             string   `yaml:"promise"`
	Model               string   `yaml:"model"`
	Provider            string   `yaml:"provider"`
	WorkingDir          string   `yaml:"working_dir"`
	AllowedDirs         []string `yaml:"allowed_dirs"`
	LogLevel            string   `yaml:"log_level"`
	Streaming           *bool    `yaml:"streaming"`
	FailOnMaxIterations bool     `yaml:"fail_on_max_iterations"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &f, nil
}

// Discover looks for FileName in workingDir, then in the user's home
// directory. It returns (nil, "", nil) when no file exists.
func Discover(workingDir string) (*File, string, error) {
	candidates := []string{filepath.Join(workingDir, FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, FileName))
	}

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		f, err := Load(path)
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", nil
}

// Apply overlays the file's set values onto cfg. Fields cfg already has a
// non-default value for are left alone, so command-line flags win.
func (f *File) Apply(cfg *loop.Config, defaults loop.Config) {
	if f == nil {
		return
	}
	if f.MaxIterations > 0 && cfg.MaxIterations == defaults.MaxIterations {
		cfg.MaxIterations = f.MaxIterations
	}
	if f.Timeout > 0 && cfg.Timeout == defaults.Timeout {
		cfg.Timeout = time.Duration(f.Timeout)
	}
	if f.Promise != "" && cfg.PromisePhrase == defaults.PromisePhrase {
		cfg.PromisePhrase = f.Promise
	}
	if f.Model != "" && cfg.Model == defaults.Model {
		cfg.Model = f.Model
	}
	if f.WorkingDir != "" && cfg.WorkingDir == defaults.WorkingDir {
		cfg.WorkingDir = f.WorkingDir
	}
	if f.FailOnMaxIterations {
		cfg.FailOnMaxIterations = true
	}
}
