// Package config loads and validates the optional .opsdeck YAML file
// and the process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the per-workspace configuration file.
const FileName = ".opsdeck"

// Default values for runner and transcript configuration.
const (
	DefaultTimeout         = 5 * time.Minute
	DefaultMaxOutput       = 1 << 20 // 1 MB
	DefaultTranscriptLimit = 500

	// CurrentVersion is the .opsdeck schema version this build reads.
	CurrentVersion = 1
)

// Config holds the parsed .opsdeck configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version            int               `yaml:"version"`
	RawTimeout         string            `yaml:"timeout"`    // e.g. "5m", "30s"
	RawMaxOutput       int               `yaml:"max_output"` // bytes
	RawTranscriptLimit int               `yaml:"transcript_limit"`
	AllowRaw           bool              `yaml:"allow_raw"` // permit free-form commands from the dashboard and MCP
	Welcome            string            `yaml:"welcome"`
	Operations         []OperationConfig `yaml:"operations"`
	Phrases            map[string]string `yaml:"phrases"` // spoken/typed phrase -> operation name
}

// OperationConfig declares an extra named operation.
type OperationConfig struct {
	Name        string        `yaml:"name"` // e.g. "helm.list"
	Tool        string        `yaml:"tool"` // binary that must be on PATH
	Description string        `yaml:"description"`
	Argv        []string      `yaml:"argv"` // tokens; {{arg "name"}} expands a parameter
	Dir         string        `yaml:"dir"`  // default working directory, relative to the workspace
	Timeout     string        `yaml:"timeout"`
	Mutating    bool          `yaml:"mutating"`
	Params      []ParamConfig `yaml:"params"`
}

// ParamConfig declares one operation parameter.
type ParamConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default"`
	Pattern     string `yaml:"pattern"` // regular expression the value must match
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// TranscriptLimit returns the number of transcript entries to retain.
func (c *Config) TranscriptLimit() int {
	if c.RawTranscriptLimit > 0 {
		return c.RawTranscriptLimit
	}
	return DefaultTranscriptLimit
}

// LoadResult holds the parsed config and the discovered workspace root.
type LoadResult struct {
	Config *Config
	Root   string // directory containing .opsdeck; falls back to workspace
	Path   string // config file path, empty when none was found
}

// Load reads the .opsdeck file found by walking upward from workspace.
// If no file exists, a default Config rooted at workspace is returned.
func Load(workspace string) (*LoadResult, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}

	root, err := findRoot(abs)
	if err != nil {
		return &LoadResult{Config: &Config{}, Root: abs}, nil
	}

	path := filepath.Join(root, FileName)
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Root: root, Path: path}, nil
}

// LoadFile reads and validates a config file at an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the static shape of the configuration. Operation
// templates and patterns are compiled later by the catalog.
func (c *Config) Validate() error {
	if c.Version != 0 && c.Version != CurrentVersion {
		return fmt.Errorf("unsupported version %d (want %d)", c.Version, CurrentVersion)
	}
	if c.RawTimeout != "" {
		if _, err := time.ParseDuration(c.RawTimeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}
	seen := make(map[string]bool, len(c.Operations))
	for i, op := range c.Operations {
		if op.Name == "" {
			return fmt.Errorf("operations[%d]: name is required", i)
		}
		if seen[op.Name] {
			return fmt.Errorf("operations[%d]: duplicate name %q", i, op.Name)
		}
		seen[op.Name] = true
		if len(op.Argv) == 0 {
			return fmt.Errorf("operation %s: argv is required", op.Name)
		}
		if op.Timeout != "" {
			if _, err := time.ParseDuration(op.Timeout); err != nil {
				return fmt.Errorf("operation %s: timeout: %w", op.Name, err)
			}
		}
		for j, p := range op.Params {
			if p.Name == "" {
				return fmt.Errorf("operation %s: params[%d]: name is required", op.Name, j)
			}
		}
	}
	return nil
}

// findRoot walks upward from dir looking for a directory containing .opsdeck.
func findRoot(dir string) (string, error) {
	for {
		if info, err := os.Stat(filepath.Join(dir, FileName)); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
