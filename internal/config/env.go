package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env stores process-level settings read from the environment.
type Env struct {
	// ConfigPath overrides .opsdeck discovery.
	ConfigPath string `env:"OPSDECK_CONFIG"`
	// LogLevel sets the logger level.
	LogLevel string `env:"OPSDECK_LOG_LEVEL" envDefault:"info"`
	// LogFormat selects json or text log output.
	LogFormat string `env:"OPSDECK_LOG_FORMAT" envDefault:"text"`
	// Listen is the dashboard listen address.
	Listen string `env:"OPSDECK_LISTEN" envDefault:"127.0.0.1:8420"`
	// RatePerMinute limits run requests from the dashboard and MCP.
	RatePerMinute int `env:"OPSDECK_RATE_PER_MINUTE" envDefault:"60"`
	// ShutdownTimeout controls graceful shutdown duration.
	ShutdownTimeout time.Duration `env:"OPSDECK_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadEnv parses environment variables into Env.
func LoadEnv() (Env, error) {
	return env.ParseAs[Env]()
}

// Resolve loads configuration for workspace, honouring OPSDECK_CONFIG
// when it is set.
func (e Env) Resolve(workspace string) (*LoadResult, error) {
	if e.ConfigPath == "" {
		return Load(workspace)
	}
	root, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	cfg, err := LoadFile(e.ConfigPath)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Root: root, Path: e.ConfigPath}, nil
}
