// Package config loads circuitloop.yml and applies CIRCUITLOOP_* environment
// overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/circuitloop/internal/logging"
	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/review"
	"github.com/dusk-indust/circuitloop/internal/session"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CIRCUITLOOP_"

// FileNames are tried in order by Load.
var FileNames = []string{"circuitloop.yml", "circuitloop.yaml"}

// Config holds project-level settings.
type Config struct {
	Loop         orchestrator.Config `yaml:"loop" envPrefix:"LOOP_"`
	Review       review.Rules        `yaml:"review" envPrefix:"REVIEW_"`
	Server       ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Session      SessionConfig       `yaml:"session" envPrefix:"SESSION_"`
	Collaborator CollaboratorConfig  `yaml:"collaborator" envPrefix:"COLLABORATOR_"`
	Log          logging.Config      `yaml:"log" envPrefix:"LOG_"`

	// Path is the file the config was read from, if any.
	Path string `yaml:"-"`
}

// ServerConfig configures `circuitloop serve`.
type ServerConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	KeepAlive time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
	// ServeCollaborators exposes the local compiler and reviewer at /rpc.
	ServeCollaborators bool `yaml:"serve_collaborators" env:"SERVE_COLLABORATORS"`
	// RunTTL and MaxRuns bound the finished runs kept for GET /v1/runs.
	RunTTL  time.Duration `yaml:"run_ttl" env:"RUN_TTL"`
	MaxRuns int           `yaml:"max_runs" env:"MAX_RUNS"`
}

// SessionConfig selects the session store. An empty Dir keeps sessions in
// memory.
type SessionConfig struct {
	Dir string        `yaml:"dir" env:"DIR"`
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// CollaboratorConfig points the loop at remote collaborators. An empty
// Endpoint uses the in-process compiler and reviewer.
type CollaboratorConfig struct {
	Endpoint string        `yaml:"endpoint" env:"ENDPOINT"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxTries uint          `yaml:"max_tries" env:"MAX_TRIES"`
}

// Default returns the configuration used when no file or environment
// overrides exist.
func Default() *Config {
	return &Config{
		Loop: orchestrator.DefaultConfig(),
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			KeepAlive: 15 * time.Second,
		},
		Session: SessionConfig{TTL: session.DefaultTTL},
		Collaborator: CollaboratorConfig{
			Timeout:  30 * time.Second,
			MaxTries: 4,
		},
		Log: logging.Config{Service: "circuitloop"},
	}
}

// Load reads circuitloop.yml or circuitloop.yaml from dir, then applies
// environment overrides. A missing file is not an error.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the config at path, then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Path = path
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return cfg.Validate()
}

// Validate rejects settings the loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Loop.AttemptBudget < 1 {
		errs = append(errs, fmt.Errorf("loop.attempt_budget must be at least 1, got %d", c.Loop.AttemptBudget))
	}
	if c.Loop.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("loop.attempt_timeout must not be negative"))
	}
	if c.Server.RunTTL < 0 || c.Server.MaxRuns < 0 {
		errs = append(errs, fmt.Errorf("server.run_ttl and server.max_runs must not be negative"))
	}
	if c.Session.TTL < 0 {
		errs = append(errs, fmt.Errorf("session.ttl must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
