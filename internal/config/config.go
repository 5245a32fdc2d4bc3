// Package config holds the optional runner config file and the environment
// accessors used throughout the runner. Environment variables are read at
// call time, never at package init, so tests can override them per case.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML runner configuration.
type File struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	WorkspaceRoot  string   `yaml:"workspace_root,omitempty"`
	KeepWorkspaces bool     `yaml:"keep_workspaces,omitempty"`
	ExcludeGlobs   []string `yaml:"exclude_globs,omitempty"`

	Watchdog struct {
		CheckIntervalMS int `yaml:"check_interval_ms,omitempty"`
	} `yaml:"watchdog,omitempty"`

	Breaker struct {
		FailureThreshold  int `yaml:"failure_threshold,omitempty"`
		RecoveryTimeoutMS int `yaml:"recovery_timeout_ms,omitempty"`
	} `yaml:"breaker,omitempty"`

	Git struct {
		CloneTimeoutMS int `yaml:"clone_timeout_ms,omitempty"`
		PushTimeoutMS  int `yaml:"push_timeout_ms,omitempty"`
	} `yaml:"git,omitempty"`

	Engines struct {
		// Default overrides the polyglot fallback engine name.
		Default string `yaml:"default,omitempty"`
		// Affinity is an ordered list of model-prefix to engine-name rules,
		// consulted before the built-in table.
		Affinity []AffinityRule `yaml:"affinity,omitempty"`
	} `yaml:"engines,omitempty"`
}

// AffinityRule maps a model name prefix to an engine name.
type AffinityRule struct {
	ModelPrefix string `yaml:"model_prefix"`
	Engine      string `yaml:"engine"`
}

// Load reads and validates a runner config file.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	f.applyDefaults()
	return &f, nil
}

// Default returns a config file populated with defaults only.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	if f.Watchdog.CheckIntervalMS <= 0 {
		f.Watchdog.CheckIntervalMS = 30_000
	}
	if f.Breaker.FailureThreshold <= 0 {
		f.Breaker.FailureThreshold = 5
	}
	if f.Breaker.RecoveryTimeoutMS <= 0 {
		f.Breaker.RecoveryTimeoutMS = 300_000
	}
	if f.Git.CloneTimeoutMS <= 0 {
		f.Git.CloneTimeoutMS = 120_000
	}
	if f.Git.PushTimeoutMS <= 0 {
		f.Git.PushTimeoutMS = 30_000
	}
	if len(f.ExcludeGlobs) == 0 {
		f.ExcludeGlobs = []string{
			"**/.git/**",
			"**/node_modules/**",
			"**/__pycache__/**",
		}
	}
}

// ResolveWorkspaceRoot returns the root directory for task workspaces.
// The config file value wins over the environment.
func (f *File) ResolveWorkspaceRoot() string {
	if f != nil && strings.TrimSpace(f.WorkspaceRoot) != "" {
		return f.WorkspaceRoot
	}
	return WorkspaceRoot()
}

// ResolveKeepWorkspaces reports whether workspaces are retained after a
// terminal transition.
func (f *File) ResolveKeepWorkspaces() bool {
	if f != nil && f.KeepWorkspaces {
		return true
	}
	return KeepWorkspaces()
}

// ResolveAddr returns the bind address, preferring the config file and
// falling back to RUNNER_HOST / RUNNER_PORT.
func (f *File) ResolveAddr() string {
	host := Host()
	port := Port()
	if f != nil {
		if strings.TrimSpace(f.Host) != "" {
			host = f.Host
		}
		if f.Port > 0 {
			port = f.Port
		}
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// --- Environment accessors (call-time reads) ---

// WorkspaceRoot returns LAILATOV_WORKSPACE_ROOT or the default.
func WorkspaceRoot() string {
	return envOr("LAILATOV_WORKSPACE_ROOT", "/tmp/lailatov-workspaces")
}

// KeepWorkspaces reports whether LAILATOV_KEEP_WORKSPACES is set.
func KeepWorkspaces() bool {
	return strings.TrimSpace(os.Getenv("LAILATOV_KEEP_WORKSPACES")) != ""
}

// APIKey returns the shared bearer secret. Empty disables authentication.
func APIKey() string {
	return strings.TrimSpace(os.Getenv("RUNNER_API_KEY"))
}

// Host returns RUNNER_HOST or the default bind host.
func Host() string {
	return envOr("RUNNER_HOST", "0.0.0.0")
}

// Port returns RUNNER_PORT or the default bind port.
func Port() int {
	v := strings.TrimSpace(os.Getenv("RUNNER_PORT"))
	if v == "" {
		return 8001
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 65535 {
		return 8001
	}
	return n
}

// EngineOverride returns the global engine override (RUNNER_ENGINE), if any.
func EngineOverride() string {
	return strings.TrimSpace(os.Getenv("RUNNER_ENGINE"))
}

func envOr(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
