// Package config loads the orchestrator configuration: a small JSON file that
// tells the CLI where agents live, which session service to talk to, and what
// defaults to fold into resolved agents. Workflow definitions never read it;
// the CLI translates it into resolver and session wiring.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/weftai/weft/internal/agent"
)

const (
	// EnvConfigPath overrides the config file location when set.
	EnvConfigPath = "WEFT_CONFIG"

	// DefaultSessionURL is where the session service listens unless configured.
	DefaultSessionURL = "http://127.0.0.1:4096"

	// DefaultAgentsDir is the project-local agents directory.
	DefaultAgentsDir = ".weft/agents"
)

// AgentOverride adjusts one named agent without editing its definition file.
type AgentOverride struct {
	Model     string   `json:"model,omitempty"`
	VisibleTo []string `json:"visible_to,omitempty"`
}

// Config is the orchestrator configuration with defaults applied.
type Config struct {
	// Enabled gates workflow execution. Disabled configs make the run
	// commands fail fast instead of talking to the session service.
	Enabled bool
	// AgentsDir is the directory agent definitions are loaded from.
	AgentsDir string
	// SessionURL is the base URL of the session service.
	SessionURL string
	// DefaultModel is applied to resolved agents that pin no model.
	DefaultModel string
	// DefaultVisibleTo is applied to resolved agents with no visibility list.
	DefaultVisibleTo []string
	// ShowVersionPopup controls the post-run update notification.
	ShowVersionPopup bool
	// Agents holds per-agent overrides keyed by agent name.
	Agents map[string]AgentOverride

	// Source is the file the config was read from, empty when running on
	// defaults only.
	Source string
}

// fileConfig is the on-disk shape. Booleans are pointers so absent keys can
// fall back to defaults that are true. Unknown keys are ignored.
type fileConfig struct {
	Enabled          *bool                    `json:"enabled"`
	AgentsDir        string                   `json:"agents_dir"`
	SessionURL       string                   `json:"session_url"`
	DefaultModel     string                   `json:"default_model"`
	DefaultVisibleTo []string                 `json:"default_visible_to"`
	ShowVersionPopup *bool                    `json:"show_version_popup"`
	Agents           map[string]AgentOverride `json:"agents"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Enabled:          true,
		AgentsDir:        DefaultAgentsDir,
		SessionURL:       DefaultSessionURL,
		ShowVersionPopup: true,
	}
}

// Load finds and reads the orchestrator config. The WEFT_CONFIG environment
// variable wins; otherwise .weft/config.json in the working directory is
// tried, then ~/.weft/config.json. A missing file is not an error, the
// defaults apply.
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFile(path)
	}

	for _, path := range searchPaths() {
		cfg, err := LoadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		return cfg, nil
	}

	return Default(), nil
}

// LoadFile reads the config at path. The path must exist.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg := Default()
	cfg.Source = path
	if fc.Enabled != nil {
		cfg.Enabled = *fc.Enabled
	}
	if fc.AgentsDir != "" {
		cfg.AgentsDir = fc.AgentsDir
	}
	if fc.SessionURL != "" {
		cfg.SessionURL = fc.SessionURL
	}
	cfg.DefaultModel = fc.DefaultModel
	cfg.DefaultVisibleTo = fc.DefaultVisibleTo
	if fc.ShowVersionPopup != nil {
		cfg.ShowVersionPopup = *fc.ShowVersionPopup
	}
	cfg.Agents = fc.Agents

	log.Debug().Str("path", path).Msg("loaded orchestrator config")
	return cfg, nil
}

func searchPaths() []string {
	paths := []string{filepath.Join(".weft", "config.json")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".weft", "config.json"))
	}
	return paths
}

// Apply returns a copy of a with the config's defaults and per-agent
// overrides folded in. Overrides win over the definition, the definition wins
// over defaults.
func (c *Config) Apply(a *agent.Agent) *agent.Agent {
	out := *a
	if out.Model == "" {
		out.Model = c.DefaultModel
	}
	if len(out.VisibleTo) == 0 {
		out.VisibleTo = c.DefaultVisibleTo
	}
	if override, ok := c.Agents[a.Name]; ok {
		if override.Model != "" {
			out.Model = override.Model
		}
		if len(override.VisibleTo) > 0 {
			out.VisibleTo = override.VisibleTo
		}
	}
	return &out
}

// resolver decorates an agent.Resolver with the config's overrides.
type resolver struct {
	cfg  *Config
	next agent.Resolver
}

// WrapResolver returns a resolver that applies the config's defaults and
// overrides to every agent next resolves.
func (c *Config) WrapResolver(next agent.Resolver) agent.Resolver {
	return &resolver{cfg: c, next: next}
}

func (r *resolver) Resolve(name string) (*agent.Agent, error) {
	a, err := r.next.Resolve(name)
	if err != nil {
		return nil, err
	}
	return r.cfg.Apply(a), nil
}

func (r *resolver) List() []string {
	return r.next.List()
}
