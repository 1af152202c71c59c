// Package config reads and writes a workspace's salto.config/workspace.toml
// (spec.md §6 "Workspace layout"): the environment list and the current
// environment. Grounded on the teacher's own TOML config reader pattern
// (pack-wide use of BurntSushi/toml for small, hand-editable config
// files) rather than inventing a bespoke format.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the file workspace.toml lives at, relative to a
// workspace's salto.config/ directory.
const ConfigFileName = "workspace.toml"

// ConfigDir is the fixed subdirectory name a workspace keeps its config
// under (spec.md §6).
const ConfigDir = "salto.config"

// Config is workspace.toml's decoded shape: the known environments and
// which one is current.
type Config struct {
	Environments   []string `toml:"environments"`
	CurrentEnv     string   `toml:"current_env"`
	StaleAfterDays int      `toml:"stale_after_days"`
}

// Default returns a Config for a brand-new workspace: a single "default"
// environment, current.
func Default() Config {
	return Config{Environments: []string{"default"}, CurrentEnv: "default", StaleAfterDays: 7}
}

// Path returns the workspace.toml path under workspaceDir.
func Path(workspaceDir string) string {
	return filepath.Join(workspaceDir, ConfigDir, ConfigFileName)
}

// Load reads and decodes workspaceDir's workspace.toml.
func Load(workspaceDir string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(Path(workspaceDir), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: loading %s: %w", Path(workspaceDir), err)
	}
	return cfg, nil
}

// Save encodes cfg and writes it to workspaceDir's workspace.toml,
// creating salto.config/ if it doesn't exist.
func Save(workspaceDir string, cfg Config) error {
	dir := filepath.Join(workspaceDir, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", dir, err)
	}
	f, err := os.Create(Path(workspaceDir))
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", Path(workspaceDir), err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// HasEnv reports whether cfg already lists env.
func (c Config) HasEnv(env string) bool {
	for _, e := range c.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// WithEnv returns a copy of c with env appended, unless already present.
func (c Config) WithEnv(env string) Config {
	if c.HasEnv(env) {
		return c
	}
	cp := c
	cp.Environments = append(append([]string{}, c.Environments...), env)
	return cp
}

// WithoutEnv returns a copy of c with env removed. If env was the
// current environment, the first remaining environment (if any) becomes
// current.
func (c Config) WithoutEnv(env string) Config {
	cp := c
	cp.Environments = nil
	for _, e := range c.Environments {
		if e != env {
			cp.Environments = append(cp.Environments, e)
		}
	}
	if cp.CurrentEnv == env {
		if len(cp.Environments) > 0 {
			cp.CurrentEnv = cp.Environments[0]
		} else {
			cp.CurrentEnv = ""
		}
	}
	return cp
}

// WithRenamedEnv returns a copy of c with oldEnv renamed to newEnv,
// including updating CurrentEnv if it pointed at oldEnv.
func (c Config) WithRenamedEnv(oldEnv, newEnv string) Config {
	cp := c
	cp.Environments = make([]string, len(c.Environments))
	for i, e := range c.Environments {
		if e == oldEnv {
			cp.Environments[i] = newEnv
		} else {
			cp.Environments[i] = e
		}
	}
	if cp.CurrentEnv == oldEnv {
		cp.CurrentEnv = newEnv
	}
	return cp
}
