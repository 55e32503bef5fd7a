// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for troopy.
//
// Configuration precedence, highest first:
//   - TROOPY_* environment variables
//   - ~/.troopy/config.toml
//   - built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/troopy/troopy/internal/util"
)

// Config is the complete troopy configuration.
type Config struct {
	// APIURL is the chat completions base URL, up to but excluding
	// /chat/completions.
	APIURL string `toml:"api_url"`

	// APIKey is the bearer token for the endpoint.
	APIKey string `toml:"api_key"`

	// Model is the model name sent with each request.
	Model string `toml:"model"`

	// UI holds presentation settings.
	UI UIConfig `toml:"ui"`
}

// UIConfig contains presentation settings.
type UIConfig struct {
	// Markdown renders assistant replies as markdown on TTYs.
	Markdown bool `toml:"markdown"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIURL: "https://api.deepseek.com/v1",
		Model:  "deepseek-reasoner",
		UI: UIConfig{
			Markdown: true,
		},
	}
}

// ConfigDir returns the troopy configuration directory, ~/.troopy by
// default. TROOPY_CONFIG_DIR overrides it.
func ConfigDir() (string, error) {
	if dir := os.Getenv("TROOPY_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".troopy"), nil
}

// ConfigPath returns the path of the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir creates the configuration directory if needed.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// Load reads the config file if present, applies environment overrides, and
// validates the result. A missing file is not an error; defaults are used.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			ensureSecurePermissions(path)
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies TROOPY_* environment variables on top of the
// loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TROOPY_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("TROOPY_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("TROOPY_DEFAULT_MODEL"); v != "" {
		c.Model = v
	}
}

// Validate checks the configuration for values that would fail at request
// time. The API key may be empty; the client reports that on first use.
func (c *Config) Validate() error {
	c.APIURL = strings.TrimSuffix(strings.TrimSpace(c.APIURL), "/")
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_url %q is not a valid URL", c.APIURL)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// Save writes the configuration to the config file with owner-only
// permissions. The key lives in this file, so 0600 is enforced.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0600)
}

// ensureSecurePermissions tightens world-readable config files; the file
// carries the API key.
func ensureSecurePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not tighten permissions on %s: %v\n", path, err)
		}
	}
}

// =============================================================================
// GLOBAL ACCESS
// =============================================================================

var (
	globalConfig     *Config
	globalConfigMu   sync.RWMutex
	globalConfigOnce sync.Once
)

// Global returns the process-wide configuration, loading it on first use.
// Load failures fall back to defaults with a warning.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.ApplyEnvOverrides()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the global configuration. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears global state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}

// =============================================================================
// FILE WATCHING
// =============================================================================

// Watch reloads the global configuration whenever the config file changes
// and invokes onReload with the fresh value. It returns a stop function.
// Invalid edits are reported and skipped; the previous config stays active.
func Watch(onReload func(*Config)) (func(), error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	if err := EnsureConfigDir(); err != nil {
		return nil, err
	}
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace the file, which would orphan a
	// watch on the file itself.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path || !ev.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				cfg, err := Load()
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: config reload skipped: %v\n", err)
					continue
				}
				SetGlobal(cfg)
				if onReload != nil {
					onReload(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "warning: config watcher: %v\n", err)
			}
		}
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(done)
			watcher.Close()
		})
	}
	return stop, nil
}
