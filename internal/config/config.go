// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// shellsage.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.shellsage/config.toml
//   - ~/.shellsage/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config is the complete shellsage configuration, decoded from the TOML
// keys in §6 of the external-interface contract. Every field carries both
// a toml and a json tag so a thin CLI/RPC collaborator can decode either
// format without the core depending on a flag library.
type Config struct {
	General GeneralConfig `toml:"general" json:"general"`
	Backend BackendConfig `toml:"backend" json:"backend"`
	Safety  SafetyConfig  `toml:"safety" json:"safety"`
	Cache   CacheConfig   `toml:"cache" json:"cache"`
}

// GeneralConfig holds the orchestrator-wide posture settings.
type GeneralConfig struct {
	// SafetyLevel is one of strict, moderate, permissive.
	SafetyLevel string `toml:"safety_level" json:"safety_level"`
	// DefaultShell overrides shell detection when non-empty (bash, zsh,
	// fish, sh, powershell, cmd).
	DefaultShell string `toml:"default_shell" json:"default_shell"`
	// LogLevel controls structured-log verbosity (debug, info, warn, error).
	LogLevel string `toml:"log_level" json:"log_level"`
}

// BackendConfig selects and configures the generation backend chain.
type BackendConfig struct {
	// Primary is one of embedded, ollama, vllm.
	Primary        string           `toml:"primary" json:"primary"`
	EnableFallback bool             `toml:"enable_fallback" json:"enable_fallback"`
	Ollama         OllamaEndpoint   `toml:"ollama" json:"ollama"`
	VLLM           VLLMEndpoint     `toml:"vllm" json:"vllm"`
	Embedded       EmbeddedSettings `toml:"embedded" json:"embedded"`
}

// OllamaEndpoint configures the Ollama HTTP backend.
type OllamaEndpoint struct {
	BaseURL   string `toml:"base_url" json:"base_url"`
	ModelName string `toml:"model_name" json:"model_name"`
}

// VLLMEndpoint configures the vLLM OpenAI-compatible HTTP backend.
type VLLMEndpoint struct {
	BaseURL   string `toml:"base_url" json:"base_url"`
	ModelName string `toml:"model_name" json:"model_name"`
	APIKey    string `toml:"api_key" json:"api_key,omitempty"`
}

// EmbeddedSettings configures the in-process embedded backend's model
// identity; GPU-vs-CPU is a runtime probe, not a config key.
type EmbeddedSettings struct {
	ModelID string `toml:"model_id" json:"model_id"`
	// ModelSources maps a model id to where the Model Cache should fetch
	// it from, keyed the same as ModelID above.
	ModelSources map[string]ModelSource `toml:"model_sources" json:"model_sources"`
}

// ModelSource is one entry of backend.embedded.model_sources.
type ModelSource struct {
	URL  string `toml:"url" json:"url"`
	Hash string `toml:"hash" json:"hash"`
}

// SafetyConfig configures the Safety Validator.
type SafetyConfig struct {
	Enabled             bool     `toml:"enabled" json:"enabled"`
	RequireConfirmation bool     `toml:"require_confirmation" json:"require_confirmation"`
	CustomPatterns      []string `toml:"custom_patterns" json:"custom_patterns"`
	// AllowList is a user-configurable set of exact commands whose Block
	// gate is demoted to ConfirmRequired; no other gate is changed.
	AllowList []string `toml:"allow_list" json:"allow_list"`
}

// CacheConfig configures the content-addressed model cache.
type CacheConfig struct {
	MaxSizeGB int `toml:"max_size_gb" json:"max_size_gb"`
}

// Default returns a Config with sensible default values, matching the
// scenario fixtures in the testable-properties section (moderate safety,
// the embedded backend as primary, enable_fallback on).
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			SafetyLevel:  "moderate",
			DefaultShell: "",
			LogLevel:     "info",
		},
		Backend: BackendConfig{
			Primary:        "embedded",
			EnableFallback: true,
			Ollama: OllamaEndpoint{
				BaseURL:   "http://127.0.0.1:11434",
				ModelName: "qwen2.5-coder:7b",
			},
			VLLM: VLLMEndpoint{
				BaseURL:   "http://127.0.0.1:8000",
				ModelName: "",
			},
			Embedded: EmbeddedSettings{
				ModelID: "shellsage-7b-q4",
			},
		},
		Safety: SafetyConfig{
			Enabled:             true,
			RequireConfirmation: true,
			CustomPatterns:      nil,
			AllowList:           nil,
		},
		Cache: CacheConfig{
			MaxSizeGB: 20,
		},
	}
}

// ConfigDir returns the shellsage configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".shellsage"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files,
// since backend.vllm.api_key may live there.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// configPathEnv overrides the config file location, per §6's "small fixed
// set" of honored environment variables.
const configPathEnv = "SHELLSAGE_CONFIG_PATH"

// Load loads configuration from the config file(s), trying an explicit
// SHELLSAGE_CONFIG_PATH override first, then TOML, then JSON, and falling
// back to defaults. Environment overrides are applied last regardless of
// which (if any) file was found.
func Load() (*Config, error) {
	if explicit := os.Getenv(configPathEnv); explicit != "" {
		cfg, err := LoadFromPath(explicit)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := Default()

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			cfg.ApplyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid config: %w", err)
			}
			return cfg, nil
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			cfg.ApplyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid config: %w", err)
			}
			return cfg, nil
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg, starting from whatever cfg
// already holds (normally Default()) so unset keys keep their defaults.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from an explicit file path, dispatching
// on extension, applying env overrides and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveTOML writes cfg to path as TOML with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML config: %w", err)
	}
	return nil
}

// ValidationError represents one configuration field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every ValidationError found by Validate, so a
// caller sees all problems in one pass instead of fixing them one at a time.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validSafetyLevels = map[string]bool{"strict": true, "moderate": true, "permissive": true}
var validPrimaries = map[string]bool{"embedded": true, "ollama": true, "vllm": true}

// Validate checks every key named in §6's external-interface contract.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if !validSafetyLevels[strings.ToLower(c.General.SafetyLevel)] {
		errs = append(errs, ValidationError{
			Field:   "general.safety_level",
			Message: fmt.Sprintf("invalid level %q, must be one of: strict, moderate, permissive", c.General.SafetyLevel),
		})
	}

	if !validPrimaries[strings.ToLower(c.Backend.Primary)] {
		errs = append(errs, ValidationError{
			Field:   "backend.primary",
			Message: fmt.Sprintf("invalid backend %q, must be one of: embedded, ollama, vllm", c.Backend.Primary),
		})
	}

	if c.Backend.Primary == "ollama" || c.Backend.EnableFallback {
		if c.Backend.Ollama.BaseURL != "" {
			if _, err := url.Parse(c.Backend.Ollama.BaseURL); err != nil {
				errs = append(errs, ValidationError{Field: "backend.ollama.base_url", Message: fmt.Sprintf("invalid URL: %v", err)})
			}
		}
	}
	if c.Backend.Primary == "vllm" || c.Backend.EnableFallback {
		if c.Backend.VLLM.BaseURL != "" {
			if _, err := url.Parse(c.Backend.VLLM.BaseURL); err != nil {
				errs = append(errs, ValidationError{Field: "backend.vllm.base_url", Message: fmt.Sprintf("invalid URL: %v", err)})
			}
		}
	}

	if c.Cache.MaxSizeGB < 1 || c.Cache.MaxSizeGB > 1000 {
		errs = append(errs, ValidationError{
			Field:   "cache.max_size_gb",
			Message: fmt.Sprintf("must be between 1 and 1000, got %d", c.Cache.MaxSizeGB),
		})
	}

	for i, pat := range c.Safety.CustomPatterns {
		if strings.TrimSpace(pat) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("safety.custom_patterns[%d]", i),
				Message: "empty pattern",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ApplyEnvOverrides applies the small fixed set of environment variables
// §6 says the core honors, layered on top of whatever the TOML file (or
// defaults) already set.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SHELLSAGE_SAFETY_LEVEL"); v != "" {
		c.General.SafetyLevel = v
	}
	if v := os.Getenv("SHELLSAGE_DEFAULT_SHELL"); v != "" {
		c.General.DefaultShell = v
	}
	if v := os.Getenv("SHELLSAGE_LOG_LEVEL"); v != "" {
		c.General.LogLevel = v
	}
}

var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// Global returns the process-wide configuration, loading it on first use.
func Global() *Config {
	globalMu.RLock()
	if globalCfg != nil {
		defer globalMu.RUnlock()
		return globalCfg
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCfg == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalCfg = cfg
	}
	return globalCfg
}

// SetGlobal overrides the process-wide configuration, for tests and for a
// CLI wrapper that already parsed flags into a Config.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCfg = cfg
}

// ResetGlobalForTesting clears the cached global so the next Global() call
// reloads from disk/defaults.
func ResetGlobalForTesting() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCfg = nil
}
