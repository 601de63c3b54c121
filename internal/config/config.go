// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/daypilot/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete daypilot configuration.
type Config struct {
	Reasoning ReasoningConfig `toml:"reasoning"`
	Providers ProvidersConfig `toml:"providers"`
	Location  LocationConfig  `toml:"location"`
	Whoop     WhoopConfig     `toml:"whoop"`
	Planning  PlanningConfig  `toml:"planning"`
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ReasoningConfig selects and tunes the reasoning backend.
type ReasoningConfig struct {
	Backend      string   `toml:"backend"` // "openai" or "ollama"
	Model        string   `toml:"model"`
	BaseURL      string   `toml:"base_url"`
	APIKey       string   `toml:"api_key,omitempty"`
	OllamaURL    string   `toml:"ollama_url"`
	OllamaModel  string   `toml:"ollama_model"`
	Timeout      Duration `toml:"timeout"`
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff Duration `toml:"retry_backoff"`
}

// ProvidersConfig bounds the context providers.
type ProvidersConfig struct {
	Timeout       Duration `toml:"timeout"`
	Attempts      int      `toml:"attempts"`
	Backoff       Duration `toml:"backoff"`
	RatePerSecond float64  `toml:"rate_per_second"`
	Weather       bool     `toml:"weather"`
	Recovery      bool     `toml:"recovery"`
	WeatherURL    string   `toml:"weather_url"`
	WeatherTTL    Duration `toml:"weather_cache_ttl"`
}

// LocationConfig configures the geocoder.
type LocationConfig struct {
	OpenCageKey string `toml:"opencage_api_key,omitempty"`
	GeocodeURL  string `toml:"geocode_url"`
}

// WhoopConfig configures the WHOOP integration.
type WhoopConfig struct {
	ClientID     string `toml:"client_id,omitempty"`
	ClientSecret string `toml:"client_secret,omitempty"`
	APIURL       string `toml:"api_url"`
	AuthURL      string `toml:"auth_url"`
	TokenURL     string `toml:"token_url"`
	RedirectHost string `toml:"redirect_host"`
	RedirectPort int    `toml:"redirect_port"`
	Scope        string `toml:"scope"`
}

// PlanningConfig holds planning defaults.
type PlanningConfig struct {
	WorkHours     string `toml:"work_hours"`
	MaxInputRunes int    `toml:"max_input_runes"`
}

// ServerConfig configures the plan endpoint.
type ServerConfig struct {
	Host       string   `toml:"host"`
	Port       int      `toml:"port"`
	AuthToken  string   `toml:"auth_token,omitempty"`
	RateLimit  float64  `toml:"rate_limit"` // requests per second per client
	RateBurst  int      `toml:"rate_burst"`
	RunTimeout Duration `toml:"run_timeout"`
}

// StorageConfig locates the profile database.
type StorageConfig struct {
	Path    string `toml:"path"`
	KeyFile string `toml:"key_file"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file,omitempty"`
}

// Duration is a time.Duration that reads and writes as "8s" in TOML.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Reasoning: ReasoningConfig{
			Backend:      "openai",
			Model:        "gpt-5-mini",
			BaseURL:      "https://api.openai.com/v1",
			OllamaURL:    "http://localhost:11434",
			OllamaModel:  "qwen2.5:7b",
			Timeout:      D(120 * time.Second),
			MaxRetries:   3,
			RetryBackoff: D(time.Second),
		},
		Providers: ProvidersConfig{
			Timeout:       D(8 * time.Second),
			Attempts:      3,
			Backoff:       D(200 * time.Millisecond),
			RatePerSecond: 5,
			Weather:       true,
			Recovery:      true,
			WeatherURL:    "https://api.open-meteo.com/v1/forecast",
			WeatherTTL:    D(time.Hour),
		},
		Location: LocationConfig{
			GeocodeURL: "https://api.opencagedata.com/geocode/v1/json",
		},
		Whoop: WhoopConfig{
			APIURL:       "https://api.prod.whoop.com/developer",
			AuthURL:      "https://api.prod.whoop.com/oauth/oauth2/auth",
			TokenURL:     "https://api.prod.whoop.com/oauth/oauth2/token",
			RedirectHost: "127.0.0.1",
			RedirectPort: 8765,
			Scope:        "offline read:recovery read:cycles read:sleep read:workout read:profile read:body_measurement",
		},
		Planning: PlanningConfig{
			WorkHours:     "9am-6pm",
			MaxInputRunes: 8000,
		},
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       8787,
			RateLimit:  1,
			RateBurst:  5,
			RunTimeout: D(3 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the daypilot home directory ($DAYPILOT_HOME or ~/.daypilot).
func Dir() (string, error) {
	if dir := os.Getenv("DAYPILOT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".daypilot"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath returns the configured profile database path, defaulting to
// daypilot.db in the home directory.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daypilot.db"), nil
}

// KeyFilePath returns the configured sealing key path, defaulting to
// secret.key in the home directory.
func (c *Config) KeyFilePath() (string, error) {
	if c.Storage.KeyFile != "" {
		return c.Storage.KeyFile, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "secret.key"), nil
}

// ensureSecurePermissions tightens config files to 0600; they hold API keys.
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

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the default config file if it exists, applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load for an explicit path. A missing file yields defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("failed to stat config: %w", statErr)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg. Unknown keys are rejected so typos surface.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# daypilot configuration file\n")
	buf.WriteString("# Secrets may also come from OPENAI_API_KEY, OPENCAGE_API_KEY, WHOOP_CLIENT_ID and WHOOP_CLIENT_SECRET.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variables on top of the file values.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Reasoning.APIKey = key
	}
	if key := os.Getenv("OPENCAGE_API_KEY"); key != "" {
		c.Location.OpenCageKey = key
	}
	if id := os.Getenv("WHOOP_CLIENT_ID"); id != "" {
		c.Whoop.ClientID = id
	}
	if secret := os.Getenv("WHOOP_CLIENT_SECRET"); secret != "" {
		c.Whoop.ClientSecret = secret
	}
	if backend := os.Getenv("DAYPILOT_BACKEND"); backend != "" {
		c.Reasoning.Backend = strings.ToLower(backend)
	}
	if model := os.Getenv("DAYPILOT_MODEL"); model != "" {
		c.Reasoning.Model = model
		c.Reasoning.OllamaModel = model
	}
	if url := os.Getenv("DAYPILOT_OLLAMA_URL"); url != "" {
		c.Reasoning.OllamaURL = url
	}
	if level := os.Getenv("DAYPILOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if token := os.Getenv("DAYPILOT_SERVER_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
	if db := os.Getenv("DAYPILOT_DB"); db != "" {
		c.Storage.Path = db
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidationErrors on failure.
// Missing API keys are not errors here; the commands that need them report it.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	switch c.Reasoning.Backend {
	case "openai", "ollama":
	default:
		add("reasoning.backend", fmt.Sprintf("must be openai or ollama, got %q", c.Reasoning.Backend))
	}
	if c.Reasoning.Timeout.Duration <= 0 {
		add("reasoning.timeout", "must be positive")
	}
	if c.Reasoning.MaxRetries < 0 || c.Reasoning.MaxRetries > 10 {
		add("reasoning.max_retries", "must be between 0 and 10")
	}
	if c.Providers.Timeout.Duration <= 0 {
		add("providers.timeout", "must be positive")
	}
	if c.Providers.Attempts < 1 || c.Providers.Attempts > 10 {
		add("providers.attempts", "must be between 1 and 10")
	}
	if c.Providers.Backoff.Duration < 0 {
		add("providers.backoff", "must not be negative")
	}
	if c.Providers.RatePerSecond < 0 {
		add("providers.rate_per_second", "must not be negative")
	}
	if c.Whoop.RedirectPort < 1 || c.Whoop.RedirectPort > 65535 {
		add("whoop.redirect_port", "must be a valid TCP port")
	}
	if c.Planning.MaxInputRunes < 1 {
		add("planning.max_input_runes", "must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be a valid TCP port")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RunTimeout.Duration <= 0 {
		add("server.run_timeout", "must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format", "must be json or text")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GLOBAL INSTANCE
// =============================================================================

var (
	globalConfig   *Config
	globalConfigMu sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
// Load errors fall back to defaults with a warning on stderr.
func Global() *Config {
	globalConfigMu.RLock()
	cfg := globalConfig
	globalConfigMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	if globalConfig == nil {
		loaded, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			loaded = Default()
			loaded.ApplyEnvOverrides()
		}
		globalConfig = loaded
	}
	return globalConfig
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// Clone returns a deep copy of c. Config has no reference fields.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
