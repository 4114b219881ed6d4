// Package config loads assetdesk configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/assetdesk/internal/errors"
)

// Environment variables that override the file configuration.
const (
	EnvAPIURL         = "ASSETDESK_API_URL"
	EnvIdentityIssuer = "ASSETDESK_IDENTITY_ISSUER"
	EnvTokenURL       = "ASSETDESK_TOKEN_URL"
	EnvClientID       = "ASSETDESK_CLIENT_ID"
	EnvClientSecret   = "ASSETDESK_CLIENT_SECRET"
	EnvConfigPath     = "ASSETDESK_CONFIG"
)

// Config is the complete assetdesk configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Identity IdentityConfig `yaml:"identity"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
}

// APIConfig configures the remote console API.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// IdentityConfig configures the identity provider.
// Either Issuer (discovered) or TokenURL must be set.
type IdentityConfig struct {
	Issuer       string   `yaml:"issuer,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	LogoutURL    string   `yaml:"logout_url,omitempty"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	LivenessInterval    time.Duration `yaml:"liveness_interval,omitempty"`
	SelfEditLogoutDelay time.Duration `yaml:"self_edit_logout_delay,omitempty"`
	TokenCache          string        `yaml:"token_cache,omitempty"`
	IdentityStore       string        `yaml:"identity_store,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
		},
		Identity: IdentityConfig{
			TokenURL:  "http://localhost:8080/oauth/token",
			LogoutURL: "http://localhost:8080/oauth/logout",
			ClientID:  "assetdesk-console",
		},
	}
	cfg.applyDefaults()
	return cfg
}

// DefaultDir returns ~/.assetdesk.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".assetdesk"
	}
	return filepath.Join(home, ".assetdesk")
}

// DefaultPath returns the configuration file path, honoring ASSETDESK_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads the configuration at path. A missing file yields the defaults.
// Environment variables referenced as ${VAR} are expanded, then the
// ASSETDESK_* overrides are applied and the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("failed to parse config file: %s", path), err).
				WithSuggestion("Check the YAML syntax")
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("failed to read config file: %s", path), err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvIdentityIssuer); v != "" {
		c.Identity.Issuer = v
		c.Identity.TokenURL = ""
	}
	if v := os.Getenv(EnvTokenURL); v != "" {
		c.Identity.TokenURL = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		c.Identity.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.Identity.ClientSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.Session.LivenessInterval == 0 {
		c.Session.LivenessInterval = time.Minute
	}
	if c.Session.SelfEditLogoutDelay == 0 {
		c.Session.SelfEditLogoutDelay = 1500 * time.Millisecond
	}
	if c.Session.TokenCache == "" {
		c.Session.TokenCache = filepath.Join(DefaultDir(), "token.json")
	}
	if c.Session.IdentityStore == "" {
		c.Session.IdentityStore = filepath.Join(DefaultDir(), "identity.json")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := validateURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if c.Identity.Issuer == "" && c.Identity.TokenURL == "" {
		return errors.NewConfigInvalidError("identity.issuer or identity.token_url is required")
	}
	if c.Identity.Issuer != "" {
		if err := validateURL("identity.issuer", c.Identity.Issuer); err != nil {
			return err
		}
	}
	if c.Identity.TokenURL != "" {
		if err := validateURL("identity.token_url", c.Identity.TokenURL); err != nil {
			return err
		}
	}
	if c.Identity.ClientID == "" {
		return errors.NewConfigInvalidError("identity.client_id is required")
	}
	if c.API.Timeout < 0 {
		return errors.NewConfigInvalidError("api.timeout must be non-negative")
	}
	if c.Session.LivenessInterval < time.Second {
		return errors.NewConfigInvalidError("session.liveness_interval must be at least 1s")
	}
	if c.Session.SelfEditLogoutDelay < 0 {
		return errors.NewConfigInvalidError("session.self_edit_logout_delay must be non-negative")
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return errors.NewConfigInvalidError(fmt.Sprintf("%s is required", field))
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.NewConfigInvalidError(fmt.Sprintf("%s must be an absolute URL, got %q", field, raw))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewConfigInvalidError(fmt.Sprintf("%s must use http or https", field))
	}
	return nil
}
