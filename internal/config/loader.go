package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Drasasse/gestion-commerce-sub000/pkg/errors"
)

// Loader loads configuration from file
type Loader struct {
	path       string
	envEnabled bool
}

// NewLoader creates a config loader. An empty path loads defaults and
// environment variables only.
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true,
	}
}

// WithEnvVars enables or disables environment variable loading
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// Load loads the configuration
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to read config file").WithCause(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse config").WithCause(err)
		}
	}

	if l.envEnabled {
		if err := LoadEnv(cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load env vars").WithCause(err)
		}
	}

	if err := l.validate(cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "invalid configuration").WithCause(err)
	}

	return cfg, nil
}

// validate validates the configuration
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", cfg.Server.Port)
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if cfg.Redis.CallTimeoutMillis <= 0 {
		return fmt.Errorf("redis call timeout must be positive")
	}

	for name, tier := range map[string]Tier{
		"login":     cfg.RateLimit.Login,
		"api":       cfg.RateLimit.API,
		"sensitive": cfg.RateLimit.Sensitive,
	} {
		if tier.MaxRequests <= 0 {
			return fmt.Errorf("rate limit tier %s: maxRequests must be positive", name)
		}
		if tier.WindowSeconds <= 0 {
			return fmt.Errorf("rate limit tier %s: windowSeconds must be positive", name)
		}
	}

	switch cfg.RateLimit.OnStoreError {
	case "", "allow", "deny":
	default:
		return fmt.Errorf("unknown onStoreError policy: %s", cfg.RateLimit.OnStoreError)
	}

	if cfg.Cache.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("cache default TTL must be positive")
	}
	if cfg.Csrf.TokenLength <= 0 {
		return fmt.Errorf("csrf token length must be positive")
	}
	if cfg.Csrf.TTLSeconds <= 0 {
		return fmt.Errorf("csrf TTL must be positive")
	}

	return nil
}
