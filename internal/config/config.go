// Package config centralizes configuration loading: a YAML file overridden
// by COMMERCE_* environment variables, plus hot reload of the file through
// the watcher.
package config

import (
	"time"

	"github.com/Drasasse/gestion-commerce-sub000/internal/ratelimit"
)

// Config holds the request-control layer configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Redis     Redis     `yaml:"redis"`
	RateLimit RateLimit `yaml:"rateLimit"`
	Cache     Cache     `yaml:"cache"`
	Csrf      Csrf      `yaml:"csrf"`
	Auth      Auth      `yaml:"auth"`
}

// Server configuration
type Server struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
	// TrustForwardedFor enables client IP resolution from X-Forwarded-For;
	// only set it behind a trusted proxy
	TrustForwardedFor bool `yaml:"trustForwardedFor"`
}

// Redis connection configuration
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// CallTimeoutMillis bounds each store round-trip
	CallTimeoutMillis int `yaml:"callTimeoutMillis"`
}

// Tier is one rate-limit budget
type Tier struct {
	MaxRequests   int `yaml:"maxRequests"`
	WindowSeconds int `yaml:"windowSeconds"`
}

// RateLimit configuration
type RateLimit struct {
	Login     Tier `yaml:"login"`
	API       Tier `yaml:"api"`
	Sensitive Tier `yaml:"sensitive"`
	// OnStoreError is "allow" or "deny"; the default posture is allow
	OnStoreError string `yaml:"onStoreError"`
}

// Cache configuration
type Cache struct {
	DefaultTTLSeconds int  `yaml:"defaultTtlSeconds"`
	CoalesceFetches   bool `yaml:"coalesceFetches"`
}

// Csrf configuration
type Csrf struct {
	TokenLength int `yaml:"tokenLength"` // random bytes per token
	TTLSeconds  int `yaml:"ttlSeconds"`
}

// Auth configuration
type Auth struct {
	JWTSecret  string `yaml:"jwtSecret"`
	CookieName string `yaml:"cookieName"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		Server: Server{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 15,
		},
		Redis: Redis{
			Addr:              "localhost:6379",
			CallTimeoutMillis: 2000,
		},
		RateLimit: RateLimit{
			Login:     Tier{MaxRequests: 5, WindowSeconds: 60},
			API:       Tier{MaxRequests: 100, WindowSeconds: 60},
			Sensitive: Tier{MaxRequests: 10, WindowSeconds: 60},
		},
		Cache: Cache{
			DefaultTTLSeconds: 300,
		},
		Csrf: Csrf{
			TokenLength: 32,
			TTLSeconds:  3600,
		},
	}
}

// Budgets converts the tier configuration into limiter budgets
func (c *Config) Budgets() map[ratelimit.Tier]ratelimit.Budget {
	return map[ratelimit.Tier]ratelimit.Budget{
		ratelimit.TierLogin:     c.RateLimit.Login.budget(),
		ratelimit.TierAPI:       c.RateLimit.API.budget(),
		ratelimit.TierSensitive: c.RateLimit.Sensitive.budget(),
	}
}

func (t Tier) budget() ratelimit.Budget {
	return ratelimit.Budget{
		MaxRequests: t.MaxRequests,
		Window:      time.Duration(t.WindowSeconds) * time.Second,
	}
}

// FailurePolicy converts the configured posture for the limiter
func (c *Config) FailurePolicy() ratelimit.FailurePolicy {
	if c.RateLimit.OnStoreError == "deny" {
		return ratelimit.FailClosed
	}
	return ratelimit.FailOpen
}

// CallTimeout returns the store round-trip bound
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Redis.CallTimeoutMillis) * time.Millisecond
}
