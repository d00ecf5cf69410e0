// Package app wires the request-control components into a runnable HTTP
// server: shared store, rate limiter, cache manager, CSRF guard, JWT
// authenticator, and the guard middleware around the demo routes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Drasasse/gestion-commerce-sub000/internal/auth"
	"github.com/Drasasse/gestion-commerce-sub000/internal/cache"
	"github.com/Drasasse/gestion-commerce-sub000/internal/config"
	"github.com/Drasasse/gestion-commerce-sub000/internal/csrf"
	"github.com/Drasasse/gestion-commerce-sub000/internal/guard"
	metricshttp "github.com/Drasasse/gestion-commerce-sub000/internal/metrics"
	"github.com/Drasasse/gestion-commerce-sub000/internal/ratelimit"
	"github.com/Drasasse/gestion-commerce-sub000/internal/store"
	memorystore "github.com/Drasasse/gestion-commerce-sub000/internal/store/memory"
	redisstore "github.com/Drasasse/gestion-commerce-sub000/internal/store/redis"
	"github.com/Drasasse/gestion-commerce-sub000/pkg/metrics"
)

// Server hosts the request-control layer and its demo routes
type Server struct {
	registry *prometheus.Registry
	config   *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	store   store.KeyValueStore
	limiter *ratelimit.Limiter
	cache   *cache.Manager
	csrf    *csrf.Guard
	guard   *guard.Guard
	catalog *Catalog
	users   *UserDirectory

	httpServer *http.Server
	watcher    *config.Watcher
}

// NewServer builds the server from configuration. When Redis is unreachable
// the server degrades to a per-process in-memory store rather than refusing
// to start: the layer is defense in depth, and a local window beats no
// window at all.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return NewServerWithStore(cfg, logger, newStore(cfg, logger))
}

// NewServerWithStore wires the server on top of an already constructed
// store. Tests use it with the in-memory store.
func NewServerWithStore(cfg *config.Config, logger *slog.Logger, kv store.KeyValueStore) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Each server owns its registry so repeated construction, as in tests,
	// never collides on collector registration.
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)

	limiter := ratelimit.New(kv, ratelimit.Config{
		Budgets:      cfg.Budgets(),
		OnStoreError: cfg.FailurePolicy(),
		CallTimeout:  cfg.CallTimeout(),
		Logger:       logger,
		Metrics:      m,
	})

	cacheManager := cache.New(kv, cache.Config{
		DefaultTTL:      time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		CallTimeout:     cfg.CallTimeout(),
		CoalesceFetches: cfg.Cache.CoalesceFetches,
		Logger:          logger,
		Metrics:         m,
	})

	csrfGuard := csrf.New(kv, csrf.Config{
		TokenLength: cfg.Csrf.TokenLength,
		TTL:         time.Duration(cfg.Csrf.TTLSeconds) * time.Second,
		CallTimeout: cfg.CallTimeout(),
		Logger:      logger,
		Metrics:     m,
	})

	cookieName := cfg.Auth.CookieName
	if cookieName == "" {
		cookieName = auth.DefaultCookieName
	}
	authenticator := auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret), cookieName)

	requestGuard := guard.New(guard.Config{
		Limiter:           limiter,
		Csrf:              csrfGuard,
		Auth:              authenticator,
		TrustForwardedFor: cfg.Server.TrustForwardedFor,
		Logger:            logger,
		Metrics:           m,
	})

	s := &Server{
		registry: registry,
		config:   cfg,
		logger:   logger.With("component", "server"),
		metrics:  m,
		store:    kv,
		limiter:  limiter,
		cache:    cacheManager,
		csrf:     csrfGuard,
		guard:    requestGuard,
		catalog:  NewCatalog(),
		users:    NewUserDirectory(),
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:      s.routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return s, nil
}

func newStore(cfg *config.Config, logger *slog.Logger) store.KeyValueStore {
	kv, err := redisstore.New(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err == nil {
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
		return kv
	}

	logger.Warn("redis unreachable, falling back to in-memory store",
		"addr", cfg.Redis.Addr, "error", err)
	return memorystore.NewStore(nil)
}

// Handler exposes the wired route tree, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/login", s.guard.Public(ratelimit.TierLogin, http.HandlerFunc(s.handleLogin)))
	mux.Handle("GET /api/produits", s.guard.Protect(ratelimit.TierAPI, http.HandlerFunc(s.handleListProduits)))
	mux.Handle("POST /api/produits", s.guard.ProtectMutating(ratelimit.TierSensitive, http.HandlerFunc(s.handleCreateProduit)))
	mux.Handle("POST /api/csrf/refresh", s.guard.Protect(ratelimit.TierAPI, http.HandlerFunc(s.handleRefreshCsrf)))

	mux.Handle("GET /metrics", metricshttp.HandlerFor(s.registry))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// WatchConfig reloads rate-limit budgets when the config file changes.
// Other settings require a restart.
func (s *Server) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, &config.WatcherConfig{
		OnChange: func(cfg *config.Config) error {
			s.limiter.SetBudgets(cfg.Budgets())
			s.logger.Info("rate limit budgets reloaded")
			return nil
		},
		OnError: func(err error) {
			s.logger.Error("config reload rejected", "error", err)
		},
	}, s.logger)
	if err != nil {
		return err
	}

	w.Start()
	s.watcher = w
	return nil
}

// Start begins serving. It is non-blocking: the listener is bound before
// returning so callers can treat a nil error as "accepting traffic".
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server stopped unexpectedly", "error", err)
		}
	}()

	return nil
}

// Stop drains in-flight requests and releases the store connection
func (s *Server) Stop(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn("failed to stop config watcher", "error", err)
		}
	}

	err := s.httpServer.Shutdown(ctx)

	if closeErr := s.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	return err
}
