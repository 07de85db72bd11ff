package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/cache"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/circuitbreaker"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/config"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/observability"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/render"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/service"
)

// app is the component graph shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	cache     cache.Cache
	memcached *cache.MemcachedCache // nil unless the memcached backend is in use
	registry  *service.Registry
	viewer    *service.ViewerService
}

// loadConfig loads configDir/.env when present, then the YAML config under configDir.
// Variables already set in the environment win over .env.
func loadConfig(configDir string) (*config.Config, error) {
	root, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	envPath := filepath.Join(root, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	return config.LoadFrom(root)
}

// bootstrap loads .env and the config, then builds the logger, so LOG_LEVEL may come from .env.
func bootstrap(configDir string) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(configDir)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

// newApp wires the viewer. With configuredCache unset the in-memory backend is used
// regardless of config, which suits one-shot commands.
func newApp(cfg *config.Config, logger *zap.Logger, configuredCache bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if configuredCache && cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.memcached = mc
		a.cache = cache.NewBreakerCache(mc, circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailures,
			SuccessThreshold: cfg.BreakerSuccesses,
			Timeout:          cfg.BreakerTimeout,
			Component:        "memcached",
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}))
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	} else {
		a.cache = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	a.registry = service.NewRegistry(cfg.DatasetOptions(), cfg.LoadTimeout, logger)
	a.viewer = service.NewViewerService(a.registry, render.NewRenderer(cfg.RenderOptions()), a.cache, service.ViewerConfig{
		Pattern:         cfg.DatasetPattern,
		CacheTTL:        cfg.CacheTTL,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})
	return a, nil
}

func (a *app) close() {
	if a.memcached != nil {
		if err := a.memcached.Close(); err != nil {
			a.logger.Error("memcached close", zap.Error(err))
		}
	}
}
