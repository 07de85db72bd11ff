package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/cache"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/config"
	httphandler "github.com/kjstillabower/himalayan-rainfall-viewer/internal/http"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/lifecycle"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/observability"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/traffic"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP viewer (default)",
		RunE: func(c *cobra.Command, _ []string) error {
			return runServe(c.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := bootstrap(opts.configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger, nil)
}

// serve runs the viewer until ctx ends, then drains in-flight requests.
// When ready is non-nil it receives the bound address once the listener is up.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready chan<- string) error {
	a, err := newApp(cfg, logger, true)
	if err != nil {
		logger.Error("startup", zap.Error(err))
		return err
	}
	defer a.close()

	tracker := traffic.NewTracker(cfg.OverloadWindow, cfg.DegradedWindow)
	observability.RegisterRateLimitGauges(tracker, cfg.OverloadWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		DatasetError:         a.registry.LastError,
	}
	if a.memcached != nil {
		healthConfig.CachePing = a.memcached.Ping
	}
	content := httphandler.Content{PageTitle: cfg.PageTitle, Figures: cfg.Figures}
	handler := httphandler.NewHandler(a.viewer, content, tracker, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	if cfg.WarmCache {
		warmer := cache.NewCacheWarmer(a.viewer, logger, cfg.WarmConcurrency)
		go func() {
			if err := warmer.WarmAll(ctx, cfg.WarmFormat); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("cache warming failed", zap.Error(err))
			}
		}()
	}

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		logger.Error("listen", zap.String("port", cfg.ServerPort), zap.Error(err))
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", ln.Addr().String()),
			zap.String("dataset", cfg.DatasetPattern))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	lifecycle.MarkStarted(time.Now())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server", zap.Error(err))
			return fmt.Errorf("server: %w", err)
		}
	}

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
