package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/observability"
)

// RouterConfig holds the limits applied to the data routes.
type RouterConfig struct {
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration // 0 disables the per-request deadline
}

// NewRouter wires the viewer routes. Data routes (page, API, heatmaps) are rate limited
// and carry a request deadline; /health, /metrics and figures are not.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")
	router.HandleFunc("/figures/{id}", h.GetFigure).Methods("GET")

	limit := RateLimitMiddleware(cfg.Limiter, h.traffic)
	deadline := TimeoutMiddleware(cfg.RequestTimeout)
	data := func(fn http.HandlerFunc) http.Handler {
		return limit(deadline(fn))
	}
	router.Handle("/", data(h.GetPage)).Methods("GET")
	router.Handle("/api/dates", data(h.GetDates)).Methods("GET")
	router.Handle("/api/days/{index}", data(h.GetDay)).Methods("GET")
	router.Handle("/days/{index}/heatmap.{format}", data(h.GetHeatmap)).Methods("GET")
	return router
}
