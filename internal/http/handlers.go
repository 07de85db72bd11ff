package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/config"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/lifecycle"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/observability"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/render"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/traffic"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/validation"
)

// Version is reported by /health. Overridden at build time.
var Version = "dev"

// Viewer is the data surface behind the handlers. Implemented by *service.ViewerService.
type Viewer interface {
	Dates(ctx context.Context) ([]time.Time, error)
	Day(ctx context.Context, index int) (dataset.Day, error)
	Heatmap(ctx context.Context, index int, format render.Format) ([]byte, error)
}

// Content is the static text and figures shown on the page.
type Content struct {
	PageTitle string
	Units     string
	Figures   []config.Figure
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// DatasetError returns the last dataset load failure, or nil once a load succeeds.
	DatasetError func() error
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	viewer           Viewer
	content          Content
	traffic          *traffic.Tracker
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. A nil tracker gets a private one.
func NewHandler(viewer Viewer, content Content, tracker *traffic.Tracker, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if content.Units == "" {
		content.Units = "mm/hr"
	}
	return &Handler{
		viewer:       viewer,
		content:      content,
		traffic:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type datesResponse struct {
	Count int      `json:"count"`
	Dates []string `json:"dates"`
}

// GetDates handles GET /api/dates.
func (h *Handler) GetDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.viewer.Dates(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := datesResponse{Count: len(dates), Dates: make([]string, len(dates))}
	for i, d := range dates {
		out.Dates[i] = dataset.FormatISODate(d)
	}
	h.traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, out)
}

type statsResponse struct {
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Mean  *float64 `json:"mean"`
	Valid int      `json:"valid"`
	Total int      `json:"total"`
}

type dayResponse struct {
	Index       int           `json:"index"`
	Date        string        `json:"date"`
	DisplayDate string        `json:"displayDate"`
	Units       string        `json:"units"`
	Lat         []float64     `json:"lat"`
	Lon         []float64     `json:"lon"`
	Values      [][]*float64  `json:"values"`
	Stats       statsResponse `json:"stats"`
}

// GetDay handles GET /api/days/{index}. Missing cells are encoded as null.
func (h *Handler) GetDay(w http.ResponseWriter, r *http.Request) {
	index, err := validation.ParseIndex(mux.Vars(r)["index"], false)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	day, err := h.viewer.Day(r.Context(), index)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, newDayResponse(day, h.content.Units))
}

func newDayResponse(day dataset.Day, units string) dayResponse {
	g := day.Grid
	values := make([][]*float64, g.Rows())
	for i := range values {
		row := make([]*float64, g.Cols())
		for j := range row {
			row[j] = finite(float64(g.At(i, j)))
		}
		values[i] = row
	}
	s := g.Stats()
	return dayResponse{
		Index:       day.Index,
		Date:        dataset.FormatISODate(day.Date),
		DisplayDate: day.DisplayDate(),
		Units:       units,
		Lat:         g.Lat,
		Lon:         g.Lon,
		Values:      values,
		Stats: statsResponse{
			Min:   finite(s.Min),
			Max:   finite(s.Max),
			Mean:  finite(s.Mean),
			Valid: s.Valid,
			Total: s.Total,
		},
	}
}

// finite returns nil for NaN and infinities, which JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// GetHeatmap handles GET /days/{index}/heatmap.{format}.
func (h *Handler) GetHeatmap(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := validation.ParseIndex(vars["index"], false)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	format, err := render.ParseFormat(vars["format"])
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	data, err := h.viewer.Heatmap(r.Context(), index, format)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.traffic.RecordSuccess()
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetFigure handles GET /figures/{id}. Only configured figures are served.
func (h *Handler) GetFigure(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ValidateFigureID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusNotFound, "FIGURE_NOT_FOUND", err.Error())
		return
	}
	fig, ok := h.figure(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "FIGURE_NOT_FOUND", "unknown figure "+id)
		return
	}
	info, err := os.Stat(fig.Path)
	if err != nil || info.IsDir() {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("figure file unavailable",
			zap.String("figure", id), zap.String("path", fig.Path), zap.Error(err))
		writeError(w, r, http.StatusNotFound, "FIGURE_NOT_FOUND", "figure "+id+" is not available")
		return
	}
	http.ServeFile(w, r, fig.Path)
}

func (h *Handler) figure(id string) (config.Figure, bool) {
	for _, f := range h.content.Figures {
		if f.ID == id {
			return f, true
		}
	}
	return config.Figure{}, false
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if h.healthConfig != nil && h.healthConfig.DatasetError != nil {
		if h.healthConfig.DatasetError() != nil {
			checks["dataset"] = "unhealthy"
		} else {
			checks["dataset"] = "healthy"
		}
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	now := time.Now()
	resp := map[string]interface{}{
		"status":        result.status,
		"service":       observability.ServiceName,
		"version":       Version,
		"checks":        checks,
		"uptimeSeconds": int64(lifecycle.Uptime(now).Seconds()),
		"timestamp":     now.UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > dataset load failed > overloaded > error rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	cfg := h.healthConfig
	if cfg == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if cfg.DatasetError != nil && cfg.DatasetError() != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "dataset_load_failed"}
	}
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.traffic.DenialCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := h.traffic.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// errorStatus maps a domain error onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var indexErr *dataset.IndexError
	var noDataErr *dataset.NoDataError
	var parseErr *dataset.ParseError
	var loadErr *dataset.LoadError
	switch {
	case errors.Is(err, validation.ErrIndexEmpty), errors.Is(err, validation.ErrIndexNotInteger):
		return http.StatusBadRequest, "INVALID_INDEX"
	case errors.As(err, &indexErr):
		return http.StatusBadRequest, "INDEX_OUT_OF_RANGE"
	case errors.Is(err, render.ErrUnknownFormat):
		return http.StatusBadRequest, "INVALID_FORMAT"
	case errors.As(err, &noDataErr):
		return http.StatusServiceUnavailable, "NO_DATA"
	case errors.As(err, &parseErr):
		return http.StatusInternalServerError, "DATASET_PARSE_ERROR"
	case errors.As(err, &loadErr), errors.Is(err, raster.ErrInvalidWindow):
		return http.StatusInternalServerError, "DATASET_LOAD_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// writeDomainError writes err with its mapped status, records server-side failures
// for the degraded check and logs them.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		h.traffic.RecordError()
		logger.Warn("request failed", zap.String("code", code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
	}
	writeError(w, r, status, code, err.Error())
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
