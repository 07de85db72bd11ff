package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/config"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/observability"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/validation"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type pageData struct {
	Title      string
	Error      string
	Count      int
	MaxIndex   int
	Index      int
	Date       string
	HeatmapURL string
	Figures    []config.Figure
}

// GetPage handles GET /?index=N. An absent index selects the first day.
// Failures are rendered on the page with the error text as-is.
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: h.content.PageTitle, Figures: h.content.Figures}
	if data.Title == "" {
		data.Title = "Himalayan Extreme Rainfall Explorer"
	}

	status := http.StatusOK
	fail := func(err error) {
		var code string
		status, code = errorStatus(err)
		logger := observability.LoggerFromContext(r.Context(), h.logger)
		if status >= http.StatusInternalServerError {
			h.traffic.RecordError()
			logger.Warn("page failed", zap.String("code", code), zap.Error(err))
		}
		data.Error = err.Error()
	}

	dates, err := h.viewer.Dates(r.Context())
	if err != nil {
		fail(err)
	} else {
		data.Count = len(dates)
		data.MaxIndex = len(dates) - 1
		index, perr := validation.ParseIndex(r.URL.Query().Get("index"), true)
		switch {
		case perr != nil:
			fail(perr)
		case index < 0 || index >= len(dates):
			fail(&dataset.IndexError{Index: index, Len: len(dates)})
		default:
			data.Index = index
			data.Date = dataset.FormatDate(dates[index])
			data.HeatmapURL = fmt.Sprintf("/days/%d/heatmap.png", index)
			h.traffic.RecordSuccess()
		}
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		h.traffic.RecordError()
		observability.LoggerFromContext(r.Context(), h.logger).Error("page template", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
