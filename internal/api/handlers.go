package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"incidentwatch/internal/bus"
	"incidentwatch/internal/diagnosis"
	"incidentwatch/internal/incidents"
	"incidentwatch/internal/tabular"
)

// ReloadFunc replaces the service snapshot from its configured source.
type ReloadFunc func(ctx context.Context) ([]tabular.Report, error)

type Publisher interface {
	Publish(subject string, payload any) error
}

type Handler struct {
	Service  *incidents.Service
	Defaults incidents.Query
	Reload   ReloadFunc
	Bus      Publisher
	Timeout  time.Duration
	Logger   *slog.Logger
}

type errorResponse struct {
	Ok      bool                    `json:"ok"`
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Details []incidents.ErrorDetail `json:"details"`
}

// NewRouter mounts the handler behind the standard middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	if h.Timeout > 0 {
		r.Use(middleware.Timeout(h.Timeout))
	}
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/summary", h.handleSummary)
	r.Get("/incidents", h.handleIncidents)
	r.Get("/series", h.handleSeries)
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", h.handleDevices)
		r.Get("/{id}/incidents", h.handleDeviceIncidents)
		r.Get("/{id}/diagnosis", h.handleDiagnosis)
		r.Get("/{id}/series", h.handleDeviceSeries)
	})
	r.Post("/snapshot/reload", h.handleReload)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := h.Service.Summary()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "loadedAt": summary.LoadedAt, "records": summary.Records})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Summary())
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Devices())
}

func (h *Handler) handleIncidents(w http.ResponseWriter, r *http.Request) {
	h.listIncidents(w, r, r.URL.Query().Get("device"))
}

func (h *Handler) handleDeviceIncidents(w http.ResponseWriter, r *http.Request) {
	h.listIncidents(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request, deviceID string) {
	q, err := parseIncidentQuery(r.URL.Query(), h.Defaults)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q.DeviceID = deviceID
	found, err := h.Service.ListIncidents(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"device":      q.DeviceID,
		"threshold":   q.Threshold,
		"minDuration": q.MinDuration.String(),
		"count":       len(found),
		"incidents":   found,
	})
}

func (h *Handler) handleDiagnosis(w http.ResponseWriter, r *http.Request) {
	q, err := parseWindowQuery(chi.URLParam(r, "id"), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	report, err := h.Service.DiagnoseWindow(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Ok:      false,
			Code:    "NO_DATA",
			Message: "no score points in the requested window",
			Details: []incidents.ErrorDetail{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"report": report,
		"text":   diagnosis.Render(report.Diagnosis),
	})
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	h.series(w, r, values["device"])
}

func (h *Handler) handleDeviceSeries(w http.ResponseWriter, r *http.Request) {
	h.series(w, r, []string{chi.URLParam(r, "id")})
}

func (h *Handler) series(w http.ResponseWriter, r *http.Request, devices []string) {
	q, err := parseSeriesQuery(devices, r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, err := h.Service.Series(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if h.Reload == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "message": "reload not configured"})
		return
	}
	reports, err := h.Reload(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if h.Bus != nil {
		if err := h.Bus.Publish(bus.SubjectSnapshotReload, bus.ReloadRequest{Reason: "api"}); err != nil {
			h.logger().Warn("failed to announce reload", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "summary": h.Service.Summary(), "reports": reports})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *incidents.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Ok: false, Code: verr.Code, Message: verr.Message, Details: verr.Details})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Ok: false, Code: "TIMEOUT", Message: "query timed out", Details: []incidents.ErrorDetail{}})
	case errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Ok: false, Code: "CANCELED", Message: "request canceled", Details: []incidents.ErrorDetail{}})
	default:
		h.logger().Error("query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Ok: false, Code: "INTERNAL", Message: err.Error(), Details: []incidents.ErrorDetail{}})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
