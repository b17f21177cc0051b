package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"telemetry-platform/internal/models"
	"telemetry-platform/internal/services"
	"telemetry-platform/pkg/logging"
	"telemetry-platform/pkg/metrics"
)

// Metric labels use these route names, never the raw request path: the
// lap route embeds the lap number in the path and would otherwise leak
// one label value per lap ever requested.
const (
	endpointView = "/api/telemetry/view"
	endpointLaps = "/api/telemetry/laps"
)

// TelemetryHandler handles telemetry API endpoints
type TelemetryHandler struct {
	service        *services.TelemetryService
	defaults       models.DeriveOptions
	maxUploadBytes int64
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(
	service *services.TelemetryService,
	defaults models.DeriveOptions,
	maxUploadBytes int64,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *TelemetryHandler {
	return &TelemetryHandler{
		service:        service,
		defaults:       defaults,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
		metrics:        metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ViewResponse carries the derived table for the chart/map views plus
// the presence flags the caller needs to decide what is renderable.
type ViewResponse struct {
	Data     []models.DerivedRecord `json:"data"`
	Presence models.PresenceFlags   `json:"presence"`
	Columns  models.ColumnSet       `json:"columns"`
	Laps     []int                  `json:"laps"`
	Timezone string                 `json:"timezone"`
	RowCount int                    `json:"row_count"`
}

// LapResponse carries a single lap's rows and summary for the detail
// view.
type LapResponse struct {
	Data     []models.DerivedRecord `json:"data"`
	Summary  models.LapSummary      `json:"summary"`
	Presence models.PresenceFlags   `json:"presence"`
	Timezone string                 `json:"timezone"`
}

// ViewTelemetry handles POST /api/telemetry/view. The body is a CSV
// upload, either raw bytes or a multipart "file" field; timezone,
// smoothing window and lap selection come from query parameters.
func (h *TelemetryHandler) ViewTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues(endpointView))
	defer timer.ObserveDuration()

	raw, ok := h.readUpload(w, r, endpointView)
	if !ok {
		return
	}

	opts, ok := h.parseOptions(w, r, endpointView)
	if !ok {
		return
	}

	laps, ok := h.parseLaps(w, r, endpointView)
	if !ok {
		return
	}

	table, err := h.service.Process(ctx, raw, opts)
	if err != nil {
		h.handlePipelineError(ctx, w, r, endpointView, err)
		return
	}

	// Lap selection filters the charted rows only; the full lap list
	// stays in the response so the caller can rebuild its selector.
	filtered := table.FilterLaps(laps)

	response := ViewResponse{
		Data:     filtered.Rows,
		Presence: filtered.Presence,
		Columns:  filtered.Columns,
		Laps:     table.Laps(),
		Timezone: filtered.Timezone,
		RowCount: len(filtered.Rows),
	}

	h.metrics.RecordAPIRequest(endpointView, "POST", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// LapDetail handles POST /api/telemetry/laps/{lap}.
func (h *TelemetryHandler) LapDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues(endpointLaps))
	defer timer.ObserveDuration()

	lapNumber, err := strconv.Atoi(mux.Vars(r)["lap"])
	if err != nil {
		h.sendError(w, r, endpointLaps, "invalid lap number", http.StatusBadRequest)
		return
	}

	raw, ok := h.readUpload(w, r, endpointLaps)
	if !ok {
		return
	}

	opts, ok := h.parseOptions(w, r, endpointLaps)
	if !ok {
		return
	}

	table, err := h.service.Process(ctx, raw, opts)
	if err != nil {
		h.handlePipelineError(ctx, w, r, endpointLaps, err)
		return
	}

	lapTable, summary := table.Lap(lapNumber)
	if summary.RowCount == 0 {
		h.sendError(w, r, endpointLaps, "no rows for requested lap", http.StatusNotFound)
		return
	}

	response := LapResponse{
		Data:     lapTable.Rows,
		Summary:  summary,
		Presence: lapTable.Presence,
		Timezone: lapTable.Timezone,
	}

	h.metrics.RecordAPIRequest(endpointLaps, "POST", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *TelemetryHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// readUpload extracts the CSV bytes from a raw or multipart request
// body, bounded by the configured upload limit.
func (h *TelemetryHandler) readUpload(w http.ResponseWriter, r *http.Request, endpoint string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			h.sendError(w, r, endpoint, "missing multipart field \"file\"", http.StatusBadRequest)
			return nil, false
		}
		defer file.Close()

		raw, err := io.ReadAll(file)
		if err != nil {
			h.sendError(w, r, endpoint, "failed to read uploaded file", http.StatusBadRequest)
			return nil, false
		}
		return raw, true
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.sendError(w, r, endpoint, "failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	if len(raw) == 0 {
		h.sendError(w, r, endpoint, "empty request body", http.StatusBadRequest)
		return nil, false
	}
	return raw, true
}

// parseOptions resolves the derive options from query parameters on
// top of the configured defaults.
func (h *TelemetryHandler) parseOptions(w http.ResponseWriter, r *http.Request, endpoint string) (models.DeriveOptions, bool) {
	opts := h.defaults

	if tz := r.URL.Query().Get("timezone"); tz != "" {
		opts.Timezone = tz
	}

	if windowStr := r.URL.Query().Get("smoothing_window"); windowStr != "" {
		window, err := strconv.Atoi(windowStr)
		if err != nil {
			h.sendError(w, r, endpoint, "invalid smoothing_window, expected integer", http.StatusBadRequest)
			return opts, false
		}
		opts.SmoothingWindow = window
	}

	if err := opts.Validate(); err != nil {
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
		return opts, false
	}
	return opts, true
}

// parseLaps reads the optional laps query parameter, a comma-separated
// list of lap numbers. Empty means all laps.
func (h *TelemetryHandler) parseLaps(w http.ResponseWriter, r *http.Request, endpoint string) ([]int, bool) {
	lapsStr := r.URL.Query().Get("laps")
	if lapsStr == "" {
		return nil, true
	}

	parts := strings.Split(lapsStr, ",")
	laps := make([]int, 0, len(parts))
	for _, part := range parts {
		lap, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			h.sendError(w, r, endpoint, "invalid laps, expected comma-separated integers", http.StatusBadRequest)
			return nil, false
		}
		laps = append(laps, lap)
	}
	return laps, true
}

// handlePipelineError maps pipeline failures onto HTTP statuses:
// structurally unparseable CSV is the caller's fault, anything else is
// ours.
func (h *TelemetryHandler) handlePipelineError(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var malformed *models.MalformedInputError
	if errors.As(err, &malformed) {
		h.metrics.RecordAPIError("malformed_input", endpoint)
		h.sendError(w, r, endpoint, malformed.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Error(ctx, "[API_PIPELINE_ERROR] Pipeline failed", logging.Fields{
		"endpoint": endpoint,
	}, err)
	h.metrics.RecordAPIError("internal_error", endpoint)
	h.sendError(w, r, endpoint, "failed to process telemetry", http.StatusInternalServerError)
}

// sendJSON sends a JSON response
func (h *TelemetryHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response, counted under the route's static
// endpoint name.
func (h *TelemetryHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all telemetry API routes
func (h *TelemetryHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(endpointView, h.ViewTelemetry).Methods("POST")
	router.HandleFunc(endpointLaps+"/{lap:-?[0-9]+}", h.LapDetail).Methods("POST")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
}
