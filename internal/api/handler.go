// Package api serves the command/query HTTP surface over the job tracker.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tigerroll/chunkflow/internal/job"
	"github.com/tigerroll/chunkflow/internal/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const defaultListLimit = 10

// LaunchRequest is the optional body of a job launch.
type LaunchRequest struct {
	InputFile  string            `json:"inputFile"`
	OutputFile string            `json:"outputFile"`
	ChunkSize  int               `json:"chunkSize"`
	Parameters map[string]string `json:"parameters"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StopResponse reports whether a stop request reached a running execution.
type StopResponse struct {
	ExecutionID string `json:"executionId"`
	Stopped     bool   `json:"stopped"`
}

// CountResponse carries a record count.
type CountResponse struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
}

// Handler implements the HTTP routes.
type Handler struct {
	monitor   *usecase.MonitoringService
	launcher  usecase.JobLauncher
	customers repository.CustomerRepository
	health    *HealthChecker
	metrics   http.Handler
}

// NewHandler creates a Handler. metrics may be nil, in which case /metrics is not served.
func NewHandler(monitor *usecase.MonitoringService, launcher usecase.JobLauncher, customers repository.CustomerRepository, health *HealthChecker, metrics http.Handler) *Handler {
	return &Handler{monitor: monitor, launcher: launcher, customers: customers, health: health, metrics: metrics}
}

// Routes returns the request multiplexer.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs/{name}", h.launch)
	mux.HandleFunc("GET /api/jobs/{name}/executions", h.listByJob)
	mux.HandleFunc("GET /api/jobs/{name}/stats", h.jobStats)
	mux.HandleFunc("GET /api/executions", h.listRecent)
	mux.HandleFunc("GET /api/executions/running", h.listRunning)
	mux.HandleFunc("GET /api/executions/{id}", h.query)
	mux.HandleFunc("POST /api/executions/{id}/stop", h.stop)
	mux.HandleFunc("POST /api/executions/{id}/restart", h.restart)
	mux.HandleFunc("GET /api/stats", h.batchStats)
	mux.HandleFunc("GET /api/customers/count", h.customerCount)
	mux.HandleFunc("GET /health", h.healthReport)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

func (h *Handler) launch(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, exception.NewInvalidArgumentError("api", fmt.Sprintf("malformed launch request: %v", err)))
			return
		}
	}
	params := job.NewParameters(req.InputFile, req.OutputFile, req.ChunkSize, req.Parameters)
	je, err := h.launcher.Launch(r.Context(), r.PathValue("name"), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, usecase.ToSummary(je))
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	summary, err := h.monitor.GetJobExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) listRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries, err := h.monitor.GetRecentJobExecutions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) listByJob(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries, err := h.monitor.GetJobExecutionsByName(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) listRunning(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.monitor.GetRunningJobExecutions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stopped, err := h.monitor.StopJobExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{ExecutionID: id, Stopped: stopped})
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	summary, err := h.monitor.RestartJobExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, summary)
}

func (h *Handler) batchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.monitor.GetBatchStatistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.monitor.GetJobStatistics(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) customerCount(w http.ResponseWriter, r *http.Request) {
	total, err := h.customers.Count(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	processed, err := h.customers.CountProcessed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Total: total, Processed: processed})
}

func (h *Handler) healthReport(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if report.Status != StatusUp {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, exception.NewInvalidArgumentError("api", fmt.Sprintf("limit must be a positive integer, got %q", raw))
	}
	return limit, nil
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, exception.ErrAlreadyRunning),
		errors.Is(err, exception.ErrAlreadyComplete),
		errors.Is(err, exception.ErrNotRestartable):
		return http.StatusConflict
	case errors.Is(err, exception.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exception.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("API request failed: %v", err)
	} else {
		logger.Debugf("API request rejected (%d): %v", status, err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("API: failed to encode response: %v", err)
	}
}
