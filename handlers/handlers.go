package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/models"
	"github.com/ckwflash/LiveHack2025/pagetext"
	"github.com/ckwflash/LiveHack2025/services"
)

const maxBodyBytes = 8 << 20

type AnalysisProcessor interface {
	Process(ctx context.Context, rawURL, rawText string, weights domain.Weights) (*domain.PersonalizedResult, error)
}

type TaskCreator interface {
	CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*models.TaskDocument, error)
}

type TaskWatcher interface {
	Watch(ctx context.Context, taskID string) <-chan services.TaskEvent
}

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Handler is the HTTP front door used by the browser extension.
type Handler struct {
	analysis AnalysisProcessor
	tasks    TaskCreator
	watcher  TaskWatcher
	checks   map[string]HealthCheck
	now      func() time.Time
}

type Option func(*Handler)

func WithAnalysis(a AnalysisProcessor) Option {
	return func(h *Handler) { h.analysis = a }
}

func WithTasks(t TaskCreator) Option {
	return func(h *Handler) { h.tasks = t }
}

func WithWatcher(w TaskWatcher) Option {
	return func(h *Handler) { h.watcher = w }
}

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

func NewHandler(opts ...Option) *Handler {
	h := &Handler{checks: map[string]HealthCheck{}, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract_and_rate", h.extractAndRate)
	mux.HandleFunc("POST /tasks", h.createTask)
	mux.HandleFunc("GET /watch/{id}", h.watch)
	mux.HandleFunc("GET /healthz", h.healthz)
	return withCORS(mux)
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type extractRequest struct {
	URL       string         `json:"url"`
	PlainText string         `json:"plainText"`
	Weights   domain.Weights `json:"weights,omitempty"`
}

// ratingResponse keeps the duplicated field names older extension builds read.
type ratingResponse struct {
	URL                     string                  `json:"url"`
	Brand                   string                  `json:"brand"`
	BrandName               string                  `json:"brand_name"`
	Name                    string                  `json:"name"`
	Category                string                  `json:"category"`
	Score                   int                     `json:"score"`
	Breakdown               domain.Breakdown        `json:"breakdown"`
	SustainabilityBreakdown domain.Breakdown        `json:"sustainability_breakdown"`
	Recommendations         []domain.Recommendation `json:"recommendations"`
	ProcessingTimeMS        float64                 `json:"processing_time_ms"`
	Timestamp               string                  `json:"timestamp"`
}

func (h *Handler) extractAndRate(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req extractRequest
	if isJSON(r) {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	} else {
		req.PlainText = string(body)
		req.URL = pagetext.FindURL(req.PlainText)
	}

	result, err := h.analysis.Process(r.Context(), req.URL, req.PlainText, req.Weights)
	if err != nil {
		status := statusFor(err)
		slog.Error("Rating request failed", "url", req.URL, "status", status, "error", err)
		writeError(w, status, err.Error())
		return
	}

	url := req.URL
	if url == "" {
		url = result.SourceURL
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: ratingResponse{
		URL:                     url,
		Brand:                   result.Brand,
		BrandName:               result.Brand,
		Name:                    result.ProductName,
		Category:                result.Category,
		Score:                   result.SustainabilityScore,
		Breakdown:               result.Breakdown,
		SustainabilityBreakdown: result.Breakdown,
		Recommendations:         result.Recommendations,
		ProcessingTimeMS:        float64(h.now().Sub(start).Microseconds()) / 1000,
		Timestamp:               h.now().UTC().Format(time.RFC3339),
	}})
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "Task queue is not configured")
		return
	}

	var req domain.CreateTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	task, err := h.tasks.CreateTask(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		slog.Error("Task creation failed", "url", req.URL, "status", status, "error", err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: map[string]string{
		"task_id": task.ID.Hex(),
		"status":  task.Status,
	}})
}

func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		writeError(w, http.StatusServiceUnavailable, "Task watching is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	taskID := r.PathValue("id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for ev := range h.watcher.Watch(ctx, taskID) {
		if err := writeEvent(w, ev); err != nil {
			slog.Debug("Watch client went away", "task_id", taskID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	report := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	writeJSON(w, status, envelope{Success: status == http.StatusOK, Data: report})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAnalysisFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

