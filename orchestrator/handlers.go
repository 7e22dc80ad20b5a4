// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"cvforge/platform/orchestrator/llm"
	"cvforge/platform/queue"
	"cvforge/platform/shared/logger"
)

// maxBodyBytes bounds request bodies. PDF jobs carry full HTML documents.
const maxBodyBytes = 8 << 20

// StatsReporter is implemented by queue workers.
type StatsReporter interface {
	Stats() queue.WorkerStats
}

// API serves the operations endpoints.
type API struct {
	orch    *llm.Orchestrator
	queues  *queue.Manager
	workers []StatsReporter
	log     *logger.Logger
	started time.Time
}

// NewAPI creates the operations API.
func NewAPI(orch *llm.Orchestrator, queues *queue.Manager, workers []StatsReporter, log *logger.Logger) *API {
	return &API{orch: orch, queues: queues, workers: workers, log: log, started: time.Now()}
}

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Handler returns the router wrapped in CORS.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	ai := r.PathPrefix("/api/v1/ai").Subrouter()
	ai.HandleFunc("/complete", a.completeHandler).Methods("POST")
	ai.HandleFunc("/health", a.providerHealthHandler).Methods("GET")
	ai.HandleFunc("/metrics", a.providerMetricsHandler).Methods("GET")
	ai.HandleFunc("/providers", a.providersHandler).Methods("GET")
	ai.HandleFunc("/config", a.getConfigHandler).Methods("GET")
	ai.HandleFunc("/config", a.updateConfigHandler).Methods("PATCH")
	ai.HandleFunc("/config", a.replaceConfigHandler).Methods("PUT")

	jobs := r.PathPrefix("/api/v1/jobs").Subrouter()
	jobs.HandleFunc("/ai", a.enqueueAIHandler).Methods("POST")
	jobs.HandleFunc("/ai/bulk", a.enqueueAIBulkHandler).Methods("POST")
	jobs.HandleFunc("/pdf", a.enqueuePDFHandler).Methods("POST")
	jobs.HandleFunc("/webhook", a.enqueueWebhookHandler).Methods("POST")

	queues := r.PathPrefix("/api/v1/queues").Subrouter()
	queues.HandleFunc("/metrics", a.allQueueMetricsHandler).Methods("GET")
	queues.HandleFunc("/{queue}/metrics", a.queueMetricsHandler).Methods("GET")
	queues.HandleFunc("/{queue}/jobs/{id}", a.jobStatusHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := make([]queue.WorkerStats, 0, len(a.workers))
	for _, wk := range a.workers {
		stats = append(stats, wk.Stats())
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "cvforge-aicore",
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
		"providers":      a.orch.GetAvailableProviders(),
		"workers":        stats,
	})
}

func (a *API) completeHandler(w http.ResponseWriter, r *http.Request) {
	var req llm.CompletionRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.UserPrompt == "" {
		a.writeError(w, http.StatusBadRequest, "userPrompt is required")
		return
	}
	if req.Metadata.CorrelationID == "" {
		req.Metadata.CorrelationID = r.Header.Get("X-Correlation-ID")
	}

	resp, err := a.orch.Complete(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, llm.ErrProviderUnavailable) {
			status = http.StatusServiceUnavailable
		}
		a.log.Error(req.Metadata.CorrelationID, "Completion failed", map[string]interface{}{"error": err.Error()})
		a.writeError(w, status, err.Error())
		return
	}
	a.writeData(w, http.StatusOK, resp)
}

func (a *API) providerHealthHandler(w http.ResponseWriter, r *http.Request) {
	a.writeData(w, http.StatusOK, a.orch.GetHealthStatus(r.Context()))
}

func (a *API) providerMetricsHandler(w http.ResponseWriter, r *http.Request) {
	a.writeData(w, http.StatusOK, a.orch.GetMetrics())
}

func (a *API) providersHandler(w http.ResponseWriter, r *http.Request) {
	a.writeData(w, http.StatusOK, a.orch.GetAvailableProviders())
}

func (a *API) getConfigHandler(w http.ResponseWriter, r *http.Request) {
	a.writeData(w, http.StatusOK, a.orch.GetConfig())
}

func (a *API) updateConfigHandler(w http.ResponseWriter, r *http.Request) {
	var u llm.ConfigUpdate
	if !a.decode(w, r, &u) {
		return
	}
	cfg, err := a.orch.UpdateConfig(u)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.writeData(w, http.StatusOK, cfg)
}

func (a *API) replaceConfigHandler(w http.ResponseWriter, r *http.Request) {
	var cfg llm.Config
	if !a.decode(w, r, &cfg) {
		return
	}
	if err := a.orch.ReplaceConfig(cfg); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.writeData(w, http.StatusOK, a.orch.GetConfig())
}

type enqueueAIRequest struct {
	queue.AIJobData
	Priority      int    `json:"priority,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (a *API) enqueueAIHandler(w http.ResponseWriter, r *http.Request) {
	var req enqueueAIRequest
	if !a.decode(w, r, &req) {
		return
	}
	id, err := a.queues.EnqueueAIJob(r.Context(), req.AIJobData, req.Priority, req.CorrelationID)
	if err != nil {
		a.writeQueueError(w, err)
		return
	}
	a.writeData(w, http.StatusAccepted, map[string]string{"jobId": id, "queue": queue.QueueAI})
}

func (a *API) enqueueAIBulkHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Jobs []queue.AIJobRequest `json:"jobs"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	if len(body.Jobs) == 0 {
		a.writeError(w, http.StatusBadRequest, "jobs must not be empty")
		return
	}
	ids, err := a.queues.EnqueueAIJobBulk(r.Context(), body.Jobs)
	if err != nil {
		a.writeQueueError(w, err)
		return
	}
	a.writeData(w, http.StatusAccepted, map[string]interface{}{"jobIds": ids, "queue": queue.QueueAI})
}

func (a *API) enqueuePDFHandler(w http.ResponseWriter, r *http.Request) {
	var data queue.PDFJobData
	if !a.decode(w, r, &data) {
		return
	}
	id, err := a.queues.EnqueuePDFJob(r.Context(), data)
	if err != nil {
		a.writeQueueError(w, err)
		return
	}
	a.writeData(w, http.StatusAccepted, map[string]string{"jobId": id, "queue": queue.QueuePDF})
}

func (a *API) enqueueWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var data queue.WebhookJobData
	if !a.decode(w, r, &data) {
		return
	}
	id, err := a.queues.EnqueueWebhook(r.Context(), data)
	if err != nil {
		a.writeQueueError(w, err)
		return
	}
	a.writeData(w, http.StatusAccepted, map[string]string{"jobId": id, "queue": queue.QueueWebhook})
}

func (a *API) allQueueMetricsHandler(w http.ResponseWriter, r *http.Request) {
	a.writeData(w, http.StatusOK, a.queues.GetAllQueueMetrics(r.Context()))
}

func (a *API) queueMetricsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := a.queues.GetQueueMetrics(r.Context(), mux.Vars(r)["queue"])
	if err != nil {
		a.writeQueueError(w, err)
		return
	}
	a.writeData(w, http.StatusOK, counts)
}

func (a *API) jobStatusHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	status, err := a.queues.GetJobStatus(r.Context(), vars["queue"], vars["id"])
	if err != nil {
		a.writeQueueError(w, err)
		return
	}
	if status == nil {
		a.writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", vars["id"]))
		return
	}
	a.writeData(w, http.StatusOK, status)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (a *API) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidJob):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrUnknownQueue):
		a.writeError(w, http.StatusNotFound, err.Error())
	default:
		a.log.Error("", "Queue operation failed", map[string]interface{}{"error": err.Error()})
		a.writeError(w, http.StatusInternalServerError, "queue unavailable")
	}
}

func (a *API) writeData(w http.ResponseWriter, status int, data interface{}) {
	a.writeJSON(w, status, APIResponse{Success: true, Data: data})
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, APIResponse{Success: false, Error: message})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error("", "Error encoding response", map[string]interface{}{"error": err.Error()})
	}
}
