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
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cvforge/platform/orchestrator/llm"
	"cvforge/platform/queue"
	"cvforge/platform/shared/logger"
)

// Prometheus metrics
var (
	promLLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_ai_llm_calls_total",
			Help: "Total number of LLM provider executions",
		},
		[]string{"provider", "status"},
	)
	promLLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cvforge_ai_llm_latency_milliseconds",
			Help:    "LLM provider execution latency in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"provider"},
	)
	promLLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_ai_llm_cost_mills_total",
			Help: "Estimated LLM spend in mills",
		},
		[]string{"provider"},
	)
	promBudgetExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_ai_llm_budget_exceeded_total",
			Help: "Completions whose cost exceeded the per-request budget",
		},
		[]string{"provider"},
	)
	promJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_jobs_total",
			Help: "Finished job attempts by outcome",
		},
		[]string{"queue", "outcome"},
	)
	promJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cvforge_job_duration_milliseconds",
			Help:    "Job attempt duration in milliseconds",
			Buckets: []float64{50, 100, 500, 1000, 5000, 15000, 30000, 60000, 120000},
		},
		[]string{"queue"},
	)
	promQueueJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cvforge_queue_jobs",
			Help: "Jobs per queue and state",
		},
		[]string{"queue", "state"},
	)
)

func init() {
	prometheus.MustRegister(promLLMCalls)
	prometheus.MustRegister(promLLMLatency)
	prometheus.MustRegister(promLLMCost)
	prometheus.MustRegister(promBudgetExceeded)
	prometheus.MustRegister(promJobs)
	prometheus.MustRegister(promJobDuration)
	prometheus.MustRegister(promQueueJobs)
}

// promMetrics feeds orchestrator and worker observations into Prometheus.
type promMetrics struct{}

var (
	_ llm.MetricsRecorder = promMetrics{}
	_ queue.WorkerMetrics = promMetrics{}
)

func (promMetrics) ObserveCompletion(provider llm.ProviderType, success bool, latencyMs, costMills int64) {
	status := "success"
	if !success {
		status = "error"
	}
	promLLMCalls.WithLabelValues(string(provider), status).Inc()
	promLLMLatency.WithLabelValues(string(provider)).Observe(float64(latencyMs))
	if costMills > 0 {
		promLLMCost.WithLabelValues(string(provider)).Add(float64(costMills))
	}
}

func (promMetrics) ObserveBudgetExceeded(provider llm.ProviderType) {
	promBudgetExceeded.WithLabelValues(string(provider)).Inc()
}

func (promMetrics) ObserveJob(queueName, outcome string, d time.Duration) {
	promJobs.WithLabelValues(queueName, outcome).Inc()
	promJobDuration.WithLabelValues(queueName).Observe(float64(d.Milliseconds()))
}

// updateQueueGauges copies current queue counts into promQueueJobs. Queues
// whose counts cannot be read keep their previous values.
func updateQueueGauges(ctx context.Context, m *queue.Manager) {
	for name, qm := range m.GetAllQueueMetrics(ctx) {
		if qm.Error != "" {
			continue
		}
		promQueueJobs.WithLabelValues(name, string(queue.StateWaiting)).Set(float64(qm.Waiting))
		promQueueJobs.WithLabelValues(name, string(queue.StateActive)).Set(float64(qm.Active))
		promQueueJobs.WithLabelValues(name, string(queue.StateDelayed)).Set(float64(qm.Delayed))
		promQueueJobs.WithLabelValues(name, string(queue.StateCompleted)).Set(float64(qm.Completed))
		promQueueJobs.WithLabelValues(name, string(queue.StateFailed)).Set(float64(qm.Failed))
	}
}

// runQueueGauges refreshes the queue gauges every interval until ctx is done.
func runQueueGauges(ctx context.Context, m *queue.Manager, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updateQueueGauges(ctx, m)
	for {
		select {
		case <-ctx.Done():
			log.Info("", "Queue gauge refresher stopped", nil)
			return
		case <-ticker.C:
			updateQueueGauges(ctx, m)
		}
	}
}
