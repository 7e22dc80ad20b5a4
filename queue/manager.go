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

package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"cvforge/platform/shared/logger"
)

// MaxPriority is the largest accepted priority. Lower numbers run first.
const MaxPriority = 1000

// Queues lists the managed queues in display order.
var Queues = []string{QueueAI, QueuePDF, QueueWebhook}

// Manager is the producer-side facade over a Broker.
type Manager struct {
	broker   Broker
	policies map[string]Policy
	log      *logger.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPolicy overrides the retry policy of one queue.
func WithPolicy(queue string, p Policy) ManagerOption {
	return func(m *Manager) { m.policies[queue] = p }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *logger.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a Manager using DefaultPolicies.
func NewManager(b Broker, opts ...ManagerOption) *Manager {
	m := &Manager{broker: b, policies: make(map[string]Policy, len(DefaultPolicies))}
	for q, p := range DefaultPolicies {
		m.policies[q] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the retry policy for queue.
func (m *Manager) Policy(queue string) (Policy, bool) {
	p, ok := m.policies[queue]
	return p, ok
}

// EnqueueAIJob enqueues an AI completion. A non-empty correlationID becomes
// the job id; enqueueing the same id again returns it without a new job.
func (m *Manager) EnqueueAIJob(ctx context.Context, data AIJobData, priority int, correlationID string) (string, error) {
	if err := data.Validate(); err != nil {
		return "", err
	}
	if err := validatePriority(priority); err != nil {
		return "", err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode ai job: %w", err)
	}

	id, created, err := m.broker.Enqueue(ctx, QueueAI, payload, EnqueueOptions{
		ID:       correlationID,
		Type:     JobTypeAI,
		Priority: priority,
		Policy:   m.policies[QueueAI],
	})
	if err != nil {
		return "", err
	}
	m.log.JobInfo(id, correlationID, "AI job enqueued", map[string]interface{}{
		"template": data.TemplateKey,
		"created":  created,
	})
	return id, nil
}

// EnqueueAIJobBulk enqueues a batch of AI jobs in one atomic broker call.
func (m *Manager) EnqueueAIJobBulk(ctx context.Context, reqs []AIJobRequest) ([]string, error) {
	jobs := make([]NewJob, 0, len(reqs))
	for i, r := range reqs {
		if err := r.Data.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		if err := validatePriority(r.Priority); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		payload, err := json.Marshal(r.Data)
		if err != nil {
			return nil, fmt.Errorf("job %d: encode: %w", i, err)
		}
		jobs = append(jobs, NewJob{Payload: payload, Options: EnqueueOptions{
			ID:       r.CorrelationID,
			Type:     JobTypeAI,
			Priority: r.Priority,
			Policy:   m.policies[QueueAI],
		}})
	}

	ids, err := m.broker.EnqueueBulk(ctx, QueueAI, jobs)
	if err != nil {
		return nil, err
	}
	m.log.Info("", "AI jobs enqueued in bulk", map[string]interface{}{"count": len(ids)})
	return ids, nil
}

// EnqueuePDFJob enqueues a PDF render.
func (m *Manager) EnqueuePDFJob(ctx context.Context, data PDFJobData) (string, error) {
	if err := data.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode pdf job: %w", err)
	}

	id, _, err := m.broker.Enqueue(ctx, QueuePDF, payload, EnqueueOptions{
		Type:   JobTypePDF,
		Policy: m.policies[QueuePDF],
	})
	if err != nil {
		return "", err
	}
	m.log.JobInfo(id, "", "PDF job enqueued", map[string]interface{}{"document_id": data.DocumentID})
	return id, nil
}

// EnqueueWebhook enqueues a webhook delivery. RetryCount > 0 overrides the
// queue's max attempts for this job.
func (m *Manager) EnqueueWebhook(ctx context.Context, data WebhookJobData) (string, error) {
	if err := data.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode webhook job: %w", err)
	}

	policy := m.policies[QueueWebhook]
	if data.RetryCount > 0 {
		policy.Attempts = data.RetryCount
	}

	id, _, err := m.broker.Enqueue(ctx, QueueWebhook, payload, EnqueueOptions{
		Type:   JobTypeWebhook,
		Policy: policy,
	})
	if err != nil {
		return "", err
	}
	m.log.JobInfo(id, "", "Webhook enqueued", map[string]interface{}{
		"event":        data.Event,
		"max_attempts": policy.Attempts,
	})
	return id, nil
}

// GetJobStatus returns the job's status, or nil, nil when it is unknown.
func (m *Manager) GetJobStatus(ctx context.Context, queue, id string) (*JobStatus, error) {
	if err := m.checkQueue(queue); err != nil {
		return nil, err
	}
	job, err := m.broker.Get(ctx, queue, id)
	if err != nil || job == nil {
		return nil, err
	}
	return job.Status(), nil
}

// GetQueueMetrics returns counts for one queue.
func (m *Manager) GetQueueMetrics(ctx context.Context, queue string) (Counts, error) {
	if err := m.checkQueue(queue); err != nil {
		return Counts{}, err
	}
	return m.broker.Counts(ctx, queue)
}

// GetAllQueueMetrics returns counts for every queue. A queue whose counts
// cannot be read is reported with Error set and zero counts.
func (m *Manager) GetAllQueueMetrics(ctx context.Context) map[string]QueueMetrics {
	out := make(map[string]QueueMetrics, len(Queues))
	for _, q := range Queues {
		c, err := m.broker.Counts(ctx, q)
		if err != nil {
			m.log.Warn("", "Failed to read queue counts", map[string]interface{}{
				"queue": q,
				"error": err.Error(),
			})
			out[q] = QueueMetrics{Error: err.Error()}
			continue
		}
		out[q] = QueueMetrics{Counts: c}
	}
	return out
}

func (m *Manager) checkQueue(queue string) error {
	if _, ok := m.policies[queue]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	return nil
}

func validatePriority(p int) error {
	if p < 0 || p > MaxPriority {
		return fmt.Errorf("%w: priority must be within [0,%d]", ErrInvalidJob, MaxPriority)
	}
	return nil
}
