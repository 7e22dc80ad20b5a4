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
	"encoding/json"
	"time"
)

// Queue names.
const (
	QueueAI      = "ai"
	QueuePDF     = "pdf"
	QueueWebhook = "webhook"
)

// Job type tags.
const (
	JobTypeAI      = "ai-completion"
	JobTypePDF     = "pdf-render"
	JobTypeWebhook = "webhook-delivery"
)

// State is a job's lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// BackoffKind selects how retry delays grow.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff is a retry delay schedule.
type Backoff struct {
	Kind  BackoffKind   `json:"kind"`
	Delay time.Duration `json:"delay"`
}

// DelayFor returns the delay before the next attempt after attemptsMade
// finished attempts. Exponential delay is Delay * 2^(attemptsMade-1).
func (b Backoff) DelayFor(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	if b.Kind != BackoffExponential {
		return b.Delay
	}
	shift := attemptsMade - 1
	if shift > 20 {
		shift = 20
	}
	return b.Delay << shift
}

// Policy is a queue's default retry policy.
type Policy struct {
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

// DefaultPolicies are the per-queue retry policies.
var DefaultPolicies = map[string]Policy{
	QueueAI:      {Attempts: 3, Backoff: Backoff{Kind: BackoffExponential, Delay: 3 * time.Second}},
	QueuePDF:     {Attempts: 2, Backoff: Backoff{Kind: BackoffFixed, Delay: 5 * time.Second}},
	QueueWebhook: {Attempts: 5, Backoff: Backoff{Kind: BackoffExponential, Delay: time.Second}},
}

// Retention after a job reaches a terminal state.
const (
	CompletedRetention = 24 * time.Hour
	FailedRetention    = 7 * 24 * time.Hour
)

// Job is a unit of work held by a Broker.
type Job struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	CorrelationID string          `json:"correlationId,omitempty"`
	AttemptsMade  int             `json:"attemptsMade"`
	MaxAttempts   int             `json:"maxAttempts"`
	Backoff       Backoff         `json:"backoff"`
	State         State           `json:"state"`
	Progress      int             `json:"progress"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	ProcessedAt   time.Time       `json:"processedAt,omitempty"`
	FinishedAt    time.Time       `json:"finishedAt,omitempty"`

	// lease is the claim lease, set by Claim and used to extend it.
	lease time.Duration

	// token identifies the claim that returned this copy of the job.
	token string
}

// EnqueueOptions controls how a job is created.
type EnqueueOptions struct {
	// ID is the job id. Empty means a generated UUID. A job whose ID already
	// exists is not created again.
	ID       string
	Type     string
	Priority int
	Policy   Policy
}

// NewJob is one entry of a bulk enqueue.
type NewJob struct {
	Payload []byte
	Options EnqueueOptions
}

// JobStatus is the externally visible view of a job.
type JobStatus struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	State         State           `json:"state"`
	Progress      int             `json:"progress"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	AttemptsMade  int             `json:"attemptsMade"`
	MaxAttempts   int             `json:"maxAttempts"`
	EnqueuedAtMs  int64           `json:"enqueuedAt"`
	FinishedAtMs  int64           `json:"finishedAt,omitempty"`
}

// Status converts a job into its external view.
func (j *Job) Status() *JobStatus {
	s := &JobStatus{
		ID:            j.ID,
		Queue:         j.Queue,
		State:         j.State,
		Progress:      j.Progress,
		Result:        j.Result,
		FailureReason: j.FailureReason,
		AttemptsMade:  j.AttemptsMade,
		MaxAttempts:   j.MaxAttempts,
		EnqueuedAtMs:  j.EnqueuedAt.UnixMilli(),
	}
	if !j.FinishedAt.IsZero() {
		s.FinishedAtMs = j.FinishedAt.UnixMilli()
	}
	return s
}

// Counts are per-state job counts of one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// QueueMetrics is one queue's entry in GetAllQueueMetrics.
type QueueMetrics struct {
	Counts
	Error string `json:"error,omitempty"`
}
