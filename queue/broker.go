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
	"time"
)

// Broker is the durable job store shared by producers and workers.
//
// Delivery is at-least-once: a claimed job whose lease expires without
// Complete, Fail or Release is handed to the next claimer, and the expiry
// counts as an attempt. Complete, Fail, Release and UpdateProgress act only
// while the caller's claim is current; otherwise they return ErrLeaseLost and
// change nothing.
type Broker interface {
	// Enqueue creates a job. If opts.ID already exists the existing id is
	// returned with created=false.
	Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) (id string, created bool, err error)

	// EnqueueBulk creates all jobs atomically and returns their ids in order.
	EnqueueBulk(ctx context.Context, queue string, jobs []NewJob) ([]string, error)

	// Claim moves the next ready job to active with the given lease.
	// It returns nil, nil when nothing is ready.
	Claim(ctx context.Context, queue string, lease time.Duration) (*Job, error)

	// Complete records a successful attempt.
	Complete(ctx context.Context, job *Job, result []byte) error

	// Fail records a failed attempt and returns the job's next state:
	// delayed when a retry is scheduled, failed otherwise.
	Fail(ctx context.Context, job *Job, reason string, retryable bool) (State, error)

	// Release returns a claimed job to waiting without consuming an attempt.
	Release(ctx context.Context, job *Job) error

	// UpdateProgress stores progress (0..100) and extends the lease.
	UpdateProgress(ctx context.Context, job *Job, progress int) error

	// Get returns the job or nil, nil when it does not exist.
	Get(ctx context.Context, queue, id string) (*Job, error)

	// Counts returns per-state counts.
	Counts(ctx context.Context, queue string) (Counts, error)
}
