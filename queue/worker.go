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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"cvforge/platform/shared/logger"
	"cvforge/platform/shared/ratelimit"
)

// Worker defaults.
const (
	DefaultPollInterval = time.Second
	DefaultLease        = 5 * time.Minute
)

// Job outcomes reported to WorkerMetrics.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// Processor handles jobs whose payload decodes into T.
type Processor[T any] interface {
	Process(ctx context.Context, task *Task[T]) (any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc[T any] func(ctx context.Context, task *Task[T]) (any, error)

// Process implements Processor.
func (f ProcessorFunc[T]) Process(ctx context.Context, task *Task[T]) (any, error) {
	return f(ctx, task)
}

// Task is a claimed job with its decoded payload.
type Task[T any] struct {
	Job  *Job
	Data T

	broker Broker
	log    *logger.Logger
}

// NewTask builds a Task outside a Worker, for callers that drive a Processor
// directly.
func NewTask[T any](job *Job, data T, b Broker, log *logger.Logger) *Task[T] {
	return &Task[T]{Job: job, Data: data, broker: b, log: log}
}

// ReportProgress stores progress and extends the claim lease. Failures are
// logged and do not fail the job.
func (t *Task[T]) ReportProgress(ctx context.Context, progress int) {
	if err := t.broker.UpdateProgress(ctx, t.Job, progress); err != nil {
		t.log.JobError(t.Job.ID, t.Job.CorrelationID, "Failed to update progress", err, map[string]interface{}{
			"progress": progress,
		})
	}
}

// WorkerMetrics observes finished attempts.
type WorkerMetrics interface {
	ObserveJob(queue, outcome string, duration time.Duration)
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Concurrency is the maximum number of jobs processed at once.
	Concurrency int

	// Limiter bounds job starts. Nil means unlimited.
	Limiter ratelimit.Limiter

	// PollInterval is the wait after an empty claim.
	PollInterval time.Duration

	// Lease is how long a claim stays valid without progress.
	Lease time.Duration

	Logger  *logger.Logger
	Metrics WorkerMetrics
}

// WorkerStats are cumulative counters.
type WorkerStats struct {
	Queue     string `json:"queue"`
	Claimed   int64  `json:"claimed"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Retried   int64  `json:"retried"`
	InFlight  int64  `json:"inFlight"`
}

// Worker claims jobs from one queue and runs them through a Processor.
type Worker[T any] struct {
	queue     string
	broker    Broker
	processor Processor[T]
	opts      WorkerOptions
	sem       *semaphore.Weighted
	wg        sync.WaitGroup

	claimed, completed, failed, retried, inFlight atomic.Int64
}

// NewWorker creates a worker. Zero options take defaults: concurrency 1,
// DefaultPollInterval and DefaultLease.
func NewWorker[T any](queue string, b Broker, p Processor[T], opts WorkerOptions) *Worker[T] {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	return &Worker[T]{
		queue:     queue,
		broker:    b,
		processor: p,
		opts:      opts,
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
	}
}

// Queue returns the queue name.
func (w *Worker[T]) Queue() string {
	return w.queue
}

// Run claims and processes jobs until ctx is cancelled, then waits for
// in-flight jobs to finish. In-flight jobs are not cancelled.
func (w *Worker[T]) Run(ctx context.Context) error {
	w.opts.Logger.Info("", "Worker started", map[string]interface{}{
		"queue":       w.queue,
		"concurrency": w.opts.Concurrency,
	})
	defer w.opts.Logger.Info("", "Worker stopped", map[string]interface{}{"queue": w.queue})

	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}

		job, err := w.claimNext(ctx)
		if err != nil || job == nil {
			w.sem.Release(1)
			if err != nil && ctx.Err() == nil {
				w.opts.Logger.Error("", "Claim failed", map[string]interface{}{
					"queue": w.queue,
					"error": err.Error(),
				})
			}
			select {
			case <-ctx.Done():
			case <-time.After(w.opts.PollInterval):
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if w.opts.Limiter != nil {
			if err := w.opts.Limiter.Wait(ctx); err != nil {
				w.sem.Release(1)
				if rerr := w.broker.Release(context.WithoutCancel(ctx), job); rerr != nil {
					w.opts.Logger.JobError(job.ID, job.CorrelationID, "Failed to release job", rerr, nil)
				}
				break
			}
		}

		w.wg.Add(1)
		w.inFlight.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			defer w.inFlight.Add(-1)
			w.handle(context.WithoutCancel(ctx), job)
		}()
	}

	w.wg.Wait()
	return nil
}

func (w *Worker[T]) claimNext(ctx context.Context) (*Job, error) {
	job, err := w.broker.Claim(ctx, w.queue, w.opts.Lease)
	if err != nil || job == nil {
		return nil, err
	}
	w.claimed.Add(1)
	return job, nil
}

// handle runs one attempt and records its outcome with the broker.
func (w *Worker[T]) handle(ctx context.Context, job *Job) {
	start := time.Now()
	log := w.opts.Logger

	result, err := w.process(ctx, job)
	duration := time.Since(start)

	if err == nil {
		encoded, merr := json.Marshal(result)
		if merr != nil {
			err = Permanent(fmt.Errorf("encode result: %w", merr))
		} else if cerr := w.broker.Complete(ctx, job, encoded); cerr != nil {
			if errors.Is(cerr, ErrLeaseLost) {
				w.leaseLost(job, OutcomeCompleted)
				return
			}
			log.JobError(job.ID, job.CorrelationID, "Failed to mark job completed", cerr, nil)
			return
		} else {
			w.completed.Add(1)
			w.observe(OutcomeCompleted, duration)
			log.JobInfo(job.ID, job.CorrelationID, "Job completed", map[string]interface{}{
				"queue":       w.queue,
				"duration_ms": duration.Milliseconds(),
				"attempt":     job.AttemptsMade,
			})
			return
		}
	}

	state, ferr := w.broker.Fail(ctx, job, err.Error(), !IsPermanent(err))
	if ferr != nil {
		if errors.Is(ferr, ErrLeaseLost) {
			w.leaseLost(job, OutcomeFailed)
			return
		}
		log.JobError(job.ID, job.CorrelationID, "Failed to record job failure", ferr, nil)
		return
	}

	outcome := OutcomeFailed
	if state == StateDelayed {
		outcome = OutcomeRetried
		w.retried.Add(1)
	} else {
		w.failed.Add(1)
	}
	w.observe(outcome, duration)
	log.JobError(job.ID, job.CorrelationID, "Job attempt failed", err, map[string]interface{}{
		"queue":        w.queue,
		"attempt":      job.AttemptsMade,
		"max_attempts": job.MaxAttempts,
		"next_state":   state,
	})
}

// leaseLost drops the outcome of an attempt whose claim expired. The job now
// belongs to whichever worker reclaimed it.
func (w *Worker[T]) leaseLost(job *Job, outcome string) {
	w.opts.Logger.Log(logger.WARN, job.CorrelationID, job.ID, "Job lease lost, outcome dropped", map[string]interface{}{
		"queue":   w.queue,
		"outcome": outcome,
	})
}

func (w *Worker[T]) process(ctx context.Context, job *Job) (result any, err error) {
	var data T
	if err := json.Unmarshal(job.Payload, &data); err != nil {
		return nil, Permanent(fmt.Errorf("decode payload: %w", err))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()

	task := NewTask(job, data, w.broker, w.opts.Logger)
	return w.processor.Process(ctx, task)
}

func (w *Worker[T]) observe(outcome string, d time.Duration) {
	if w.opts.Metrics != nil {
		w.opts.Metrics.ObserveJob(w.queue, outcome, d)
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker[T]) Stats() WorkerStats {
	return WorkerStats{
		Queue:     w.queue,
		Claimed:   w.claimed.Load(),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
		Retried:   w.retried.Load(),
		InFlight:  w.inFlight.Load(),
	}
}
