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

/*
Package orchestrator provides the cvforge AI core service: provider routing
for resume tooling plus the background job queues behind it.

# Overview

The service wires three pieces together:

  - llm.Orchestrator, which picks a provider per completion, tracks circuit
    state and fails over once to another provider
  - queue.Manager, which enqueues AI, PDF and webhook jobs on Redis
  - one queue.Worker per queue, running the processors in queue/processors

Run loads configuration, connects Redis (and Postgres when DATABASE_URL is set),
starts the workers and serves the operations API until SIGINT or SIGTERM.

# HTTP API

	GET   /health                         service and worker status
	GET   /prometheus                     Prometheus scrape endpoint
	POST  /api/v1/ai/complete             synchronous completion
	GET   /api/v1/ai/health               live provider health checks
	GET   /api/v1/ai/metrics              per-provider totals
	GET   /api/v1/ai/providers            registered providers
	GET   /api/v1/ai/config               routing config
	PATCH /api/v1/ai/config               partial config update
	PUT   /api/v1/ai/config               config replacement
	POST  /api/v1/jobs/ai                 enqueue an AI job
	POST  /api/v1/jobs/ai/bulk            enqueue AI jobs atomically
	POST  /api/v1/jobs/pdf                enqueue a PDF render
	POST  /api/v1/jobs/webhook            enqueue a webhook delivery
	GET   /api/v1/queues/metrics          counts for every queue
	GET   /api/v1/queues/{queue}/metrics  counts for one queue
	GET   /api/v1/queues/{queue}/jobs/{id} job status

Every JSON response is wrapped in APIResponse. Enqueue endpoints answer 202
with the job id.

# Metrics

Provider executions, job outcomes and queue depths are exported with the
cvforge_ prefix. Queue gauges refresh every 15 seconds.
*/
package orchestrator
