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
Package logger provides structured JSON logging for the AI core components.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, queue.ai, processors.webhook, ...)
  - Instance ID and container name
  - Correlation ID and job ID when known
  - Custom fields

# Usage

	log := logger.New("queue")

	log.Info("corr-123", "Job enqueued", map[string]interface{}{"queue": "ai"})
	log.JobError("job-1", "corr-123", "Job failed", err, nil)

# Output Format

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"queue","instance_id":"i-abc123","container":"aicore-xyz",
	 "correlation_id":"corr-123","message":"Job enqueued","fields":{"queue":"ai"}}

# Environment Variables

  - INSTANCE_ID: Deployment instance identifier
  - LOG_LEVEL: Minimum level written (default INFO)
*/
package logger
