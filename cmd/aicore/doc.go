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
The AI core serves synchronous completions and processes background AI, PDF
and webhook jobs for the resume builder.

# Usage

	aicore

# Environment Variables

Required:
  - At least one provider key (OPENAI_API_KEY, ANTHROPIC_API_KEY) or BEDROCK_REGION

Optional:
  - REDIS_URL: Redis connection URL (default: redis://localhost:6379/0)
  - PORT: HTTP server port (default: 8085)
  - DATABASE_URL: PostgreSQL connection string for usage records
  - LOG_LEVEL: DEBUG, INFO, WARN or ERROR
  - AICORE_CONFIG_FILE: YAML file loaded before the environment
  - PROMPTS_FILE: YAML file with prompt template overrides
  - AI_PRIMARY_PROVIDER, AI_FALLBACK_PROVIDER, AI_ECONOMY_PROVIDER
  - AI_FAILOVER_THRESHOLD, AI_FAILOVER_COOLDOWN_MS
  - AI_AB_TESTING_ENABLED, AI_AB_TEST_SPLIT_RATIO
  - AI_COST_OPTIMIZATION_ENABLED, AI_MAX_COST_PER_REQUEST_MILLS
  - WORKERS_ENABLED: set to false to run the API only
  - RATE_LIMIT_BACKEND: memory (default) or redis
  - AI_WORKER_CONCURRENCY, PDF_WORKER_CONCURRENCY, WEBHOOK_WORKER_CONCURRENCY
  - CHROME_PATH: Chromium binary used for PDF rendering
  - PDF_S3_BUCKET, PDF_S3_REGION, PDF_S3_ENDPOINT: upload rendered PDFs
  - WEBHOOK_TIMEOUT_SECONDS

Provider keys may also be read from AWS Secrets Manager with
<PROVIDER>_API_KEY_SECRET_ARN.

# Example

	export REDIS_URL="redis://localhost:6379/0"
	export OPENAI_API_KEY="sk-..."
	export ANTHROPIC_API_KEY="sk-ant-..."
	./aicore
*/
package main
