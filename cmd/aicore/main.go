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

// Package main is the entry point for the cvforge AI core service.
//
// The service:
// - Routes completions across OpenAI, Anthropic and Bedrock with failover
// - Runs the AI, PDF and webhook job queues on Redis
// - Records token usage in PostgreSQL when DATABASE_URL is set
//
// Usage:
//
//	./aicore
//
// For configuration, see the package documentation.
package main

import (
	"cvforge/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
