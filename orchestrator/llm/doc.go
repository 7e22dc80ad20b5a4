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
Package llm routes text-generation requests across interchangeable model providers.

# Provider Interface

Every vendor variant implements Provider:

	type Provider interface {
		Name() string
		Type() ProviderType
		Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
		HealthCheck(ctx context.Context) *HealthCheckResult
		Models() []ModelConfig
		EstimateCost(inputTokens, outputTokens int, model string) int64
	}

Variants live in sub-packages (openai, anthropic, bedrock). Costs are integer
mills: round((in*costIn + out*costOut) * 1000).

# Orchestrator

Orchestrator owns per-provider circuit state and picks a provider per request:

 1. A/B split to the configured fallback when enabled
 2. The economy provider for small requests when cost optimization is enabled
 3. The primary when healthy
 4. The fallback when the primary's circuit is open
 5. The primary as a last resort

A provider's circuit opens after FailoverThreshold consecutive failures and is
closed again by the first health evaluation after FailoverCooldownMs.

Complete runs the selected provider and, on failure, exactly one fallback:

	orch, err := llm.NewOrchestrator([]llm.Provider{openaiP, anthropicP},
		llm.WithLogger(log), llm.WithUsageSink(recorder))
	resp, err := orch.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a resume writer.",
		UserPrompt:   "Summarize: ...",
		JSONMode:     true,
		MaxTokens:    800,
	})

# Configuration

Config is stored as an immutable snapshot. UpdateConfig merges a ConfigUpdate
and publishes the result atomically; in-flight requests keep the snapshot they
started with.
*/
package llm
