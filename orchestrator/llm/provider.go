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

package llm

import (
	"context"
	"math"
)

// Provider is the capability set every vendor variant implements.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns a human-readable provider name.
	Name() string

	// Type returns the variant tag. It is also the provider's identifier in the orchestrator.
	Type() ProviderType

	// Complete executes one vendor call. Failures are returned as *ProviderError.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// HealthCheck probes the vendor. It never fails; problems are reported as Healthy=false.
	HealthCheck(ctx context.Context) *HealthCheckResult

	// Models lists the models the provider can serve. The first entry is the default.
	Models() []ModelConfig

	// EstimateCost returns the cost in mills for the token counts on model.
	EstimateCost(inputTokens, outputTokens int, model string) int64
}

// JSONOnlyDirective is appended to the system prompt of vendors without a native JSON mode.
const JSONOnlyDirective = "Respond with a single valid JSON object only. " +
	"Do not wrap it in markdown code fences and do not add any text before or after it."

// SystemPromptWithJSONDirective returns the system prompt for a vendor
// that has no structured-output flag.
func SystemPromptWithJSONDirective(systemPrompt string, jsonMode bool) string {
	if !jsonMode {
		return systemPrompt
	}
	if systemPrompt == "" {
		return JSONOnlyDirective
	}
	return systemPrompt + "\n\n" + JSONOnlyDirective
}

// CostMills computes round((in*costIn + out*costOut) * 1000).
func CostMills(inputTokens, outputTokens int, m ModelConfig) int64 {
	cost := float64(inputTokens)*m.CostPerInputToken + float64(outputTokens)*m.CostPerOutputToken
	return int64(math.Round(cost * 1000))
}

// FindModel returns the named model, or the first (default) model when the name is unknown.
func FindModel(models []ModelConfig, name string) (ModelConfig, bool) {
	for _, m := range models {
		if m.Name == name {
			return m, true
		}
	}
	if len(models) > 0 {
		return models[0], false
	}
	return ModelConfig{}, false
}

// EstimateCostFor applies CostMills with the FindModel lookup. Variants use it for EstimateCost.
func EstimateCostFor(models []ModelConfig, inputTokens, outputTokens int, model string) int64 {
	m, _ := FindModel(models, model)
	return CostMills(inputTokens, outputTokens, m)
}
