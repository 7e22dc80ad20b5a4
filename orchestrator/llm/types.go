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
	"time"
)

// ProviderType tags a provider variant.
type ProviderType string

const (
	// ProviderTypeOpenAI is the OpenAI chat completions API.
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeAnthropic is the Anthropic Messages API.
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeBedrock is Anthropic models served by AWS Bedrock.
	ProviderTypeBedrock ProviderType = "bedrock"
)

// Valid reports whether t names a known variant.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderTypeOpenAI, ProviderTypeAnthropic, ProviderTypeBedrock:
		return true
	default:
		return false
	}
}

// RequestMetadata carries caller context used for tracing and usage attribution.
type RequestMetadata struct {
	UserID        string `json:"userId,omitempty"`
	DocumentID    string `json:"documentId,omitempty"`
	ToolType      string `json:"toolType,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// CompletionRequest is a provider-agnostic completion request.
// It is passed by value and never mutated after construction.
type CompletionRequest struct {
	// SystemPrompt sets the assistant's instructions.
	SystemPrompt string `json:"systemPrompt"`

	// UserPrompt is the user turn.
	UserPrompt string `json:"userPrompt"`

	// JSONMode requests a raw JSON object as output.
	JSONMode bool `json:"jsonMode,omitempty"`

	// MaxTokens limits the output. Zero means the provider default.
	MaxTokens int `json:"maxTokens,omitempty"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// Metadata is attribution data. It is not sent to the vendor.
	Metadata RequestMetadata `json:"metadata,omitempty"`
}

// UsageStats contains token usage.
type UsageStats struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// CompletionResponse is the normalized result of a completion.
type CompletionResponse struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Provider identifies the provider that produced the response.
	Provider ProviderType `json:"provider"`

	// Model is the vendor model that produced the response.
	Model string `json:"model"`

	// Usage contains token usage.
	Usage UsageStats `json:"usage"`

	// FinishReason is "stop", "max_tokens", "content_filter" or the vendor value.
	FinishReason string `json:"finishReason,omitempty"`

	// LatencyMs is the wall time of the vendor call.
	LatencyMs int64 `json:"latencyMs"`

	// CostMills is the estimated cost in thousandths of a currency unit.
	CostMills int64 `json:"costMills"`
}

// ModelTier groups models by price point.
type ModelTier string

const (
	TierEconomy  ModelTier = "economy"
	TierStandard ModelTier = "standard"
	TierPremium  ModelTier = "premium"
)

// ModelConfig describes one model offered by a provider.
type ModelConfig struct {
	Name                string    `json:"name"`
	Tier                ModelTier `json:"tier"`
	MaxTokens           int       `json:"maxTokens"`
	CostPerInputToken   float64   `json:"costPerInputToken"`
	CostPerOutputToken  float64   `json:"costPerOutputToken"`
	SupportsJSONMode    bool      `json:"supportsJsonMode"`
	SupportsTemperature bool      `json:"supportsTemperature"`
}

// HealthCheckResult is a point-in-time provider health snapshot.
type HealthCheckResult struct {
	Provider  ProviderType `json:"provider"`
	Healthy   bool         `json:"healthy"`
	LatencyMs int64        `json:"latencyMs"`
	Message   string       `json:"message,omitempty"`
	CheckedAt time.Time    `json:"checkedAt"`
}
