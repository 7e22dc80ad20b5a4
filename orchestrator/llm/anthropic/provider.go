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

// Package anthropic provides the llm.Provider variant for Anthropic's Claude models.
// Requests go through the official SDK; Claude has no native JSON mode, so JSON
// requests carry an explicit instruction in the system prompt.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"cvforge/platform/orchestrator/llm"
)

const (
	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 4096

	// DefaultTemperature is the default temperature for completions.
	DefaultTemperature = 0.7

	// DefaultMaxRetries is the SDK retry count for 429 and 5xx responses.
	DefaultMaxRetries = 2
)

// Model constants for supported Claude models
const (
	ModelClaude4Opus    = "claude-opus-4-20250514"
	ModelClaude4Sonnet  = "claude-sonnet-4-20250514"
	ModelClaude35Haiku  = "claude-3-5-haiku-20241022"
	DefaultModel        = ModelClaude4Sonnet
	healthCheckMaxToken = 1

	// statusOverloaded is Anthropic's non-standard "overloaded" status.
	statusOverloaded = 529
)

var models = []llm.ModelConfig{
	{Name: ModelClaude4Sonnet, Tier: llm.TierStandard, MaxTokens: 64000, CostPerInputToken: 0.000003, CostPerOutputToken: 0.000015, SupportsTemperature: true},
	{Name: ModelClaude35Haiku, Tier: llm.TierEconomy, MaxTokens: 8192, CostPerInputToken: 0.0000008, CostPerOutputToken: 0.000004, SupportsTemperature: true},
	{Name: ModelClaude4Opus, Tier: llm.TierPremium, MaxTokens: 32000, CostPerInputToken: 0.000015, CostPerOutputToken: 0.000075, SupportsTemperature: true},
}

// Config contains configuration for the Anthropic provider.
type Config struct {
	APIKey     string        // Required
	BaseURL    string        // Optional: SDK default when empty
	Model      string        // Optional: default claude-sonnet-4
	Timeout    time.Duration // Optional: default 120s
	MaxRetries *int          // Optional: default 2
}

// Provider implements llm.Provider for Anthropic Claude.
type Provider struct {
	client anthropic.Client
	model  string
	models []llm.ModelConfig
	logger *log.Logger
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider creates a new Anthropic provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := DefaultMaxRetries
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(retries),
		option.WithRequestTimeout(timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client: anthropic.NewClient(opts...),
		model:  model,
		models: orderedModels(model),
		logger: log.New(os.Stdout, "[ANTHROPIC] ", log.LstdFlags),
	}, nil
}

func orderedModels(defaultModel string) []llm.ModelConfig {
	first, ok := llm.FindModel(models, defaultModel)
	if !ok {
		first.Name = defaultModel
	}
	out := []llm.ModelConfig{first}
	for _, m := range models {
		if m.Name != first.Name {
			out = append(out, m)
		}
	}
	return out
}

// SetLogger replaces the logger.
func (p *Provider) SetLogger(l *log.Logger) {
	p.logger = l
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// Type returns the variant tag.
func (p *Provider) Type() llm.ProviderType {
	return llm.ProviderTypeAnthropic
}

// Models lists the supported models, default first.
func (p *Provider) Models() []llm.ModelConfig {
	return p.models
}

// EstimateCost returns the cost in mills.
func (p *Provider) EstimateCost(inputTokens, outputTokens int, model string) int64 {
	return llm.EstimateCostFor(p.models, inputTokens, outputTokens, model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anthropic.MessageNewParams {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := int64(DefaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		Temperature: anthropic.Float(DefaultTemperature),
	}

	if system := llm.SystemPromptWithJSONDirective(req.SystemPrompt, req.JSONMode); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// Complete sends a request to the Messages API.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, mapError(err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(text.Text)
		}
	}

	return &llm.CompletionResponse{
		Content:      content.String(),
		Model:        string(msg.Model),
		FinishReason: mapStopReason(string(msg.StopReason)),
		Usage: llm.UsageStats{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// HealthCheck sends a one-token message to the default model.
func (p *Provider) HealthCheck(ctx context.Context) *llm.HealthCheckResult {
	start := time.Now()
	result := &llm.HealthCheckResult{Provider: llm.ProviderTypeAnthropic, CheckedAt: start}

	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: healthCheckMaxToken,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Message = mapError(err).Error()
		p.logger.Printf("health check failed: %v", err)
		return result
	}
	result.Healthy = true
	return result
}

// mapError converts SDK errors into *llm.ProviderError.
func mapError(err error) *llm.ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Error()
		if apiErr.StatusCode == statusOverloaded {
			msg = "overloaded: " + msg
		}
		perr := llm.NewHTTPProviderError(llm.ProviderTypeAnthropic, apiErr.StatusCode, msg)
		perr.Cause = err
		return perr
	}
	return llm.WrapTransportError(llm.ProviderTypeAnthropic, err)
}

// mapStopReason maps Claude stop reasons to standard finish reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "max_tokens"
	case "":
		return "unknown"
	default:
		return reason
	}
}
