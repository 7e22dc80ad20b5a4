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

// Package openai implements the llm.Provider variant for the OpenAI chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"cvforge/platform/orchestrator/llm"
)

const (
	// DefaultBaseURL is the public OpenAI API.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens is used when the request does not set MaxTokens.
	DefaultMaxTokens = 2048

	// DefaultTemperature is sent to models that accept a temperature.
	DefaultTemperature = 0.7

	// DefaultModel is used when neither the config nor the request names a model.
	DefaultModel = ModelGPT4o
)

// Model names.
const (
	ModelGPT4o     = "gpt-4o"
	ModelGPT4oMini = "gpt-4o-mini"
	ModelO3Mini    = "o3-mini"
)

var models = []llm.ModelConfig{
	{Name: ModelGPT4o, Tier: llm.TierPremium, MaxTokens: 16384, CostPerInputToken: 0.0000025, CostPerOutputToken: 0.00001, SupportsJSONMode: true, SupportsTemperature: true},
	{Name: ModelGPT4oMini, Tier: llm.TierEconomy, MaxTokens: 16384, CostPerInputToken: 0.00000015, CostPerOutputToken: 0.0000006, SupportsJSONMode: true, SupportsTemperature: true},
	{Name: ModelO3Mini, Tier: llm.TierStandard, MaxTokens: 100000, CostPerInputToken: 0.0000011, CostPerOutputToken: 0.0000044, SupportsJSONMode: true, SupportsTemperature: false},
}

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI provider.
type Config struct {
	APIKey  string        // Required
	BaseURL string        // Optional: default https://api.openai.com/v1
	Model   string        // Optional: default gpt-4o
	Timeout time.Duration // Optional: default 60s
}

// Provider implements llm.Provider for OpenAI.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	models  []llm.ModelConfig
	client  HTTPClient
	logger  *log.Logger
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider creates a new OpenAI provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		models:  orderedModels(model),
		client:  &http.Client{Timeout: timeout},
		logger:  log.New(os.Stdout, "[OPENAI] ", log.LstdFlags),
	}, nil
}

// orderedModels puts the configured default model first.
func orderedModels(defaultModel string) []llm.ModelConfig {
	out := make([]llm.ModelConfig, 0, len(models)+1)
	if m, ok := llm.FindModel(models, defaultModel); ok {
		out = append(out, m)
	} else {
		custom := models[0]
		custom.Name = defaultModel
		out = append(out, custom)
	}
	for _, m := range models {
		if m.Name != out[0].Name {
			out = append(out, m)
		}
	}
	return out
}

// SetHTTPClient replaces the HTTP client (for testing).
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

// SetLogger replaces the logger.
func (p *Provider) SetLogger(l *log.Logger) {
	p.logger = l
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Type returns the variant tag.
func (p *Provider) Type() llm.ProviderType {
	return llm.ProviderTypeOpenAI
}

// Models lists the supported models, default first.
func (p *Provider) Models() []llm.ModelConfig {
	return p.models
}

// EstimateCost returns the cost in mills.
func (p *Provider) EstimateCost(inputTokens, outputTokens int, model string) int64 {
	return llm.EstimateCostFor(p.models, inputTokens, outputTokens, model)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// buildRequest maps a CompletionRequest onto the chat completions body.
func (p *Provider) buildRequest(req llm.CompletionRequest) map[string]any {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	mc, _ := llm.FindModel(p.models, model)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}

	// Reasoning models take max_completion_tokens and reject temperature.
	if mc.SupportsTemperature {
		body["max_tokens"] = maxTokens
		body["temperature"] = DefaultTemperature
	} else {
		body["max_completion_tokens"] = maxTokens
	}

	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	return body
}

// Complete executes a chat completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	reqBody, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, llm.NewProviderError(llm.ProviderTypeOpenAI, llm.ErrCodeInvalidRequest, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, llm.NewProviderError(llm.ProviderTypeOpenAI, llm.ErrCodeInvalidRequest, "failed to create request", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.WrapTransportError(llm.ProviderTypeOpenAI, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, llm.NewProviderError(llm.ProviderTypeOpenAI, llm.ErrCodeBadResponse, "failed to decode response", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, llm.NewProviderError(llm.ProviderTypeOpenAI, llm.ErrCodeBadResponse, "response has no choices", nil)
	}

	return &llm.CompletionResponse{
		Content:      apiResp.Choices[0].Message.Content,
		Model:        apiResp.Model,
		FinishReason: mapFinishReason(apiResp.Choices[0].FinishReason),
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

// HealthCheck lists models with the configured key.
func (p *Provider) HealthCheck(ctx context.Context) *llm.HealthCheckResult {
	start := time.Now()
	result := &llm.HealthCheckResult{Provider: llm.ProviderTypeOpenAI, CheckedAt: start}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Message = err.Error()
		p.logger.Printf("health check failed: %v", err)
		return result
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		result.Message = fmt.Sprintf("status %d", resp.StatusCode)
		return result
	}
	result.Healthy = true
	return result
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// parseAPIError converts an error body into a *llm.ProviderError.
func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return llm.NewHTTPProviderError(llm.ProviderTypeOpenAI, statusCode, message)
}

// mapFinishReason maps OpenAI finish reasons to standard reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "":
		return "unknown"
	default:
		return reason
	}
}
