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

// Package bedrock implements the llm.Provider variant for AWS Bedrock.
//
// Requests are signed with AWS Signature V4 through the SDK's default
// credential chain (IAM role, env, shared profile). A static key pair can be
// supplied as "ACCESS_KEY_ID:SECRET_ACCESS_KEY" in Config.Credentials.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"cvforge/platform/orchestrator/llm"
)

const (
	// DefaultRegion is used when Config.Region is empty.
	DefaultRegion = "us-east-1"

	// DefaultMaxTokens is used when the request does not set MaxTokens.
	DefaultMaxTokens = 2048

	// DefaultTemperature is sent with every request.
	DefaultTemperature = 0.7

	// AnthropicVersion is the Messages API version Bedrock expects for Claude.
	AnthropicVersion = "bedrock-2023-05-31"
)

// Model IDs.
const (
	ModelClaude3Haiku   = "anthropic.claude-3-haiku-20240307-v1:0"
	ModelClaude35Sonnet = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	ModelLlama3_70B     = "meta.llama3-70b-instruct-v1:0"
	DefaultModel        = ModelClaude3Haiku
)

var models = []llm.ModelConfig{
	{Name: ModelClaude3Haiku, Tier: llm.TierEconomy, MaxTokens: 4096, CostPerInputToken: 0.00000025, CostPerOutputToken: 0.00000125, SupportsTemperature: true},
	{Name: ModelClaude35Sonnet, Tier: llm.TierStandard, MaxTokens: 8192, CostPerInputToken: 0.000003, CostPerOutputToken: 0.000015, SupportsTemperature: true},
	{Name: ModelLlama3_70B, Tier: llm.TierStandard, MaxTokens: 2048, CostPerInputToken: 0.00000265, CostPerOutputToken: 0.0000035, SupportsTemperature: true},
}

// InvokeModelAPI is the subset of the Bedrock runtime client the provider uses.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config contains configuration for the Bedrock provider.
type Config struct {
	Region      string        // Optional: default us-east-1
	Model       string        // Optional: default Claude 3 Haiku
	Credentials string        // Optional: "ACCESS_KEY_ID:SECRET_ACCESS_KEY"
	Timeout     time.Duration // Optional: per-call timeout
}

// Provider implements llm.Provider for AWS Bedrock.
type Provider struct {
	client  InvokeModelAPI
	region  string
	model   string
	models  []llm.ModelConfig
	timeout time.Duration
	logger  *log.Logger
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider loads AWS configuration and creates a Bedrock runtime client.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.Credentials != "" {
		id, secret, ok := strings.Cut(cfg.Credentials, ":")
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("bedrock credentials must be ACCESS_KEY_ID:SECRET_ACCESS_KEY")
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	cfg.Region = region
	return NewProviderWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

// NewProviderWithClient creates a provider around an existing client.
func NewProviderWithClient(client InvokeModelAPI, cfg Config) *Provider {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	first, ok := llm.FindModel(models, model)
	if !ok {
		first.Name = model
	}
	ordered := []llm.ModelConfig{first}
	for _, m := range models {
		if m.Name != first.Name {
			ordered = append(ordered, m)
		}
	}

	return &Provider{
		client:  client,
		region:  region,
		model:   model,
		models:  ordered,
		timeout: cfg.Timeout,
		logger:  log.New(os.Stdout, "[BEDROCK] ", log.LstdFlags),
	}
}

// SetLogger replaces the logger.
func (p *Provider) SetLogger(l *log.Logger) {
	p.logger = l
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "bedrock"
}

// Type returns the variant tag.
func (p *Provider) Type() llm.ProviderType {
	return llm.ProviderTypeBedrock
}

// Models lists the supported models, default first.
func (p *Provider) Models() []llm.ModelConfig {
	return p.models
}

// EstimateCost returns the cost in mills.
func (p *Provider) EstimateCost(inputTokens, outputTokens int, model string) int64 {
	return llm.EstimateCostFor(p.models, inputTokens, outputTokens, model)
}

// Complete invokes the model with a family-specific body.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	system := llm.SystemPromptWithJSONDirective(req.SystemPrompt, req.JSONMode)

	family := detectModelFamily(model)
	body, err := buildRequestBody(family, system, req.UserPrompt, maxTokens)
	if err != nil {
		return nil, llm.NewProviderError(llm.ProviderTypeBedrock, llm.ErrCodeInvalidRequest, err.Error(), err)
	}

	out, err := p.invoke(ctx, model, body)
	if err != nil {
		p.logger.Printf("InvokeModel failed (model=%s): %v", model, err)
		return nil, mapError(err)
	}

	resp, err := parseResponseBody(family, out.Body)
	if err != nil {
		return nil, llm.NewProviderError(llm.ProviderTypeBedrock, llm.ErrCodeBadResponse, "failed to parse response", err)
	}
	resp.Model = model
	return resp, nil
}

// HealthCheck invokes the default model for a single token.
func (p *Provider) HealthCheck(ctx context.Context) *llm.HealthCheckResult {
	start := time.Now()
	result := &llm.HealthCheckResult{Provider: llm.ProviderTypeBedrock, CheckedAt: start}

	body, err := buildRequestBody(detectModelFamily(p.model), "", "ping", 1)
	if err == nil {
		_, err = p.invoke(ctx, p.model, body)
	}
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Message = mapError(err).Error()
		return result
	}
	result.Healthy = true
	return result
}

func (p *Provider) invoke(ctx context.Context, model string, body map[string]any) (*bedrockruntime.InvokeModelOutput, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
}

// buildRequestBody builds the request body for a model family.
func buildRequestBody(family, system, prompt string, maxTokens int) (map[string]any, error) {
	switch family {
	case "anthropic":
		body := map[string]any{
			"anthropic_version": AnthropicVersion,
			"max_tokens":        maxTokens,
			"temperature":       DefaultTemperature,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		}
		if system != "" {
			body["system"] = system
		}
		return body, nil
	case "meta":
		return map[string]any{
			"prompt":      llamaPrompt(system, prompt),
			"max_gen_len": maxTokens,
			"temperature": DefaultTemperature,
			"top_p":       0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family: %q", family)
	}
}

// llamaPrompt renders the Llama 3 instruct chat template.
func llamaPrompt(system, prompt string) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	if system != "" {
		b.WriteString("<|start_header_id|>system<|end_header_id|>\n\n")
		b.WriteString(system)
		b.WriteString("<|eot_id|>")
	}
	b.WriteString("<|start_header_id|>user<|end_header_id|>\n\n")
	b.WriteString(prompt)
	b.WriteString("<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

// parseResponseBody parses the response body for a model family.
func parseResponseBody(family string, body []byte) (*llm.CompletionResponse, error) {
	switch family {
	case "anthropic":
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
			Usage      struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		var content strings.Builder
		for _, c := range resp.Content {
			if c.Type == "" || c.Type == "text" {
				content.WriteString(c.Text)
			}
		}
		return &llm.CompletionResponse{
			Content:      content.String(),
			FinishReason: mapStopReason(resp.StopReason),
			Usage: llm.UsageStats{
				PromptTokens:     resp.Usage.InputTokens,
				CompletionTokens: resp.Usage.OutputTokens,
				TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			},
		}, nil
	case "meta":
		var resp struct {
			Generation           string `json:"generation"`
			PromptTokenCount     int    `json:"prompt_token_count"`
			GenerationTokenCount int    `json:"generation_token_count"`
			StopReason           string `json:"stop_reason"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{
			Content:      strings.TrimSpace(resp.Generation),
			FinishReason: mapStopReason(resp.StopReason),
			Usage: llm.UsageStats{
				PromptTokens:     resp.PromptTokenCount,
				CompletionTokens: resp.GenerationTokenCount,
				TotalTokens:      resp.PromptTokenCount + resp.GenerationTokenCount,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family: %q", family)
	}
}

// inferenceProfilePrefixes are the known Bedrock inference profile prefixes.
var inferenceProfilePrefixes = map[string]bool{"eu": true, "us": true, "apac": true, "global": true}

// detectModelFamily returns "anthropic" or "meta" from a model or inference
// profile ID, or "" when unsupported.
//
//	anthropic.claude-3-haiku-20240307-v1:0
//	us.anthropic.claude-3-5-sonnet-20240620-v1:0
//	meta.llama3-70b-instruct-v1:0
func detectModelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	family := segments[0]
	if inferenceProfilePrefixes[family] {
		family = segments[1]
	}
	switch family {
	case "anthropic", "meta":
		return family
	default:
		return ""
	}
}

// mapError classifies SDK errors by HTTP status when one is available.
func mapError(err error) *llm.ProviderError {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		perr := llm.NewHTTPProviderError(llm.ProviderTypeBedrock, respErr.HTTPStatusCode(), respErr.Error())
		perr.Cause = err
		return perr
	}
	return llm.WrapTransportError(llm.ProviderTypeBedrock, err)
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "stop":
		return "stop"
	case "max_tokens", "length":
		return "max_tokens"
	case "":
		return "unknown"
	default:
		return reason
	}
}
