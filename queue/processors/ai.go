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

package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cvforge/platform/orchestrator/llm"
	"cvforge/platform/orchestrator/prompts"
	"cvforge/platform/queue"
	"cvforge/platform/shared/logger"
)

// Completer runs a completion. *llm.Orchestrator satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// TemplateSource resolves prompt templates. *prompts.Registry satisfies it.
type TemplateSource interface {
	Get(key string) (prompts.Template, bool)
	BuildUserPrompt(t prompts.Template, vars map[string]any) string
}

// AIResult is stored as the result of a completed AI job.
type AIResult struct {
	// Output is the parsed JSON value for JSON templates, the raw text otherwise.
	Output    any              `json:"output"`
	Provider  llm.ProviderType `json:"provider"`
	Model     string           `json:"model"`
	Usage     llm.UsageStats   `json:"usage"`
	CostMills int64            `json:"costMills"`
	LatencyMs int64            `json:"latencyMs"`
}

// AIProcessor renders a prompt template and runs it through the orchestrator.
type AIProcessor struct {
	completer Completer
	templates TemplateSource
	log       *logger.Logger
}

var _ queue.Processor[queue.AIJobData] = (*AIProcessor)(nil)

// NewAIProcessor creates an AIProcessor.
func NewAIProcessor(c Completer, t TemplateSource, log *logger.Logger) *AIProcessor {
	return &AIProcessor{completer: c, templates: t, log: log}
}

// Process implements queue.Processor.
func (p *AIProcessor) Process(ctx context.Context, task *queue.Task[queue.AIJobData]) (any, error) {
	job, data := task.Job, task.Data
	correlationID := correlationFor(job, data.CorrelationID)

	task.ReportProgress(ctx, 10)
	tmpl, ok := p.templates.Get(data.TemplateKey)
	if !ok {
		return nil, queue.Permanent(fmt.Errorf("unknown prompt template %q", data.TemplateKey))
	}

	req := llm.CompletionRequest{
		SystemPrompt: tmpl.SystemPrompt,
		UserPrompt:   p.templates.BuildUserPrompt(tmpl, data.Variables),
		JSONMode:     tmpl.JSONMode,
		MaxTokens:    tmpl.MaxTokens,
		Model:        data.Model,
		Metadata: llm.RequestMetadata{
			UserID:        data.UserID,
			DocumentID:    data.DocumentID,
			ToolType:      data.ToolType,
			CorrelationID: correlationID,
		},
	}
	task.ReportProgress(ctx, 30)

	resp, err := p.completer.Complete(ctx, req)
	if err != nil {
		jerr := &queue.JobProcessingError{
			Queue:  job.Queue,
			JobID:  job.ID,
			Reason: "completion failed",
			Cause:  err,
		}
		// A missing provider is configuration, not a transient fault.
		if errors.Is(err, llm.ErrProviderUnavailable) {
			return nil, queue.Permanent(jerr)
		}
		return nil, jerr
	}
	task.ReportProgress(ctx, 80)

	var output any = resp.Content
	if tmpl.JSONMode {
		raw := stripCodeFences(resp.Content)
		if !json.Valid([]byte(raw)) {
			return nil, queue.Permanent(&queue.JobProcessingError{
				Queue:  job.Queue,
				JobID:  job.ID,
				Reason: fmt.Sprintf("template %s requires JSON but %s returned non-JSON output", tmpl.Key, resp.Provider),
			})
		}
		output = json.RawMessage(raw)
	}
	task.ReportProgress(ctx, 100)

	p.log.JobInfo(job.ID, correlationID, "AI job processed", map[string]interface{}{
		"template":   tmpl.Key,
		"provider":   resp.Provider,
		"model":      resp.Model,
		"cost_mills": resp.CostMills,
		"latency_ms": resp.LatencyMs,
	})

	return AIResult{
		Output:    output,
		Provider:  resp.Provider,
		Model:     resp.Model,
		Usage:     resp.Usage,
		CostMills: resp.CostMills,
		LatencyMs: resp.LatencyMs,
	}, nil
}

// stripCodeFences removes a surrounding markdown code fence, with or without
// a language tag.
func stripCodeFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func correlationFor(job *queue.Job, fallback string) string {
	if job.CorrelationID != "" {
		return job.CorrelationID
	}
	if fallback != "" {
		return fallback
	}
	return job.ID
}
