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

package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/platform/orchestrator/llm"
)

type messageResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func okMessage(text, stop string) messageResponse {
	return messageResponse{
		ID:         "msg_test",
		Type:       "message",
		Role:       "assistant",
		Content:    []contentBlock{{Type: "text", Text: text}},
		Model:      ModelClaude4Sonnet,
		StopReason: stop,
		Usage:      usage{InputTokens: 200, OutputTokens: 50},
	}
}

// newTestServer responds with resp and captures the request body.
func newTestServer(t *testing.T, status int, resp any, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if captured != nil {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				*captured = body
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	noRetries := 0
	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: baseURL, MaxRetries: &noRetries})
	require.NoError(t, err)
	p.SetLogger(log.New(io.Discard, "", 0))
	return p
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Error(t, err)

	p, err := NewProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, llm.ProviderTypeAnthropic, p.Type())
	assert.Equal(t, DefaultModel, p.Models()[0].Name)
	assert.Len(t, p.Models(), 3)

	p, err = NewProvider(Config{APIKey: "test-key", Model: ModelClaude35Haiku})
	require.NoError(t, err)
	assert.Equal(t, ModelClaude35Haiku, p.Models()[0].Name)
	assert.Equal(t, llm.TierEconomy, p.Models()[0].Tier)
}

func TestComplete_Success(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, http.StatusOK, okMessage("Experienced engineer.", "end_turn"), &captured)
	p := newTestProvider(t, srv.URL)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are a resume writer.",
		UserPrompt:   "Write a summary",
		MaxTokens:    300,
	})
	require.NoError(t, err)

	assert.Equal(t, "Experienced engineer.", resp.Content)
	assert.Equal(t, ModelClaude4Sonnet, resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, llm.UsageStats{PromptTokens: 200, CompletionTokens: 50, TotalTokens: 250}, resp.Usage)

	assert.Equal(t, DefaultModel, captured["model"])
	assert.EqualValues(t, 300, captured["max_tokens"])
	assert.EqualValues(t, DefaultTemperature, captured["temperature"])

	system, ok := captured["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "You are a resume writer.", system[0].(map[string]any)["text"])
}

func TestComplete_JSONModeAddsDirective(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, http.StatusOK, okMessage(`{"a":1}`, "end_turn"), &captured)
	p := newTestProvider(t, srv.URL)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "x", JSONMode: true})
	require.NoError(t, err)

	system := captured["system"].([]any)
	assert.Equal(t, llm.JSONOnlyDirective, system[0].(map[string]any)["text"])
	assert.EqualValues(t, DefaultMaxTokens, captured["max_tokens"])
}

func TestComplete_ModelOverrideAndMaxTokensStop(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, http.StatusOK, okMessage("partial", "max_tokens"), &captured)
	p := newTestProvider(t, srv.URL)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "x", Model: ModelClaude35Haiku})
	require.NoError(t, err)
	assert.Equal(t, ModelClaude35Haiku, captured["model"])
	assert.Equal(t, "max_tokens", resp.FinishReason)
	assert.NotContains(t, captured, "system")
}

func TestComplete_APIErrors(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusTooManyRequests, llm.ErrCodeRateLimit, true},
		{http.StatusUnauthorized, llm.ErrCodeAuth, false},
		{http.StatusBadRequest, llm.ErrCodeInvalidRequest, false},
		{statusOverloaded, llm.ErrCodeServerError, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := newTestServer(t, tt.status, map[string]any{
				"type":  "error",
				"error": map[string]string{"type": "some_error", "message": "nope"},
			}, nil)
			p := newTestProvider(t, srv.URL)

			_, err := p.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "x"})
			var perr *llm.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, tt.retryable, perr.Retryable)
		})
	}
}

func TestComplete_ContextCancelled(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, okMessage("x", "end_turn"), nil)
	p := newTestProvider(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Complete(ctx, llm.CompletionRequest{UserPrompt: "x"})
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealthCheck(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, http.StatusOK, okMessage("p", "max_tokens"), &captured)
	p := newTestProvider(t, srv.URL)

	res := p.HealthCheck(context.Background())
	assert.True(t, res.Healthy)
	assert.Equal(t, llm.ProviderTypeAnthropic, res.Provider)
	assert.EqualValues(t, 1, captured["max_tokens"])

	down := newTestServer(t, http.StatusInternalServerError, map[string]any{"type": "error"}, nil)
	p = newTestProvider(t, down.URL)
	res = p.HealthCheck(context.Background())
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "status 500")
}

func TestEstimateCost(t *testing.T) {
	p := newTestProvider(t, "http://unused")

	// 1000*0.000003 + 1000*0.000015 = 0.018 dollars
	assert.Equal(t, int64(18), p.EstimateCost(1000, 1000, ModelClaude4Sonnet))
	// 10000*0.0000008 + 1000*0.000004 = 0.012 dollars
	assert.Equal(t, int64(12), p.EstimateCost(10000, 1000, ModelClaude35Haiku))
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, "stop", mapStopReason("end_turn"))
	assert.Equal(t, "stop", mapStopReason("stop_sequence"))
	assert.Equal(t, "max_tokens", mapStopReason("max_tokens"))
	assert.Equal(t, "tool_use", mapStopReason("tool_use"))
	assert.Equal(t, "unknown", mapStopReason(""))
}
