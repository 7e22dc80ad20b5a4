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

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/platform/orchestrator/llm"
	"cvforge/platform/shared/config"
	"cvforge/platform/shared/logger"
)

func providerTypes(ps []llm.Provider) []llm.ProviderType {
	out := make([]llm.ProviderType, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Type())
	}
	return out
}

func TestBuildProviders(t *testing.T) {
	ps, err := buildProviders(context.Background(), []config.ProviderSettings{
		{Type: "OpenAI", APIKey: "sk-test"},
		{Type: "anthropic"}, // no key: skipped
	}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []llm.ProviderType{llm.ProviderTypeOpenAI}, providerTypes(ps))
}

func TestBuildProviders_UnknownType(t *testing.T) {
	_, err := buildProviders(context.Background(), []config.ProviderSettings{
		{Type: "gemini", APIKey: "k"},
	}, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider type "gemini"`)
}

func TestOrderProviders(t *testing.T) {
	ps := []llm.Provider{
		&stubProvider{typ: llm.ProviderTypeBedrock},
		&stubProvider{typ: llm.ProviderTypeOpenAI},
		&stubProvider{typ: llm.ProviderTypeAnthropic},
	}

	got := orderProviders(ps, llm.ProviderTypeAnthropic, llm.ProviderTypeOpenAI)
	assert.Equal(t, []llm.ProviderType{"anthropic", "openai", "bedrock"}, providerTypes(got))
	assert.Equal(t, llm.ProviderTypeBedrock, ps[0].Type(), "input slice is not reordered")

	got = orderProviders(ps, llm.ProviderTypeOpenAI, "")
	assert.Equal(t, []llm.ProviderType{"openai", "bedrock", "anthropic"}, providerTypes(got))
}

func TestRoutingConfig(t *testing.T) {
	cfg := routingConfig(config.OrchestratorSettings{
		PrimaryProvider:         "Anthropic",
		FallbackProvider:        "OPENAI",
		FailoverThreshold:       4,
		FailoverCooldownMs:      30000,
		ABTestingEnabled:        true,
		ABTestSplitRatio:        0.2,
		CostOptimizationEnabled: true,
		MaxCostPerRequestMills:  50,
	})

	assert.Equal(t, llm.Config{
		PrimaryProvider:         llm.ProviderTypeAnthropic,
		FallbackProvider:        llm.ProviderTypeOpenAI,
		FailoverThreshold:       4,
		FailoverCooldownMs:      30000,
		ABTestingEnabled:        true,
		ABTestSplitRatio:        0.2,
		CostOptimizationEnabled: true,
		MaxCostPerRequestMills:  50,
	}, cfg)
	assert.NoError(t, cfg.Validate())
}
