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
	"fmt"
	"sort"
	"strings"
	"time"

	"cvforge/platform/orchestrator/llm"
	"cvforge/platform/orchestrator/llm/anthropic"
	"cvforge/platform/orchestrator/llm/bedrock"
	"cvforge/platform/orchestrator/llm/openai"
	"cvforge/platform/shared/config"
	"cvforge/platform/shared/logger"
)

// buildProviders constructs one provider per configured entry. Entries that
// cannot be constructed (for example a missing API key) are skipped with a
// warning; an unknown type is an error.
func buildProviders(ctx context.Context, settings []config.ProviderSettings, log *logger.Logger) ([]llm.Provider, error) {
	var out []llm.Provider
	for _, s := range settings {
		p, err := newProvider(ctx, s)
		if err != nil {
			if !llm.ProviderType(strings.ToLower(s.Type)).Valid() {
				return nil, err
			}
			log.Warn("", "Provider not configured", map[string]interface{}{
				"provider": s.Type,
				"error":    err.Error(),
			})
			continue
		}
		out = append(out, p)
		log.Info("", "Provider configured", map[string]interface{}{
			"provider": s.Type,
			"model":    p.Models()[0].Name,
		})
	}
	return out, nil
}

func newProvider(ctx context.Context, s config.ProviderSettings) (llm.Provider, error) {
	timeout := time.Duration(s.TimeoutSeconds) * time.Second

	switch llm.ProviderType(strings.ToLower(s.Type)) {
	case llm.ProviderTypeOpenAI:
		return openai.NewProvider(openai.Config{
			APIKey:  s.APIKey,
			BaseURL: s.BaseURL,
			Model:   s.Model,
			Timeout: timeout,
		})
	case llm.ProviderTypeAnthropic:
		return anthropic.NewProvider(anthropic.Config{
			APIKey:  s.APIKey,
			BaseURL: s.BaseURL,
			Model:   s.Model,
			Timeout: timeout,
		})
	case llm.ProviderTypeBedrock:
		return bedrock.NewProvider(ctx, bedrock.Config{
			Region:      s.Region,
			Model:       s.Model,
			Credentials: s.APIKey,
			Timeout:     timeout,
		})
	default:
		return nil, fmt.Errorf("unknown provider type %q", s.Type)
	}
}

// orderProviders puts primary first and fallback second so the orchestrator
// pairs them for failover. Other providers keep their relative order.
func orderProviders(ps []llm.Provider, primary, fallback llm.ProviderType) []llm.Provider {
	rank := func(t llm.ProviderType) int {
		switch t {
		case primary:
			return 0
		case fallback:
			return 1
		default:
			return 2
		}
	}
	out := append([]llm.Provider(nil), ps...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Type()) < rank(out[j].Type())
	})
	return out
}

// routingConfig converts startup settings into the orchestrator's runtime config.
func routingConfig(s config.OrchestratorSettings) llm.Config {
	return llm.Config{
		PrimaryProvider:         llm.ProviderType(strings.ToLower(s.PrimaryProvider)),
		FallbackProvider:        llm.ProviderType(strings.ToLower(s.FallbackProvider)),
		FailoverThreshold:       s.FailoverThreshold,
		FailoverCooldownMs:      s.FailoverCooldownMs,
		ABTestingEnabled:        s.ABTestingEnabled,
		ABTestSplitRatio:        s.ABTestSplitRatio,
		CostOptimizationEnabled: s.CostOptimizationEnabled,
		MaxCostPerRequestMills:  s.MaxCostPerRequestMills,
	}
}
