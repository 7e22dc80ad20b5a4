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
	"fmt"
)

// Config is the routing configuration of an Orchestrator.
// Values are published as immutable snapshots; never modify one after it is stored.
type Config struct {
	PrimaryProvider         ProviderType `json:"primaryProvider"`
	FallbackProvider        ProviderType `json:"fallbackProvider,omitempty"`
	FailoverThreshold       int          `json:"failoverThreshold"`
	FailoverCooldownMs      int64        `json:"failoverCooldownMs"`
	ABTestingEnabled        bool         `json:"abTestingEnabled"`
	ABTestSplitRatio        float64      `json:"abTestSplitRatio"`
	CostOptimizationEnabled bool         `json:"costOptimizationEnabled"`
	MaxCostPerRequestMills  int64        `json:"maxCostPerRequestMills"`
}

// DefaultConfig returns the static defaults used at process start.
func DefaultConfig() Config {
	return Config{
		PrimaryProvider:        ProviderTypeOpenAI,
		FallbackProvider:       ProviderTypeAnthropic,
		FailoverThreshold:      3,
		FailoverCooldownMs:     60000,
		ABTestSplitRatio:       0.5,
		MaxCostPerRequestMills: 0,
	}
}

// Validate rejects values the selection logic cannot honor.
func (c Config) Validate() error {
	if c.PrimaryProvider == "" {
		return fmt.Errorf("primaryProvider is required")
	}
	if c.FailoverThreshold < 1 {
		return fmt.Errorf("failoverThreshold must be >= 1, got %d", c.FailoverThreshold)
	}
	if c.FailoverCooldownMs < 0 {
		return fmt.Errorf("failoverCooldownMs must be >= 0, got %d", c.FailoverCooldownMs)
	}
	if c.ABTestSplitRatio < 0 || c.ABTestSplitRatio > 1 {
		return fmt.Errorf("abTestSplitRatio must be within [0,1], got %v", c.ABTestSplitRatio)
	}
	if c.MaxCostPerRequestMills < 0 {
		return fmt.Errorf("maxCostPerRequestMills must be >= 0, got %d", c.MaxCostPerRequestMills)
	}
	return nil
}

// ConfigUpdate is a partial update. Nil fields are left unchanged.
type ConfigUpdate struct {
	PrimaryProvider         *ProviderType `json:"primaryProvider,omitempty"`
	FallbackProvider        *ProviderType `json:"fallbackProvider,omitempty"`
	FailoverThreshold       *int          `json:"failoverThreshold,omitempty"`
	FailoverCooldownMs      *int64        `json:"failoverCooldownMs,omitempty"`
	ABTestingEnabled        *bool         `json:"abTestingEnabled,omitempty"`
	ABTestSplitRatio        *float64      `json:"abTestSplitRatio,omitempty"`
	CostOptimizationEnabled *bool         `json:"costOptimizationEnabled,omitempty"`
	MaxCostPerRequestMills  *int64        `json:"maxCostPerRequestMills,omitempty"`
}

// Apply returns a copy of c with the supplied fields replaced.
func (u ConfigUpdate) Apply(c Config) Config {
	if u.PrimaryProvider != nil {
		c.PrimaryProvider = *u.PrimaryProvider
	}
	if u.FallbackProvider != nil {
		c.FallbackProvider = *u.FallbackProvider
	}
	if u.FailoverThreshold != nil {
		c.FailoverThreshold = *u.FailoverThreshold
	}
	if u.FailoverCooldownMs != nil {
		c.FailoverCooldownMs = *u.FailoverCooldownMs
	}
	if u.ABTestingEnabled != nil {
		c.ABTestingEnabled = *u.ABTestingEnabled
	}
	if u.ABTestSplitRatio != nil {
		c.ABTestSplitRatio = *u.ABTestSplitRatio
	}
	if u.CostOptimizationEnabled != nil {
		c.CostOptimizationEnabled = *u.CostOptimizationEnabled
	}
	if u.MaxCostPerRequestMills != nil {
		c.MaxCostPerRequestMills = *u.MaxCostPerRequestMills
	}
	return c
}
