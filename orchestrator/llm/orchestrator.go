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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cvforge/platform/shared/logger"
)

// economyMaxTokens is the largest request routed to the economy provider.
const economyMaxTokens = 2000

// Selection reasons, reported in logs.
const (
	reasonABTest     = "ab_test"
	reasonEconomy    = "cost_optimization"
	reasonPrimary    = "primary"
	reasonDegraded   = "degraded_primary"
	reasonLastResort = "last_resort"
)

// UsageSink receives every successful completion.
type UsageSink interface {
	RecordCompletion(ctx context.Context, req CompletionRequest, resp *CompletionResponse) error
}

// MetricsRecorder observes provider executions.
type MetricsRecorder interface {
	ObserveCompletion(provider ProviderType, success bool, latencyMs, costMills int64)
	ObserveBudgetExceeded(provider ProviderType)
}

// providerState is the per-provider circuit and accounting record. Guarded by Orchestrator.mu.
type providerState struct {
	consecutiveFailures int
	lastFailureAt       time.Time
	totalRequests       int64
	totalFailures       int64
	totalLatencyMs      int64
	totalCostMills      int64
}

// ProviderMetrics is a copied snapshot of a provider's totals.
type ProviderMetrics struct {
	Provider            ProviderType `json:"provider"`
	Healthy             bool         `json:"healthy"`
	TotalRequests       int64        `json:"totalRequests"`
	TotalFailures       int64        `json:"totalFailures"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastFailureAtMs     int64        `json:"lastFailureAtEpochMs,omitempty"`
	TotalLatencyMs      int64        `json:"totalLatencyMs"`
	AvgLatencyMs        float64      `json:"avgLatencyMs"`
	ErrorRatePercent    float64      `json:"errorRatePercent"`
	TotalCostMills      int64        `json:"totalCostMills"`
}

// ProviderHealth combines a live health check with accumulated error rate.
type ProviderHealth struct {
	Provider    ProviderType `json:"provider"`
	Healthy     bool         `json:"healthy"`
	CircuitOpen bool         `json:"circuitOpen"`
	LatencyMs   int64        `json:"latencyMs"`
	ErrorRate   float64      `json:"errorRate"`
	Message     string       `json:"message,omitempty"`
	CheckedAt   time.Time    `json:"checkedAt"`
}

// Orchestrator routes completions across providers with circuit breaking and failover.
// Create one per process with NewOrchestrator and share the pointer.
type Orchestrator struct {
	providers map[ProviderType]Provider
	order     []ProviderType
	economy   ProviderType

	mu     sync.Mutex
	states map[ProviderType]*providerState

	config    atomic.Pointer[Config]
	abCounter atomic.Uint64

	now     func() time.Time
	log     *logger.Logger
	usage   UsageSink
	metrics MetricsRecorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithEconomyProvider designates the provider used by cost optimization.
func WithEconomyProvider(t ProviderType) Option {
	return func(o *Orchestrator) {
		o.economy = t
	}
}

// WithUsageSink records successful completions.
func WithUsageSink(s UsageSink) Option {
	return func(o *Orchestrator) {
		o.usage = s
	}
}

// WithMetricsRecorder observes every provider execution.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithConfig sets the initial config instead of DefaultConfig.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) {
		cfg := c
		o.config.Store(&cfg)
	}
}

// NewOrchestrator registers providers in the given order. The order decides which
// provider serves as fallback for another.
func NewOrchestrator(providers []Provider, opts ...Option) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrProviderUnavailable)
	}

	o := &Orchestrator{
		providers: make(map[ProviderType]Provider, len(providers)),
		states:    make(map[ProviderType]*providerState, len(providers)),
		economy:   ProviderTypeBedrock,
		now:       time.Now,
	}
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("nil provider")
		}
		t := p.Type()
		if _, dup := o.providers[t]; dup {
			return nil, fmt.Errorf("provider %s registered twice", t)
		}
		o.providers[t] = p
		o.states[t] = &providerState{}
		o.order = append(o.order, t)
	}

	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if o.config.Load() == nil {
		cfg := DefaultConfig()
		o.config.Store(&cfg)
	}
	if err := o.config.Load().Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	return o, nil
}

// IsProviderHealthy reports whether t may receive traffic. An open circuit whose
// cooldown has elapsed is closed here and its failure counter reset.
func (o *Orchestrator) IsProviderHealthy(t ProviderType) bool {
	cfg := o.config.Load()

	o.mu.Lock()
	healthy, reset := o.healthyLocked(t, cfg)
	o.mu.Unlock()

	if reset {
		o.log.Info("", "provider circuit reset after cooldown", map[string]interface{}{
			"provider": string(t),
		})
	}
	return healthy
}

func (o *Orchestrator) healthyLocked(t ProviderType, cfg *Config) (healthy, reset bool) {
	st, ok := o.states[t]
	if !ok {
		return false, false
	}
	if st.consecutiveFailures < cfg.FailoverThreshold {
		return true, false
	}
	cooldown := time.Duration(cfg.FailoverCooldownMs) * time.Millisecond
	if o.now().Sub(st.lastFailureAt) >= cooldown {
		st.consecutiveFailures = 0
		return true, true
	}
	return false, false
}

// SelectProvider returns the provider the next request would be routed to.
// Calling it advances the A/B counter when A/B testing is enabled.
func (o *Orchestrator) SelectProvider(req CompletionRequest) ProviderType {
	t, _ := o.selectProvider(req, o.config.Load())
	return t
}

func (o *Orchestrator) selectProvider(req CompletionRequest, cfg *Config) (ProviderType, string) {
	if cfg.ABTestingEnabled && len(o.providers) >= 2 {
		n := o.abCounter.Add(1)
		bucket := float64(n%100) / 100
		if bucket >= cfg.ABTestSplitRatio && cfg.FallbackProvider != "" && o.IsProviderHealthy(cfg.FallbackProvider) {
			return cfg.FallbackProvider, reasonABTest
		}
	}

	if cfg.CostOptimizationEnabled && req.MaxTokens > 0 && req.MaxTokens <= economyMaxTokens &&
		o.economy != "" && o.IsProviderHealthy(o.economy) {
		return o.economy, reasonEconomy
	}

	if o.IsProviderHealthy(cfg.PrimaryProvider) {
		return cfg.PrimaryProvider, reasonPrimary
	}

	if cfg.FallbackProvider != "" && o.IsProviderHealthy(cfg.FallbackProvider) {
		o.log.Warn(req.Metadata.CorrelationID, "primary provider unhealthy, routing to fallback", map[string]interface{}{
			"primary":  string(cfg.PrimaryProvider),
			"fallback": string(cfg.FallbackProvider),
		})
		return cfg.FallbackProvider, reasonDegraded
	}

	return cfg.PrimaryProvider, reasonLastResort
}

// fallbackFor returns the first registered provider other than selected.
func (o *Orchestrator) fallbackFor(selected ProviderType) Provider {
	for _, t := range o.order {
		if t != selected {
			return o.providers[t]
		}
	}
	return nil
}

// Complete executes req on the selected provider and, if that fails, once on a fallback.
// At most two provider executions happen per call.
func (o *Orchestrator) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	cfg := o.config.Load()
	correlationID := req.Metadata.CorrelationID

	selected, reason := o.selectProvider(req, cfg)
	primary, ok := o.providers[selected]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, selected)
	}

	o.log.Debug(correlationID, "provider selected", map[string]interface{}{
		"provider": string(selected),
		"reason":   reason,
	})

	resp, err := o.execute(ctx, primary, req, cfg)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	fallback := o.fallbackFor(selected)
	if fallback == nil {
		o.log.Error(correlationID, "provider failed, no fallback available", map[string]interface{}{
			"provider": string(selected),
			"error":    err.Error(),
		})
		return nil, err
	}

	o.log.Warn(correlationID, "provider failed, trying fallback", map[string]interface{}{
		"provider": string(selected),
		"fallback": string(fallback.Type()),
		"error":    err.Error(),
	})

	resp, fbErr := o.execute(ctx, fallback, req, cfg)
	if fbErr == nil {
		return resp, nil
	}

	allErr := &AllProvidersFailedError{
		Primary:     selected,
		PrimaryErr:  err,
		Fallback:    fallback.Type(),
		FallbackErr: fbErr,
	}
	o.log.Error(correlationID, "all providers failed", map[string]interface{}{
		"error": allErr.Error(),
	})
	return nil, allErr
}

// execute runs one provider call and records its outcome.
func (o *Orchestrator) execute(ctx context.Context, p Provider, req CompletionRequest, cfg *Config) (*CompletionResponse, error) {
	t := p.Type()
	start := o.now()

	resp, err := p.Complete(ctx, req)
	latencyMs := o.now().Sub(start).Milliseconds()

	if err == nil && resp == nil {
		err = NewProviderError(t, ErrCodeBadResponse, "provider returned no response", nil)
	}
	if err != nil && ctx.Err() != nil {
		// Cancellation by the caller does not count against the provider.
		return nil, ctx.Err()
	}
	if err != nil {
		o.recordFailure(t)
		if o.metrics != nil {
			o.metrics.ObserveCompletion(t, false, latencyMs, 0)
		}
		return nil, WrapTransportError(t, err)
	}

	resp.Provider = t
	resp.LatencyMs = latencyMs
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	resp.CostMills = p.EstimateCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Model)

	o.recordSuccess(t, latencyMs, resp.CostMills)
	if o.metrics != nil {
		o.metrics.ObserveCompletion(t, true, latencyMs, resp.CostMills)
	}

	if cfg.MaxCostPerRequestMills > 0 && resp.CostMills > cfg.MaxCostPerRequestMills {
		o.log.Warn(req.Metadata.CorrelationID, "request exceeded cost budget", map[string]interface{}{
			"provider":    string(t),
			"cost_mills":  resp.CostMills,
			"limit_mills": cfg.MaxCostPerRequestMills,
		})
		if o.metrics != nil {
			o.metrics.ObserveBudgetExceeded(t)
		}
	}

	if o.usage != nil {
		if err := o.usage.RecordCompletion(ctx, req, resp); err != nil {
			o.log.Warn(req.Metadata.CorrelationID, "failed to record usage", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return resp, nil
}

func (o *Orchestrator) recordSuccess(t ProviderType, latencyMs, costMills int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.states[t]
	st.consecutiveFailures = 0
	st.totalRequests++
	st.totalLatencyMs += latencyMs
	st.totalCostMills += costMills
}

func (o *Orchestrator) recordFailure(t ProviderType) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.states[t]
	st.consecutiveFailures++
	st.totalRequests++
	st.totalFailures++
	st.lastFailureAt = o.now()
}

// GetHealthStatus runs a live health check on every provider. It never fails.
func (o *Orchestrator) GetHealthStatus(ctx context.Context) []ProviderHealth {
	results := make([]ProviderHealth, len(o.order))

	var wg sync.WaitGroup
	for i, t := range o.order {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			results[i] = o.checkProvider(ctx, p)
		}(i, o.providers[t])
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) checkProvider(ctx context.Context, p Provider) ProviderHealth {
	t := p.Type()
	h := ProviderHealth{Provider: t, CheckedAt: o.now()}

	res := p.HealthCheck(ctx)
	circuitClosed := o.IsProviderHealthy(t)

	o.mu.Lock()
	st := *o.states[t]
	o.mu.Unlock()

	h.CircuitOpen = !circuitClosed
	if res == nil || !res.Healthy {
		h.Healthy = false
		h.ErrorRate = 1
		if res != nil {
			h.LatencyMs = res.LatencyMs
			h.Message = res.Message
		} else {
			h.Message = "health check returned no result"
		}
		return h
	}

	h.Healthy = true
	h.LatencyMs = res.LatencyMs
	h.Message = res.Message
	if st.totalRequests > 0 {
		h.ErrorRate = float64(st.totalFailures) / float64(st.totalRequests)
	}
	return h
}

// GetMetrics returns a snapshot of every provider's totals.
func (o *Orchestrator) GetMetrics() []ProviderMetrics {
	cfg := o.config.Load()
	out := make([]ProviderMetrics, 0, len(o.order))

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, t := range o.order {
		st := o.states[t]
		m := ProviderMetrics{
			Provider:            t,
			TotalRequests:       st.totalRequests,
			TotalFailures:       st.totalFailures,
			ConsecutiveFailures: st.consecutiveFailures,
			TotalLatencyMs:      st.totalLatencyMs,
			TotalCostMills:      st.totalCostMills,
			Healthy:             st.consecutiveFailures < cfg.FailoverThreshold,
		}
		if !st.lastFailureAt.IsZero() {
			m.LastFailureAtMs = st.lastFailureAt.UnixMilli()
		}
		if successes := st.totalRequests - st.totalFailures; successes > 0 {
			m.AvgLatencyMs = float64(st.totalLatencyMs) / float64(successes)
		}
		if st.totalRequests > 0 {
			m.ErrorRatePercent = float64(st.totalFailures) / float64(st.totalRequests) * 100
		}
		out = append(out, m)
	}
	return out
}

// GetConfig returns a copy of the current config.
func (o *Orchestrator) GetConfig() Config {
	return *o.config.Load()
}

// UpdateConfig merges the supplied fields into the current config and publishes the result.
func (o *Orchestrator) UpdateConfig(u ConfigUpdate) (Config, error) {
	for {
		cur := o.config.Load()
		next := u.Apply(*cur)
		if err := next.Validate(); err != nil {
			return *cur, err
		}
		if o.config.CompareAndSwap(cur, &next) {
			o.log.Info("", "orchestrator config updated", map[string]interface{}{
				"primary":  string(next.PrimaryProvider),
				"fallback": string(next.FallbackProvider),
			})
			return next, nil
		}
	}
}

// ReplaceConfig publishes c as the new config.
func (o *Orchestrator) ReplaceConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	o.config.Store(&c)
	return nil
}

// GetAvailableProviders returns the registered providers in registration order.
func (o *Orchestrator) GetAvailableProviders() []ProviderType {
	out := make([]ProviderType, len(o.order))
	copy(out, o.order)
	return out
}
