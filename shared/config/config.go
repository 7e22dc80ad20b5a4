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

package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the static process configuration of the AI core.
type Config struct {
	Port        string `yaml:"port"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
	PromptsFile string `yaml:"prompts_file"`

	Orchestrator OrchestratorSettings `yaml:"orchestrator"`
	Providers    []ProviderSettings   `yaml:"providers"`
	Workers      WorkerSettings       `yaml:"workers"`
	PDF          PDFSettings          `yaml:"pdf"`
	Webhook      WebhookSettings      `yaml:"webhook"`
}

// OrchestratorSettings seeds the orchestrator's runtime config at startup.
type OrchestratorSettings struct {
	PrimaryProvider         string  `yaml:"primary_provider"`
	FallbackProvider        string  `yaml:"fallback_provider"`
	EconomyProvider         string  `yaml:"economy_provider"`
	FailoverThreshold       int     `yaml:"failover_threshold"`
	FailoverCooldownMs      int64   `yaml:"failover_cooldown_ms"`
	ABTestingEnabled        bool    `yaml:"ab_testing_enabled"`
	ABTestSplitRatio        float64 `yaml:"ab_test_split_ratio"`
	CostOptimizationEnabled bool    `yaml:"cost_optimization_enabled"`
	MaxCostPerRequestMills  int64   `yaml:"max_cost_per_request_mills"`
}

// ProviderSettings configures one provider variant. Type selects the variant.
type ProviderSettings struct {
	Type            string `yaml:"type"`
	APIKey          string `yaml:"api_key"`
	APIKeySecretARN string `yaml:"api_key_secret_arn"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	Region          string `yaml:"region"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// PoolSettings bounds one worker pool.
type PoolSettings struct {
	Concurrency       int `yaml:"concurrency"`
	RateLimit         int `yaml:"rate_limit"`
	RateWindowSeconds int `yaml:"rate_window_seconds"`
}

// WorkerSettings configures the three job pools.
type WorkerSettings struct {
	Enabled          bool         `yaml:"enabled"`
	RateLimitBackend string       `yaml:"rate_limit_backend"`
	AI               PoolSettings `yaml:"ai"`
	PDF              PoolSettings `yaml:"pdf"`
	Webhook          PoolSettings `yaml:"webhook"`
}

// PDFSettings configures rendering and the optional S3 sink.
type PDFSettings struct {
	ChromePath     string `yaml:"chrome_path"`
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	RenderTimeoutS int    `yaml:"render_timeout_seconds"`
}

// WebhookSettings configures outbound delivery.
type WebhookSettings struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     "8085",
		RedisURL: "redis://localhost:6379/0",
		LogLevel: "INFO",
		Orchestrator: OrchestratorSettings{
			PrimaryProvider:    "openai",
			FallbackProvider:   "anthropic",
			EconomyProvider:    "bedrock",
			FailoverThreshold:  3,
			FailoverCooldownMs: 60000,
			ABTestSplitRatio:   0.5,
		},
		Workers: WorkerSettings{
			Enabled:          true,
			RateLimitBackend: "memory",
			AI:               PoolSettings{Concurrency: 5, RateLimit: 20, RateWindowSeconds: 60},
			PDF:              PoolSettings{Concurrency: 3, RateLimit: 10, RateWindowSeconds: 60},
			Webhook:          PoolSettings{Concurrency: 10, RateLimit: 50, RateWindowSeconds: 60},
		},
		PDF:     PDFSettings{RenderTimeoutS: 60},
		Webhook: WebhookSettings{TimeoutSeconds: 10, UserAgent: "cvforge-webhooks/1.0"},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// AICORE_CONFIG_FILE, and environment overrides, then resolves provider keys
// held in AWS Secrets Manager.
func Load(ctx context.Context) (*Config, error) {
	cfg := Default()

	if path := os.Getenv("AICORE_CONFIG_FILE"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if needsSecrets(cfg) {
		sm, err := NewAWSSecretsManager(ctx, AWSSecretsManagerOptions{Region: os.Getenv("AWS_REGION")})
		if err != nil {
			return nil, err
		}
		if err := ResolveProviderSecrets(ctx, cfg, sm); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. Provider entries come from
// <TYPE>_API_KEY / <TYPE>_API_KEY_SECRET_ARN / <TYPE>_MODEL / <TYPE>_BASE_URL.
func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.PromptsFile = getEnv("PROMPTS_FILE", cfg.PromptsFile)

	o := &cfg.Orchestrator
	o.PrimaryProvider = getEnv("AI_PRIMARY_PROVIDER", o.PrimaryProvider)
	o.FallbackProvider = getEnv("AI_FALLBACK_PROVIDER", o.FallbackProvider)
	o.EconomyProvider = getEnv("AI_ECONOMY_PROVIDER", o.EconomyProvider)
	o.FailoverThreshold = getEnvInt("AI_FAILOVER_THRESHOLD", o.FailoverThreshold)
	o.FailoverCooldownMs = int64(getEnvInt("AI_FAILOVER_COOLDOWN_MS", int(o.FailoverCooldownMs)))
	o.ABTestingEnabled = getEnvBool("AI_AB_TESTING_ENABLED", o.ABTestingEnabled)
	o.ABTestSplitRatio = getEnvFloat("AI_AB_TEST_SPLIT_RATIO", o.ABTestSplitRatio)
	o.CostOptimizationEnabled = getEnvBool("AI_COST_OPTIMIZATION_ENABLED", o.CostOptimizationEnabled)
	o.MaxCostPerRequestMills = int64(getEnvInt("AI_MAX_COST_PER_REQUEST_MILLS", int(o.MaxCostPerRequestMills)))

	for _, typ := range []string{"openai", "anthropic", "bedrock"} {
		prefix := strings.ToUpper(typ)
		key := os.Getenv(prefix + "_API_KEY")
		arn := os.Getenv(prefix + "_API_KEY_SECRET_ARN")
		region := os.Getenv(prefix + "_REGION")
		if key == "" && arn == "" && region == "" {
			continue
		}
		p := providerEntry(cfg, typ)
		if key != "" {
			p.APIKey = key
		}
		if arn != "" {
			p.APIKeySecretARN = arn
		}
		if region != "" {
			p.Region = region
		}
		p.Model = getEnv(prefix+"_MODEL", p.Model)
		p.BaseURL = getEnv(prefix+"_BASE_URL", p.BaseURL)
		p.TimeoutSeconds = getEnvInt(prefix+"_TIMEOUT_SECONDS", p.TimeoutSeconds)
	}

	w := &cfg.Workers
	w.Enabled = getEnvBool("WORKERS_ENABLED", w.Enabled)
	w.RateLimitBackend = getEnv("RATE_LIMIT_BACKEND", w.RateLimitBackend)
	w.AI.Concurrency = getEnvInt("AI_WORKER_CONCURRENCY", w.AI.Concurrency)
	w.AI.RateLimit = getEnvInt("AI_WORKER_RATE_LIMIT", w.AI.RateLimit)
	w.PDF.Concurrency = getEnvInt("PDF_WORKER_CONCURRENCY", w.PDF.Concurrency)
	w.PDF.RateLimit = getEnvInt("PDF_WORKER_RATE_LIMIT", w.PDF.RateLimit)
	w.Webhook.Concurrency = getEnvInt("WEBHOOK_WORKER_CONCURRENCY", w.Webhook.Concurrency)
	w.Webhook.RateLimit = getEnvInt("WEBHOOK_WORKER_RATE_LIMIT", w.Webhook.RateLimit)

	cfg.PDF.ChromePath = getEnv("CHROME_PATH", cfg.PDF.ChromePath)
	cfg.PDF.Bucket = getEnv("PDF_S3_BUCKET", cfg.PDF.Bucket)
	cfg.PDF.Region = getEnv("PDF_S3_REGION", cfg.PDF.Region)
	cfg.PDF.Endpoint = getEnv("PDF_S3_ENDPOINT", cfg.PDF.Endpoint)

	cfg.Webhook.TimeoutSeconds = getEnvInt("WEBHOOK_TIMEOUT_SECONDS", cfg.Webhook.TimeoutSeconds)
}

// providerEntry returns the entry for typ, appending one when absent.
func providerEntry(cfg *Config, typ string) *ProviderSettings {
	for i := range cfg.Providers {
		if strings.EqualFold(cfg.Providers[i].Type, typ) {
			return &cfg.Providers[i]
		}
	}
	cfg.Providers = append(cfg.Providers, ProviderSettings{Type: typ})
	return &cfg.Providers[len(cfg.Providers)-1]
}

func needsSecrets(cfg *Config) bool {
	for _, p := range cfg.Providers {
		if p.APIKey == "" && p.APIKeySecretARN != "" {
			return true
		}
	}
	return false
}

// Validate checks ranges that would make the orchestrator or pools misbehave.
func (c *Config) Validate() error {
	o := c.Orchestrator
	if o.PrimaryProvider == "" {
		return fmt.Errorf("orchestrator.primary_provider is required")
	}
	if o.FailoverThreshold < 1 {
		return fmt.Errorf("orchestrator.failover_threshold must be >= 1, got %d", o.FailoverThreshold)
	}
	if o.ABTestSplitRatio < 0 || o.ABTestSplitRatio > 1 {
		return fmt.Errorf("orchestrator.ab_test_split_ratio must be within [0,1], got %v", o.ABTestSplitRatio)
	}
	for name, p := range map[string]PoolSettings{"ai": c.Workers.AI, "pdf": c.Workers.PDF, "webhook": c.Workers.Webhook} {
		if p.Concurrency < 1 || p.RateLimit < 1 {
			return fmt.Errorf("workers.%s: concurrency and rate_limit must be >= 1", name)
		}
	}
	switch c.Workers.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("workers.rate_limit_backend must be memory or redis, got %q", c.Workers.RateLimitBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
