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
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Workers.AI.Concurrency)
	assert.Equal(t, 20, cfg.Workers.AI.RateLimit)
	assert.Equal(t, 3, cfg.Workers.PDF.Concurrency)
	assert.Equal(t, 10, cfg.Workers.PDF.RateLimit)
	assert.Equal(t, 10, cfg.Workers.Webhook.Concurrency)
	assert.Equal(t, 50, cfg.Workers.Webhook.RateLimit)
	assert.Equal(t, "memory", cfg.Workers.RateLimitBackend)
}

func TestLoad_EnvOverrides(t *testing.T) {
	for _, p := range []string{"OPENAI", "ANTHROPIC", "BEDROCK"} {
		t.Setenv(p+"_API_KEY", "")
		t.Setenv(p+"_API_KEY_SECRET_ARN", "")
		t.Setenv(p+"_REGION", "")
	}
	t.Setenv("AICORE_CONFIG_FILE", "")
	t.Setenv("PORT", "9000")
	t.Setenv("AI_PRIMARY_PROVIDER", "anthropic")
	t.Setenv("AI_AB_TESTING_ENABLED", "true")
	t.Setenv("AI_AB_TEST_SPLIT_RATIO", "0.9")
	t.Setenv("AI_FAILOVER_THRESHOLD", "5")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("AI_WORKER_CONCURRENCY", "7")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "anthropic", cfg.Orchestrator.PrimaryProvider)
	assert.True(t, cfg.Orchestrator.ABTestingEnabled)
	assert.InDelta(t, 0.9, cfg.Orchestrator.ABTestSplitRatio, 1e-9)
	assert.Equal(t, 5, cfg.Orchestrator.FailoverThreshold)
	assert.Equal(t, 7, cfg.Workers.AI.Concurrency)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "openai", cfg.Providers[0].Type)
	assert.Equal(t, "sk-test", cfg.Providers[0].APIKey)
	assert.Equal(t, "gpt-4o", cfg.Providers[0].Model)
}

func TestLoadFile_MergesYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "ak-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "aicore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
orchestrator:
  primary_provider: anthropic
  fallback_provider: openai
  failover_threshold: 2
  failover_cooldown_ms: 1000
providers:
  - type: anthropic
    api_key: ${TEST_ANTHROPIC_KEY}
    model: ${TEST_ANTHROPIC_MODEL:-claude-haiku-4-5}
workers:
  rate_limit_backend: redis
`), 0o600))

	cfg := Default()
	require.NoError(t, LoadFile(path, cfg))

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "anthropic", cfg.Orchestrator.PrimaryProvider)
	assert.Equal(t, 2, cfg.Orchestrator.FailoverThreshold)
	assert.Equal(t, "redis", cfg.Workers.RateLimitBackend)
	assert.Equal(t, 5, cfg.Workers.AI.Concurrency, "unset fields keep defaults")
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "ak-123", cfg.Providers[0].APIKey)
	assert.Equal(t, "claude-haiku-4-5", cfg.Providers[0].Model)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Default())
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unterminated"), 0o600))
	err = LoadFile(path, Default())
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing primary", func(c *Config) { c.Orchestrator.PrimaryProvider = "" }, "primary_provider"},
		{"zero threshold", func(c *Config) { c.Orchestrator.FailoverThreshold = 0 }, "failover_threshold"},
		{"ratio above one", func(c *Config) { c.Orchestrator.ABTestSplitRatio = 1.5 }, "ab_test_split_ratio"},
		{"zero concurrency", func(c *Config) { c.Workers.PDF.Concurrency = 0 }, "workers.pdf"},
		{"unknown backend", func(c *Config) { c.Workers.RateLimitBackend = "etcd" }, "rate_limit_backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

type mockSecretsAPI struct {
	mock.Mock
}

func (m *mockSecretsAPI) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(params.SecretId))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*secretsmanager.GetSecretValueOutput), args.Error(1)
}

func newTestSecretsManager(t *testing.T, api SecretsAPI) *AWSSecretsManager {
	t.Helper()
	sm, err := NewAWSSecretsManager(context.Background(), AWSSecretsManagerOptions{
		Client: api,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	return sm
}

func TestAWSSecretsManager_ParsesAndCaches(t *testing.T) {
	api := &mockSecretsAPI{}
	arn := "arn:aws:secretsmanager:us-east-1:123456789012:secret:openai"
	api.On("GetSecretValue", mock.Anything, arn).
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"api_key":"sk-secret"}`)}, nil).
		Once()

	sm := newTestSecretsManager(t, api)

	for i := 0; i < 2; i++ {
		values, err := sm.GetSecret(context.Background(), arn)
		require.NoError(t, err)
		assert.Equal(t, "sk-secret", values["api_key"])
	}
	api.AssertNumberOfCalls(t, "GetSecretValue", 1)
}

func TestAWSSecretsManager_PlainStringSecret(t *testing.T) {
	api := &mockSecretsAPI{}
	api.On("GetSecretValue", mock.Anything, "plain").
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String("sk-plain")}, nil)

	values, err := newTestSecretsManager(t, api).GetSecret(context.Background(), "plain")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", values["value"])
}

func TestResolveProviderSecrets(t *testing.T) {
	api := &mockSecretsAPI{}
	api.On("GetSecretValue", mock.Anything, "arn-anthropic").
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String("ak-from-secret")}, nil)
	api.On("GetSecretValue", mock.Anything, "arn-broken").
		Return(nil, errors.New("access denied"))

	sm := newTestSecretsManager(t, api)

	cfg := Default()
	cfg.Providers = []ProviderSettings{
		{Type: "openai", APIKey: "sk-inline", APIKeySecretARN: "ignored"},
		{Type: "anthropic", APIKeySecretARN: "arn-anthropic"},
	}
	require.NoError(t, ResolveProviderSecrets(context.Background(), cfg, sm))
	assert.Equal(t, "sk-inline", cfg.Providers[0].APIKey)
	assert.Equal(t, "ak-from-secret", cfg.Providers[1].APIKey)

	cfg.Providers = []ProviderSettings{{Type: "bedrock", APIKeySecretARN: "arn-broken"}}
	err := ResolveProviderSecrets(context.Background(), cfg, sm)
	assert.ErrorContains(t, err, "provider bedrock")
}

func TestMaskARN(t *testing.T) {
	assert.Equal(t, "arn:aws:secretsmanager:****:openai",
		maskARN("arn:aws:secretsmanager:us-east-1:123456789012:secret:openai"))
	assert.Equal(t, "shor****", maskARN("short-secret"))
	assert.Equal(t, "****", maskARN("tiny"))
}
