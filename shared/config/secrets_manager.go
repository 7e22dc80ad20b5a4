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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretResolver returns the key/value content of a secret.
type SecretResolver interface {
	GetSecret(ctx context.Context, secretARN string) (map[string]string, error)
}

// AWSSecretsManager resolves secrets from AWS Secrets Manager with a TTL cache.
type AWSSecretsManager struct {
	client SecretsAPI
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
	Client   SecretsAPI
}

// NewAWSSecretsManager creates a Secrets Manager resolver. When opts.Client is
// nil the default AWS credential chain is used.
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}

	client := opts.Client
	if client == nil {
		cfgOpts := []func(*awsconfig.LoadOptions) error{}
		if opts.Region != "" {
			cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = secretsmanager.NewFromConfig(cfg)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// GetSecret returns the secret as a map. A plain-string secret is returned under "value".
func (s *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretARN]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Printf("Fetching secret %s", maskARN(secretARN))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		values = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[secretARN] = &secretCacheEntry{value: values, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return values, nil
}

// ResolveProviderSecrets fills APIKey for providers that only name a secret.
// The key is read from "api_key", then "value".
func ResolveProviderSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" || p.APIKeySecretARN == "" {
			continue
		}
		values, err := resolver.GetSecret(ctx, p.APIKeySecretARN)
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.Type, err)
		}
		key := values["api_key"]
		if key == "" {
			key = values["value"]
		}
		if key == "" {
			return fmt.Errorf("provider %s: secret %s has no api_key", p.Type, maskARN(p.APIKeySecretARN))
		}
		p.APIKey = key
	}
	return nil
}

// maskARN keeps the service prefix and the last segment readable.
func maskARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		if len(arn) > 8 {
			return arn[:4] + "****"
		}
		return "****"
	}
	return strings.Join(parts[:3], ":") + ":****:" + parts[len(parts)-1]
}
