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
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cvforge/platform/queue"
	"cvforge/platform/shared/logger"
)

const (
	// DefaultWebhookTimeout bounds one delivery attempt.
	DefaultWebhookTimeout = 10 * time.Second

	// DefaultUserAgent is sent when none is configured.
	DefaultUserAgent = "cvforge-webhooks/1.0"

	// SignatureHeader carries "sha256=<hex>" when the subscription has a secret.
	SignatureHeader = "X-Webhook-Signature"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// HTTPClient is the subset of *http.Client used for delivery.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookDeliveryError is a failed delivery attempt: a transport error, a
// timeout or a non-2xx response.
type WebhookDeliveryError struct {
	URL        string
	StatusCode int
	Body       string
	Cause      error
}

// Error implements the error interface.
func (e *WebhookDeliveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("webhook delivery to %s failed: %v", e.URL, e.Cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("webhook delivery to %s failed: status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("webhook delivery to %s failed: status %d", e.URL, e.StatusCode)
}

// Unwrap returns the transport cause, if any.
func (e *WebhookDeliveryError) Unwrap() error {
	return e.Cause
}

// WebhookResult is stored as the result of a delivered webhook.
type WebhookResult struct {
	StatusCode    int   `json:"statusCode"`
	DurationMs    int64 `json:"durationMs"`
	DeliveredAtMs int64 `json:"deliveredAt"`
}

// WebhookOptions configures a WebhookProcessor.
type WebhookOptions struct {
	Client    HTTPClient
	Timeout   time.Duration
	UserAgent string
	Logger    *logger.Logger
	Now       func() time.Time
}

// WebhookProcessor delivers signed event notifications.
type WebhookProcessor struct {
	opts WebhookOptions
}

var _ queue.Processor[queue.WebhookJobData] = (*WebhookProcessor)(nil)

// NewWebhookProcessor creates a WebhookProcessor.
func NewWebhookProcessor(opts WebhookOptions) *WebhookProcessor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWebhookTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &WebhookProcessor{opts: opts}
}

type webhookEnvelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Process implements queue.Processor.
func (p *WebhookProcessor) Process(ctx context.Context, task *queue.Task[queue.WebhookJobData]) (any, error) {
	job, data := task.Job, task.Data
	now := p.opts.Now()

	payload := data.Data
	if len(payload) == 0 {
		payload = nil
	}
	body, err := json.Marshal(webhookEnvelope{
		Event:     data.Event,
		Timestamp: now.UTC().Format(timestampLayout),
		Data:      payload,
	})
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("encode webhook body: %w", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, data.URL, bytes.NewReader(body))
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("X-Webhook-Event", data.Event)
	req.Header.Set("X-Webhook-Delivery", job.ID)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if data.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(data.Secret, body))
	}

	start := time.Now()
	resp, err := p.opts.Client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, &WebhookDeliveryError{URL: data.URL, Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &WebhookDeliveryError{
			URL:        data.URL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	result := WebhookResult{
		StatusCode:    resp.StatusCode,
		DurationMs:    duration.Milliseconds(),
		DeliveredAtMs: p.opts.Now().UnixMilli(),
	}
	p.opts.Logger.JobInfo(job.ID, job.CorrelationID, "Webhook delivered", map[string]interface{}{
		"event":       data.Event,
		"status":      resp.StatusCode,
		"duration_ms": result.DurationMs,
		"attempt":     job.AttemptsMade + 1,
	})
	return result, nil
}
