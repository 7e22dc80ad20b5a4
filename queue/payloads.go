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

package queue

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// AIJobData is the payload of an AI completion job.
type AIJobData struct {
	TemplateKey string         `json:"templateKey"`
	Variables   map[string]any `json:"variables,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	DocumentID  string         `json:"documentId,omitempty"`
	ToolType    string         `json:"toolType,omitempty"`
	Model       string         `json:"model,omitempty"`

	// CorrelationID is filled from the job at processing time.
	CorrelationID string `json:"correlationId,omitempty"`
}

// Validate checks required fields.
func (d AIJobData) Validate() error {
	if strings.TrimSpace(d.TemplateKey) == "" {
		return fmt.Errorf("%w: templateKey is required", ErrInvalidJob)
	}
	return nil
}

// AIJobRequest is one entry of EnqueueAIJobBulk.
type AIJobRequest struct {
	Data          AIJobData `json:"data"`
	Priority      int       `json:"priority,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// PDFJobData is the payload of a PDF render job.
type PDFJobData struct {
	HTML       string `json:"html"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId,omitempty"`
	FileName   string `json:"fileName,omitempty"`
}

// Validate checks required fields.
func (d PDFJobData) Validate() error {
	if strings.TrimSpace(d.HTML) == "" {
		return fmt.Errorf("%w: html is required", ErrInvalidJob)
	}
	if d.DocumentID == "" {
		return fmt.Errorf("%w: documentId is required", ErrInvalidJob)
	}
	return nil
}

// WebhookJobData is the payload of a webhook delivery job.
type WebhookJobData struct {
	URL    string          `json:"url"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Secret string          `json:"secret,omitempty"`

	// RetryCount overrides the webhook queue's max attempts when > 0.
	RetryCount int `json:"retryCount,omitempty"`
}

// Validate checks required fields.
func (d WebhookJobData) Validate() error {
	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidJob)
	}
	if d.Event == "" {
		return fmt.Errorf("%w: event is required", ErrInvalidJob)
	}
	if d.RetryCount < 0 {
		return fmt.Errorf("%w: retryCount must be >= 0", ErrInvalidJob)
	}
	return nil
}
