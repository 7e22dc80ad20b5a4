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

package usage

import (
	"context"
	"database/sql"
	"fmt"

	"cvforge/platform/orchestrator/llm"
	"cvforge/platform/shared/logger"
)

// Schema creates the ledger table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS ai_usage_events (
	id                BIGSERIAL PRIMARY KEY,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	instance_id       TEXT NOT NULL,
	user_id           TEXT,
	document_id       TEXT,
	tool_type         TEXT,
	correlation_id    TEXT,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens      INTEGER NOT NULL,
	cost_mills        BIGINT NOT NULL,
	latency_ms        BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ai_usage_events_user_created ON ai_usage_events (user_id, created_at);
`

const insertCompletion = `
	INSERT INTO ai_usage_events (
		instance_id, user_id, document_id, tool_type, correlation_id,
		provider, model, prompt_tokens, completion_tokens, total_tokens,
		cost_mills, latency_ms
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// Recorder writes one ledger row per successful completion.
type Recorder struct {
	db         *sql.DB
	instanceID string
	log        *logger.Logger
}

var _ llm.UsageSink = (*Recorder)(nil)

// NewRecorder creates a recorder. instanceID identifies the writing process.
func NewRecorder(db *sql.DB, instanceID string, log *logger.Logger) *Recorder {
	return &Recorder{db: db, instanceID: instanceID, log: log}
}

// EnsureSchema applies Schema.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create ai_usage_events: %w", err)
	}
	return nil
}

// RecordCompletion implements llm.UsageSink.
func (r *Recorder) RecordCompletion(ctx context.Context, req llm.CompletionRequest, resp *llm.CompletionResponse) error {
	if resp == nil {
		return nil
	}
	md := req.Metadata

	_, err := r.db.ExecContext(ctx, insertCompletion,
		r.instanceID, nullString(md.UserID), nullString(md.DocumentID),
		nullString(md.ToolType), nullString(md.CorrelationID),
		string(resp.Provider), resp.Model,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens,
		resp.CostMills, resp.LatencyMs)
	if err != nil {
		r.log.Error(md.CorrelationID, "Failed to record AI usage", map[string]interface{}{
			"provider": resp.Provider,
			"error":    err.Error(),
		})
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
