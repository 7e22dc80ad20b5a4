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
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/platform/shared/logger"
)

func newTestManager(t *testing.T) (*Manager, *RedisBroker) {
	t.Helper()
	b, _ := newTestBroker(t, nil)
	return NewManager(b, WithManagerLogger(logger.Nop())), b
}

func TestManager_EnqueueAIJob(t *testing.T) {
	m, b := newTestManager(t)
	ctx := context.Background()

	data := AIJobData{
		TemplateKey: "summary_generation",
		Variables:   map[string]any{"targetRole": "SRE"},
		UserID:      "u1",
		DocumentID:  "d1",
	}
	id, err := m.EnqueueAIJob(ctx, data, 2, "corr-42")
	require.NoError(t, err)
	assert.Equal(t, "corr-42", id)

	again, err := m.EnqueueAIJob(ctx, data, 2, "corr-42")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	counts, err := m.GetQueueMetrics(ctx, QueueAI)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)

	job, err := b.Get(ctx, QueueAI, id)
	require.NoError(t, err)
	assert.Equal(t, JobTypeAI, job.Type)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, BackoffExponential, job.Backoff.Kind)

	var decoded AIJobData
	require.NoError(t, json.Unmarshal(job.Payload, &decoded))
	assert.Equal(t, "summary_generation", decoded.TemplateKey)
	assert.Equal(t, "SRE", decoded.Variables["targetRole"])
}

func TestManager_EnqueueAIJobValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.EnqueueAIJob(ctx, AIJobData{}, 0, "")
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = m.EnqueueAIJob(ctx, AIJobData{TemplateKey: "x"}, MaxPriority+1, "")
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestManager_EnqueueAIJobBulk(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ids, err := m.EnqueueAIJobBulk(ctx, []AIJobRequest{
		{Data: AIJobData{TemplateKey: "ats_analysis"}, CorrelationID: "c1"},
		{Data: AIJobData{TemplateKey: "job_match"}, Priority: 1},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "c1", ids[0])

	_, err = m.EnqueueAIJobBulk(ctx, []AIJobRequest{
		{Data: AIJobData{TemplateKey: "ok"}},
		{Data: AIJobData{}},
	})
	assert.ErrorIs(t, err, ErrInvalidJob)

	counts, _ := m.GetQueueMetrics(ctx, QueueAI)
	assert.Equal(t, int64(2), counts.Waiting, "an invalid batch enqueues nothing")
}

func TestManager_EnqueuePDFJob(t *testing.T) {
	m, b := newTestManager(t)
	ctx := context.Background()

	_, err := m.EnqueuePDFJob(ctx, PDFJobData{DocumentID: "d1"})
	assert.ErrorIs(t, err, ErrInvalidJob)

	id, err := m.EnqueuePDFJob(ctx, PDFJobData{HTML: "<h1>CV</h1>", DocumentID: "d1"})
	require.NoError(t, err)

	job, err := b.Get(ctx, QueuePDF, id)
	require.NoError(t, err)
	assert.Equal(t, 2, job.MaxAttempts)
	assert.Equal(t, BackoffFixed, job.Backoff.Kind)
}

func TestManager_EnqueueWebhookRetryCountOverride(t *testing.T) {
	m, b := newTestManager(t)
	ctx := context.Background()

	id, err := m.EnqueueWebhook(ctx, WebhookJobData{URL: "https://hooks.example.com/x", Event: "resume.exported"})
	require.NoError(t, err)
	job, _ := b.Get(ctx, QueueWebhook, id)
	assert.Equal(t, 5, job.MaxAttempts)

	id, err = m.EnqueueWebhook(ctx, WebhookJobData{URL: "https://hooks.example.com/x", Event: "resume.exported", RetryCount: 2})
	require.NoError(t, err)
	job, _ = b.Get(ctx, QueueWebhook, id)
	assert.Equal(t, 2, job.MaxAttempts)

	_, err = m.EnqueueWebhook(ctx, WebhookJobData{URL: "ftp://x", Event: "e"})
	assert.ErrorIs(t, err, ErrInvalidJob)
	_, err = m.EnqueueWebhook(ctx, WebhookJobData{URL: "https://x.io"})
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestManager_GetJobStatus(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.EnqueuePDFJob(ctx, PDFJobData{HTML: "<p/>", DocumentID: "d"})
	require.NoError(t, err)

	status, err := m.GetJobStatus(ctx, QueuePDF, id)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, StateWaiting, status.State)
	assert.Equal(t, 0, status.Progress)
	assert.NotZero(t, status.EnqueuedAtMs)

	status, err = m.GetJobStatus(ctx, QueuePDF, "nope")
	require.NoError(t, err)
	assert.Nil(t, status)

	_, err = m.GetJobStatus(ctx, "email", id)
	assert.ErrorIs(t, err, ErrUnknownQueue)
	_, err = m.GetQueueMetrics(ctx, "email")
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

// flakyCounts fails Counts for one queue.
type flakyCounts struct {
	Broker
	failQueue string
}

func (f flakyCounts) Counts(ctx context.Context, queue string) (Counts, error) {
	if queue == f.failQueue {
		return Counts{}, errors.New("connection reset")
	}
	return f.Broker.Counts(ctx, queue)
}

func TestManager_GetAllQueueMetrics(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	m := NewManager(flakyCounts{Broker: b, failQueue: QueuePDF})
	ctx := context.Background()

	_, err := m.EnqueueAIJob(ctx, AIJobData{TemplateKey: "x"}, 0, "")
	require.NoError(t, err)

	all := m.GetAllQueueMetrics(ctx)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[QueueAI].Waiting)
	assert.Empty(t, all[QueueAI].Error)
	assert.Equal(t, "connection reset", all[QueuePDF].Error)
	assert.Equal(t, Counts{}, all[QueuePDF].Counts)
	assert.Empty(t, all[QueueWebhook].Error)
}

func TestManager_WithPolicy(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	custom := Policy{Attempts: 7, Backoff: Backoff{Kind: BackoffFixed}}
	m := NewManager(b, WithPolicy(QueueAI, custom))

	p, ok := m.Policy(QueueAI)
	assert.True(t, ok)
	assert.Equal(t, custom, p)
	assert.Equal(t, 3, DefaultPolicies[QueueAI].Attempts, "defaults are not modified")
}
