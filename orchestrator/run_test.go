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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/platform/orchestrator/llm"
	"cvforge/platform/queue"
	"cvforge/platform/shared/config"
	"cvforge/platform/shared/logger"
	"cvforge/platform/shared/ratelimit"
)

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := connectRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = connectRedis(context.Background(), "not-a-url")
	assert.ErrorContains(t, err, "failed to parse Redis URL")
}

func TestNewLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	pool := config.PoolSettings{RateLimit: 2}

	mem := newLimiter("memory", client, queue.QueueAI, pool, logger.Nop())
	assert.IsType(t, &ratelimit.SlidingWindow{}, mem)

	shared := newLimiter("redis", client, queue.QueuePDF, pool, logger.Nop())
	assert.IsType(t, &ratelimit.RedisSlidingWindow{}, shared)
}

func TestInstanceID(t *testing.T) {
	log := logger.Nop()
	log.InstanceID = "pod-7"
	assert.Equal(t, "pod-7", instanceID(log))

	log.InstanceID = ""
	assert.Len(t, instanceID(log), 36)
}

func TestPromMetrics(t *testing.T) {
	m := promMetrics{}

	before := testutil.ToFloat64(promLLMCalls.WithLabelValues("anthropic", "success"))
	m.ObserveCompletion(llm.ProviderTypeAnthropic, true, 420, 12)
	m.ObserveCompletion(llm.ProviderTypeAnthropic, false, 30, 0)
	assert.Equal(t, before+1, testutil.ToFloat64(promLLMCalls.WithLabelValues("anthropic", "success")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(promLLMCalls.WithLabelValues("anthropic", "error")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(promLLMCost.WithLabelValues("anthropic")), 12.0)

	budget := testutil.ToFloat64(promBudgetExceeded.WithLabelValues("bedrock"))
	m.ObserveBudgetExceeded(llm.ProviderTypeBedrock)
	assert.Equal(t, budget+1, testutil.ToFloat64(promBudgetExceeded.WithLabelValues("bedrock")))

	retried := testutil.ToFloat64(promJobs.WithLabelValues(queue.QueuePDF, queue.OutcomeRetried))
	m.ObserveJob(queue.QueuePDF, queue.OutcomeRetried, 2*time.Second)
	assert.Equal(t, retried+1, testutil.ToFloat64(promJobs.WithLabelValues(queue.QueuePDF, queue.OutcomeRetried)))
}

func TestUpdateQueueGauges(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	manager := queue.NewManager(queue.NewRedisBroker(client), queue.WithManagerLogger(logger.Nop()))

	ctx := context.Background()
	for _, doc := range []string{"a", "b", "c"} {
		_, err := manager.EnqueuePDFJob(ctx, queue.PDFJobData{HTML: "<p/>", DocumentID: doc})
		require.NoError(t, err)
	}

	updateQueueGauges(ctx, manager)
	assert.Equal(t, 3.0, testutil.ToFloat64(promQueueJobs.WithLabelValues(queue.QueuePDF, "waiting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(promQueueJobs.WithLabelValues(queue.QueueWebhook, "waiting")))
}
