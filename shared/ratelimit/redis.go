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

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"cvforge/platform/shared/logger"
)

// RedisSlidingWindow is a rolling window limiter whose state lives in a Redis
// sorted set, so every process sharing the key shares the ceiling.
type RedisSlidingWindow struct {
	client      redis.UniversalClient
	key         string
	windowSize  time.Duration
	maxRequests int
	log         *logger.Logger

	seq   atomic.Uint64
	now   func() time.Time
	retry time.Duration
}

// NewRedisSlidingWindow creates a shared limiter stored under "ratelimit:<name>".
func NewRedisSlidingWindow(client redis.UniversalClient, name string, windowSize time.Duration, maxRequests int, log *logger.Logger) *RedisSlidingWindow {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisSlidingWindow{
		client:      client,
		key:         fmt.Sprintf("ratelimit:%s", name),
		windowSize:  windowSize,
		maxRequests: maxRequests,
		log:         log,
		now:         time.Now,
		retry:       250 * time.Millisecond,
	}
}

// Wait blocks until the shared window admits one more execution.
// Redis errors fail open.
func (r *RedisSlidingWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, wait, err := r.tryAcquire(ctx)
		if err != nil {
			r.log.Warn("", "redis rate limit check failed, failing open", map[string]interface{}{
				"key":   r.key,
				"error": err.Error(),
			})
			return nil
		}
		if allowed {
			return nil
		}
		if wait <= 0 {
			wait = r.retry
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire adds a member, counts the window, and rolls the member back when over the limit.
func (r *RedisSlidingWindow) tryAcquire(ctx context.Context) (bool, time.Duration, error) {
	now := r.now()
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), r.seq.Add(1))
	minScore := strconv.FormatInt(now.Add(-r.windowSize).UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, r.key, "-inf", "("+minScore)
	pipe.ZAdd(ctx, r.key, &redis.Z{Score: float64(nowMs), Member: member})
	card := pipe.ZCard(ctx, r.key)
	pipe.Expire(ctx, r.key, 2*r.windowSize)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if card.Val() <= int64(r.maxRequests) {
		return true, 0, nil
	}

	if err := r.client.ZRem(ctx, r.key, member).Err(); err != nil {
		return false, 0, err
	}

	oldest, err := r.client.ZRangeWithScores(ctx, r.key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return false, r.retry, err
	}
	expiresAt := time.UnixMilli(int64(oldest[0].Score)).Add(r.windowSize)
	return false, expiresAt.Sub(now), nil
}

// Count returns the executions recorded in the current window.
func (r *RedisSlidingWindow) Count(ctx context.Context) (int, error) {
	minScore := strconv.FormatInt(r.now().Add(-r.windowSize).UnixMilli(), 10)
	n, err := r.client.ZCount(ctx, r.key, minScore, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit status: %w", err)
	}
	return int(n), nil
}

// Flush removes all recorded executions.
func (r *RedisSlidingWindow) Flush(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit data: %w", err)
	}
	return nil
}
