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

// Package ratelimit caps executions per rolling time window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter blocks until one execution slot in the current window is available.
type Limiter interface {
	Wait(ctx context.Context) error
}

// SlidingWindow implements a per-process rolling window limiter.
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	mu          sync.Mutex

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewSlidingWindow allows at most maxRequests per windowSize.
func NewSlidingWindow(windowSize time.Duration, maxRequests int) *SlidingWindow {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
		now:         time.Now,
		after:       time.After,
	}
}

// Wait blocks until a request is allowed
func (s *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		now := s.now()
		s.cleanup(now)

		if len(s.requests) < s.maxRequests {
			s.requests = append(s.requests, now)
			s.mu.Unlock()
			return nil
		}

		waitTime := s.windowSize - now.Sub(s.requests[0])
		s.mu.Unlock()

		if waitTime <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(waitTime):
		}
	}
}

// TryAcquire attempts to acquire a slot without blocking
func (s *SlidingWindow) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.cleanup(now)

	if len(s.requests) < s.maxRequests {
		s.requests = append(s.requests, now)
		return true
	}
	return false
}

// cleanup drops timestamps that left the window. Caller holds mu.
func (s *SlidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-s.windowSize)
	i := 0
	for i < len(s.requests) && !s.requests[i].After(cutoff) {
		i++
	}
	s.requests = s.requests[i:]
}

// Available returns the number of requests available in the current window
func (s *SlidingWindow) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup(s.now())
	return s.maxRequests - len(s.requests)
}

// String describes the limit, e.g. "20/1m0s".
func (s *SlidingWindow) String() string {
	return fmt.Sprintf("%d/%s", s.maxRequests, s.windowSize)
}
