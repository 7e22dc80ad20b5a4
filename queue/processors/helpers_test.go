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
	"context"
	"sync"
	"testing"

	"cvforge/platform/queue"
	"cvforge/platform/shared/logger"
)

// progressBroker records progress updates. Other Broker methods are not used
// by processors.
type progressBroker struct {
	queue.Broker

	mu       sync.Mutex
	progress []int
}

func (b *progressBroker) UpdateProgress(_ context.Context, job *queue.Job, progress int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = append(b.progress, progress)
	job.Progress = progress
	return nil
}

func (b *progressBroker) values() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.progress...)
}

func newTask[T any](t *testing.T, queueName string, data T) (*queue.Task[T], *progressBroker) {
	t.Helper()
	b := &progressBroker{}
	job := &queue.Job{ID: "job-1", Queue: queueName, AttemptsMade: 0, MaxAttempts: 3}
	return queue.NewTask(job, data, b, logger.Nop()), b
}
