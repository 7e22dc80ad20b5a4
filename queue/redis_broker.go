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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultKeyPrefix prefixes every key the broker writes.
const DefaultKeyPrefix = "cvq"

// priorityScale separates priorities in the waiting set; the low part is an
// insertion sequence so equal priorities are FIFO.
const priorityScale = 1e12

// enqueueScript creates jobs that do not exist yet.
//
// KEYS: waiting, seq, then one job hash per job
// ARGV: nowMs, queue, then per job:
//
//	id, type, payload, priority, maxAttempts, backoffKind, backoffMs, correlationId
//
// Returns one flag per job: 1 created, 0 already present.
var enqueueScript = redis.NewScript(`
local now, queue = ARGV[1], ARGV[2]
local created = {}
local i, k = 3, 3
while i <= #ARGV do
  local id = ARGV[i]
  local key = KEYS[k]
  if redis.call('EXISTS', key) == 1 then
    table.insert(created, 0)
  else
    local seq = redis.call('INCR', KEYS[2])
    redis.call('HSET', key,
      'id', id, 'queue', queue, 'type', ARGV[i+1], 'payload', ARGV[i+2],
      'priority', ARGV[i+3], 'max_attempts', ARGV[i+4],
      'backoff_kind', ARGV[i+5], 'backoff_ms', ARGV[i+6],
      'correlation_id', ARGV[i+7], 'attempts_made', '0',
      'state', 'waiting', 'progress', '0', 'enqueued_at', now)
    redis.call('ZADD', KEYS[1], string.format('%.0f', tonumber(ARGV[i+3]) * 1e12 + seq), id)
    table.insert(created, 1)
  end
  i = i + 8
  k = k + 1
end
return created
`)

// claimScript promotes due delayed jobs, then handles active jobs whose lease
// expired: each expiry consumes an attempt, and a job out of attempts fails
// with reason "job stalled". Finally it moves the lowest-score waiting job to
// active under a fresh claim token.
//
// KEYS: waiting, active, delayed, seq, failed
// ARGV: jobKeyPrefix, nowMs, leaseMs, token, failedRetentionMs
//
// Returns the claimed job hash as a flat field/value list, or nil.
var claimScript = redis.NewScript(`
local prefix, now = ARGV[1], tonumber(ARGV[2])
local function toWaiting(id, key)
  local prio = tonumber(redis.call('HGET', key, 'priority')) or 0
  local seq = redis.call('INCR', KEYS[4])
  redis.call('ZADD', KEYS[1], string.format('%.0f', prio * 1e12 + seq), id)
  redis.call('HSET', key, 'state', 'waiting')
end
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[2])) do
  redis.call('ZREM', KEYS[3], id)
  local key = prefix .. id
  if redis.call('EXISTS', key) == 1 then toWaiting(id, key) end
end
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])) do
  redis.call('ZREM', KEYS[2], id)
  local key = prefix .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('HDEL', key, 'token')
    local attempts = redis.call('HINCRBY', key, 'attempts_made', 1)
    local max = tonumber(redis.call('HGET', key, 'max_attempts')) or 1
    if max < 1 then max = 1 end
    redis.call('HSET', key, 'failure_reason', 'job stalled')
    if attempts >= max then
      redis.call('HSET', key, 'state', 'failed', 'finished_at', ARGV[2])
      redis.call('ZADD', KEYS[5], ARGV[2], id)
      redis.call('PEXPIRE', key, ARGV[5])
    else
      toWaiting(id, key)
    end
  end
end
while true do
  local head = redis.call('ZRANGE', KEYS[1], 0, 0)
  if #head == 0 then return false end
  local id = head[1]
  redis.call('ZREM', KEYS[1], id)
  local key = prefix .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[2], string.format('%.0f', now + tonumber(ARGV[3])), id)
    redis.call('HSET', key, 'state', 'active', 'processed_at', ARGV[2], 'token', ARGV[4])
    return redis.call('HGETALL', key)
  end
end
`)

// holdsLease is shared by the scripts below. A claim is held while the job is
// in the active set and its hash carries the caller's token.
const holdsLease = `
local function holds(active, key, id, token)
  if not redis.call('ZSCORE', active, id) then return false end
  return redis.call('HGET', key, 'token') == token
end
`

// completeScript records a successful attempt.
//
// KEYS: active, completed, job
// ARGV: id, token, nowMs, result, attempts, retentionMs, cutoffMs
//
// Returns 1, or 0 when the lease was lost.
var completeScript = redis.NewScript(holdsLease + `
if not holds(KEYS[1], KEYS[3], ARGV[1], ARGV[2]) then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[3], 'state', 'completed', 'progress', '100', 'result', ARGV[4],
  'attempts_made', ARGV[5], 'finished_at', ARGV[3])
redis.call('HDEL', KEYS[3], 'failure_reason', 'token')
redis.call('PEXPIRE', KEYS[3], ARGV[6])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[7])
return 1
`)

// failScript records a failed attempt as delayed or failed.
//
// KEYS: active, delayed, failed, job
// ARGV: id, token, nowMs, reason, attempts, nextState, score, retentionMs, cutoffMs
//
// Returns 1, or 0 when the lease was lost.
var failScript = redis.NewScript(holdsLease + `
if not holds(KEYS[1], KEYS[4], ARGV[1], ARGV[2]) then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[4], 'state', ARGV[6], 'attempts_made', ARGV[5], 'failure_reason', ARGV[4])
redis.call('HDEL', KEYS[4], 'token')
if ARGV[6] == 'delayed' then
  redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
  return 1
end
redis.call('ZADD', KEYS[3], ARGV[7], ARGV[1])
redis.call('HSET', KEYS[4], 'finished_at', ARGV[3])
redis.call('PEXPIRE', KEYS[4], ARGV[8])
redis.call('ZREMRANGEBYSCORE', KEYS[3], '-inf', ARGV[9])
return 1
`)

// releaseScript returns a claimed job to waiting.
//
// KEYS: active, waiting, job
// ARGV: id, token, score
var releaseScript = redis.NewScript(holdsLease + `
if not holds(KEYS[1], KEYS[3], ARGV[1], ARGV[2]) then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[3], 'state', 'waiting')
redis.call('HDEL', KEYS[3], 'token')
return 1
`)

// progressScript stores progress and, when deadlineMs is set, extends the lease.
//
// KEYS: active, job
// ARGV: id, token, progress, deadlineMs
var progressScript = redis.NewScript(holdsLease + `
if not holds(KEYS[1], KEYS[2], ARGV[1], ARGV[2]) then return 0 end
redis.call('HSET', KEYS[2], 'progress', ARGV[3])
if ARGV[4] ~= '' then
  redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
end
return 1
`)

// RedisBroker is a Broker on Redis hashes and sorted sets.
//
// Layout per queue, under <prefix>:{<queue>}: so one queue's keys share a
// cluster slot:
//
//	job:<id>   hash with the job fields
//	waiting    zset, score priority*1e12+seq
//	active     zset, score lease deadline (ms)
//	delayed    zset, score ready-at (ms)
//	completed  zset, score finished-at (ms)
//	failed     zset, score finished-at (ms)
//	seq        insertion counter
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Broker = (*RedisBroker)(nil)

// BrokerOption configures a RedisBroker.
type BrokerOption func(*RedisBroker)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) BrokerOption {
	return func(b *RedisBroker) { b.prefix = prefix }
}

// WithBrokerClock overrides time.Now. Lease, delay and retention math use it.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *RedisBroker) { b.now = now }
}

// NewRedisBroker creates a broker on client.
func NewRedisBroker(client redis.UniversalClient, opts ...BrokerOption) *RedisBroker {
	b := &RedisBroker{client: client, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) key(queue, name string) string {
	return b.prefix + ":{" + queue + "}:" + name
}

func (b *RedisBroker) jobPrefix(queue string) string {
	return b.key(queue, "job:")
}

func (b *RedisBroker) jobKey(queue, id string) string {
	return b.jobPrefix(queue) + id
}

func msString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func msDuration(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// leaseResult maps a script reply to ErrLeaseLost.
func leaseResult(op string, job *Job, n int64, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", op, job.Queue, job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s/%s: %w", op, job.Queue, job.ID, ErrLeaseLost)
	}
	return nil
}

// Enqueue implements Broker.
func (b *RedisBroker) Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) (string, bool, error) {
	ids, created, err := b.enqueue(ctx, queue, []NewJob{{Payload: payload, Options: opts}})
	if err != nil {
		return "", false, err
	}
	return ids[0], created[0], nil
}

// EnqueueBulk implements Broker.
func (b *RedisBroker) EnqueueBulk(ctx context.Context, queue string, jobs []NewJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	ids, _, err := b.enqueue(ctx, queue, jobs)
	return ids, err
}

func (b *RedisBroker) enqueue(ctx context.Context, queue string, jobs []NewJob) ([]string, []bool, error) {
	args := make([]interface{}, 0, 2+8*len(jobs))
	args = append(args, msString(b.now()), queue)
	keys := make([]string, 0, 2+len(jobs))
	keys = append(keys, b.key(queue, "waiting"), b.key(queue, "seq"))

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		o := j.Options
		id, corr := o.ID, o.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id
		keys = append(keys, b.jobKey(queue, id))
		args = append(args,
			id, o.Type, string(j.Payload), strconv.Itoa(o.Priority),
			strconv.Itoa(o.Policy.Attempts), string(o.Policy.Backoff.Kind),
			strconv.FormatInt(o.Policy.Backoff.Delay.Milliseconds(), 10), corr)
	}

	res, err := enqueueScript.Run(ctx, b.client, keys, args...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("enqueue to %s: %w", queue, err)
	}
	flags, ok := res.([]interface{})
	if !ok || len(flags) != len(jobs) {
		return nil, nil, fmt.Errorf("enqueue to %s: unexpected script reply %T", queue, res)
	}
	created := make([]bool, len(flags))
	for i, f := range flags {
		n, _ := f.(int64)
		created[i] = n == 1
	}
	return ids, created, nil
}

// Claim implements Broker.
func (b *RedisBroker) Claim(ctx context.Context, queue string, lease time.Duration) (*Job, error) {
	keys := []string{
		b.key(queue, "waiting"),
		b.key(queue, "active"),
		b.key(queue, "delayed"),
		b.key(queue, "seq"),
		b.key(queue, "failed"),
	}
	res, err := claimScript.Run(ctx, b.client, keys,
		b.jobPrefix(queue), msString(b.now()), msDuration(lease), uuid.NewString(),
		msDuration(FailedRetention)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", queue, err)
	}

	flat, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("claim from %s: unexpected script reply %T", queue, res)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	job, err := jobFromHash(fields)
	if err != nil {
		return nil, err
	}
	job.lease = lease
	return job, nil
}

// Complete implements Broker. It returns ErrLeaseLost when job is no longer
// held by this claim.
func (b *RedisBroker) Complete(ctx context.Context, job *Job, result []byte) error {
	now := b.now()
	attempts := job.AttemptsMade + 1

	n, err := completeScript.Run(ctx, b.client,
		[]string{b.key(job.Queue, "active"), b.key(job.Queue, "completed"), b.jobKey(job.Queue, job.ID)},
		job.ID, job.token, msString(now), string(result), attempts,
		msDuration(CompletedRetention), msString(now.Add(-CompletedRetention))).Int64()
	if err := leaseResult("complete", job, n, err); err != nil {
		return err
	}

	job.AttemptsMade = attempts
	job.State = StateCompleted
	job.Progress = 100
	job.Result = result
	job.FailureReason = ""
	job.FinishedAt = time.UnixMilli(now.UnixMilli())
	job.token = ""
	return nil
}

// Fail implements Broker. It returns ErrLeaseLost when job is no longer held
// by this claim.
func (b *RedisBroker) Fail(ctx context.Context, job *Job, reason string, retryable bool) (State, error) {
	now := b.now()
	attempts := job.AttemptsMade + 1

	next := StateFailed
	score := now
	if retryable && attempts < job.MaxAttempts {
		next = StateDelayed
		score = now.Add(job.Backoff.DelayFor(attempts))
	}

	n, err := failScript.Run(ctx, b.client,
		[]string{
			b.key(job.Queue, "active"),
			b.key(job.Queue, "delayed"),
			b.key(job.Queue, "failed"),
			b.jobKey(job.Queue, job.ID),
		},
		job.ID, job.token, msString(now), reason, attempts, string(next), msString(score),
		msDuration(FailedRetention), msString(now.Add(-FailedRetention))).Int64()
	if err := leaseResult("fail", job, n, err); err != nil {
		return "", err
	}

	job.AttemptsMade = attempts
	job.State = next
	job.FailureReason = reason
	job.token = ""
	if next == StateFailed {
		job.FinishedAt = time.UnixMilli(now.UnixMilli())
	}
	return next, nil
}

// Release implements Broker.
func (b *RedisBroker) Release(ctx context.Context, job *Job) error {
	score := strconv.FormatFloat(float64(job.Priority)*priorityScale, 'f', 0, 64)
	n, err := releaseScript.Run(ctx, b.client,
		[]string{b.key(job.Queue, "active"), b.key(job.Queue, "waiting"), b.jobKey(job.Queue, job.ID)},
		job.ID, job.token, score).Int64()
	if err := leaseResult("release", job, n, err); err != nil {
		return err
	}
	job.State = StateWaiting
	job.token = ""
	return nil
}

// UpdateProgress implements Broker.
func (b *RedisBroker) UpdateProgress(ctx context.Context, job *Job, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	deadline := ""
	if job.lease > 0 {
		deadline = msString(b.now().Add(job.lease))
	}
	n, err := progressScript.Run(ctx, b.client,
		[]string{b.key(job.Queue, "active"), b.jobKey(job.Queue, job.ID)},
		job.ID, job.token, progress, deadline).Int64()
	if err := leaseResult("progress", job, n, err); err != nil {
		return err
	}
	job.Progress = progress
	return nil
}

// Get implements Broker.
func (b *RedisBroker) Get(ctx context.Context, queue, id string) (*Job, error) {
	fields, err := b.client.HGetAll(ctx, b.jobKey(queue, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", queue, id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return jobFromHash(fields)
}

// Counts implements Broker.
func (b *RedisBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	var waiting, active, completed, failed, delayed *redis.IntCmd
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCard(ctx, b.key(queue, "waiting"))
		active = pipe.ZCard(ctx, b.key(queue, "active"))
		completed = pipe.ZCard(ctx, b.key(queue, "completed"))
		failed = pipe.ZCard(ctx, b.key(queue, "failed"))
		delayed = pipe.ZCard(ctx, b.key(queue, "delayed"))
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("counts for %s: %w", queue, err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

func jobFromHash(f map[string]string) (*Job, error) {
	if f["id"] == "" {
		return nil, fmt.Errorf("job hash has no id")
	}
	atoi := func(k string) int {
		n, _ := strconv.Atoi(f[k])
		return n
	}
	msTime := func(k string) time.Time {
		n, err := strconv.ParseInt(f[k], 10, 64)
		if err != nil || n == 0 {
			return time.Time{}
		}
		return time.UnixMilli(n)
	}

	j := &Job{
		ID:            f["id"],
		Queue:         f["queue"],
		Type:          f["type"],
		Payload:       []byte(f["payload"]),
		Priority:      atoi("priority"),
		CorrelationID: f["correlation_id"],
		AttemptsMade:  atoi("attempts_made"),
		MaxAttempts:   atoi("max_attempts"),
		Backoff: Backoff{
			Kind:  BackoffKind(f["backoff_kind"]),
			Delay: time.Duration(atoi("backoff_ms")) * time.Millisecond,
		},
		State:         State(f["state"]),
		Progress:      atoi("progress"),
		FailureReason: f["failure_reason"],
		EnqueuedAt:    msTime("enqueued_at"),
		ProcessedAt:   msTime("processed_at"),
		FinishedAt:    msTime("finished_at"),
		token:         f["token"],
	}
	if r := f["result"]; r != "" {
		j.Result = []byte(r)
	}
	return j, nil
}
