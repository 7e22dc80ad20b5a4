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
	"errors"
	"fmt"
)

var (
	// ErrUnknownQueue is returned for a queue name that is not ai, pdf or webhook.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrInvalidJob is returned when a payload fails validation at enqueue.
	ErrInvalidJob = errors.New("invalid job")

	// ErrLeaseLost is returned when a worker reports on a job whose claim
	// expired and was handed to another worker.
	ErrLeaseLost = errors.New("job lease lost")
)

// JobProcessingError is a failed processing attempt.
type JobProcessingError struct {
	Queue  string
	JobID  string
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *JobProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s job %s: %s: %v", e.Queue, e.JobID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s job %s: %s", e.Queue, e.JobID, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *JobProcessingError) Unwrap() error {
	return e.Cause
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as terminal: the job fails without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
