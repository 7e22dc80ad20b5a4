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

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	DEBUG: 0,
	INFO:  1,
	WARN:  2,
	ERROR: 3,
}

// ParseLevel maps a LOG_LEVEL value to a LogLevel. Unknown values yield INFO.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case DEBUG:
		return DEBUG
	case WARN, "WARNING":
		return WARN
	case ERROR:
		return ERROR
	default:
		return INFO
	}
}

// Logger writes one JSON object per line for a single component.
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	// minRank holds levelRank of the minimum level; SetLevel may race with Log.
	minRank atomic.Int32
	out     *log.Logger
}

// LogEntry is the wire shape of a log line.
type LogEntry struct {
	Timestamp     string                 `json:"timestamp"`
	Level         LogLevel               `json:"level"`
	Component     string                 `json:"component"`
	InstanceID    string                 `json:"instance_id"`
	Container     string                 `json:"container"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	JobID         string                 `json:"job_id,omitempty"`
	Message       string                 `json:"message"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the component writing to stdout.
// INSTANCE_ID and LOG_LEVEL are read from the environment.
func New(component string) *Logger {
	return NewWithWriter(component, os.Stdout)
}

// NewWithWriter creates a Logger that writes to w.
func NewWithWriter(component string, w io.Writer) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	l := &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		out:        log.New(w, "", 0),
	}
	l.SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	l := &Logger{Component: "nop", out: log.New(io.Discard, "", 0)}
	l.SetLevel(ERROR)
	return l
}

// SetLevel changes the minimum level that is written. It is safe to call
// while other goroutines log.
func (l *Logger) SetLevel(level LogLevel) {
	l.minRank.Store(int32(levelRank[level]))
}

// Level returns the minimum level that is written.
func (l *Logger) Level() LogLevel {
	rank := int(l.minRank.Load())
	for level, r := range levelRank {
		if r == rank {
			return level
		}
	}
	return DEBUG
}

// With returns a child logger for a sub-component sharing the same output.
// The child starts at the parent's current level.
func (l *Logger) With(component string) *Logger {
	child := &Logger{
		Component:  l.Component + "." + component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		out:        l.out,
	}
	child.minRank.Store(l.minRank.Load())
	return child
}

func (l *Logger) enabled(level LogLevel) bool {
	return int32(levelRank[level]) >= l.minRank.Load()
}

// Log writes a structured entry.
func (l *Logger) Log(level LogLevel, correlationID, jobID, message string, fields map[string]interface{}) {
	if l == nil || !l.enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Level:         level,
		Component:     l.Component,
		InstanceID:    l.InstanceID,
		Container:     l.Container,
		CorrelationID: correlationID,
		JobID:         jobID,
		Message:       message,
		Fields:        fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf(`{"level":"ERROR","component":%q,"message":"failed to marshal log entry: %v"}`, l.Component, err)
		return
	}

	l.out.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(correlationID, message string, fields map[string]interface{}) {
	l.Log(INFO, correlationID, "", message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(correlationID, message string, fields map[string]interface{}) {
	l.Log(WARN, correlationID, "", message, fields)
}

// Error logs an error message
func (l *Logger) Error(correlationID, message string, fields map[string]interface{}) {
	l.Log(ERROR, correlationID, "", message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(correlationID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, correlationID, "", message, fields)
}

// Infof is a convenience for unstructured startup messages.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Log(INFO, "", "", fmt.Sprintf(format, args...), nil)
}

// JobInfo logs an informational message about a queued job.
func (l *Logger) JobInfo(jobID, correlationID, message string, fields map[string]interface{}) {
	l.Log(INFO, correlationID, jobID, message, fields)
}

// JobError logs a job failure. err is added to fields.
func (l *Logger) JobError(jobID, correlationID, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Log(ERROR, correlationID, jobID, message, fields)
}

// InfoWithDuration logs an info message with duration field
func (l *Logger) InfoWithDuration(correlationID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(correlationID, message, fields)
}
