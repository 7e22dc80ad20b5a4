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
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		instanceID     string
		expectedInstID string
	}{
		{"with instance ID set", "instance-123", "instance-123"},
		{"without instance ID", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INSTANCE_ID", tt.instanceID)

			l := New("queue")

			if l.Component != "queue" {
				t.Errorf("Expected component queue, got %s", l.Component)
			}
			if l.InstanceID != tt.expectedInstID {
				t.Errorf("Expected instance ID %s, got %s", tt.expectedInstID, l.InstanceID)
			}
			if l.Container == "" {
				t.Error("Expected container to be set from hostname")
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line is not JSON: %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestLog_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("orchestrator", &buf)
	l.SetLevel(DEBUG)

	l.Info("corr-1", "provider selected", map[string]interface{}{"provider": "openai"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != INFO || e.Component != "orchestrator" || e.CorrelationID != "corr-1" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Fields["provider"] != "openai" {
		t.Errorf("expected provider field, got %v", e.Fields)
	}
	if e.Timestamp == "" {
		t.Error("timestamp should be set")
	}
}

func TestLog_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("queue", &buf)
	l.SetLevel(WARN)

	l.Debug("", "debug", nil)
	l.Info("", "info", nil)
	l.Warn("", "warn", nil)
	l.Error("", "error", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at WARN, got %d", len(entries))
	}
	if entries[0].Level != WARN || entries[1].Level != ERROR {
		t.Errorf("unexpected levels: %s, %s", entries[0].Level, entries[1].Level)
	}
}

func TestSetLevel_ConcurrentWithLogging(t *testing.T) {
	l := NewWithWriter("worker", io.Discard)
	child := l.With("ai")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l.Info("", "tick", nil)
				child.Debug("", "tick", nil)
			}
		}()
	}
	for _, level := range []LogLevel{DEBUG, ERROR, WARN, INFO} {
		l.SetLevel(level)
		child.SetLevel(level)
	}
	wg.Wait()

	if got := l.Level(); got != INFO {
		t.Errorf("level = %s, want INFO", got)
	}
}

func TestWith_StartsAtParentLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter("queue", &buf)
	parent.SetLevel(ERROR)
	child := parent.With("pdf")

	child.Warn("", "dropped", nil)
	parent.SetLevel(DEBUG)
	child.Warn("", "still dropped", nil)
	child.Error("", "kept", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Message != "kept" {
		t.Fatalf("expected only the error entry, got %+v", entries)
	}
	if child.Level() != ERROR {
		t.Errorf("child level = %s, want ERROR", child.Level())
	}
}

func TestJobError_AddsErrorField(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("worker", &buf)

	l.JobError("job-9", "corr-9", "job failed", errors.New("boom"), nil)

	e := decodeLines(t, &buf)[0]
	if e.JobID != "job-9" {
		t.Errorf("expected job id job-9, got %q", e.JobID)
	}
	if e.Fields["error"] != "boom" {
		t.Errorf("expected error field boom, got %v", e.Fields["error"])
	}
}

func TestInfoWithDuration(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("worker", &buf)

	l.InfoWithDuration("", "done", 12.5, nil)

	e := decodeLines(t, &buf)[0]
	if e.Fields["duration_ms"] != 12.5 {
		t.Errorf("expected duration_ms 12.5, got %v", e.Fields["duration_ms"])
	}
}

func TestWith_ExtendsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("processors", &buf).With("webhook")

	l.Info("", "x", nil)

	if got := decodeLines(t, &buf)[0].Component; got != "processors.webhook" {
		t.Errorf("component = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"WARNING": WARN,
		"error":   ERROR,
		"":        INFO,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNop_DiscardsAndNilSafe(t *testing.T) {
	Nop().Error("", "ignored", nil)

	var l *Logger
	l.Info("", "nil logger must not panic", nil)
}
