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

package render

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestIdleTracker(t *testing.T) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	tr := newIdleTracker(clock.now)

	assert.False(t, tr.idleFor(DefaultNetworkIdle))
	clock.advance(DefaultNetworkIdle)
	assert.True(t, tr.idleFor(DefaultNetworkIdle))

	tr.handle(&network.EventRequestWillBeSent{RequestID: "font"})
	tr.handle(&network.EventRequestWillBeSent{RequestID: "logo"})
	clock.advance(time.Second)
	assert.False(t, tr.idleFor(DefaultNetworkIdle), "requests in flight")

	tr.handle(&network.EventLoadingFinished{RequestID: "font"})
	tr.handle(&network.EventLoadingFailed{RequestID: "logo"})
	assert.False(t, tr.idleFor(DefaultNetworkIdle), "idle window restarts after the last request")

	clock.advance(400 * time.Millisecond)
	tr.handle(&network.EventDataReceived{RequestID: "other"})
	clock.advance(100 * time.Millisecond)
	assert.True(t, tr.idleFor(DefaultNetworkIdle), "unrelated events do not reset the window")
}

func TestIdleTracker_WaitHonoursContext(t *testing.T) {
	tr := newIdleTracker(time.Now)
	tr.handle(&network.EventRequestWillBeSent{RequestID: "never-finishes"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.wait(ctx, 10*time.Millisecond), context.DeadlineExceeded)
}

func findChrome(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chromium binary on PATH")
	return ""
}

func TestChromium_RenderPDF(t *testing.T) {
	c := NewChromium(Options{ExecPath: findChrome(t), NoSandbox: true})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := c.Acquire(ctx)
	require.NoError(t, err)
	defer s.Release()

	pdf, err := s.RenderPDF(ctx, `<html><body style="background:#eef"><h1>Jane Doe</h1><p>Staff SRE</p></body></html>`)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}
