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

// Package render turns HTML into PDF with headless Chromium.
package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"cvforge/platform/queue/processors"
)

// A4 in inches with 10mm margins.
const (
	paperWidthIn  = 8.27
	paperHeightIn = 11.69
	marginIn      = 0.3937
)

// DefaultNetworkIdle is how long the page must have no requests in flight
// before it is printed.
const DefaultNetworkIdle = 500 * time.Millisecond

// Options configures Chromium.
type Options struct {
	// ExecPath is the browser binary. Empty lets chromedp search the usual locations.
	ExecPath string

	// NetworkIdle overrides DefaultNetworkIdle.
	NetworkIdle time.Duration

	// NoSandbox is required when running as root in a container.
	NoSandbox bool
}

// Chromium launches a dedicated headless browser per session.
type Chromium struct {
	opts Options
}

var _ processors.Renderer = (*Chromium)(nil)

// NewChromium creates a Chromium renderer.
func NewChromium(opts Options) *Chromium {
	if opts.NetworkIdle <= 0 {
		opts.NetworkIdle = DefaultNetworkIdle
	}
	return &Chromium{opts: opts}
}

// Acquire starts a browser process. The process lives until Release.
func (c *Chromium) Acquire(ctx context.Context) (processors.RenderSession, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.DisableGPU)
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	// The browser outlives the acquiring context; Release tears it down.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &session{
		ctx:     browserCtx,
		idle:    c.opts.NetworkIdle,
		tracker: newIdleTracker(time.Now),
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}
	chromedp.ListenTarget(browserCtx, s.tracker.handle)

	if err := chromedp.Run(browserCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

type session struct {
	ctx     context.Context
	idle    time.Duration
	tracker *idleTracker
	cancel  func()
	once    sync.Once
}

// RenderPDF loads html into a blank page and prints it. ctx bounds the render.
func (s *session) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pdf []byte
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return s.tracker.wait(ctx, s.idle)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paperWidthIn).
				WithPaperHeight(paperHeightIn).
				WithMarginTop(marginIn).
				WithMarginBottom(marginIn).
				WithMarginLeft(marginIn).
				WithMarginRight(marginIn).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render: %w", ctx.Err())
		}
		return nil, fmt.Errorf("render: %w", err)
	}
	return pdf, nil
}

// Release stops the browser process.
func (s *session) Release() {
	s.once.Do(s.cancel)
}

// idleTracker counts requests in flight from network events.
type idleTracker struct {
	mu           sync.Mutex
	now          func() time.Time
	inFlight     map[network.RequestID]struct{}
	lastActivity time.Time
}

func newIdleTracker(now func() time.Time) *idleTracker {
	return &idleTracker{now: now, inFlight: make(map[network.RequestID]struct{}), lastActivity: now()}
}

func (t *idleTracker) handle(ev interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inFlight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inFlight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inFlight, e.RequestID)
	default:
		return
	}
	t.lastActivity = t.now()
}

// idleFor reports whether nothing has been in flight for at least d.
func (t *idleTracker) idleFor(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight) == 0 && t.now().Sub(t.lastActivity) >= d
}

func (t *idleTracker) wait(ctx context.Context, d time.Duration) error {
	t.mu.Lock()
	t.lastActivity = t.now()
	t.mu.Unlock()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if t.idleFor(d) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
