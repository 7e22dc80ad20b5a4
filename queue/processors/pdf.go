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
	"fmt"
	"path"
	"time"

	"cvforge/platform/queue"
	"cvforge/platform/shared/logger"
)

// DefaultRenderTimeout bounds a single render when none is configured.
const DefaultRenderTimeout = 60 * time.Second

// Renderer hands out isolated rendering sessions. A session is used by one
// job and released when the job ends.
type Renderer interface {
	Acquire(ctx context.Context) (RenderSession, error)
}

// RenderSession converts an HTML document into PDF bytes.
type RenderSession interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
	Release()
}

// ObjectStore persists rendered documents.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// PDFResult is stored as the result of a completed PDF job.
type PDFResult struct {
	SizeBytes     int    `json:"sizeBytes"`
	GeneratedAtMs int64  `json:"generatedAt"`
	StorageKey    string `json:"storageKey,omitempty"`
}

// PDFOptions configures a PDFProcessor.
type PDFOptions struct {
	// Store is optional. Without it the PDF is rendered and only its size kept.
	Store         ObjectStore
	RenderTimeout time.Duration
	Logger        *logger.Logger
	Now           func() time.Time
}

// PDFProcessor renders resume HTML to PDF.
type PDFProcessor struct {
	renderer Renderer
	opts     PDFOptions
}

var _ queue.Processor[queue.PDFJobData] = (*PDFProcessor)(nil)

// NewPDFProcessor creates a PDFProcessor.
func NewPDFProcessor(r Renderer, opts PDFOptions) *PDFProcessor {
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = DefaultRenderTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PDFProcessor{renderer: r, opts: opts}
}

// StorageKey returns the object key of a job's PDF.
func StorageKey(documentID, jobID string) string {
	return path.Join("pdfs", documentID, jobID+".pdf")
}

// Process implements queue.Processor.
func (p *PDFProcessor) Process(ctx context.Context, task *queue.Task[queue.PDFJobData]) (any, error) {
	job, data := task.Job, task.Data
	task.ReportProgress(ctx, 10)

	session, err := p.renderer.Acquire(ctx)
	if err != nil {
		return nil, &queue.JobProcessingError{Queue: job.Queue, JobID: job.ID, Reason: "acquire renderer", Cause: err}
	}
	defer session.Release()
	task.ReportProgress(ctx, 30)

	renderCtx, cancel := context.WithTimeout(ctx, p.opts.RenderTimeout)
	pdf, err := session.RenderPDF(renderCtx, data.HTML)
	cancel()
	if err != nil {
		return nil, &queue.JobProcessingError{Queue: job.Queue, JobID: job.ID, Reason: "render pdf", Cause: err}
	}
	if len(pdf) == 0 {
		return nil, &queue.JobProcessingError{Queue: job.Queue, JobID: job.ID, Reason: "renderer returned an empty document"}
	}
	task.ReportProgress(ctx, 80)

	result := PDFResult{SizeBytes: len(pdf), GeneratedAtMs: p.opts.Now().UnixMilli()}
	if p.opts.Store != nil {
		key := StorageKey(data.DocumentID, job.ID)
		if err := p.opts.Store.Put(ctx, key, pdf, "application/pdf"); err != nil {
			return nil, &queue.JobProcessingError{Queue: job.Queue, JobID: job.ID, Reason: fmt.Sprintf("store %s", key), Cause: err}
		}
		result.StorageKey = key
	}
	task.ReportProgress(ctx, 100)

	p.opts.Logger.JobInfo(job.ID, job.CorrelationID, "PDF rendered", map[string]interface{}{
		"document_id": data.DocumentID,
		"size_bytes":  result.SizeBytes,
		"storage_key": result.StorageKey,
	})
	return result, nil
}
