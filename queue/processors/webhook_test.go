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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/platform/queue"
	"cvforge/platform/shared/logger"
)

func webhookData(url string) queue.WebhookJobData {
	return queue.WebhookJobData{
		URL:    url,
		Event:  "resume.exported",
		Data:   json.RawMessage(`{"documentId":"doc-9","format":"pdf"}`),
		Secret: "whsec_test",
	}
}

func TestWebhookProcessor_DeliversSignedEvent(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookProcessor(WebhookOptions{
		Client: srv.Client(),
		Logger: logger.Nop(),
		Now:    func() time.Time { return fixedNow },
	})
	task, _ := newTask(t, queue.QueueWebhook, webhookData(srv.URL+"/hooks"))

	out, err := p.Process(context.Background(), task)
	require.NoError(t, err)

	res := out.(WebhookResult)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, fixedNow.UnixMilli(), res.DeliveredAtMs)

	assert.JSONEq(t, `{
		"event": "resume.exported",
		"timestamp": "2025-03-01T09:30:00.000Z",
		"data": {"documentId":"doc-9","format":"pdf"}
	}`, string(gotBody))

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, DefaultUserAgent, gotHeaders.Get("User-Agent"))
	assert.Equal(t, "resume.exported", gotHeaders.Get("X-Webhook-Event"))
	assert.Equal(t, "job-1", gotHeaders.Get("X-Webhook-Delivery"))
	assert.Equal(t, strconv.FormatInt(fixedNow.UnixMilli(), 10), gotHeaders.Get("X-Webhook-Timestamp"))
	assert.Equal(t, "sha256="+Sign("whsec_test", gotBody), gotHeaders.Get(SignatureHeader))
}

func TestWebhookProcessor_NoSignatureWithoutSecret(t *testing.T) {
	var sig []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Values(SignatureHeader)
	}))
	defer srv.Close()

	data := webhookData(srv.URL)
	data.Secret = ""
	data.Data = nil
	p := NewWebhookProcessor(WebhookOptions{Client: srv.Client()})
	task, _ := newTask(t, queue.QueueWebhook, data)

	_, err := p.Process(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, sig)
}

func TestSign(t *testing.T) {
	body := []byte(`{"event":"resume.exported","data":{"id":1}}`)
	sig := Sign("secret", body)
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign("secret", body))

	for i := range body {
		changed := append([]byte(nil), body...)
		changed[i] ^= 0x01
		assert.NotEqual(t, sig, Sign("secret", changed), "byte %d", i)
	}
	assert.NotEqual(t, sig, Sign("other", body))
}

func TestWebhookProcessor_Non2xxIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable\n"))
	}))
	defer srv.Close()

	p := NewWebhookProcessor(WebhookOptions{Client: srv.Client()})
	task, _ := newTask(t, queue.QueueWebhook, webhookData(srv.URL))

	_, err := p.Process(context.Background(), task)
	var wde *WebhookDeliveryError
	require.ErrorAs(t, err, &wde)
	assert.Equal(t, http.StatusBadGateway, wde.StatusCode)
	assert.Equal(t, "upstream unavailable", wde.Body)
	assert.False(t, queue.IsPermanent(err))
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhookProcessor_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewWebhookProcessor(WebhookOptions{Client: srv.Client(), Timeout: 50 * time.Millisecond})
	task, _ := newTask(t, queue.QueueWebhook, webhookData(srv.URL))

	_, err := p.Process(context.Background(), task)
	var wde *WebhookDeliveryError
	require.ErrorAs(t, err, &wde)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, wde.StatusCode)
}
