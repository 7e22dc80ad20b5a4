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

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrProviderUnavailable is returned when no provider is configured for the selected type.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ProviderError is a failed vendor call.
type ProviderError struct {
	// Provider is the provider that returned the error.
	Provider ProviderType `json:"provider"`

	// Code is a classification of the failure.
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// StatusCode is the vendor HTTP status, if any.
	StatusCode int `json:"statusCode,omitempty"`

	// Retryable reports whether the same call may succeed later.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Error codes for ProviderError.
const (
	ErrCodeRateLimit      = "rate_limit"
	ErrCodeAuth           = "auth_failed"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeServerError    = "server_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeBadResponse    = "bad_response"
	ErrCodeUnknown        = "unknown"
)

// NewProviderError creates a ProviderError with Retryable derived from code.
func NewProviderError(provider ProviderType, code, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
		Cause:     cause,
	}
}

// NewHTTPProviderError classifies a non-2xx vendor response.
func NewHTTPProviderError(provider ProviderType, statusCode int, message string) *ProviderError {
	e := NewProviderError(provider, CodeForStatus(statusCode), message, nil)
	e.StatusCode = statusCode
	return e
}

// CodeForStatus maps an HTTP status to an error code.
func CodeForStatus(status int) string {
	switch {
	case status == 429:
		return ErrCodeRateLimit
	case status == 401 || status == 403:
		return ErrCodeAuth
	case status == 408 || status == 504:
		return ErrCodeTimeout
	case status >= 500:
		return ErrCodeServerError
	case status >= 400:
		return ErrCodeInvalidRequest
	default:
		return ErrCodeUnknown
	}
}

// WrapTransportError classifies a transport-level failure (no HTTP response).
func WrapTransportError(provider ProviderType, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewProviderError(provider, ErrCodeTimeout, err.Error(), err)
	}
	return NewProviderError(provider, ErrCodeUnknown, err.Error(), err)
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// AllProvidersFailedError is returned when the selected provider and its fallback both fail.
type AllProvidersFailedError struct {
	Primary     ProviderType
	PrimaryErr  error
	Fallback    ProviderType
	FallbackErr error
}

// Error includes both provider identifiers and both messages.
func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed: %s: %v; %s: %v",
		e.Primary, e.PrimaryErr, e.Fallback, e.FallbackErr)
}

// Unwrap exposes both causes to errors.Is and errors.As.
func (e *AllProvidersFailedError) Unwrap() []error {
	return []error{e.PrimaryErr, e.FallbackErr}
}
