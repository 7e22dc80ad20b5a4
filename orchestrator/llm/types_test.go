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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderType_Valid(t *testing.T) {
	tests := []struct {
		pt    ProviderType
		valid bool
	}{
		{ProviderTypeOpenAI, true},
		{ProviderTypeAnthropic, true},
		{ProviderTypeBedrock, true},
		{"gemini", false},
		{"OpenAI", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.pt.Valid(), "provider %q", tt.pt)
	}
}

func TestCompletionRequest_JSONFieldNames(t *testing.T) {
	var req CompletionRequest
	err := json.Unmarshal([]byte(`{
		"systemPrompt": "sys",
		"userPrompt": "user",
		"jsonMode": true,
		"maxTokens": 900,
		"metadata": {"userId": "u-1", "toolType": "cover_letter", "correlationId": "c-9"}
	}`), &req)
	require.NoError(t, err)

	assert.Equal(t, "sys", req.SystemPrompt)
	assert.True(t, req.JSONMode)
	assert.Equal(t, 900, req.MaxTokens)
	assert.Equal(t, RequestMetadata{UserID: "u-1", ToolType: "cover_letter", CorrelationID: "c-9"}, req.Metadata)
}
