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

package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_DefaultCatalog(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ats_analysis",
		"bullet_improvement",
		"cover_letter",
		"job_match",
		"skills_suggestion",
		"summary_generation",
	}, r.Keys())

	tpl, ok := r.Get("summary_generation")
	require.True(t, ok)
	assert.Equal(t, "summary_generation", tpl.Key)
	assert.True(t, tpl.JSONMode)
	assert.Equal(t, 800, tpl.MaxTokens)
	assert.NotEmpty(t, tpl.SystemPrompt)

	cover, ok := r.Get("cover_letter")
	require.True(t, ok)
	assert.False(t, cover.JSONMode)

	_, ok = r.Get("does_not_exist")
	assert.False(t, ok)
}

func TestBuildUserPrompt(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	tpl := Template{UserPrompt: "Role: {{role}} | Years: {{ years }} | Skills: {{skills}} | Missing: [{{nope}}] | Title: {{job.title}}"}
	got := r.BuildUserPrompt(tpl, map[string]any{
		"role":   "Backend Engineer",
		"years":  7,
		"skills": []string{"go", "sql"},
		"job":    map[string]any{"title": "Staff"},
	})

	assert.Equal(t, `Role: Backend Engineer | Years: 7 | Skills: ["go","sql"] | Missing: [] | Title: Staff`, got)
}

func TestBuildUserPrompt_NilVars(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	got := r.BuildUserPrompt(Template{UserPrompt: "a{{x}}b"}, nil)
	assert.Equal(t, "ab", got)
}

func TestLoadFile_OverridesAndAdds(t *testing.T) {
	t.Setenv("PROMPT_TONE", "formal")

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  summary_generation:
    system_prompt: "Be ${PROMPT_TONE}."
    user_prompt: "{{targetRole}}"
    json_mode: false
  linkedin_headline:
    system_prompt: "Write a headline in a ${HEADLINE_STYLE:-punchy} style."
    user_prompt: "{{targetRole}}"
    max_tokens: 60
`), 0o600))

	r, err := NewRegistry()
	require.NoError(t, err)
	require.NoError(t, r.LoadFile(path))

	tpl, ok := r.Get("summary_generation")
	require.True(t, ok)
	assert.Equal(t, "Be formal.", tpl.SystemPrompt)
	assert.False(t, tpl.JSONMode)

	headline, ok := r.Get("linkedin_headline")
	require.True(t, ok)
	assert.Equal(t, "Write a headline in a punchy style.", headline.SystemPrompt)
	assert.Equal(t, 60, headline.MaxTokens)

	_, ok = r.Get("ats_analysis")
	assert.True(t, ok, "templates not in the file are kept")
}

func TestLoadFile_Errors(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("templates:\n  x:\n    system_prompt: only\n"), 0o600))
	assert.ErrorContains(t, r.LoadFile(bad), "no user_prompt")
}
