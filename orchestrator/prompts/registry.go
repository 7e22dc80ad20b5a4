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

// Package prompts resolves named prompt templates for the resume tools.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"cvforge/platform/shared/config"
)

//go:embed templates.yaml
var defaultCatalog []byte

// Template is a named prompt.
type Template struct {
	Key          string `yaml:"-" json:"key"`
	Description  string `yaml:"description" json:"description,omitempty"`
	SystemPrompt string `yaml:"system_prompt" json:"systemPrompt"`
	UserPrompt   string `yaml:"user_prompt" json:"userPrompt"`
	JSONMode     bool   `yaml:"json_mode" json:"jsonMode"`
	MaxTokens    int    `yaml:"max_tokens" json:"maxTokens,omitempty"`
}

type catalog struct {
	Templates map[string]Template `yaml:"templates"`
}

// Registry holds templates by key.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry returns a registry loaded with the embedded default catalog.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]Template)}
	if err := r.load(defaultCatalog); err != nil {
		return nil, fmt.Errorf("embedded prompt catalog: %w", err)
	}
	return r, nil
}

// LoadFile overlays templates from a YAML file. ${VAR} and ${VAR:-default}
// references are expanded before parsing. Keys already present are replaced.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}
	if err := r.load([]byte(config.ExpandEnvVars(string(data)))); err != nil {
		return fmt.Errorf("prompt file %s: %w", path, err)
	}
	return nil
}

func (r *Registry) load(data []byte) error {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range c.Templates {
		if strings.TrimSpace(t.UserPrompt) == "" {
			return fmt.Errorf("template %q has no user_prompt", key)
		}
		t.Key = key
		r.templates[key] = t
	}
	return nil
}

// Get returns the template for key.
func (r *Registry) Get(key string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[key]
	return t, ok
}

// Keys returns the registered template keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.templates))
	for k := range r.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// BuildUserPrompt substitutes {{name}} placeholders in the template's user
// prompt. Dotted names walk nested maps ({{job.title}}). Missing variables
// render as empty strings; non-string values are JSON-encoded.
func (r *Registry) BuildUserPrompt(t Template, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(t.UserPrompt, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := lookup(vars, name)
		if !ok {
			return ""
		}
		return render(v)
	})
}

func lookup(vars map[string]any, path string) (any, bool) {
	var cur any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func render(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
