package agent

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// Templated is a deterministic Agent that renders a Go text/template instead
// of calling a model. Used for local runs and tests; real LLM backends slot
// in behind the same Agent interface.
type Templated struct {
	id   string
	tmpl *template.Template
}

// NewTemplated compiles a template agent. The template receives
// {{.Agent}}, {{.Prompt}}, and {{.Context}}.
func NewTemplated(id, tmplText string) (*Templated, error) {
	tmpl, err := template.New(id).Parse(tmplText)
	if err != nil {
		return nil, fmt.Errorf("agent %q: parse template: %w", id, err)
	}
	return &Templated{id: id, tmpl: tmpl}, nil
}

func (t *Templated) ID() string { return t.id }

// Generate renders the template against the prompt and context.
func (t *Templated) Generate(_ context.Context, prompt string, taskContext any) (any, error) {
	var buf bytes.Buffer
	err := t.tmpl.Execute(&buf, map[string]any{
		"Agent":   t.id,
		"Prompt":  prompt,
		"Context": taskContext,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %q: render: %w", t.id, err)
	}
	return buf.String(), nil
}
