package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"campaignflow/internal/domain"
)

// WorkflowDef is the declarative YAML form of a workflow. It compiles into a
// programmatic domain.WorkflowSpec: `input` and `output` are Go text/template
// expressions over the trigger and prior step outputs, `condition` is a
// template whose rendered truthiness decides whether the step runs.
type WorkflowDef struct {
	ID           string         `yaml:"id"`
	Description  string         `yaml:"description,omitempty"`
	InputSchema  map[string]any `yaml:"input_schema,omitempty"`
	OutputSchema map[string]any `yaml:"output_schema,omitempty"`
	Steps        []StepDef      `yaml:"steps"`
	// Output is a template producing the final result from all step outputs.
	// Empty means the reduce returns the full outputs map.
	Output string `yaml:"output,omitempty"`
}

// StepDef is the declarative form of one step.
type StepDef struct {
	ID           string         `yaml:"id"`
	Kind         string         `yaml:"kind"` // "tool", "agent", "subworkflow"
	Tool         string         `yaml:"tool,omitempty"`
	Agent        string         `yaml:"agent,omitempty"`
	Prompt       string         `yaml:"prompt,omitempty"`
	Sub          *WorkflowDef   `yaml:"sub,omitempty"`
	Input        string         `yaml:"input,omitempty"`     // template; empty = trigger passthrough
	Condition    string         `yaml:"condition,omitempty"` // template truthiness; empty = always run
	InputSchema  map[string]any `yaml:"input_schema,omitempty"`
	OutputSchema map[string]any `yaml:"output_schema,omitempty"`
}

// Compile turns a declarative definition into an executable spec. Template
// and schema errors are authoring errors, reported before anything runs.
func Compile(def *WorkflowDef) (*domain.WorkflowSpec, error) {
	spec := &domain.WorkflowSpec{
		ID:          def.ID,
		Description: def.Description,
	}

	var err error
	if spec.InputSchema, err = compileSchemaDoc(def.InputSchema); err != nil {
		return nil, fmt.Errorf("workflow %q: input schema: %w", def.ID, err)
	}
	if spec.OutputSchema, err = compileSchemaDoc(def.OutputSchema); err != nil {
		return nil, fmt.Errorf("workflow %q: output schema: %w", def.ID, err)
	}

	for i := range def.Steps {
		step, err := compileStep(&def.Steps[i])
		if err != nil {
			return nil, fmt.Errorf("workflow %q: %w", def.ID, err)
		}
		spec.Steps = append(spec.Steps, *step)
	}

	if def.Output != "" {
		reduce, err := compileReduce(def.Output)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: output template: %w", def.ID, err)
		}
		spec.Reduce = reduce
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func compileStep(def *StepDef) (*domain.StepSpec, error) {
	step := &domain.StepSpec{
		ID:      def.ID,
		Kind:    domain.StepKind(def.Kind),
		ToolID:  def.Tool,
		AgentID: def.Agent,
		Prompt:  def.Prompt,
	}

	var err error
	if step.InputSchema, err = compileSchemaDoc(def.InputSchema); err != nil {
		return nil, fmt.Errorf("step %q: input schema: %w", def.ID, err)
	}
	if step.OutputSchema, err = compileSchemaDoc(def.OutputSchema); err != nil {
		return nil, fmt.Errorf("step %q: output schema: %w", def.ID, err)
	}

	if def.Sub != nil {
		sub, err := Compile(def.Sub)
		if err != nil {
			return nil, fmt.Errorf("step %q: sub-workflow: %w", def.ID, err)
		}
		step.Sub = sub
	}

	if def.Input != "" {
		resolve, err := compileResolve(def.ID, def.Input)
		if err != nil {
			return nil, fmt.Errorf("step %q: input template: %w", def.ID, err)
		}
		step.ResolveInput = resolve
	}

	if def.Condition != "" {
		cond, err := compileCondition(def.Condition)
		if err != nil {
			return nil, fmt.Errorf("step %q: condition template: %w", def.ID, err)
		}
		step.Condition = cond
	}

	return step, nil
}

// compileResolve builds a ResolveFunc from an input template. Referencing an
// absent step output fails the lookup rather than rendering a default, so a
// skipped dependency surfaces as ErrMissingDependency.
func compileResolve(stepID, text string) (domain.ResolveFunc, error) {
	tmpl, err := template.New("input").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	return func(trigger any, prior *domain.Outputs) (any, error) {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, templateData(trigger, prior)); err != nil {
			if strings.Contains(err.Error(), "map has no entry") {
				return nil, domain.NewStepError("resolve input", stepID, domain.ErrMissingDependency, err.Error())
			}
			return nil, err
		}
		return parseRendered(buf.String()), nil
	}, nil
}

// compileCondition builds a ConditionFunc from a template. Conditions use
// lenient lookup so authors can guard on absent outputs; "<no value>",
// "false", "0", and empty all count as false.
func compileCondition(text string) (domain.ConditionFunc, error) {
	tmpl, err := template.New("cond").Parse(text)
	if err != nil {
		return nil, err
	}
	return func(trigger any, prior *domain.Outputs) (bool, error) {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, templateData(trigger, prior)); err != nil {
			return false, err
		}
		result := strings.TrimSpace(buf.String())
		return result != "" && result != "false" && result != "0" && result != "<no value>", nil
	}, nil
}

func compileReduce(text string) (domain.ReduceFunc, error) {
	tmpl, err := template.New("output").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	return func(outputs *domain.Outputs, trigger any) (any, error) {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, templateData(trigger, outputs)); err != nil {
			if strings.Contains(err.Error(), "map has no entry") {
				return nil, fmt.Errorf("%w: %s", domain.ErrMissingDependency, err)
			}
			return nil, err
		}
		return parseRendered(buf.String()), nil
	}, nil
}

// templateData exposes the trigger under "trigger" and every completed step
// output under its step id.
func templateData(trigger any, prior *domain.Outputs) map[string]any {
	data := make(map[string]any, prior.Len()+1)
	for k, v := range prior.Map() {
		data[k] = v
	}
	data["trigger"] = trigger
	return data
}

// parseRendered interprets a rendered template: valid JSON becomes the parsed
// value, anything else stays a string.
func parseRendered(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	var v any
	if json.Unmarshal([]byte(trimmed), &v) == nil {
		return v
	}
	return s
}

// compileSchemaDoc converts a YAML schema document into a compiled validator.
func compileSchemaDoc(doc map[string]any) (*domain.Schema, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return domain.CompileSchema(raw)
}
