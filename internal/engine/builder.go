package engine

import (
	"encoding/json"
	"fmt"

	"github.com/flowtrail/flowtrail/internal/core"
)

// Builder assembles a workflow definition step by step. Zero values get
// sensible defaults in Build.
type Builder struct {
	def  core.WorkflowDefinition
	errs []error
}

func NewBuilder(name string, workflowType core.WorkflowType) *Builder {
	return &Builder{def: core.WorkflowDefinition{
		Name:         name,
		WorkflowType: workflowType,
		Version:      "1.0",
		TriggerType:  core.TriggerManual,
		IsActive:     true,
	}}
}

func (b *Builder) Description(d string) *Builder {
	b.def.Description = d
	return b
}

func (b *Builder) Version(v string) *Builder {
	b.def.Version = v
	return b
}

func (b *Builder) Trigger(t core.TriggerType) *Builder {
	b.def.TriggerType = t
	return b
}

func (b *Builder) Timeout(minutes int) *Builder {
	b.def.TimeoutMinutes = minutes
	return b
}

func (b *Builder) MaxConcurrent(n int) *Builder {
	b.def.MaxConcurrentExecutions = n
	return b
}

func (b *Builder) Retries(n int) *Builder {
	b.def.RetryAttempts = n
	return b
}

func (b *Builder) ApprovalThreshold(amount float64) *Builder {
	b.def.RequiresApproval = true
	b.def.ApprovalThreshold = &amount
	return b
}

func (b *Builder) Variables(vars map[string]any) *Builder {
	raw, err := json.Marshal(vars)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("encode variables: %w", err))
		return b
	}
	b.def.Variables = raw
	return b
}

func (b *Builder) Template() *Builder {
	b.def.IsTemplate = true
	return b
}

// Step appends a step. Config maps are encoded here so callers can pass
// plain literals.
func (b *Builder) Step(name string, stepType core.StepType, config map[string]any) *Builder {
	var raw json.RawMessage
	if config != nil {
		enc, err := json.Marshal(config)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("encode config for step %q: %w", name, err))
			return b
		}
		raw = enc
	}
	b.def.StepsDefinition = append(b.def.StepsDefinition, core.StepSpec{
		Name:   name,
		Type:   stepType,
		Config: raw,
	})
	return b
}

// AssignedStep appends a step routed to a person, for approvals and
// human tasks.
func (b *Builder) AssignedStep(name string, stepType core.StepType, assignee string, config map[string]any) *Builder {
	b.Step(name, stepType, config)
	if len(b.def.StepsDefinition) > 0 {
		b.def.StepsDefinition[len(b.def.StepsDefinition)-1].AssignedTo = assignee
	}
	return b
}

// StepRetries overrides max_retries for the last appended step.
func (b *Builder) StepRetries(n int) *Builder {
	if len(b.def.StepsDefinition) == 0 {
		b.errs = append(b.errs, fmt.Errorf("StepRetries called before any step"))
		return b
	}
	b.def.StepsDefinition[len(b.def.StepsDefinition)-1].MaxRetries = n
	return b
}

func (b *Builder) Build() (core.WorkflowDefinition, error) {
	if len(b.errs) > 0 {
		return core.WorkflowDefinition{}, b.errs[0]
	}
	if b.def.Name == "" {
		return core.WorkflowDefinition{}, fmt.Errorf("workflow needs a name")
	}
	if len(b.def.StepsDefinition) == 0 {
		return core.WorkflowDefinition{}, fmt.Errorf("workflow %q has no steps", b.def.Name)
	}
	seen := make(map[string]bool, len(b.def.StepsDefinition))
	for _, s := range b.def.StepsDefinition {
		if s.Name == "" {
			return core.WorkflowDefinition{}, fmt.Errorf("workflow %q has an unnamed step", b.def.Name)
		}
		if seen[s.Name] {
			return core.WorkflowDefinition{}, fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
		if !core.ValidStepType(s.Type) {
			return core.WorkflowDefinition{}, fmt.Errorf("step %q has unknown type %q", s.Name, s.Type)
		}
	}
	def := b.def
	if def.RetryAttempts == 0 {
		def.RetryAttempts = core.DefaultRetryAttempts
	}
	def.DefinitionID = core.NewID()
	return def, nil
}
