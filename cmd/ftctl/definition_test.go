package main

import (
	"encoding/json"
	"testing"

	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/engine"
)

func TestTemplateBodyShape(t *testing.T) {
	defs, err := engine.Templates()
	if err != nil {
		t.Fatalf("templates: %s", err)
	}
	if len(defs) == 0 {
		t.Fatal("expected predefined templates")
	}

	for _, def := range defs {
		b, err := json.Marshal(templateBody(def))
		if err != nil {
			t.Fatalf("%s: marshal: %s", def.Name, err)
		}

		var req struct {
			Name          string          `json:"name"`
			WorkflowType  string          `json:"workflow_type"`
			Version       string          `json:"version"`
			RetryAttempts int             `json:"retry_attempts"`
			IsTemplate    bool            `json:"is_template"`
			Steps         []core.StepSpec `json:"steps"`
		}
		if err := json.Unmarshal(b, &req); err != nil {
			t.Fatalf("%s: unmarshal: %s", def.Name, err)
		}

		if req.Name != def.Name {
			t.Errorf("expected name %q, got %q", def.Name, req.Name)
		}
		if req.WorkflowType == "" {
			t.Errorf("%s: workflow_type is empty", def.Name)
		}
		if !req.IsTemplate {
			t.Errorf("%s: expected is_template", def.Name)
		}
		if req.RetryAttempts < 1 {
			t.Errorf("%s: expected a retry budget, got %d", def.Name, req.RetryAttempts)
		}
		if len(req.Steps) != len(def.StepsDefinition) {
			t.Errorf("%s: expected %d steps, got %d", def.Name, len(def.StepsDefinition), len(req.Steps))
		}
		for _, s := range req.Steps {
			if s.Name == "" || !core.ValidStepType(s.Type) {
				t.Errorf("%s: bad step %+v", def.Name, s)
			}
		}
	}
}
