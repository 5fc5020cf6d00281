package agent

import (
	"context"
	"fmt"

	"github.com/akarpov/vulnlab/internal/domain"
	"github.com/akarpov/vulnlab/internal/report"
)

// Tool names exposed to the agent.
const (
	ToolRecordFinding    = "record_finding"
	ToolSynthesizeReport = "synthesize_report"
)

// ToolResult is what a capability invocation returns to the agent. The
// calling runtime expects a result object in every case; validation and
// handler failures come back as error-flagged results, never as Go
// errors or panics past this boundary.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolSpec declares a capability's name and argument shape as a JSON
// schema property map.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

type toolEntry struct {
	spec    ToolSpec
	handler func(ctx context.Context, args map[string]any) *ToolResult
}

// Toolbox is the fixed capability table for one turn. It is built once
// per turn around that turn's Tracker and never shared across turns.
type Toolbox struct {
	tracker *Tracker
	tools   []toolEntry
}

// NewToolbox builds the capability table for a turn.
func NewToolbox(tracker *Tracker) *Toolbox {
	tb := &Toolbox{tracker: tracker}
	tb.tools = []toolEntry{
		{
			spec: ToolSpec{
				Name:        ToolRecordFinding,
				Description: "Record a security finding for the current assessment session",
				Properties: map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Identifier of the finding, e.g. SAFE-T1002",
					},
					"cause": map[string]any{
						"type":        "string",
						"description": "What causes this vulnerability, with citation",
					},
					"severity": map[string]any{
						"type":        "string",
						"description": "One of: critical, high, medium, low",
					},
				},
				Required: []string{"name", "cause", "severity"},
			},
			handler: tb.recordFinding,
		},
		{
			spec: ToolSpec{
				Name:        ToolSynthesizeReport,
				Description: "Generate the full assessment report from recorded findings. Score should be lower (higher risk) when critical findings are present",
				Properties: map[string]any{
					"score": map[string]any{
						"type":        "integer",
						"description": "Risk score from 0-100 for the full finding list",
					},
				},
				Required: []string{"score"},
			},
			handler: tb.synthesizeReport,
		},
	}
	return tb
}

// Specs returns the declared capability table in fixed order.
func (tb *Toolbox) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(tb.tools))
	for _, t := range tb.tools {
		specs = append(specs, t.spec)
	}
	return specs
}

// Invoke dispatches one capability call. Unknown names and argument
// shapes that do not match the declared schema produce error results.
func (tb *Toolbox) Invoke(ctx context.Context, name string, args map[string]any) *ToolResult {
	for _, t := range tb.tools {
		if t.spec.Name != name {
			continue
		}
		if err := validateArgs(t.spec, args); err != nil {
			return errorResult(err.Error())
		}
		return t.handler(ctx, args)
	}
	return errorResult(fmt.Sprintf("unknown tool %q", name))
}

func (tb *Toolbox) recordFinding(_ context.Context, args map[string]any) *ToolResult {
	finding, err := domain.NewFinding(
		args["name"].(string),
		args["cause"].(string),
		args["severity"].(string),
	)
	if err != nil {
		// The tracker stays unmodified on validation failure.
		return errorResult(err.Error())
	}

	tb.tracker.Add(finding)
	return &ToolResult{
		Content: fmt.Sprintf("Recorded finding %s (%s)", finding.Name, finding.Severity),
	}
}

func (tb *Toolbox) synthesizeReport(_ context.Context, args map[string]any) *ToolResult {
	var score int
	switch v := args["score"].(type) {
	case float64:
		score = int(v)
	case int:
		score = v
	}
	return &ToolResult{
		Content: report.Generate(tb.tracker.List(), score),
	}
}

// validateArgs checks the supplied arguments against the declared
// property schema: all required arguments present, all present arguments
// declared, primitive types matching.
func validateArgs(spec ToolSpec, args map[string]any) error {
	for _, name := range spec.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("%s: missing required argument %q", spec.Name, name)
		}
	}
	for name, value := range args {
		prop, ok := spec.Properties[name].(map[string]any)
		if !ok {
			return fmt.Errorf("%s: unexpected argument %q", spec.Name, name)
		}
		declared, _ := prop["type"].(string)
		if !matchesType(declared, value) {
			return fmt.Errorf("%s: argument %q must be of type %s", spec.Name, name, declared)
		}
	}
	return nil
}

func matchesType(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer", "number":
		// JSON decoding yields float64 for all numbers.
		switch value.(type) {
		case float64, int:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

func errorResult(msg string) *ToolResult {
	return &ToolResult{Content: "Error: " + msg, IsError: true}
}
