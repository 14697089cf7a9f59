// Package policy decides whether an inbound frame is admitted for processing.
package policy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy evaluates.
type Input struct {
	Type      string `json:"type"`
	ActorID   string `json:"actor_id"`
	Length    int    `json:"length"`
	Blank     bool   `json:"blank"`
	MaxLength int    `json:"max_length"`
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Decision string
	Reason   string
}

// Allowed reports whether the frame may be processed.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// Engine is the OPA policy engine.
type Engine struct {
	query     rego.PreparedEvalQuery
	maxLength int
}

// NewEngine prepares policyContent. maxLength <= 0 disables the length limit.
func NewEngine(ctx context.Context, policyContent string, maxLength int) (*Engine, error) {
	r := rego.New(
		rego.Query("data.frame_policy.result"),
		rego.Module("frame_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, maxLength: maxLength}, nil
}

// LoadEngine prepares the policy at path, or DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string, maxLength int) (*Engine, error) {
	content := DefaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy: %w", err)
		}
		content = string(data)
	}
	return NewEngine(ctx, content, maxLength)
}

// Admit evaluates a frame of frameType carrying text for actorID.
func (e *Engine) Admit(ctx context.Context, actorID, frameType, text string) (Decision, error) {
	return e.Evaluate(ctx, Input{
		Type:      frameType,
		ActorID:   actorID,
		Length:    utf8.RuneCountInString(text),
		Blank:     strings.TrimSpace(text) == "",
		MaxLength: e.maxLength,
	})
}

// Evaluate runs the policy against input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"type":       input.Type,
		"actor_id":   input.ActorID,
		"length":     input.Length,
		"blank":      input.Blank,
		"max_length": input.MaxLength,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Decision: DecisionAllow, Reason: "default"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
	}
	decision, _ := obj["decision"].(string)
	reason, _ := obj["reason"].(string)
	if decision == "" {
		decision = DecisionAllow
	}
	return Decision{Decision: decision, Reason: reason}, nil
}

// DefaultPolicy blocks empty content frames and over-long content.
const DefaultPolicy = `
package frame_policy

content_frames := {"chat", "research", "save_note"}

too_long if {
	input.max_length > 0
	input.length > input.max_length
}

blank_content if {
	input.type in content_frames
	input.blank
}

default decision := "allow"

decision := "block" if too_long

decision := "block" if blank_content

default reason := ""

reason := "message too long" if too_long

reason := "empty content" if {
	blank_content
	not too_long
}

result := {"decision": decision, "reason": reason}
`
