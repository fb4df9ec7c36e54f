// Copyright 2025 Kadir Pekel
//
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

// Package agent defines agents and the loop that runs them.
//
// An Agent is a named set of instructions with tools. Agents reference other
// agents through Handoffs; each handoff is exposed to the model as a
// transfer_to_<name> tool. A Runner drives one conversation:
//
//	runner, _ := agent.NewRunner(agent.Config{LLM: llm})
//	result, err := runner.Run(ctx, coordinator, items)
//
// The loop calls the model, executes the requested tools, switches the
// current agent on handoff and stops at the first turn that produces a final
// answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/schema"
	"github.com/shiroai/shiro/pkg/tool"
	"github.com/shiroai/shiro/pkg/tool/controltool"
)

// Agent is one participant of a conversation.
type Agent struct {
	// Name identifies the agent and derives its handoff tool name.
	Name string

	// Instructions is the system prompt.
	Instructions string

	// HandoffDescription is appended to the description of the handoff tool
	// other agents use to reach this one.
	HandoffDescription string

	// Tools are always available to the agent.
	Tools []tool.Tool

	// Toolsets are resolved to tools at the start of every turn.
	Toolsets []tool.Toolset

	// Handoffs are the agents this agent may transfer the conversation to.
	Handoffs []*Agent

	// OutputType, when set, makes the final answer a JSON document
	// validated against the schema.
	OutputType *OutputSchema

	// ToolChoice constrains the first turn of the agent. "required" is
	// relaxed to "auto" once the agent has used a tool.
	ToolChoice model.ToolChoice

	// Model overrides the runner's LLM.
	Model model.LLM

	// Temperature and MaxTokens override the model defaults.
	Temperature *float64
	MaxTokens   *int
}

// Validate checks the agent graph reachable from a.
func (a *Agent) Validate() error {
	return a.validate(map[*Agent]bool{})
}

func (a *Agent) validate(seen map[*Agent]bool) error {
	if a == nil {
		return fmt.Errorf("agent is nil")
	}
	if seen[a] {
		return nil
	}
	seen[a] = true

	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("agent name is required")
	}

	names := make(map[string]bool, len(a.Handoffs))
	for _, h := range a.Handoffs {
		if h == nil {
			return fmt.Errorf("agent %q: nil handoff", a.Name)
		}
		toolName := controltool.HandoffToolName(h.Name)
		if names[toolName] {
			return fmt.Errorf("agent %q: duplicate handoff %q", a.Name, toolName)
		}
		names[toolName] = true
		if err := h.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

// handoff returns the handoff target called name.
func (a *Agent) handoff(name string) *Agent {
	for _, h := range a.Handoffs {
		if h.Name == name {
			return h
		}
	}
	return nil
}

// resolveTools collects the agent's tools, the tools of its toolsets and one
// handoff tool per handoff target, in that order.
func (a *Agent) resolveTools(ctx context.Context) (map[string]tool.Tool, []tool.Definition, error) {
	all := append([]tool.Tool(nil), a.Tools...)
	for _, ts := range a.Toolsets {
		tools, err := ts.Tools(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list tools of %s: %w", ts.Name(), err)
		}
		all = append(all, tools...)
	}
	for _, h := range a.Handoffs {
		all = append(all, controltool.Handoff(h.Name, h.HandoffDescription))
	}

	byName := make(map[string]tool.Tool, len(all))
	defs := make([]tool.Definition, 0, len(all))
	for _, t := range all {
		if _, dup := byName[t.Name()]; dup {
			return nil, nil, fmt.Errorf("agent %q: duplicate tool name %q", a.Name, t.Name())
		}
		byName[t.Name()] = t
		defs = append(defs, tool.ToDefinition(t))
	}
	return byName, defs, nil
}

// OutputSchema is the structured output contract of an agent.
type OutputSchema struct {
	// Name is sent to providers that label response formats.
	Name string

	// Schema is the JSON schema of the final answer.
	Schema map[string]any

	validator *schema.Validator
}

// NewOutputSchema compiles s for validation.
func NewOutputSchema(name string, s map[string]any) (*OutputSchema, error) {
	if s == nil {
		return nil, fmt.Errorf("output schema %q is empty", name)
	}
	v, err := schema.NewValidator(s)
	if err != nil {
		return nil, fmt.Errorf("output schema %q: %w", name, err)
	}
	return &OutputSchema{Name: name, Schema: s, validator: v}, nil
}

// OutputTypeOf reflects a strict output schema from T.
func OutputTypeOf[T any](name string) (*OutputSchema, error) {
	s, err := schema.Strict[T]()
	if err != nil {
		return nil, err
	}
	return NewOutputSchema(name, s)
}

// Decode validates text against the schema and decodes it.
func (o *OutputSchema) Decode(text string) (map[string]any, error) {
	doc := []byte(strings.TrimSpace(text))
	if err := o.validator.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid structured output for %s: %w", o.Name, err)
	}
	var out map[string]any
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("invalid structured output for %s: %w", o.Name, err)
	}
	return out, nil
}

func (a *Agent) generateConfig(choice model.ToolChoice) *model.GenerateConfig {
	cfg := &model.GenerateConfig{
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
		ToolChoice:  choice,
	}
	if a.OutputType != nil {
		cfg.ResponseSchema = a.OutputType.Schema
		cfg.ResponseSchemaName = a.OutputType.Name
	}
	return cfg
}
