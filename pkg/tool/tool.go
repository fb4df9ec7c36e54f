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

// Package tool defines the tools agents can call.
//
// Three kinds of tools exist in shiro:
//
//	functiontool.New(...)       - a typed Go function with a reflected schema
//	controltool.Handoff(...)    - transfers the conversation to another agent
//	mcptoolset.New(...)         - every tool exposed by an MCP server
//
// The run loop only sees CallableTool values; toolsets are resolved to tools
// at the start of each turn.
package tool

import (
	"context"
)

// Tool is the base interface for anything an LLM can call.
type Tool interface {
	// Name is the function name exposed to the model.
	Name() string

	// Description tells the model when to use the tool.
	Description() string
}

// CallableTool is a tool that runs synchronously.
type CallableTool interface {
	Tool

	// Call executes the tool. The returned map is encoded to JSON and fed
	// back to the model as the function call output.
	Call(ctx Context, args map[string]any) (map[string]any, error)

	// Schema returns the JSON schema of the parameters, or nil for none.
	Schema() map[string]any
}

// Toolset groups tools that are resolved together, such as an MCP server.
type Toolset interface {
	Name() string
	Tools(ctx context.Context) ([]Tool, error)
}

// Connector is implemented by toolsets that hold a connection which must be
// opened before Tools is called and released afterwards.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// Actions carries side effects a tool requests from the run loop.
type Actions struct {
	// TransferToAgent names the agent that takes over the conversation.
	TransferToAgent string
}

// Context is passed to CallableTool.Call.
type Context interface {
	context.Context

	// FunctionCallID is the call_id of the invocation being served.
	FunctionCallID() string

	// AgentName is the agent that issued the call.
	AgentName() string

	// Actions returns the mutable actions of this call.
	Actions() *Actions
}

type callContext struct {
	context.Context
	callID    string
	agentName string
	actions   *Actions
}

// NewContext returns a Context for one tool invocation.
func NewContext(ctx context.Context, agentName, callID string) Context {
	return &callContext{
		Context:   ctx,
		callID:    callID,
		agentName: agentName,
		actions:   &Actions{},
	}
}

func (c *callContext) FunctionCallID() string { return c.callID }
func (c *callContext) AgentName() string      { return c.agentName }
func (c *callContext) Actions() *Actions      { return c.actions }

// Definition is a tool as advertised to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
	}
	if ct, ok := t.(CallableTool); ok {
		def.Parameters = ct.Schema()
	}
	if def.Parameters == nil {
		def.Parameters = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return def
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Predicate decides whether a tool is exposed.
type Predicate func(t Tool) bool

// StringPredicate allows only the named tools. An empty list allows all.
func StringPredicate(allowed []string) Predicate {
	if len(allowed) == 0 {
		return func(Tool) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return func(t Tool) bool {
		return set[t.Name()]
	}
}
