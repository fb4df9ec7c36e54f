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

// Package model defines the LLM interface used by the agent runner.
//
// Every provider implements a single GenerateContent method:
//   - stream=false yields exactly one Response (Partial=false)
//   - stream=true yields text deltas (Partial=true) followed by one
//     aggregated Response (Partial=false) carrying the full text, tool
//     calls and usage
package model

import (
	"context"
	"iter"

	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/tool"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the provider type.
	Provider() Provider

	// GenerateContent produces responses for the given request.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources held by the LLM.
	Close() error
}

// Provider identifies the LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// ToolChoice controls whether the model must call a tool.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// ParseToolChoice maps a configuration string to a ToolChoice. Empty and
// unknown values are auto.
func ParseToolChoice(s string) ToolChoice {
	switch ToolChoice(s) {
	case ToolChoiceRequired, ToolChoiceNone:
		return ToolChoice(s)
	default:
		return ToolChoiceAuto
	}
}

// Request contains the input for an LLM call.
type Request struct {
	// Items is the conversation history.
	Items []*item.Item

	// Tools available for the model to call.
	Tools []tool.Definition

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string

	// Config contains generation configuration.
	Config *GenerateConfig
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	Temperature *float64
	MaxTokens   *int

	// ToolChoice is only sent when Tools is not empty.
	ToolChoice ToolChoice

	// ResponseSchema requests structured JSON output.
	ResponseSchema map[string]any

	// ResponseSchemaName identifies the schema for providers that require it.
	// Default: "response"
	ResponseSchemaName string

	// ResponseSchemaStrict enables strict schema adherence.
	// Default: true (nil means true)
	ResponseSchemaStrict *bool
}

// Clone returns a copy that can be modified without affecting c.
// ResponseSchema is shared; schemas are treated as immutable.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		v := *c.Temperature
		clone.Temperature = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.ResponseSchemaStrict != nil {
		v := *c.ResponseSchemaStrict
		clone.ResponseSchemaStrict = &v
	}
	return &clone
}

// SchemaName returns the configured schema name or "response".
func (c *GenerateConfig) SchemaName() string {
	if c == nil || c.ResponseSchemaName == "" {
		return "response"
	}
	return c.ResponseSchemaName
}

// Strict reports whether strict structured output is requested.
func (c *GenerateConfig) Strict() bool {
	if c == nil || c.ResponseSchemaStrict == nil {
		return true
	}
	return *c.ResponseSchemaStrict
}

// Choice returns the tool choice, defaulting to auto.
func (c *GenerateConfig) Choice() ToolChoice {
	if c == nil || c.ToolChoice == "" {
		return ToolChoiceAuto
	}
	return c.ToolChoice
}

// Response contains the result of an LLM call.
type Response struct {
	// Text is the full text, or the delta when Partial is true.
	Text string

	// ToolCalls requested by the model.
	ToolCalls []tool.ToolCall

	// Partial marks a streaming delta.
	Partial bool

	// TurnComplete indicates whether the model has finished its turn.
	TurnComplete bool

	Usage        *Usage
	FinishReason FinishReason
}

// HasToolCalls returns whether the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	if u == nil || other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
	FinishReasonError     FinishReason = "error"
)
