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

package model

import (
	"strings"

	"github.com/shiroai/shiro/pkg/tool"
)

// StreamingAggregator accumulates streamed chunks into the final response.
//
// Providers feed text deltas and completed tool calls as they parse their
// wire stream; Close returns the aggregated, non-partial response.
type StreamingAggregator struct {
	text         strings.Builder
	toolCalls    []tool.ToolCall
	seenCalls    map[string]bool
	usage        *Usage
	finishReason FinishReason
	closed       bool
}

// NewStreamingAggregator creates an empty aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{seenCalls: make(map[string]bool)}
}

// TextDelta records delta and returns the partial response to yield.
// Empty deltas return nil.
func (a *StreamingAggregator) TextDelta(delta string) *Response {
	if delta == "" {
		return nil
	}
	a.text.WriteString(delta)
	return &Response{Text: delta, Partial: true}
}

// AddToolCall records a completed tool call. Calls with an already seen ID
// are ignored.
func (a *StreamingAggregator) AddToolCall(tc tool.ToolCall) {
	if tc.ID != "" {
		if a.seenCalls[tc.ID] {
			return
		}
		a.seenCalls[tc.ID] = true
	}
	if tc.Args == nil {
		tc.Args = map[string]any{}
	}
	a.toolCalls = append(a.toolCalls, tc)
}

// SetUsage records token usage.
func (a *StreamingAggregator) SetUsage(u *Usage) {
	a.usage = u
}

// SetFinishReason records why generation stopped.
func (a *StreamingAggregator) SetFinishReason(r FinishReason) {
	a.finishReason = r
}

// Close returns the aggregated response. Subsequent calls return nil.
func (a *StreamingAggregator) Close() *Response {
	if a.closed {
		return nil
	}
	a.closed = true

	finish := a.finishReason
	if finish == "" {
		finish = FinishReasonStop
		if len(a.toolCalls) > 0 {
			finish = FinishReasonToolCalls
		}
	}

	return &Response{
		Text:         a.text.String(),
		ToolCalls:    a.toolCalls,
		TurnComplete: true,
		Usage:        a.usage,
		FinishReason: finish,
	}
}
