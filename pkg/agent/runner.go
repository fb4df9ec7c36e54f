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

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/utils"
)

// DefaultMaxTurns bounds a run when Config.MaxTurns is unset.
const DefaultMaxTurns = 10

// ErrMaxTurnsExceeded is returned when a run needs more model calls than
// the runner allows.
var ErrMaxTurnsExceeded = errors.New("max turns exceeded")

// errStopped ends a streamed run whose consumer stopped iterating.
var errStopped = errors.New("event consumer stopped")

// Metrics receives measurements of a run. Implemented by observability.
type Metrics interface {
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
}

// Config configures a Runner.
type Config struct {
	// LLM serves every agent without its own Model.
	LLM model.LLM

	// MaxTurns bounds the number of model calls of a run.
	MaxTurns int

	// MaxHistoryTokens trims the oldest items of the conversation sent to
	// the model. Zero disables trimming.
	MaxHistoryTokens int

	// TokenCounter counts tokens for trimming. Nil uses an estimate.
	TokenCounter *utils.TokenCounter

	// StreamDeltas enables message_delta events in RunStreamed.
	StreamDeltas bool

	// Metrics is optional.
	Metrics Metrics
}

// Runner runs agents.
type Runner struct {
	config Config
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Runner{config: cfg}, nil
}

// MaxTurns returns the effective turn limit.
func (r *Runner) MaxTurns() int {
	return r.config.MaxTurns
}

// Run runs start on input until an agent produces a final answer.
func (r *Runner) Run(ctx context.Context, start *Agent, input []*item.Item) (*RunResult, error) {
	return r.run(ctx, start, input, false, func(*Event) bool { return true })
}

// RunStreamed runs start on input and yields the events of the run. The
// last event of a successful run is EventDone carrying the result. An error
// ends the sequence.
func (r *Runner) RunStreamed(ctx context.Context, start *Agent, input []*item.Item) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		result, err := r.run(ctx, start, input, true, func(e *Event) bool {
			return yield(e, nil)
		})
		if errors.Is(err, errStopped) {
			return
		}
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&Event{Type: EventDone, AgentName: result.LastAgentName(), Result: result}, nil)
	}
}

func (r *Runner) run(ctx context.Context, start *Agent, input []*item.Item, stream bool, emit func(*Event) bool) (*RunResult, error) {
	if err := start.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent: %w", err)
	}

	s := &runState{
		runner:    r,
		agent:     start,
		stream:    stream,
		emit:      emit,
		usedTools: make(map[*Agent]bool),
		result: &RunResult{
			Input:     item.CloneAll(input),
			LastAgent: start,
		},
	}

	if err := s.send(&Event{Type: EventAgentUpdated, AgentName: start.Name}); err != nil {
		return nil, err
	}

	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			slog.Warn("Run cancelled", "agent", s.agent.Name, "turn", turn, "error", err)
			return nil, err
		}
		if turn > r.config.MaxTurns {
			return nil, fmt.Errorf("%w (%d)", ErrMaxTurnsExceeded, r.config.MaxTurns)
		}

		done, err := s.runTurn(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			slog.Debug("Run complete", "agent", s.agent.Name, "turns", turn, "tokens", s.result.Usage.TotalTokens)
			return s.result, nil
		}
	}
}

// runState is the mutable state of one run.
type runState struct {
	runner    *Runner
	agent     *Agent
	result    *RunResult
	usedTools map[*Agent]bool
	stream    bool
	emit      func(*Event) bool
}

func (s *runState) send(e *Event) error {
	if !s.emit(e) {
		return errStopped
	}
	return nil
}

func (s *runState) append(it *item.Item) {
	s.result.NewItems = append(s.result.NewItems, it)
}

// runTurn performs one model call and its tool calls. It reports whether
// the run has a final answer.
func (s *runState) runTurn(ctx context.Context) (bool, error) {
	a := s.agent

	tools, defs, err := a.resolveTools(ctx)
	if err != nil {
		return false, err
	}

	choice := a.ToolChoice
	if choice == model.ToolChoiceRequired && s.usedTools[a] {
		choice = model.ToolChoiceAuto
	}
	if len(defs) == 0 {
		choice = ""
	}

	req := &model.Request{
		Items:             s.history(),
		Tools:             defs,
		SystemInstruction: a.Instructions,
		Config:            a.generateConfig(choice),
	}

	resp, err := s.callLLM(ctx, a, req)
	if err != nil {
		return false, err
	}
	s.result.Usage.Add(resp.Usage)

	text := strings.TrimSpace(resp.Text)
	if text != "" {
		msg := item.AssistantMessage(resp.Text)
		s.append(msg)
		if err := s.send(&Event{Type: EventMessageOutput, AgentName: a.Name, Item: msg}); err != nil {
			return false, err
		}
	}

	if resp.HasToolCalls() {
		return false, s.handleToolCalls(ctx, a, tools, resp)
	}

	if text == "" {
		slog.Debug("Empty model response, running again", "agent", a.Name)
		return false, nil
	}

	s.result.LastAgent = a
	if a.OutputType == nil {
		s.result.FinalOutput = resp.Text
		return true, nil
	}
	out, err := a.OutputType.Decode(text)
	if err != nil {
		return false, err
	}
	s.result.FinalOutput = out
	return true, nil
}

// history returns the conversation sent to the model.
func (s *runState) history() []*item.Item {
	items := s.result.Items()
	budget := s.runner.config.MaxHistoryTokens
	if budget <= 0 {
		return items
	}
	fitted := s.runner.config.TokenCounter.FitItems(items, budget)
	if len(fitted) == 0 {
		// The newest item alone exceeds the budget; let the provider decide.
		return items
	}
	if dropped := len(items) - len(fitted); dropped > 0 {
		slog.Debug("Trimmed conversation history", "agent", s.agent.Name, "dropped", dropped, "budget", budget)
	}
	return fitted
}

func (s *runState) callLLM(ctx context.Context, a *Agent, req *model.Request) (*model.Response, error) {
	llm := a.Model
	if llm == nil {
		llm = s.runner.config.LLM
	}

	started := time.Now()
	var final *model.Response
	for resp, err := range llm.GenerateContent(ctx, req, s.stream) {
		if err != nil {
			s.recordLLM(ctx, llm, started, nil, err)
			return nil, fmt.Errorf("model call for %s failed: %w", a.Name, err)
		}
		if resp == nil {
			continue
		}
		if resp.Partial {
			if s.runner.config.StreamDeltas && resp.Text != "" {
				if err := s.send(&Event{Type: EventMessageDelta, AgentName: a.Name, Delta: resp.Text}); err != nil {
					return nil, err
				}
			}
			continue
		}
		final = resp
	}
	if final == nil {
		err := fmt.Errorf("model %s returned no response", llm.Name())
		s.recordLLM(ctx, llm, started, nil, err)
		return nil, err
	}
	s.recordLLM(ctx, llm, started, final.Usage, nil)
	return final, nil
}

func (s *runState) recordLLM(ctx context.Context, llm model.LLM, started time.Time, usage *model.Usage, err error) {
	m := s.runner.config.Metrics
	if m == nil {
		return
	}
	var in, out int
	if usage != nil {
		in, out = usage.PromptTokens, usage.CompletionTokens
	}
	m.RecordLLMCall(ctx, llm.Name(), time.Since(started), in, out, err)
}

// formatToolResult encodes a tool result as the function_call_output text.
// A lone "result" string is passed through unchanged.
func formatToolResult(result map[string]any) string {
	if result == nil {
		return "(no output)"
	}
	if len(result) == 1 {
		if text, ok := result["result"].(string); ok {
			return text
		}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

func errorOutput(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
