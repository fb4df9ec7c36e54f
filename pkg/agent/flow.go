package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/tool"
)

const multipleHandoffsOutput = "Multiple handoffs detected, ignoring this one."

type toolOutcome struct {
	output   string
	transfer string
}

// handleToolCalls executes the tool calls of resp concurrently and records
// calls and outputs in request order. The first handoff of the turn switches
// the current agent; later handoffs are ignored.
func (s *runState) handleToolCalls(ctx context.Context, a *Agent, tools map[string]tool.Tool, resp *model.Response) error {
	s.usedTools[a] = true

	calls := resp.ToolCalls
	for _, tc := range calls {
		callItem := item.FunctionCall(tc.ID, tc.Name, tc.Args)
		s.append(callItem)
		if err := s.send(&Event{Type: EventToolCall, AgentName: a.Name, Item: callItem}); err != nil {
			return err
		}
	}

	outcomes := make([]toolOutcome, len(calls))
	var g errgroup.Group
	for i, tc := range calls {
		g.Go(func() error {
			outcomes[i] = s.executeTool(ctx, a, tools, tc)
			return nil
		})
	}
	_ = g.Wait()

	var next *Agent
	for i, tc := range calls {
		out := outcomes[i]
		if out.transfer != "" {
			switch target := a.handoff(out.transfer); {
			case next != nil:
				out.output = multipleHandoffsOutput
			case target == nil:
				out.output = fmt.Sprintf("Error: agent %q is not a handoff of %s", out.transfer, a.Name)
			default:
				next = target
			}
		}

		outputItem := item.FunctionCallOutput(tc.ID, out.output)
		s.append(outputItem)
		if err := s.send(&Event{Type: EventToolOutput, AgentName: a.Name, Item: outputItem}); err != nil {
			return err
		}
	}

	if next != nil {
		slog.Info("Agent handoff", "from", a.Name, "to", next.Name)
		s.agent = next
		s.result.LastAgent = next
		return s.send(&Event{Type: EventAgentUpdated, AgentName: next.Name})
	}
	return nil
}

func (s *runState) executeTool(ctx context.Context, a *Agent, tools map[string]tool.Tool, tc tool.ToolCall) toolOutcome {
	t, ok := tools[tc.Name]
	if !ok {
		slog.Warn("Model called unknown tool", "agent", a.Name, "tool", tc.Name)
		return toolOutcome{output: fmt.Sprintf("Error: tool %q not found", tc.Name)}
	}
	ct, ok := t.(tool.CallableTool)
	if !ok {
		return toolOutcome{output: fmt.Sprintf("Error: tool %q is not callable", tc.Name)}
	}

	args := tc.Args
	if args == nil {
		args = map[string]any{}
	}

	toolCtx := tool.NewContext(ctx, a.Name, tc.ID)
	started := time.Now()
	result, err := ct.Call(toolCtx, args)
	if m := s.runner.config.Metrics; m != nil {
		m.RecordToolExecution(ctx, tc.Name, time.Since(started), err)
	}
	if err != nil {
		slog.Warn("Tool call failed", "agent", a.Name, "tool", tc.Name, "call_id", tc.ID, "error", err)
		return toolOutcome{output: errorOutput(err)}
	}

	slog.Debug("Tool call completed", "agent", a.Name, "tool", tc.Name, "duration", time.Since(started))
	return toolOutcome{
		output:   formatToolResult(result),
		transfer: toolCtx.Actions().TransferToAgent,
	}
}
