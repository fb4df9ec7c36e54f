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

// Package assistant builds and runs the agent hierarchy of one request.
//
// Every invocation is self-contained: the service agents selected by the
// request are created, their MCP tool servers are connected, the Task
// Coordinator runs with handoffs to them, and every tool server is closed
// before the invocation returns. Nothing is shared between requests except
// configuration and the LLM.
package assistant

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shiroai/shiro/pkg/agent"
	"github.com/shiroai/shiro/pkg/instruction"
	"github.com/shiroai/shiro/pkg/integration"
	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/tool"
	"github.com/shiroai/shiro/pkg/tool/mcptoolset"
)

const tracerName = "github.com/shiroai/shiro/pkg/assistant"

// Invocation modes reported to metrics.
const (
	ModeInvoke   = "invoke"
	ModeStreamed = "streamed"
)

const coordinatorInstructions = "You are Shiro, a highly efficient personal assistant. " +
	"Current date and time in {{.Zone}}: {{.Now}}. " +
	"Carefully analyze each user request to determine if it requires Gmail, Slack, Notion, Whatsapp, or Calendar functionality. " +
	"When appropriate, delegate to the specialized agent without hesitation."

// Coordinator configures the root agent.
type Coordinator struct {
	Name         string
	Instructions string
	MCP          *mcptoolset.Config
	ToolChoice   model.ToolChoice
}

// DefaultCoordinator returns the Task Coordinator.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		Name:         "Task Coordinator",
		Instructions: coordinatorInstructions,
		ToolChoice:   model.ToolChoiceAuto,
	}
}

// Metrics receives one measurement per invocation.
type Metrics interface {
	RecordInvocation(ctx context.Context, mode string, duration time.Duration, err error)
}

// Config configures a HierarchicalRunner.
type Config struct {
	Coordinator Coordinator
	Definitions []*integration.Definition
	Runner      *agent.Runner

	// Location renders {{.Now}} and backs current_time. Nil means
	// instruction.DefaultTimeZone.
	Location *time.Location

	// WebSearch is the default of InvokeRequest.WebSearch.
	WebSearch bool

	// Now replaces the clock in tests.
	Now func() time.Time

	Tracer  trace.Tracer
	Metrics Metrics
}

// InvokeRequest is one request to the assistant.
type InvokeRequest struct {
	// Items is the conversation so far, newest last.
	Items []*item.Item

	// Integrations are the integration keys the user enabled.
	Integrations []string

	// WebSearch overrides the runner default when set.
	WebSearch *bool

	// TraceID correlates logs and spans. Generated when empty.
	TraceID string
}

// HierarchicalRunner runs the coordinator and its service agents.
type HierarchicalRunner struct {
	coordinator Coordinator
	definitions []*integration.Definition
	runner      *agent.Runner
	location    *time.Location
	webSearch   bool
	now         func() time.Time
	tracer      trace.Tracer
	metrics     Metrics
}

// New creates a HierarchicalRunner.
func New(cfg Config) (*HierarchicalRunner, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Coordinator.Name == "" {
		cfg.Coordinator.Name = DefaultCoordinator().Name
	}
	if cfg.Coordinator.Instructions == "" {
		cfg.Coordinator.Instructions = coordinatorInstructions
	}
	if cfg.Location == nil {
		loc, err := instruction.LoadLocation("")
		if err != nil {
			return nil, err
		}
		cfg.Location = loc
	}
	if err := CheckInstructions(cfg.Coordinator, cfg.Definitions, cfg.Location); err != nil {
		return nil, err
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	return &HierarchicalRunner{
		coordinator: cfg.Coordinator,
		definitions: cfg.Definitions,
		runner:      cfg.Runner,
		location:    cfg.Location,
		webSearch:   cfg.WebSearch,
		now:         cfg.Now,
		tracer:      cfg.Tracer,
		metrics:     cfg.Metrics,
	}, nil
}

// CheckInstructions validates the catalog and renders every instruction
// once, so a template referencing an unknown field fails here instead of on
// every request.
func CheckInstructions(coord Coordinator, defs []*integration.Definition, loc *time.Location) error {
	if coord.Instructions == "" {
		coord.Instructions = coordinatorInstructions
	}
	if err := instruction.Check(coord.Instructions, loc); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	names := map[string]bool{coord.Name: true}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if names[d.AgentName] {
			return fmt.Errorf("duplicate agent name %q", d.AgentName)
		}
		names[d.AgentName] = true
		if err := instruction.Check(d.Instructions, loc); err != nil {
			return fmt.Errorf("integration %s: %w", d.AgentName, err)
		}
	}
	return nil
}

// Definitions returns the catalog of the runner.
func (h *HierarchicalRunner) Definitions() []*integration.Definition {
	return h.definitions
}

// CoordinatorName returns the name of the root agent.
func (h *HierarchicalRunner) CoordinatorName() string {
	return h.coordinator.Name
}

// Invoke runs the hierarchy to completion.
func (h *HierarchicalRunner) Invoke(ctx context.Context, req InvokeRequest) (result *agent.RunResult, err error) {
	ctx, span, traceID := h.startSpan(ctx, req, h.coordinator.Name+" Workflow")
	started := time.Now()
	defer func() {
		h.finish(ctx, span, ModeInvoke, started, err)
	}()

	root, inv, err := h.prepare(ctx, req, traceID)
	if err != nil {
		return nil, err
	}
	defer inv.close()

	return h.runner.Run(ctx, root, req.Items)
}

// InvokeStreamed runs the hierarchy and yields its events. A tool server
// failure is yielded as the first and only error.
func (h *HierarchicalRunner) InvokeStreamed(ctx context.Context, req InvokeRequest) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		ctx, span, traceID := h.startSpan(ctx, req, h.coordinator.Name+" Workflow (Streamed)")
		started := time.Now()
		var runErr error
		defer func() {
			h.finish(ctx, span, ModeStreamed, started, runErr)
		}()

		root, inv, err := h.prepare(ctx, req, traceID)
		if err != nil {
			runErr = err
			yield(nil, err)
			return
		}
		defer inv.close()

		for event, err := range h.runner.RunStreamed(ctx, root, req.Items) {
			if err != nil {
				runErr = err
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

func (h *HierarchicalRunner) startSpan(ctx context.Context, req InvokeRequest, name string) (context.Context, trace.Span, string) {
	traceID := req.TraceID
	if traceID == "" {
		traceID = NewTraceID()
	}
	ctx, span := h.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("shiro.trace_id", traceID),
			attribute.StringSlice("shiro.integrations", req.Integrations),
			attribute.Int("shiro.input_items", len(req.Items)),
		),
	)
	return ctx, span, traceID
}

func (h *HierarchicalRunner) finish(ctx context.Context, span trace.Span, mode string, started time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	if h.metrics != nil {
		h.metrics.RecordInvocation(ctx, mode, time.Since(started), err)
	}
}

// NewTraceID returns a new trace identifier.
func NewTraceID() string {
	return "trace_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// invocation holds the resources of one request.
type invocation struct {
	toolsets []*mcptoolset.Toolset
}

func (inv *invocation) close() {
	for _, ts := range inv.toolsets {
		if err := ts.Close(); err != nil {
			slog.Warn("Failed to close MCP toolset", "name", ts.Name(), "error", err)
		}
	}
}

type pendingToolset struct {
	agent   string
	toolset *mcptoolset.Toolset
}

// prepare builds the agent hierarchy of req and connects its tool servers.
func (h *HierarchicalRunner) prepare(ctx context.Context, req InvokeRequest, traceID string) (*agent.Agent, *invocation, error) {
	webSearch := h.webSearch
	if req.WebSearch != nil {
		webSearch = *req.WebSearch
	}
	defs := integration.Select(h.definitions, req.Integrations, webSearch)
	data := instruction.NewData(h.now(), h.location)

	slog.Info("Starting invocation",
		"trace_id", traceID,
		"agents", len(defs),
		"integrations", strings.Join(integration.Keys(defs), ","))

	inv := &invocation{}
	var pending []pendingToolset
	addToolset := func(agentName string, cfg *mcptoolset.Config) (*mcptoolset.Toolset, error) {
		if cfg == nil {
			return nil, nil
		}
		c := *cfg
		if c.Name == "" {
			c.Name = agentName + " Server"
		}
		ts, err := mcptoolset.New(c)
		if err != nil {
			return nil, &ToolServerError{Agent: agentName, Err: err}
		}
		pending = append(pending, pendingToolset{agent: agentName, toolset: ts})
		inv.toolsets = append(inv.toolsets, ts)
		return ts, nil
	}

	handoffs := make([]*agent.Agent, 0, len(defs))
	for _, d := range defs {
		text, err := instruction.Render(d.Instructions, data)
		if err != nil {
			return nil, nil, fmt.Errorf("integration %s: %w", d.AgentName, err)
		}
		a := &agent.Agent{
			Name:               d.AgentName,
			Instructions:       text,
			HandoffDescription: d.HandoffDescription,
			ToolChoice:         d.ToolChoice,
			OutputType:         d.OutputType,
		}
		ts, err := addToolset(d.AgentName, d.MCP)
		if err != nil {
			return nil, nil, err
		}
		if ts != nil {
			a.Toolsets = []tool.Toolset{ts}
		}
		handoffs = append(handoffs, a)
	}

	text, err := instruction.Render(h.coordinator.Instructions, data)
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator: %w", err)
	}
	currentTime, err := newCurrentTimeTool(h.now, h.location)
	if err != nil {
		return nil, nil, err
	}
	root := &agent.Agent{
		Name:         h.coordinator.Name,
		Instructions: text,
		Tools:        []tool.Tool{currentTime},
		Handoffs:     handoffs,
		ToolChoice:   h.coordinator.ToolChoice,
	}
	ts, err := addToolset(h.coordinator.Name, h.coordinator.MCP)
	if err != nil {
		return nil, nil, err
	}
	if ts != nil {
		root.Toolsets = []tool.Toolset{ts}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pending {
		g.Go(func() error {
			if err := p.toolset.Connect(gctx); err != nil {
				slog.Error("Failed to initialize tool server", "trace_id", traceID, "agent", p.agent, "error", err)
				return &ToolServerError{Agent: p.agent, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		inv.close()
		return nil, nil, err
	}

	return root, inv, nil
}
