package builder

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/shiroai/shiro/pkg/agent"
	"github.com/shiroai/shiro/pkg/assistant"
	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/instruction"
	"github.com/shiroai/shiro/pkg/integration"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/observability"
	"github.com/shiroai/shiro/pkg/utils"
)

// Options carries process-wide collaborators into Build.
type Options struct {
	// LLM replaces the model of the llm section.
	LLM model.LLM

	Tracer  trace.Tracer
	Metrics *observability.Metrics

	// Now replaces the clock.
	Now func() time.Time
}

// Assistant is a runner together with the model it owns.
type Assistant struct {
	*assistant.HierarchicalRunner
	llm      model.LLM
	ownedLLM bool
}

// Close releases the model when Build created it.
func (a *Assistant) Close() error {
	if a.ownedLLM {
		return a.llm.Close()
	}
	return nil
}

// Build creates the assistant cfg describes. cfg must be defaulted and
// valid, as returned by config.Loader.
func Build(cfg *config.Config, opts Options) (*Assistant, error) {
	defs, err := Definitions(cfg.Integrations)
	if err != nil {
		return nil, err
	}

	loc, err := instruction.LoadLocation(cfg.Runner.TimeZone)
	if err != nil {
		return nil, err
	}

	if missing := withoutToolServer(defs); len(missing) > 0 {
		slog.Warn("Integrations have no MCP server configured and will run without tools",
			"integrations", missing)
	}

	llm, owned := opts.LLM, false
	if llm == nil {
		llm, err = LLMFromConfig(&cfg.LLM)
		if err != nil {
			return nil, err
		}
		owned = true
	}

	runnerCfg := agent.Config{
		LLM:              llm,
		MaxTurns:         cfg.Runner.MaxTurns,
		MaxHistoryTokens: cfg.Runner.MaxHistoryTokens,
		StreamDeltas:     cfg.Runner.StreamDeltas,
	}
	if opts.Metrics != nil {
		runnerCfg.Metrics = opts.Metrics
	}
	if cfg.Runner.MaxHistoryTokens > 0 {
		counter, err := utils.NewTokenCounter(llm.Name())
		if err != nil {
			slog.Warn("Token counter unavailable, estimating history size", "model", llm.Name(), "error", err)
		}
		runnerCfg.TokenCounter = counter
	}

	fail := func(err error) (*Assistant, error) {
		if owned {
			_ = llm.Close()
		}
		return nil, err
	}

	runner, err := agent.NewRunner(runnerCfg)
	if err != nil {
		return fail(err)
	}

	hcfg := assistant.Config{
		Coordinator: Coordinator(&cfg.Coordinator),
		Definitions: defs,
		Runner:      runner,
		Location:    loc,
		WebSearch:   cfg.Runner.WebSearch,
		Now:         opts.Now,
		Tracer:      opts.Tracer,
	}
	if opts.Metrics != nil {
		hcfg.Metrics = opts.Metrics
	}
	h, err := assistant.New(hcfg)
	if err != nil {
		return fail(err)
	}

	slog.Debug("Assistant built",
		"coordinator", h.CoordinatorName(),
		"model", llm.Name(),
		"integrations", integration.Keys(defs),
	)
	return &Assistant{HierarchicalRunner: h, llm: llm, ownedLLM: owned}, nil
}

// Validate runs every check Build runs without creating a model: the
// integration overrides, the time zone and a trial render of every
// instruction.
func Validate(cfg *config.Config) error {
	defs, err := Definitions(cfg.Integrations)
	if err != nil {
		return err
	}
	loc, err := instruction.LoadLocation(cfg.Runner.TimeZone)
	if err != nil {
		return err
	}
	return assistant.CheckInstructions(Coordinator(&cfg.Coordinator), defs, loc)
}

// withoutToolServer returns the keys of enabled built-in services that have
// no MCP server.
func withoutToolServer(defs []*integration.Definition) []string {
	var keys []string
	for _, d := range defs {
		if d.Disabled || d.MCP != nil || !slices.Contains(integration.Services, d.Service) {
			continue
		}
		keys = append(keys, d.Key())
	}
	return keys
}

// Coordinator applies the coordinator section to the built-in Task
// Coordinator.
func Coordinator(cfg *config.CoordinatorConfig) assistant.Coordinator {
	c := assistant.DefaultCoordinator()
	if cfg.Name != "" {
		c.Name = cfg.Name
	}
	if cfg.Instructions != "" {
		c.Instructions = cfg.Instructions
	}
	if cfg.ToolChoice != "" {
		c.ToolChoice = model.ParseToolChoice(cfg.ToolChoice)
	}
	c.MCP = MCPFromConfig(c.Name+" Server", cfg.MCP)
	return c
}

// Definitions merges the integrations section into the built-in catalog.
// A key naming a built-in service overrides its fields; any other key
// declares a custom service, appended in key order.
func Definitions(overrides map[string]*config.IntegrationConfig) ([]*integration.Definition, error) {
	defs, err := integration.Defaults()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		ic := overrides[key]
		if ic == nil {
			continue
		}
		if d, ok := integration.Find(defs, key); ok {
			if err := applyOverride(d, key, ic); err != nil {
				return nil, err
			}
			continue
		}

		d, err := customDefinition(key, ic)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func applyOverride(d *integration.Definition, key string, ic *config.IntegrationConfig) error {
	if ic.AgentName != "" {
		d.AgentName = ic.AgentName
		if d.Key() != strings.ToLower(key) {
			return fmt.Errorf("integrations.%s: agent_name %q must start with %q", key, ic.AgentName, key)
		}
	}
	if ic.Instructions != "" {
		d.Instructions = ic.Instructions
	}
	if ic.HandoffDescription != "" {
		d.HandoffDescription = ic.HandoffDescription
	}
	if ic.MCP != nil {
		d.MCP = MCPFromConfig(d.AgentName+" Server", ic.MCP)
	}
	if ic.ToolChoice != "" {
		d.ToolChoice = model.ParseToolChoice(ic.ToolChoice)
	}
	if ic.RequiresWebSearch != nil {
		d.RequiresWebSearch = *ic.RequiresWebSearch
	}
	d.Disabled = ic.Disabled
	return nil
}

func customDefinition(key string, ic *config.IntegrationConfig) (*integration.Definition, error) {
	if ic.AgentName == "" || ic.Instructions == "" {
		return nil, fmt.Errorf("integrations.%s: custom integrations need agent_name and instructions", key)
	}
	d := &integration.Definition{
		Service:            integration.Service(ic.AgentName),
		AgentName:          ic.AgentName,
		Instructions:       ic.Instructions,
		HandoffDescription: ic.HandoffDescription,
		MCP:                MCPFromConfig(ic.AgentName+" Server", ic.MCP),
		ToolChoice:         model.ParseToolChoice(ic.ToolChoice),
		RequiresWebSearch:  config.BoolValue(ic.RequiresWebSearch, false),
		Disabled:           ic.Disabled,
	}
	if d.Key() != strings.ToLower(key) {
		return nil, fmt.Errorf("integrations.%s: agent_name %q must start with %q", key, ic.AgentName, key)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
