package config

import (
	"fmt"
	"time"

	"github.com/shiroai/shiro/pkg/instruction"
)

// CoordinatorConfig configures the root agent. Empty fields keep the
// built-in Task Coordinator.
type CoordinatorConfig struct {
	Name string `yaml:"name,omitempty"`

	// Instructions is a text/template; {{.Now}} and {{.Zone}} are available.
	Instructions string `yaml:"instructions,omitempty"`

	// ToolChoice is auto, required or none.
	// Default: auto
	ToolChoice string `yaml:"tool_choice,omitempty"`

	// MCP gives the coordinator its own tool server.
	MCP *MCPConfig `yaml:"mcp,omitempty"`
}

func (c *CoordinatorConfig) SetDefaults() {
	if c.ToolChoice == "" {
		c.ToolChoice = "auto"
	}
	if c.MCP != nil {
		c.MCP.SetDefaults()
	}
}

func (c *CoordinatorConfig) Validate() error {
	if err := validateToolChoice(c.ToolChoice); err != nil {
		return err
	}
	if err := validateInstructions(c.Instructions); err != nil {
		return err
	}
	if c.MCP != nil {
		if err := c.MCP.Validate(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
	}
	return nil
}

// IntegrationConfig overrides a built-in service or declares a custom one.
// A custom service needs agent_name and instructions.
type IntegrationConfig struct {
	// AgentName must start with the integration key, e.g. "Jira Agent".
	AgentName string `yaml:"agent_name,omitempty"`

	Instructions string `yaml:"instructions,omitempty"`

	HandoffDescription string `yaml:"handoff_description,omitempty"`

	MCP *MCPConfig `yaml:"mcp,omitempty"`

	ToolChoice string `yaml:"tool_choice,omitempty"`

	// RequiresWebSearch gates the service behind the web_search flag.
	RequiresWebSearch *bool `yaml:"requires_web_search,omitempty"`

	// Disabled removes the service from every request.
	Disabled bool `yaml:"disabled,omitempty"`
}

func (c *IntegrationConfig) SetDefaults() {
	if c.MCP != nil {
		c.MCP.SetDefaults()
	}
}

func (c *IntegrationConfig) Validate() error {
	if err := validateToolChoice(c.ToolChoice); err != nil {
		return err
	}
	if err := validateInstructions(c.Instructions); err != nil {
		return err
	}
	if c.MCP != nil {
		if err := c.MCP.Validate(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
	}
	return nil
}

// MCPConfig points an agent at an MCP server.
type MCPConfig struct {
	// Transport is sse, streamable-http or stdio. Inferred when empty.
	Transport string `yaml:"transport,omitempty"`

	// URL of an HTTP server.
	URL string `yaml:"url,omitempty"`

	// Headers added to every HTTP request, e.g. an Authorization header.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Command, Args and Env launch a stdio server.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Filter exposes only the named tools.
	Filter []string `yaml:"filter,omitempty"`

	// ConnectTimeout bounds the initialize handshake.
	// Default: 30s
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`

	// CallTimeout bounds every tool call. Zero means no limit.
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`
}

func (c *MCPConfig) SetDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
}

func (c *MCPConfig) Validate() error {
	switch c.Transport {
	case "", "sse", "streamable-http", "stdio":
	default:
		return fmt.Errorf("invalid transport %q (valid: sse, streamable-http, stdio)", c.Transport)
	}
	if c.URL == "" && c.Command == "" {
		return fmt.Errorf("url or command is required")
	}
	if c.Transport == "stdio" && c.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}
	if (c.Transport == "sse" || c.Transport == "streamable-http") && c.URL == "" {
		return fmt.Errorf("url is required for %s transport", c.Transport)
	}
	return nil
}

// RunnerConfig tunes the agent loop.
type RunnerConfig struct {
	// MaxTurns bounds LLM calls per request.
	// Default: 10
	MaxTurns int `yaml:"max_turns,omitempty"`

	// MaxHistoryTokens trims the oldest history beyond this budget. Zero
	// keeps everything.
	MaxHistoryTokens int `yaml:"max_history_tokens,omitempty"`

	// StreamDeltas emits message_delta events on /invoke_streamed.
	StreamDeltas bool `yaml:"stream_deltas,omitempty"`

	// TimeZone renders the date in instructions.
	// Default: Asia/Kolkata
	TimeZone string `yaml:"time_zone,omitempty"`

	// WebSearch enables the Search service when a request does not say.
	WebSearch bool `yaml:"web_search,omitempty"`
}

func (c *RunnerConfig) SetDefaults() {
	if c.MaxTurns == 0 {
		c.MaxTurns = 10
	}
	if c.TimeZone == "" {
		c.TimeZone = instruction.DefaultTimeZone
	}
}

func (c *RunnerConfig) Validate() error {
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be positive")
	}
	if c.MaxHistoryTokens < 0 {
		return fmt.Errorf("max_history_tokens must be non-negative")
	}
	if _, err := instruction.LoadLocation(c.TimeZone); err != nil {
		return err
	}
	return nil
}

// validateInstructions renders a configured instruction once. The fields
// available do not depend on the zone, so UTC is enough here.
func validateInstructions(raw string) error {
	if raw == "" {
		return nil
	}
	if err := instruction.Check(raw, time.UTC); err != nil {
		return fmt.Errorf("instructions: %w", err)
	}
	return nil
}

func validateToolChoice(s string) error {
	switch s {
	case "", "auto", "required", "none":
		return nil
	default:
		return fmt.Errorf("invalid tool_choice %q (valid: auto, required, none)", s)
	}
}
