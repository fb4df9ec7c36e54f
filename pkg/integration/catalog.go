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

// Package integration is the catalog of service agents the coordinator can
// hand a conversation to.
//
// Each Definition describes one service agent: its instructions, the MCP
// server that provides its tools, its tool choice and the schema of its
// structured answer. Definitions are data; the assistant package turns the
// enabled ones into agents for every invocation.
package integration

import (
	"fmt"
	"strings"

	"github.com/shiroai/shiro/pkg/agent"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/tool/mcptoolset"
)

// Service names an integrated service.
type Service string

const (
	ServiceGmail    Service = "Gmail"
	ServiceSlack    Service = "Slack"
	ServiceCalendar Service = "Calendar"
	ServiceNotion   Service = "Notion"
	ServiceWhatsapp Service = "Whatsapp"
	ServiceSearch   Service = "Search"
	ServiceApple    Service = "Apple"
)

// Services lists the built-in services in catalog order.
var Services = []Service{
	ServiceGmail,
	ServiceSlack,
	ServiceCalendar,
	ServiceSearch,
	ServiceWhatsapp,
	ServiceNotion,
	ServiceApple,
}

// Definition describes a service agent.
type Definition struct {
	Service Service

	// AgentName is the agent name. Its first word is the integration key
	// clients request.
	AgentName string

	// Instructions is a text/template rendered at invocation time. See
	// TemplateData for the available fields.
	Instructions string

	HandoffDescription string

	// MCP is the tool server of the agent. Nil runs the agent without tools.
	MCP *mcptoolset.Config

	ToolChoice model.ToolChoice

	// OutputType is the structured answer schema, nil for free text.
	OutputType *agent.OutputSchema

	// RequiresWebSearch gates the definition behind the web_search flag.
	RequiresWebSearch bool

	// Disabled removes the definition from every selection.
	Disabled bool
}

// Key returns the integration key of the definition: the lower-cased first
// word of its agent name.
func (d *Definition) Key() string {
	name := strings.TrimSpace(d.AgentName)
	if i := strings.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// Transport returns the MCP transport, or "" without a tool server.
func (d *Definition) Transport() string {
	if d.MCP == nil {
		return ""
	}
	if d.MCP.Transport != "" {
		return d.MCP.Transport
	}
	if d.MCP.Command != "" {
		return mcptoolset.TransportStdio
	}
	return mcptoolset.TransportSSE
}

// Validate checks a definition.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.AgentName) == "" {
		return fmt.Errorf("integration %q: agent name is required", d.Service)
	}
	if strings.TrimSpace(d.Instructions) == "" {
		return fmt.Errorf("integration %q: instructions are required", d.AgentName)
	}
	if d.MCP != nil && d.MCP.URL == "" && d.MCP.Command == "" {
		return fmt.Errorf("integration %q: mcp requires url or command", d.AgentName)
	}
	return nil
}

// Clone returns a copy that can be modified without affecting d.
func (d *Definition) Clone() *Definition {
	c := *d
	if d.MCP != nil {
		mcp := *d.MCP
		mcp.Args = append([]string(nil), d.MCP.Args...)
		mcp.Filter = append([]string(nil), d.MCP.Filter...)
		mcp.Headers = cloneMap(d.MCP.Headers)
		mcp.Env = cloneMap(d.MCP.Env)
		c.MCP = &mcp
	}
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

const (
	gmailInstructions = "You are a helpful assistant that can handle gmail tasks. " +
		"Current date and time in {{.Zone}}: {{.Now}}. " +
		"1) Before sending an email, first create a draft, show it to the user and ask for confirmation. " +
		"If the user confirms, send the email by calling the required tool. " +
		"2) If the user would like to summarise their emails, fetch them according to the user's query " +
		"and summarise them concisely before showing it to the user."

	slackInstructions = "You are a helpful assistant that can handle slack tasks. " +
		"1) Before sending a message, first create a draft, show it to the user and ask for confirmation. " +
		"If the user confirms, send the message."

	calendarInstructions = "You handle calendar scheduling and querying. " +
		"Current date and time in {{.Zone}}: {{.Now}}. All schedules should be in {{.Zone}}. " +
		"1) When asked to schedule an event, first confirm the date, time and attendees. " +
		"If the user confirms, schedule the event."

	searchInstructions = "You can search the web for up to date information and answer questions " +
		"which require the latest information."

	notionInstructions = "You can create, read, update and delete notes in Notion. Be concise in your responses."

	whatsappInstructions = "You can send and receive messages from whatsapp."

	appleInstructions = "You can use apple services like imessage and notes."
)

// Defaults returns the built-in catalog. HTTP tool servers have no default
// URL and must be configured; Whatsapp and Apple default to local stdio
// servers.
func Defaults() ([]*Definition, error) {
	gmail, err := agent.OutputTypeOf[GmailOutput]("gmail_output")
	if err != nil {
		return nil, err
	}
	slack, err := agent.OutputTypeOf[SlackOutput]("slack_output")
	if err != nil {
		return nil, err
	}
	calendar, err := agent.OutputTypeOf[CalendarOutput]("calendar_output")
	if err != nil {
		return nil, err
	}
	notion, err := agent.OutputTypeOf[NotionOutput]("notion_output")
	if err != nil {
		return nil, err
	}
	whatsapp, err := agent.OutputTypeOf[WhatsappOutput]("whatsapp_output")
	if err != nil {
		return nil, err
	}

	return []*Definition{
		{
			Service:            ServiceGmail,
			AgentName:          "Gmail Agent",
			Instructions:       gmailInstructions,
			HandoffDescription: "Drafts, sends, fetches and summarises emails.",
			ToolChoice:         model.ToolChoiceRequired,
			OutputType:         gmail,
		},
		{
			Service:            ServiceSlack,
			AgentName:          "Slack Agent",
			Instructions:       slackInstructions,
			HandoffDescription: "Drafts and sends Slack messages.",
			ToolChoice:         model.ToolChoiceRequired,
			OutputType:         slack,
		},
		{
			Service:            ServiceCalendar,
			AgentName:          "Calendar Agent",
			Instructions:       calendarInstructions,
			HandoffDescription: "Schedules and lists calendar events.",
			ToolChoice:         model.ToolChoiceRequired,
			OutputType:         calendar,
		},
		{
			Service:            ServiceSearch,
			AgentName:          "Search Agent",
			Instructions:       searchInstructions,
			HandoffDescription: "Answers questions that need up to date information from the web.",
			ToolChoice:         model.ToolChoiceAuto,
			RequiresWebSearch:  true,
		},
		{
			Service:            ServiceWhatsapp,
			AgentName:          "Whatsapp Agent",
			Instructions:       whatsappInstructions,
			HandoffDescription: "Sends and reads Whatsapp messages.",
			MCP: &mcptoolset.Config{
				Name:      "Whatsapp Agent Server",
				Transport: mcptoolset.TransportStdio,
				Command:   "uv",
				Args:      []string{"--directory", "whatsapp-mcp-server", "run", "main.py"},
			},
			ToolChoice: model.ToolChoiceRequired,
			OutputType: whatsapp,
		},
		{
			Service:            ServiceNotion,
			AgentName:          "Notion Agent",
			Instructions:       notionInstructions,
			HandoffDescription: "Creates, reads, updates and deletes Notion notes.",
			ToolChoice:         model.ToolChoiceRequired,
			OutputType:         notion,
		},
		{
			Service:            ServiceApple,
			AgentName:          "Apple Agent",
			Instructions:       appleInstructions,
			HandoffDescription: "Uses iMessage and Apple Notes.",
			MCP: &mcptoolset.Config{
				Name:      "Apple Agent Server",
				Transport: mcptoolset.TransportStdio,
				Command:   "bunx",
				Args:      []string{"@dhravya/apple-mcp@latest"},
			},
			ToolChoice: model.ToolChoiceAuto,
		},
	}, nil
}
