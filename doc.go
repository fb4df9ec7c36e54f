// Package shiro is a personal assistant service that routes each request
// through a coordinator agent to service agents (Gmail, Slack, Calendar,
// Notion, WhatsApp, web search, Apple) backed by MCP tool servers.
//
// # Quick Start
//
// Install:
//
//	go install github.com/shiroai/shiro/cmd/shiro@latest
//
// Describe the model and the tool servers:
//
//	llm:
//	  provider: openai
//	  model: gpt-4o
//	integrations:
//	  gmail:
//	    mcp:
//	      url: ${GMAIL_MCP_URL}
//
// Start the server:
//
//	shiro serve --config shiro.yaml
//
// Then call it:
//
//	curl -X POST localhost:8000/invoke -d '{
//	  "messages": [{"role": "user", "content": "Any unread mail from Asha?"}],
//	  "integrations": ["gmail"]
//	}'
//
// # Packages
//
//   - pkg/assistant: the hierarchical runner
//   - pkg/agent: agents and the run loop
//   - pkg/integration: the service catalog
//   - pkg/server: the HTTP API
//   - pkg/builder: assembles the runner from configuration
//   - pkg/config: configuration and its sources
package shiro
