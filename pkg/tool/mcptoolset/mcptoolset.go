// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptoolset exposes the tools of an MCP server as a tool.Toolset.
//
// A Toolset owns one client connection. Each invocation of the assistant
// creates its toolsets, calls Connect, and calls Close when the run is over,
// so a broken server only affects the requests that use it.
//
// Transports:
//   - sse: legacy HTTP+SSE (GET stream, POST endpoint)
//   - streamable-http: single endpoint HTTP transport
//   - stdio: a subprocess speaking JSON-RPC over stdin/stdout
package mcptoolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/shiroai/shiro/pkg/tool"
)

// Transport names.
const (
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
	TransportStdio          = "stdio"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultCallTimeout    = 2 * time.Minute

	clientName    = "shiro"
	clientVersion = "1.0.0"
)

// ErrNotConnected is returned when tools are requested before Connect.
var ErrNotConnected = errors.New("mcp toolset is not connected")

// Config configures an MCP toolset.
type Config struct {
	// Name identifies the toolset in logs and errors.
	Name string

	// Transport is sse, streamable-http or stdio. Empty means stdio when
	// Command is set and sse otherwise.
	Transport string

	// URL of the server for HTTP transports.
	URL string

	// Headers sent with every HTTP request.
	Headers map[string]string

	// Command, Args and Env start a stdio server.
	Command string
	Args    []string
	Env     map[string]string

	// Filter limits the exposed tools to these names.
	Filter []string

	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// Toolset is an MCP-backed toolset.
type Toolset struct {
	cfg    Config
	filter tool.Predicate

	mu     sync.RWMutex
	client *client.Client
	tools  []tool.Tool
}

// New validates cfg and returns an unconnected toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.Transport == "" {
		if cfg.Command != "" {
			cfg.Transport = TransportStdio
		} else {
			cfg.Transport = TransportSSE
		}
	}

	switch cfg.Transport {
	case TransportSSE, TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp %s: url is required for %s transport", cfg.Name, cfg.Transport)
		}
	case TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp %s: command is required for stdio transport", cfg.Name)
		}
	default:
		return nil, fmt.Errorf("mcp %s: unknown transport %q", cfg.Name, cfg.Transport)
	}

	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	return &Toolset{cfg: cfg, filter: tool.StringPredicate(cfg.Filter)}, nil
}

// Name returns the toolset name.
func (t *Toolset) Name() string {
	return t.cfg.Name
}

// Connect opens the client, performs the MCP handshake and lists the tools.
// Calling Connect on a connected toolset is a no-op.
func (t *Toolset) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	c, err := t.newClient()
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	// The SSE transport ties its event stream to the Start context, so it
	// must outlive ctx. Close tears it down.
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]tool.Tool, 0, len(listResp.Tools))
	for _, mt := range listResp.Tools {
		w := &mcpTool{toolset: t, name: mt.Name, desc: mt.Description, schema: convertSchema(mt)}
		if t.filter(w) {
			tools = append(tools, w)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })

	t.client = c
	t.tools = tools

	slog.Info("Connected to MCP server",
		"name", t.cfg.Name,
		"transport", t.cfg.Transport,
		"tools", len(tools))
	return nil
}

func (t *Toolset) newClient() (*client.Client, error) {
	switch t.cfg.Transport {
	case TransportStdio:
		return client.NewStdioMCPClient(t.cfg.Command, envList(t.cfg.Env), t.cfg.Args...)
	case TransportStreamableHTTP:
		opts := []transport.StreamableHTTPCOption{transport.WithHTTPTimeout(t.cfg.CallTimeout)}
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(t.cfg.Headers))
		}
		return client.NewStreamableHttpClient(t.cfg.URL, opts...)
	default:
		opts := []transport.ClientOption{client.WithHTTPClient(&http.Client{})}
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, client.WithHeaders(t.cfg.Headers))
		}
		return client.NewSSEMCPClient(t.cfg.URL, opts...)
	}
}

// Tools returns the tools listed during Connect.
func (t *Toolset) Tools(context.Context) ([]tool.Tool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.client == nil {
		return nil, fmt.Errorf("%s: %w", t.cfg.Name, ErrNotConnected)
	}
	return t.tools, nil
}

// Close releases the connection. It is safe to call on an unconnected toolset.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.tools = nil
	slog.Debug("Closed MCP connection", "name", t.cfg.Name)
	return err
}

func (t *Toolset) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.mu.RLock()
	c := t.client
	t.mu.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("%s: %w", t.cfg.Name, ErrNotConnected)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.CallTool(ctx, req)
}

type mcpTool struct {
	toolset *Toolset
	name    string
	desc    string
	schema  map[string]any
}

func (w *mcpTool) Name() string           { return w.name }
func (w *mcpTool) Description() string    { return w.desc }
func (w *mcpTool) Schema() map[string]any { return w.schema }

// Call invokes the tool. A tool-level failure (isError) is returned as an
// {"error": ...} result so the model can react to it; only transport
// failures are Go errors.
func (w *mcpTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	resp, err := w.toolset.call(ctx, w.name, args)
	if err != nil {
		return nil, fmt.Errorf("MCP call %s failed: %w", w.name, err)
	}
	return parseResult(resp), nil
}

func parseResult(resp *mcp.CallToolResult) map[string]any {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}

	result := map[string]any{}
	if resp.IsError {
		if len(texts) > 0 {
			result["error"] = strings.Join(texts, "\n")
		} else {
			result["error"] = "unknown error"
		}
		return result
	}

	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	if resp.StructuredContent != nil {
		result["structured"] = resp.StructuredContent
	}
	return result
}

func convertSchema(mt mcp.Tool) map[string]any {
	var data []byte
	var err error
	if len(mt.RawInputSchema) > 0 {
		data = mt.RawInputSchema
	} else if data, err = json.Marshal(mt.InputSchema); err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	if result["type"] == "object" && result["properties"] == nil {
		result["properties"] = map[string]any{}
	}
	return result
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

var (
	_ tool.Toolset      = (*Toolset)(nil)
	_ tool.Connector    = (*Toolset)(nil)
	_ tool.CallableTool = (*mcpTool)(nil)
)
