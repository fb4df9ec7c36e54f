package mcptoolset

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroai/shiro/pkg/tool"
)

func newGmailServer() *server.MCPServer {
	s := server.NewMCPServer("gmail", "0.0.1", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewTool("GMAIL_SEND_EMAIL",
			mcp.WithDescription("Send an email"),
			mcp.WithString("recipient_email", mcp.Required()),
			mcp.WithString("body", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			to, err := req.RequireString("recipient_email")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText("sent to " + to), nil
		},
	)
	s.AddTool(
		mcp.NewTool("GMAIL_FETCH_EMAILS", mcp.WithDescription("Fetch emails")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("quota exceeded"), nil
		},
	)
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
		want    string
	}{
		{name: "sse default", cfg: Config{Name: "gmail", URL: "http://x/sse"}, want: TransportSSE},
		{name: "stdio inferred", cfg: Config{Name: "apple", Command: "bunx"}, want: TransportStdio},
		{name: "sse without url", cfg: Config{Name: "gmail", Transport: TransportSSE}, wantErr: "url is required"},
		{name: "stdio without command", cfg: Config{Name: "w", Transport: TransportStdio}, wantErr: "command is required"},
		{name: "unknown transport", cfg: Config{Name: "w", Transport: "carrier-pigeon"}, wantErr: "unknown transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := New(tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ts.cfg.Transport)
		})
	}
}

func TestToolset_NotConnected(t *testing.T) {
	ts, err := New(Config{Name: "gmail", URL: "http://127.0.0.1:1/sse"})
	require.NoError(t, err)

	_, err = ts.Tools(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, ts.Close())
}

func TestToolset_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	ts, err := New(Config{Name: "slack", Transport: TransportStreamableHTTP, URL: url + "/mcp"})
	require.NoError(t, err)
	assert.Error(t, ts.Connect(context.Background()))
}

func TestToolset_Transports(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		start     func(*server.MCPServer) *httptest.Server
		path      string
	}{
		{
			name:      "sse",
			transport: TransportSSE,
			start:     func(s *server.MCPServer) *httptest.Server { return server.NewTestServer(s) },
			path:      "/sse",
		},
		{
			name:      "streamable http",
			transport: TransportStreamableHTTP,
			start: func(s *server.MCPServer) *httptest.Server {
				return server.NewTestStreamableHTTPServer(s)
			},
			path: "/mcp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tt.start(newGmailServer())
			defer srv.Close()

			ts, err := New(Config{Name: "gmail", Transport: tt.transport, URL: srv.URL + tt.path})
			require.NoError(t, err)

			ctx := context.Background()
			require.NoError(t, ts.Connect(ctx))
			defer ts.Close()
			require.NoError(t, ts.Connect(ctx), "second connect is a no-op")

			tools, err := ts.Tools(ctx)
			require.NoError(t, err)
			require.Len(t, tools, 2)
			assert.Equal(t, "GMAIL_FETCH_EMAILS", tools[0].Name())
			assert.Equal(t, "GMAIL_SEND_EMAIL", tools[1].Name())

			send := tools[1].(tool.CallableTool)
			assert.Equal(t, "Send an email", send.Description())
			assert.Equal(t, "object", send.Schema()["type"])
			assert.ElementsMatch(t, []any{"recipient_email", "body"}, send.Schema()["required"])

			tctx := tool.NewContext(ctx, "Gmail Agent", "call_1")
			out, err := send.Call(tctx, map[string]any{"recipient_email": "a@b.c", "body": "hi"})
			require.NoError(t, err)
			assert.Equal(t, "sent to a@b.c", out["result"])

			fetch := tools[0].(tool.CallableTool)
			out, err = fetch.Call(tctx, nil)
			require.NoError(t, err)
			assert.Equal(t, "quota exceeded", out["error"])
		})
	}
}

func TestToolset_Filter(t *testing.T) {
	srv := server.NewTestStreamableHTTPServer(newGmailServer())
	defer srv.Close()

	ts, err := New(Config{
		Name:      "gmail",
		Transport: TransportStreamableHTTP,
		URL:       srv.URL + "/mcp",
		Filter:    []string{"GMAIL_SEND_EMAIL"},
	})
	require.NoError(t, err)
	require.NoError(t, ts.Connect(context.Background()))
	defer ts.Close()

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "GMAIL_SEND_EMAIL", tools[0].Name())
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name string
		in   *mcp.CallToolResult
		want map[string]any
	}{
		{
			name: "single text",
			in:   mcp.NewToolResultText("ok"),
			want: map[string]any{"result": "ok"},
		},
		{
			name: "multiple texts",
			in: &mcp.CallToolResult{Content: []mcp.Content{
				mcp.NewTextContent("a"), mcp.NewTextContent("b"),
			}},
			want: map[string]any{"results": []string{"a", "b"}},
		},
		{
			name: "error without text",
			in:   &mcp.CallToolResult{IsError: true},
			want: map[string]any{"error": "unknown error"},
		},
		{
			name: "empty",
			in:   &mcp.CallToolResult{},
			want: map[string]any{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseResult(tt.in))
		})
	}
}

func TestEnvList(t *testing.T) {
	assert.Nil(t, envList(nil))
	assert.Equal(t, []string{"A=1", "B=2"}, envList(map[string]string{"B": "2", "A": "1"}))
}
