package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroai/shiro/pkg/agent"
	"github.com/shiroai/shiro/pkg/assistant"
	"github.com/shiroai/shiro/pkg/auth"
	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/integration"
	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/observability"
	"github.com/shiroai/shiro/pkg/ratelimit"
	"github.com/shiroai/shiro/pkg/session"
)

type fakeInvoker struct {
	defs   []*integration.Definition
	answer string
	usage  model.Usage
	err    error

	mu       sync.Mutex
	requests []assistant.InvokeRequest
}

func (f *fakeInvoker) result(req assistant.InvokeRequest) *agent.RunResult {
	return &agent.RunResult{
		Input:       req.Items,
		NewItems:    []*item.Item{item.AssistantMessage(f.answer)},
		FinalOutput: f.answer,
		LastAgent:   &agent.Agent{Name: "Task Coordinator"},
		Usage:       f.usage,
	}
}

func (f *fakeInvoker) record(req assistant.InvokeRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeInvoker) Invoke(_ context.Context, req assistant.InvokeRequest) (*agent.RunResult, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(req), nil
}

func (f *fakeInvoker) InvokeStreamed(_ context.Context, req assistant.InvokeRequest) iter.Seq2[*agent.Event, error] {
	f.record(req)
	return func(yield func(*agent.Event, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		result := f.result(req)
		events := []*agent.Event{
			{Type: agent.EventAgentUpdated, AgentName: "Task Coordinator"},
			{Type: agent.EventMessageOutput, AgentName: "Task Coordinator", Item: result.NewItems[0]},
			{Type: agent.EventDone, AgentName: "Task Coordinator", Result: result},
		}
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (f *fakeInvoker) Definitions() []*integration.Definition {
	return f.defs
}

func (f *fakeInvoker) lastRequest(t *testing.T) assistant.InvokeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, inv Invoker, cfg *config.Config, opts Options) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t, nil)
	}
	ts := httptest.NewServer(New(cfg, inv, opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type sseEvent struct {
	name string
	data map[string]any
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var (
		events  []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
		case line == "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeInvoker{}, nil, Options{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, resp))
}

func TestIntegrations(t *testing.T) {
	defs, err := integration.Defaults()
	require.NoError(t, err)
	slack, ok := integration.Find(defs, "slack")
	require.True(t, ok)
	slack.Disabled = true

	ts := newTestServer(t, &fakeInvoker{defs: defs}, nil, Options{})
	resp, err := http.Get(ts.URL + "/integrations")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Integrations []integrationInfo `json:"integrations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Integrations, len(defs)-1)
	for _, info := range body.Integrations {
		assert.NotEqual(t, "slack", info.Key)
		if info.Key == "gmail" {
			assert.True(t, info.StructuredOutput)
		}
	}
}

func TestInvoke(t *testing.T) {
	inv := &fakeInvoker{answer: "Done."}
	ts := newTestServer(t, inv, nil, Options{})

	resp := post(t, ts.URL+"/invoke", `{
		"messages": [{"role": "user", "content": "hi"}],
		"integrations": ["Gmail"],
		"web_search": true
	}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "Done.", body["final_output"])
	assert.Equal(t, "Task Coordinator", body["last_agent"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])

	req := inv.lastRequest(t)
	assert.Equal(t, []string{"Gmail"}, req.Integrations)
	require.NotNil(t, req.WebSearch)
	assert.True(t, *req.WebSearch)
	assert.NotEmpty(t, req.TraceID)
}

func TestInvoke_KeepsContentParts(t *testing.T) {
	inv := &fakeInvoker{answer: "A cat."}
	ts := newTestServer(t, inv, nil, Options{})

	image := `{"type": "input_image", "image_url": "https://x/a.png", "detail": "auto"}`
	resp := post(t, ts.URL+"/invoke", `{"messages": [{"type": "message", "role": "user", "content": [
		{"type": "input_text", "text": "What is this?"}, `+image+`]}]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req := inv.lastRequest(t)
	require.Len(t, req.Items, 1)
	require.Len(t, req.Items[0].Parts, 2)
	assert.JSONEq(t, `"https://x/a.png"`, string(req.Items[0].Parts[1].Extra["image_url"]))

	messages := decode(t, resp)["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	got, err := json.Marshal(content[1])
	require.NoError(t, err)
	assert.JSONEq(t, image, string(got))
}

func TestInvoke_Errors(t *testing.T) {
	tests := []struct {
		name   string
		inv    *fakeInvoker
		body   string
		status int
		detail string
	}{
		{name: "malformed json", inv: &fakeInvoker{}, body: `{"messages": [`, status: http.StatusBadRequest, detail: "invalid request body"},
		{name: "invalid item", inv: &fakeInvoker{}, body: `{"messages": [{"content": "x"}]}`, status: http.StatusBadRequest, detail: "missing type"},
		{name: "null item", inv: &fakeInvoker{}, body: `{"messages": [null]}`, status: http.StatusBadRequest, detail: "null"},
		{name: "second item invalid", inv: &fakeInvoker{}, body: `{"messages": [{"role": "user", "content": "a"}, {"type": "function_call_output"}]}`, status: http.StatusBadRequest, detail: "item 1: invalid item"},
		{name: "run failure", inv: &fakeInvoker{err: errors.New("model unavailable")}, body: `{"messages": []}`, status: http.StatusInternalServerError, detail: "model unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.inv, nil, Options{})
			resp := post(t, ts.URL+"/invoke", tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, decode(t, resp)["detail"], tt.detail)
		})
	}
}

func TestInvoke_BodyTooLarge(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 })
	ts := newTestServer(t, &fakeInvoker{}, cfg, Options{})

	resp := post(t, ts.URL+"/invoke", `{"messages": [{"role": "user", "content": "a long message"}]}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestInvoke_Session(t *testing.T) {
	inv := &fakeInvoker{answer: "Noted."}
	store := session.NewMemoryStore()
	ts := newTestServer(t, inv, nil, Options{Sessions: store})

	body := `{"messages": [{"role": "user", "content": "remember me"}], "session_id": "s1"}`
	require.Equal(t, http.StatusOK, post(t, ts.URL+"/invoke", body, nil).StatusCode)

	saved, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, saved, 2)

	body = `{"messages": [{"role": "user", "content": "who am I?"}], "session_id": "s1"}`
	require.Equal(t, http.StatusOK, post(t, ts.URL+"/invoke", body, nil).StatusCode)

	req := inv.lastRequest(t)
	require.Len(t, req.Items, 3)
	assert.Equal(t, "remember me", req.Items[0].Text())
	assert.Equal(t, "who am I?", req.Items[2].Text())

	saved, err = store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, saved, 4)
}

func TestInvokeStreamed(t *testing.T) {
	store := session.NewMemoryStore()
	ts := newTestServer(t, &fakeInvoker{answer: "Streaming works."}, nil, Options{Sessions: store})

	resp := post(t, ts.URL+"/invoke_streamed", `{"messages": [{"role": "user", "content": "hi"}], "session_id": "s2"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.Len(t, events, 3)
	assert.Equal(t, "agent_updated_stream_event", events[0].name)
	assert.Equal(t, "Task Coordinator", events[0].data["agent_name"])
	assert.Equal(t, "message_output", events[1].name)
	assert.Equal(t, "Streaming works.", events[1].data["content"])
	assert.Equal(t, "done", events[2].name)
	assert.Equal(t, "complete", events[2].data["status"])

	saved, err := store.Load(context.Background(), "s2")
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestInvokeStreamed_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantError  string
		wantDetail string
	}{
		{
			name:       "tool server",
			err:        &assistant.ToolServerError{Agent: "Gmail Agent", Err: errors.New("connection refused")},
			wantError:  "Failed to initialize tool server for Gmail Agent",
			wantDetail: "connection refused",
		},
		{
			name:       "run failure",
			err:        agent.ErrMaxTurnsExceeded,
			wantError:  agent.ErrMaxTurnsExceeded.Error(),
			wantDetail: genericErrorDetail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeInvoker{err: tt.err}, nil, Options{})
			resp := post(t, ts.URL+"/invoke_streamed", `{"messages": []}`, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			events := readEvents(t, resp)
			require.Len(t, events, 1)
			assert.Equal(t, "error", events[0].name)
			assert.Equal(t, tt.wantError, events[0].data["error"])
			assert.Equal(t, tt.wantDetail, events[0].data["detail"])
		})
	}
}

type stubValidator struct{}

func (stubValidator) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	if token != "good" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{Subject: "user-1"}, nil
}

func TestAuth(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Auth.Enabled = true
	})
	ts := newTestServer(t, &fakeInvoker{answer: "ok"}, cfg, Options{Validator: stubValidator{}})

	resp := post(t, ts.URL+"/invoke", `{"messages": []}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, ts.URL+"/invoke", `{"messages": []}`, http.Header{"Authorization": {"Bearer bad"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, ts.URL+"/invoke", `{"messages": []}`, http.Header{"Authorization": {"Bearer good"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestRateLimit_Tokens(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.ScopeIP, []ratelimit.LimitRule{
		{Type: ratelimit.LimitTypeToken, Window: ratelimit.WindowMinute, Limit: 100},
	}, ratelimit.NewMemoryStore())
	require.NoError(t, err)

	inv := &fakeInvoker{answer: "ok", usage: model.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}}
	ts := newTestServer(t, inv, nil, Options{Limiter: limiter})

	resp := post(t, ts.URL+"/invoke", `{"messages": []}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, ts.URL+"/invoke", `{"messages": []}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCORS(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Server.CORS = &config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	})
	ts := newTestServer(t, &fakeInvoker{}, cfg, Options{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/invoke", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	obsCfg := observability.Config{Metrics: observability.MetricsConfig{Enabled: true}}
	obsCfg.SetDefaults()
	obs, err := observability.NewManager(context.Background(), obsCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

	ts := newTestServer(t, &fakeInvoker{}, nil, Options{Observability: obs})

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	assert.Contains(t, sb.String(), `route="/health"`)
}

func TestSetInvoker(t *testing.T) {
	srv := New(testConfig(t, nil), &fakeInvoker{answer: "first"}, Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	srv.SetInvoker(&fakeInvoker{answer: "second"})
	resp := post(t, ts.URL+"/invoke", `{"messages": []}`, nil)
	assert.Equal(t, "second", decode(t, resp)["final_output"])
}

func TestStart_Shutdown(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Server.Host = "127.0.0.1"
	})
	cfg.Server.Port = 0
	srv := New(cfg, &fakeInvoker{}, Options{})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	resp, err := http.Get("http://" + srv.ListenAddr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
