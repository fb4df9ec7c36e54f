// Package testutils provides testing utilities for shiro packages.
package testutils

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/tool"
)

// TestContext returns a context with timeout for testing
func TestContext() context.Context {
	return TestContextWithTimeout(5 * time.Second)
}

// TestContextWithTimeout returns a context with custom timeout for testing
func TestContextWithTimeout(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	// The context is cancelled when the timeout expires.
	_ = cancel
	return ctx
}

// TextResponse returns a final model response with text only.
func TextResponse(text string) *model.Response {
	return &model.Response{
		Text:         text,
		TurnComplete: true,
		FinishReason: model.FinishReasonStop,
		Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// ToolCallResponse returns a final model response requesting calls.
func ToolCallResponse(calls ...tool.ToolCall) *model.Response {
	return &model.Response{
		ToolCalls:    calls,
		TurnComplete: true,
		FinishReason: model.FinishReasonToolCalls,
		Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}
}

// Call builds a tool call.
func Call(id, name string, args map[string]any) tool.ToolCall {
	return tool.ToolCall{ID: id, Name: name, Args: args}
}

// MockLLM implements model.LLM by replaying scripted responses in order.
type MockLLM struct {
	// GenerateFunc, when set, replaces the script.
	GenerateFunc func(ctx context.Context, req *model.Request) (*model.Response, error)
	GenerateDelay time.Duration
	GenerateError error

	mu        sync.Mutex
	responses []*model.Response
	requests  []*model.Request
}

// NewMockLLM creates a mock model that answers with responses, one per call.
func NewMockLLM(responses ...*model.Response) *MockLLM {
	return &MockLLM{responses: responses}
}

// Name returns the model identifier.
func (m *MockLLM) Name() string { return "mock-model" }

// Provider returns the provider type.
func (m *MockLLM) Provider() model.Provider { return model.ProviderOpenAI }

// Close releases resources.
func (m *MockLLM) Close() error { return nil }

// GenerateContent records req and returns the next scripted response. When
// stream is true the text is first yielded word by word as partials.
func (m *MockLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := m.next(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		if stream && resp.Text != "" {
			for _, word := range strings.SplitAfter(resp.Text, " ") {
				if !yield(&model.Response{Text: word, Partial: true}, nil) {
					return
				}
			}
		}
		yield(resp, nil)
	}
}

func (m *MockLLM) next(ctx context.Context, req *model.Request) (*model.Response, error) {
	if m.GenerateDelay > 0 {
		select {
		case <-time.After(m.GenerateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, cloneRequest(req))
	if m.GenerateError != nil {
		m.mu.Unlock()
		return nil, m.GenerateError
	}
	if m.GenerateFunc != nil {
		m.mu.Unlock()
		return m.GenerateFunc(ctx, req)
	}
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock model: no scripted response left")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// SetGenerateError sets an error to be returned by every call.
func (m *MockLLM) SetGenerateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateError = err
}

// Requests returns the requests received so far.
func (m *MockLLM) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}

// Calls returns the number of requests received.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func cloneRequest(req *model.Request) *model.Request {
	c := *req
	c.Items = append(c.Items[:0:0], req.Items...)
	c.Tools = append(c.Tools[:0:0], req.Tools...)
	c.Config = req.Config.Clone()
	return &c
}

// StaticToolset is a toolset over a fixed tool list.
type StaticToolset struct {
	ToolsetName string
	List        []tool.Tool
	Err         error
}

// Name returns the toolset name.
func (s *StaticToolset) Name() string { return s.ToolsetName }

// Tools returns the tool list or Err.
func (s *StaticToolset) Tools(context.Context) ([]tool.Tool, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.List, nil
}

var (
	_ model.LLM    = (*MockLLM)(nil)
	_ tool.Toolset = (*StaticToolset)(nil)
)
