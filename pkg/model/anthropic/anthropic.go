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

// Package anthropic provides an Anthropic Claude LLM implementation over the
// Messages API.
//
// The Messages API has no response schema parameter; structured output is
// requested by appending the schema to the system prompt and is validated by
// the agent runner.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shiroai/shiro/pkg/httpclient"
	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/tool"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an Anthropic LLM implementation.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
}

// New creates a new Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	return &Client{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.model
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderAnthropic
}

// GenerateContent produces responses for the given request.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		yield(c.generate(ctx, req))
	}
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

func (c *Client) send(ctx context.Context, req *model.Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(c.buildRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}

func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := parseResponse(&apiResp)
	if wantsJSON(req) {
		result.Text = stripCodeFence(result.Text)
	}
	return result, nil
}

// streamState tracks the tool_use block being streamed.
type streamState struct {
	toolID       string
	toolName     string
	toolInput    strings.Builder
	inputTokens  int
	outputTokens int
}

func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.send(ctx, req, true)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		agg := model.NewStreamingAggregator()
		state := &streamState{}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var event streamEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(line[5:])), &event); err != nil {
				slog.Debug("Failed to parse streaming event", "error", err)
				continue
			}

			partial, err := processStreamEvent(&event, state, agg)
			if err != nil {
				yield(nil, err)
				return
			}
			if partial != nil && !yield(partial, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("stream read error: %w", err))
			return
		}

		agg.SetUsage(&model.Usage{
			PromptTokens:     state.inputTokens,
			CompletionTokens: state.outputTokens,
			TotalTokens:      state.inputTokens + state.outputTokens,
		})
		final := agg.Close()
		if wantsJSON(req) {
			final.Text = stripCodeFence(final.Text)
		}
		yield(final, nil)
	}
}

func processStreamEvent(event *streamEvent, state *streamState, agg *model.StreamingAggregator) (*model.Response, error) {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			state.inputTokens = event.Message.Usage.InputTokens
		}

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			state.toolID = event.ContentBlock.ID
			state.toolName = event.ContentBlock.Name
			state.toolInput.Reset()
		}

	case "content_block_delta":
		if event.Delta == nil {
			return nil, nil
		}
		switch event.Delta.Type {
		case "text_delta":
			return agg.TextDelta(event.Delta.Text), nil
		case "input_json_delta":
			state.toolInput.WriteString(event.Delta.PartialJSON)
		}

	case "content_block_stop":
		if state.toolID != "" {
			args := map[string]any{}
			if raw := state.toolInput.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					slog.Warn("Failed to parse tool input", "tool", state.toolName, "error", err)
				}
			}
			agg.AddToolCall(tool.ToolCall{ID: state.toolID, Name: state.toolName, Args: args})
			state.toolID = ""
			state.toolName = ""
			state.toolInput.Reset()
		}

	case "message_delta":
		if event.Usage != nil {
			state.outputTokens = event.Usage.OutputTokens
		}
		if event.Delta != nil {
			agg.SetFinishReason(finishReason(event.Delta.StopReason))
		}

	case "error":
		msg := "stream error"
		if event.Error != nil {
			msg = event.Error.Message
		}
		return nil, fmt.Errorf("API error: %s", msg)
	}
	return nil, nil
}

func finishReason(stop string) model.FinishReason {
	switch stop {
	case "tool_use":
		return model.FinishReasonToolCalls
	case "max_tokens":
		return model.FinishReasonLength
	case "refusal":
		return model.FinishReasonContent
	default:
		return model.FinishReasonStop
	}
}

func wantsJSON(req *model.Request) bool {
	return req.Config != nil && req.Config.ResponseSchema != nil
}

func (c *Client) buildRequest(req *model.Request, stream bool) *apiRequest {
	apiReq := &apiRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
		System:      req.SystemInstruction,
		Temperature: c.temperature,
	}
	if req.Config != nil {
		if req.Config.MaxTokens != nil {
			apiReq.MaxTokens = *req.Config.MaxTokens
		}
		if req.Config.Temperature != nil {
			apiReq.Temperature = req.Config.Temperature
		}
	}

	if wantsJSON(req) {
		schema, err := json.MarshalIndent(req.Config.ResponseSchema, "", "  ")
		if err == nil {
			apiReq.System = strings.TrimSpace(apiReq.System + "\n\n" +
				"Respond only with a single JSON object, without markdown fences, that matches this JSON schema:\n" +
				string(schema))
		}
	}

	apiReq.Messages = convertItems(req.Items)

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	if len(apiReq.Tools) > 0 {
		switch req.Config.Choice() {
		case model.ToolChoiceRequired:
			apiReq.ToolChoice = &toolChoice{Type: "any"}
		case model.ToolChoiceNone:
			apiReq.ToolChoice = &toolChoice{Type: "none"}
		default:
			apiReq.ToolChoice = &toolChoice{Type: "auto"}
		}
	}

	return apiReq
}

// convertItems maps items to alternating user/assistant messages. Function
// calls become tool_use blocks of the assistant turn and their outputs
// tool_result blocks of the following user turn.
func convertItems(items []*item.Item) []apiMessage {
	var messages []apiMessage
	add := func(role string, content apiContent) {
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, content)
			return
		}
		messages = append(messages, apiMessage{Role: role, Content: []apiContent{content}})
	}

	for _, it := range items {
		if it == nil {
			continue
		}
		switch it.Type {
		case item.TypeMessage:
			text := it.Text()
			if text == "" {
				continue
			}
			role := "user"
			if it.Role == item.RoleAssistant {
				role = "assistant"
			}
			add(role, apiContent{Type: "text", Text: text})

		case item.TypeFunctionCall:
			input := json.RawMessage(it.Arguments)
			if len(bytes.TrimSpace(input)) == 0 || !json.Valid(input) {
				input = json.RawMessage("{}")
			}
			add("assistant", apiContent{Type: "tool_use", ID: it.CallID, Name: it.Name, Input: input})

		case item.TypeFunctionCallOutput:
			if it.CallID == "" {
				slog.Warn("Anthropic: tool result missing call id, skipping")
				continue
			}
			output := it.Output
			if output == "" {
				output = "(no output)"
			}
			add("user", apiContent{Type: "tool_result", ToolUseID: it.CallID, Content: output})

		default:
			slog.Debug("Skipping unsupported input item", "type", it.Type)
		}
	}
	return messages
}

func parseResponse(resp *apiResponse) *model.Response {
	result := &model.Response{
		TurnComplete: true,
		Usage: &model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finishReason(resp.StopReason),
	}

	var text strings.Builder
	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			text.WriteString(content.Text)
		case "tool_use":
			args := map[string]any{}
			if len(content.Input) > 0 {
				if err := json.Unmarshal(content.Input, &args); err != nil {
					slog.Warn("Failed to parse tool input", "tool", content.Name, "error", err)
				}
			}
			result.ToolCalls = append(result.ToolCalls, tool.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: args,
			})
		}
	}
	result.Text = text.String()
	return result
}

// stripCodeFence removes a surrounding ```json fence.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// API types

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
	System      string       `json:"system,omitempty"`
	Tools       []apiTool    `json:"tools,omitempty"`
	ToolChoice  *toolChoice  `json:"tool_choice,omitempty"`
}

type toolChoice struct {
	Type string `json:"type"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	ID         string       `json:"id"`
	Role       string       `json:"role"`
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	Message      *apiResponse `json:"message,omitempty"`
	Delta        *apiDelta    `json:"delta,omitempty"`
	ContentBlock *apiContent  `json:"content_block,omitempty"`
	Usage        *apiUsage    `json:"usage,omitempty"`
	Error        *apiError    `json:"error,omitempty"`
}

type apiDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var _ model.LLM = (*Client)(nil)
