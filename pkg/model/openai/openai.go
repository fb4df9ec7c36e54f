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

// Package openai provides an OpenAI LLM implementation using the Responses API.
//
// Conversation items already follow the Responses API input format, so the
// request body is built from item.Item almost one to one.
package openai

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
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// SSE event types of the Responses API.
const (
	eventOutputItemAdded       = "response.output_item.added"
	eventOutputItemDone        = "response.output_item.done"
	eventOutputTextDelta       = "response.output_text.delta"
	eventFunctionCallArgsDelta = "response.function_call_arguments.delta"
	eventFunctionCallArgsDone  = "response.function_call_arguments.done"
	eventResponseCompleted     = "response.completed"
	eventResponseIncomplete    = "response.incomplete"
	eventResponseFailed        = "response.failed"
	eventError                 = "error"
)

// Config configures the OpenAI client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an OpenAI LLM implementation using the Responses API.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	modelName   string
	maxTokens   int
	temperature *float64
}

// New creates a new OpenAI client.
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
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOpenAI
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if bodyBytes, _ := io.ReadAll(resp.Body); len(bodyBytes) > 0 {
				return nil, fmt.Errorf("request failed: %w - response: %s", err, string(bodyBytes))
			}
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

	var apiResp responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return parseResponse(&apiResp)
}

// streamState holds the function call being streamed.
type streamState struct {
	callID string
	name   string
	args   strings.Builder
}

func (s *streamState) reset() {
	s.callID = ""
	s.name = ""
	s.args.Reset()
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
		reader := bufio.NewReader(resp.Body)
		var currentEventType string

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil && err != io.EOF {
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}
			eof := err == io.EOF

			line = bytes.TrimSpace(line)
			switch {
			case len(line) == 0:
			case bytes.HasPrefix(line, []byte("event:")):
				currentEventType = string(bytes.TrimSpace(line[6:]))
			case bytes.HasPrefix(line, []byte("data:")):
				data := bytes.TrimSpace(line[5:])
				if bytes.Equal(data, []byte("[DONE]")) {
					break
				}
				var event streamEvent
				if err := json.Unmarshal(data, &event); err != nil {
					slog.Debug("Failed to parse streaming event", "error", err)
					currentEventType = ""
					break
				}
				eventType := currentEventType
				if eventType == "" {
					eventType = event.Type
				}
				currentEventType = ""

				partial, err := processStreamEvent(&event, eventType, state, agg)
				if err != nil {
					yield(nil, err)
					return
				}
				if partial != nil && !yield(partial, nil) {
					return
				}
			}

			if eof {
				break
			}
		}

		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

func processStreamEvent(event *streamEvent, eventType string, state *streamState, agg *model.StreamingAggregator) (*model.Response, error) {
	switch eventType {
	case eventOutputItemAdded:
		if event.Item != nil && event.Item.Type == "function_call" {
			state.reset()
			state.callID = event.Item.callID()
			state.name = event.Item.Name
		}

	case eventOutputTextDelta:
		return agg.TextDelta(event.Delta), nil

	case eventFunctionCallArgsDelta:
		state.args.WriteString(event.Delta)

	case eventFunctionCallArgsDone:
		if state.callID != "" && state.name != "" {
			args := event.Arguments
			if args == "" {
				args = state.args.String()
			}
			agg.AddToolCall(tool.ToolCall{ID: state.callID, Name: state.name, Args: decodeArgs(args)})
		}
		state.reset()

	case eventOutputItemDone:
		if event.Item != nil && event.Item.Type == "function_call" && event.Item.Name != "" {
			agg.AddToolCall(tool.ToolCall{
				ID:   event.Item.callID(),
				Name: event.Item.Name,
				Args: decodeArgs(event.Item.Arguments),
			})
			state.reset()
		}

	case eventResponseCompleted, eventResponseIncomplete:
		if event.Response != nil {
			agg.SetUsage(event.Response.Usage.toModel())
			if event.Response.IncompleteDetails != nil && event.Response.IncompleteDetails.Reason == "max_output_tokens" {
				agg.SetFinishReason(model.FinishReasonLength)
			}
		}

	case eventResponseFailed:
		msg := "response failed"
		if event.Response != nil && event.Response.Error != nil {
			msg = event.Response.Error.Message
		}
		return nil, fmt.Errorf("API error: %s", msg)

	case eventError:
		return nil, fmt.Errorf("API error: %s", event.Message)
	}
	return nil, nil
}

func decodeArgs(s string) map[string]any {
	args := map[string]any{}
	if s == "" {
		return args
	}
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		slog.Warn("Failed to parse function arguments", "error", err)
		return map[string]any{}
	}
	return args
}

func (c *Client) buildRequest(req *model.Request, stream bool) *responsesRequest {
	apiReq := &responsesRequest{
		Model:        c.modelName,
		Stream:       stream,
		Instructions: req.SystemInstruction,
		Input:        convertItems(req.Items),
		Store:        false,
	}

	maxTokens := c.maxTokens
	temperature := c.temperature
	if req.Config != nil {
		if req.Config.MaxTokens != nil {
			maxTokens = *req.Config.MaxTokens
		}
		if req.Config.Temperature != nil {
			temperature = req.Config.Temperature
		}
	}
	if maxTokens > 0 {
		apiReq.MaxOutputTokens = &maxTokens
	}
	apiReq.Temperature = temperature

	if len(req.Tools) > 0 {
		apiReq.Tools = make([]apiTool, len(req.Tools))
		for i, t := range req.Tools {
			apiReq.Tools[i] = apiTool{
				Type:        "function",
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		apiReq.ToolChoice = string(req.Config.Choice())
	}

	if req.Config != nil && req.Config.ResponseSchema != nil {
		apiReq.Text = &textFormat{
			Format: &jsonSchemaFormat{
				Type:   "json_schema",
				Name:   req.Config.SchemaName(),
				Strict: req.Config.Strict(),
				Schema: req.Config.ResponseSchema,
			},
		}
	}

	return apiReq
}

// convertItems maps conversation items to input items. Item IDs are dropped
// because requests are not stored server side.
func convertItems(items []*item.Item) []inputItem {
	out := make([]inputItem, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		switch it.Type {
		case item.TypeMessage:
			content := messageContent(it)
			if len(content) == 0 {
				continue
			}
			out = append(out, inputItem{
				Type:    "message",
				Role:    string(it.Role),
				Content: content,
			})
		case item.TypeFunctionCall:
			args := it.Arguments
			if args == "" {
				args = "{}"
			}
			out = append(out, inputItem{
				Type:      "function_call",
				CallID:    it.CallID,
				Name:      it.Name,
				Arguments: args,
			})
		case item.TypeFunctionCallOutput:
			output := it.Output
			out = append(out, inputItem{
				Type:   "function_call_output",
				CallID: it.CallID,
				Output: &output,
			})
		default:
			slog.Debug("Skipping unsupported input item", "type", it.Type)
		}
	}
	return out
}

// messageContent normalizes text parts to the type the role expects and
// passes image and file parts through with all their fields.
func messageContent(it *item.Item) []item.Part {
	textType := item.PartInputText
	if it.Role == item.RoleAssistant {
		textType = item.PartOutputText
	}

	var parts []item.Part
	for _, p := range it.Parts {
		if !p.IsText() {
			parts = append(parts, p.Clone())
			continue
		}
		text := p.Text
		if text == "" {
			text = p.Refusal
		}
		if text == "" {
			continue
		}
		parts = append(parts, item.Part{Type: textType, Text: text})
	}
	return parts
}

func parseResponse(resp *responsesResponse) (*model.Response, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}

	result := &model.Response{
		TurnComplete: true,
		Usage:        resp.Usage.toModel(),
		FinishReason: model.FinishReasonStop,
	}

	switch resp.Status {
	case "completed":
	case "incomplete":
		if resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == "max_output_tokens" {
			result.FinishReason = model.FinishReasonLength
		} else {
			reason := ""
			if resp.IncompleteDetails != nil {
				reason = resp.IncompleteDetails.Reason
			}
			return nil, fmt.Errorf("response incomplete: reason=%s", reason)
		}
	default:
		return nil, fmt.Errorf("response incomplete: status=%s", resp.Status)
	}

	var text strings.Builder
	for _, out := range resp.Output {
		switch out.Type {
		case "message":
			for _, part := range out.Content {
				if part.Type == item.PartOutputText {
					text.WriteString(part.Text)
				}
			}
		case "function_call":
			if out.Name == "" {
				slog.Warn("Skipping function call without name", "id", out.ID)
				continue
			}
			result.ToolCalls = append(result.ToolCalls, tool.ToolCall{
				ID:   out.callID(),
				Name: out.Name,
				Args: decodeArgs(out.Arguments),
			})
			result.FinishReason = model.FinishReasonToolCalls
		}
	}
	result.Text = text.String()

	return result, nil
}

// API types

type responsesRequest struct {
	Model           string      `json:"model"`
	Input           []inputItem `json:"input"`
	Instructions    string      `json:"instructions,omitempty"`
	MaxOutputTokens *int        `json:"max_output_tokens,omitempty"`
	Temperature     *float64    `json:"temperature,omitempty"`
	Tools           []apiTool   `json:"tools,omitempty"`
	ToolChoice      string      `json:"tool_choice,omitempty"`
	Stream          bool        `json:"stream,omitempty"`
	Store           bool        `json:"store"`
	Text            *textFormat `json:"text,omitempty"`
}

type textFormat struct {
	Format *jsonSchemaFormat `json:"format,omitempty"`
}

type jsonSchemaFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputItem struct {
	Type      string      `json:"type"`
	Role      string      `json:"role,omitempty"`
	Content   []item.Part `json:"content,omitempty"`
	CallID    string      `json:"call_id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Arguments string      `json:"arguments,omitempty"`
	Output    *string     `json:"output,omitempty"`
}

type apiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responsesResponse struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Error             *apiError          `json:"error,omitempty"`
	IncompleteDetails *incompleteDetails `json:"incomplete_details,omitempty"`
	Output            []outputItem       `json:"output"`
	Usage             apiUsage           `json:"usage"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type incompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

type outputItem struct {
	Type      string        `json:"type"`
	ID        string        `json:"id,omitempty"`
	Content   []contentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
}

func (o *outputItem) callID() string {
	if o.CallID != "" {
		return o.CallID
	}
	return o.ID
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (u apiUsage) toModel() *model.Usage {
	return &model.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type streamEvent struct {
	Type      string             `json:"type"`
	Delta     string             `json:"delta,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
	Message   string             `json:"message,omitempty"`
	Item      *outputItem        `json:"item,omitempty"`
	Response  *responsesResponse `json:"response,omitempty"`
}

var _ model.LLM = (*Client)(nil)
