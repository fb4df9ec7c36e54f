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

// Package gemini implements the model.LLM interface for Google Gemini models
// using the official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/tool"
)

const defaultModel = "gemini-2.0-flash"

// Config contains configuration for the Gemini model.
type Config struct {
	// APIKey is the Google AI API key.
	APIKey string

	// Model is the model name (e.g., "gemini-2.0-flash").
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0-2).
	Temperature *float64

	// BaseURL overrides the API endpoint.
	BaseURL string
}

// geminiModel implements model.LLM for Gemini.
type geminiModel struct {
	client *genai.Client
	name   string
	config Config
}

// New creates a new Gemini model instance.
func New(cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	// constructors don't take a context
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiModel{client: client, name: cfg.Model, config: cfg}, nil
}

// Name returns the model identifier.
func (m *geminiModel) Name() string {
	return m.name
}

// Provider returns the provider type.
func (m *geminiModel) Provider() model.Provider {
	return model.ProviderGemini
}

// GenerateContent produces responses for the given request.
func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return m.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		yield(m.generate(ctx, req))
	}
}

// Close releases resources.
func (m *geminiModel) Close() error {
	return nil
}

func (m *geminiModel) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	genResp, err := m.client.Models.GenerateContent(ctx, m.name, buildContents(req.Items), m.buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("Gemini generation failed: %w", err)
	}
	return parseResponse(genResp)
}

func (m *geminiModel) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		agg := model.NewStreamingAggregator()

		for genResp, err := range m.client.Models.GenerateContentStream(ctx, m.name, buildContents(req.Items), m.buildConfig(req)) {
			if err != nil {
				yield(nil, fmt.Errorf("Gemini streaming error: %w", err))
				return
			}
			if len(genResp.Candidates) == 0 {
				continue
			}

			candidate := genResp.Candidates[0]
			if candidate.FinishReason != "" {
				agg.SetFinishReason(mapFinishReason(candidate.FinishReason))
			}
			if genResp.UsageMetadata != nil {
				agg.SetUsage(usage(genResp.UsageMetadata))
			}
			if candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				if part.Text != "" && !part.Thought {
					if delta := agg.TextDelta(part.Text); delta != nil && !yield(delta, nil) {
						return
					}
				}
				if part.FunctionCall != nil {
					agg.AddToolCall(toToolCall(part.FunctionCall))
				}
			}
		}

		final := agg.Close()
		if final.FinishReason == model.FinishReasonStop && len(final.ToolCalls) > 0 {
			final.FinishReason = model.FinishReasonToolCalls
		}
		yield(final, nil)
	}
}

// stableCallID derives an ID from name and args so the same call streamed
// twice without an ID is deduplicated.
func stableCallID(name string, args map[string]any) string {
	data, _ := json.Marshal(map[string]any{"name": name, "args": args})
	hash := sha256.Sum256(data)
	return fmt.Sprintf("call_%x", hash[:12])
}

func toToolCall(fc *genai.FunctionCall) tool.ToolCall {
	id := fc.ID
	if id == "" {
		id = stableCallID(fc.Name, fc.Args)
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	return tool.ToolCall{ID: id, Name: fc.Name, Args: args}
}

// buildContents converts items to Gemini contents. Function responses need
// the function name, which is looked up from the matching call.
func buildContents(items []*item.Item) []*genai.Content {
	callNames := make(map[string]string)
	for _, it := range items {
		if it != nil && it.Type == item.TypeFunctionCall {
			callNames[it.CallID] = it.Name
		}
	}

	var contents []*genai.Content
	add := func(role string, part *genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{part}})
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
			role := genai.RoleUser
			if it.Role == item.RoleAssistant {
				role = genai.RoleModel
			}
			add(role, &genai.Part{Text: text})

		case item.TypeFunctionCall:
			args, err := it.ArgumentsMap()
			if err != nil {
				args = map[string]any{}
			}
			add(genai.RoleModel, &genai.Part{FunctionCall: &genai.FunctionCall{ID: it.CallID, Name: it.Name, Args: args}})

		case item.TypeFunctionCallOutput:
			add(genai.RoleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       it.CallID,
				Name:     callNames[it.CallID],
				Response: functionResponse(it.Output),
			}})
		}
	}
	return contents
}

// functionResponse wraps a tool output. JSON objects are passed through,
// anything else is sent as {"result": output}.
func functionResponse(output string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(output), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"result": output}
}

func (m *geminiModel) buildConfig(req *model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
			Role:  genai.RoleUser,
		}
	}

	temperature := m.config.Temperature
	maxTokens := m.config.MaxTokens
	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			temperature = cfg.Temperature
		}
		if cfg.MaxTokens != nil {
			maxTokens = *cfg.MaxTokens
		}
		if cfg.ResponseSchema != nil {
			config.ResponseSchema = toGenaiSchema(cfg.ResponseSchema)
			config.ResponseMIMEType = "application/json"
		}
	}
	if temperature != nil {
		config.Temperature = genai.Ptr(float32(*temperature))
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		mode := genai.FunctionCallingConfigModeAuto
		switch req.Config.Choice() {
		case model.ToolChoiceRequired:
			mode = genai.FunctionCallingConfigModeAny
		case model.ToolChoiceNone:
			mode = genai.FunctionCallingConfigModeNone
		}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	return config
}

// toGenaiSchema converts a JSON schema to a Gemini schema. Type unions with
// "null" become Nullable.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}
	switch t := schema["type"].(type) {
	case string:
		s.Type = genai.Type(strings.ToUpper(t))
	case []any:
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				s.Nullable = genai.Ptr(true)
			} else if name != "" && s.Type == "" {
				s.Type = genai.Type(strings.ToUpper(name))
			}
		}
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func parseResponse(genResp *genai.GenerateContentResponse) (*model.Response, error) {
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}
	candidate := genResp.Candidates[0]

	resp := &model.Response{
		TurnComplete: true,
		FinishReason: mapFinishReason(candidate.FinishReason),
	}
	if candidate.Content != nil {
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, toToolCall(part.FunctionCall))
			}
		}
		resp.Text = text.String()
	}
	if len(resp.ToolCalls) > 0 && resp.FinishReason == model.FinishReasonStop {
		resp.FinishReason = model.FinishReasonToolCalls
	}
	if genResp.UsageMetadata != nil {
		resp.Usage = usage(genResp.UsageMetadata)
	}
	return resp, nil
}

func usage(u *genai.GenerateContentResponseUsageMetadata) *model.Usage {
	return &model.Usage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	}
}

func mapFinishReason(reason genai.FinishReason) model.FinishReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return model.FinishReasonLength
	case genai.FinishReasonSafety:
		return model.FinishReasonContent
	default:
		return model.FinishReasonStop
	}
}

var _ model.LLM = (*geminiModel)(nil)
