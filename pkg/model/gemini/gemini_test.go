package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/tool"
)

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(map[string]any{
		"type":     "object",
		"required": []any{"response_type"},
		"properties": map[string]any{
			"response_type": map[string]any{"type": "string", "enum": []any{"notion_response", nil}},
			"link":          map[string]any{"type": []any{"string", "null"}, "description": "Document link"},
			"tags":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	})

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"response_type"}, s.Required)
	assert.Equal(t, []string{"notion_response"}, s.Properties["response_type"].Enum)

	link := s.Properties["link"]
	assert.Equal(t, genai.TypeString, link.Type)
	require.NotNil(t, link.Nullable)
	assert.True(t, *link.Nullable)
	assert.Equal(t, "Document link", link.Description)

	assert.Equal(t, genai.TypeArray, s.Properties["tags"].Type)
	assert.Equal(t, genai.TypeString, s.Properties["tags"].Items.Type)

	assert.Nil(t, toGenaiSchema(nil))
}

func TestBuildContents(t *testing.T) {
	contents := buildContents([]*item.Item{
		item.UserMessage("summarise my inbox"),
		item.FunctionCall("call_1", "transfer_to_gmail_agent", nil),
		item.FunctionCallOutput("call_1", `{"assistant":"Gmail Agent"}`),
		item.FunctionCall("call_2", "GMAIL_FETCH_EMAILS", map[string]any{"max_results": 5}),
		item.FunctionCallOutput("call_2", "3 unread"),
		item.AssistantMessage("You have 3 unread emails."),
	})

	require.Len(t, contents, 6)
	assert.Equal(t, genai.RoleUser, contents[0].Role)

	assert.Equal(t, genai.RoleModel, contents[1].Role)
	assert.Equal(t, "transfer_to_gmail_agent", contents[1].Parts[0].FunctionCall.Name)

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "transfer_to_gmail_agent", fr.Name)
	assert.Equal(t, map[string]any{"assistant": "Gmail Agent"}, fr.Response)

	assert.Equal(t, float64(5), contents[3].Parts[0].FunctionCall.Args["max_results"])
	assert.Equal(t, map[string]any{"result": "3 unread"}, contents[4].Parts[0].FunctionResponse.Response)
	assert.Equal(t, genai.RoleModel, contents[5].Role)
}

func TestBuildConfig(t *testing.T) {
	temp := 0.3
	m := &geminiModel{config: Config{MaxTokens: 256, Temperature: &temp}}

	cfg := m.buildConfig(&model.Request{
		SystemInstruction: "You are the Calendar Agent.",
		Tools:             []tool.Definition{{Name: "CALENDAR_CREATE", Parameters: map[string]any{"type": "object"}}},
		Config: &model.GenerateConfig{
			ToolChoice:     model.ToolChoiceRequired,
			ResponseSchema: map[string]any{"type": "object"},
		},
	})

	assert.Equal(t, "You are the Calendar Agent.", cfg.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(256), cfg.MaxOutputTokens)
	assert.InDelta(t, 0.3, float64(*cfg.Temperature), 1e-6)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.Len(t, cfg.Tools, 1)
	assert.Len(t, cfg.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, genai.FunctionCallingConfigModeAny, cfg.ToolConfig.FunctionCallingConfig.Mode)

	cfg = m.buildConfig(&model.Request{})
	assert.Nil(t, cfg.ToolConfig)
	assert.Nil(t, cfg.SystemInstruction)
}

func TestStableCallID(t *testing.T) {
	a := stableCallID("current_time", map[string]any{"zone": "UTC"})
	b := stableCallID("current_time", map[string]any{"zone": "UTC"})
	c := stableCallID("current_time", map[string]any{"zone": "IST"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "call_"))
}

func newTestModel(t *testing.T, handler http.HandlerFunc) model.LLM {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return m
}

func TestGenerate(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"candidates": [{
				"content": {"role": "model", "parts": [
					{"text": "Checking your calendar."},
					{"functionCall": {"name": "transfer_to_calendar_agent", "args": {}}}
				]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 4, "totalTokenCount": 13}
		}`)
	})

	for resp, err := range m.GenerateContent(context.Background(), &model.Request{Items: []*item.Item{item.UserMessage("hi")}}, false) {
		require.NoError(t, err)
		assert.Equal(t, "Checking your calendar.", resp.Text)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "transfer_to_calendar_agent", resp.ToolCalls[0].Name)
		assert.NotEmpty(t, resp.ToolCalls[0].ID)
		assert.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
		assert.Equal(t, 13, resp.Usage.TotalTokens)
	}
}

func TestGenerateStream(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "streamGenerateContent")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"It is \"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"noon.\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"totalTokenCount\":5}}\n\n")
	})

	var deltas []string
	var final *model.Response
	for resp, err := range m.GenerateContent(context.Background(), &model.Request{}, true) {
		require.NoError(t, err)
		if resp.Partial {
			deltas = append(deltas, resp.Text)
		} else {
			final = resp
		}
	}
	assert.Equal(t, []string{"It is ", "noon."}, deltas)
	require.NotNil(t, final)
	assert.Equal(t, "It is noon.", final.Text)
	assert.Equal(t, model.FinishReasonStop, final.FinishReason)
	assert.Equal(t, 5, final.Usage.TotalTokens)
}

func TestGenerate_APIError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"API key invalid","status":"PERMISSION_DENIED"}}`)
	})
	for _, err := range m.GenerateContent(context.Background(), &model.Request{}, false) {
		assert.ErrorContains(t, err, "Gemini generation failed")
	}
}
