package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/tool"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "gpt-4o-mini", MaxRetries: 1})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	c, err := New(Config{APIKey: "k"})
	require.NoError(t, err)

	req := &model.Request{
		SystemInstruction: "You are Shiro.",
		Items: []*item.Item{
			item.UserMessage("mail Asha"),
			item.FunctionCall("call_1", "transfer_to_gmail_agent", nil),
			item.FunctionCallOutput("call_1", `{"assistant":"Gmail Agent"}`),
			item.AssistantMessage("Drafted."),
		},
		Tools: []tool.Definition{{Name: "current_time", Description: "now", Parameters: map[string]any{"type": "object"}}},
		Config: &model.GenerateConfig{
			ToolChoice:         model.ToolChoiceRequired,
			ResponseSchema:     map[string]any{"type": "object"},
			ResponseSchemaName: "GmailOutput",
		},
	}

	apiReq := c.buildRequest(req, true)
	assert.Equal(t, "gpt-4o", apiReq.Model)
	assert.True(t, apiReq.Stream)
	assert.Equal(t, "You are Shiro.", apiReq.Instructions)
	assert.Equal(t, "required", apiReq.ToolChoice)
	require.Len(t, apiReq.Tools, 1)
	assert.Equal(t, "function", apiReq.Tools[0].Type)
	require.NotNil(t, apiReq.Text)
	assert.Equal(t, "GmailOutput", apiReq.Text.Format.Name)
	assert.True(t, apiReq.Text.Format.Strict)

	require.Len(t, apiReq.Input, 4)
	assert.Equal(t, inputItem{Type: "message", Role: "user", Content: []item.Part{{Type: "input_text", Text: "mail Asha"}}}, apiReq.Input[0])
	assert.Equal(t, "{}", apiReq.Input[1].Arguments)
	assert.Equal(t, `{"assistant":"Gmail Agent"}`, *apiReq.Input[2].Output)
	assert.Equal(t, "output_text", apiReq.Input[3].Content[0].Type)
}

func TestConvertItems_ContentParts(t *testing.T) {
	var msg item.Item
	require.NoError(t, json.Unmarshal([]byte(`{"type":"message","role":"user","content":[
		{"type":"input_text","text":"Describe it"},
		{"type":"input_image","image_url":"https://x/a.png","detail":"auto"},
		{"type":"input_text","text":""}]}`), &msg))
	refusal := &item.Item{Type: item.TypeMessage, Role: item.RoleAssistant,
		Parts: []item.Part{{Type: item.PartRefusal, Refusal: "I can't."}}}
	empty := &item.Item{Type: item.TypeMessage, Role: item.RoleUser, PlainContent: true}

	got := convertItems([]*item.Item{&msg, refusal, empty})
	require.Len(t, got, 2)

	data, err := json.Marshal(got[0].Content)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"input_text","text":"Describe it"},
		{"type":"input_image","image_url":"https://x/a.png","detail":"auto"}]`, string(data))

	assert.Equal(t, []item.Part{{Type: item.PartOutputText, Text: "I can't."}}, got[1].Content)
}

func TestBuildRequest_NoToolsNoChoice(t *testing.T) {
	c, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	apiReq := c.buildRequest(&model.Request{Config: &model.GenerateConfig{ToolChoice: model.ToolChoiceRequired}}, false)
	assert.Empty(t, apiReq.ToolChoice)
	assert.Nil(t, apiReq.Text)
}

func TestGenerate(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "resp_1",
			"status": "completed",
			"output": [
				{"type": "message", "content": [{"type": "output_text", "text": "Routing to mail."}]},
				{"type": "function_call", "id": "fc_1", "call_id": "call_9", "name": "transfer_to_gmail_agent", "arguments": "{}"}
			],
			"usage": {"input_tokens": 10, "output_tokens": 5, "total_tokens": 15}
		}`)
	})

	var responses []*model.Response
	for resp, err := range c.GenerateContent(context.Background(), &model.Request{Items: []*item.Item{item.UserMessage("hi")}}, false) {
		require.NoError(t, err)
		responses = append(responses, resp)
	}

	require.Len(t, responses, 1)
	resp := responses[0]
	assert.False(t, resp.Partial)
	assert.Equal(t, "Routing to mail.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, false, got["store"])
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad schema"}}`, "status 400"},
		{"failed status", http.StatusOK, `{"status":"failed","output":[]}`, "status=failed"},
		{"api error body", http.StatusOK, `{"status":"failed","error":{"message":"boom"}}`, "boom"},
		{"incomplete", http.StatusOK, `{"status":"incomplete","incomplete_details":{"reason":"content_filter"}}`, "content_filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			for _, err := range c.GenerateContent(context.Background(), &model.Request{}, false) {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_IncompleteByLength(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"incomplete","incomplete_details":{"reason":"max_output_tokens"},
			"output":[{"type":"message","content":[{"type":"output_text","text":"cut"}]}]}`)
	})
	for resp, err := range c.GenerateContent(context.Background(), &model.Request{}, false) {
		require.NoError(t, err)
		assert.Equal(t, model.FinishReasonLength, resp.FinishReason)
		assert.Equal(t, "cut", resp.Text)
	}
}

const streamBody = `event: response.created
data: {"type":"response.created","response":{"status":"in_progress"}}

event: response.output_text.delta
data: {"type":"response.output_text.delta","delta":"Hel"}

event: response.output_text.delta
data: {"type":"response.output_text.delta","delta":"lo"}

event: response.output_item.added
data: {"type":"response.output_item.added","item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"current_time"}}

event: response.function_call_arguments.delta
data: {"type":"response.function_call_arguments.delta","delta":"{\"zone\":"}

event: response.function_call_arguments.delta
data: {"type":"response.function_call_arguments.delta","delta":"\"UTC\"}"}

event: response.function_call_arguments.done
data: {"type":"response.function_call_arguments.done","arguments":"{\"zone\":\"UTC\"}"}

event: response.output_item.done
data: {"type":"response.output_item.done","item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"current_time","arguments":"{\"zone\":\"UTC\"}"}}

event: response.completed
data: {"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":3,"output_tokens":4,"total_tokens":7}}}

`

func TestGenerateStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamBody)
	})

	var partials []string
	var final *model.Response
	for resp, err := range c.GenerateContent(context.Background(), &model.Request{}, true) {
		require.NoError(t, err)
		if resp.Partial {
			partials = append(partials, resp.Text)
			continue
		}
		final = resp
	}

	assert.Equal(t, []string{"Hel", "lo"}, partials)
	require.NotNil(t, final)
	assert.Equal(t, "Hello", final.Text)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, tool.ToolCall{ID: "call_1", Name: "current_time", Args: map[string]any{"zone": "UTC"}}, final.ToolCalls[0])
	assert.Equal(t, 7, final.Usage.TotalTokens)
	assert.Equal(t, model.FinishReasonToolCalls, final.FinishReason)
}

func TestGenerateStream_ErrorEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"message\":\"overloaded\"}\n\n")
	})
	var gotErr error
	for _, err := range c.GenerateContent(context.Background(), &model.Request{}, true) {
		if err != nil {
			gotErr = err
		}
	}
	assert.ErrorContains(t, gotErr, "overloaded")
}
