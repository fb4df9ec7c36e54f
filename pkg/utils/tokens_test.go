package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroai/shiro/pkg/item"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"Hello, world!", 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), tt.text)
	}
}

func TestGetEncodingForModel(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":                   "o200k_base",
		"gpt-4o-mini":              "o200k_base",
		"o3-mini":                  "o200k_base",
		"gpt-4":                    "cl100k_base",
		"claude-sonnet-4-20250514": "cl100k_base",
		"gemini-2.0-flash":         "cl100k_base",
	}
	for model, want := range tests {
		assert.Equal(t, want, GetEncodingForModel(model), model)
	}
}

func TestNilCounterEstimates(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, 2, tc.Count("abcdefgh"))
	assert.Equal(t, "", tc.GetModel())

	// overhead + "user" (1) + "abcdefgh" (2)
	assert.Equal(t, perItemOverhead+3, tc.CountItem(item.UserMessage("abcdefgh")))
	assert.Equal(t, perItemOverhead, tc.CountItems(nil))
}

func TestFitItems(t *testing.T) {
	var tc *TokenCounter

	history := []*item.Item{
		item.UserMessage("first question about the inbox"),
		item.AssistantMessage("first answer"),
		item.UserMessage("send the draft"),
		item.FunctionCall("call_1", "transfer_to_gmail_agent", nil),
		item.FunctionCallOutput("call_1", `{"assistant":"Gmail Agent"}`),
		item.AssistantMessage("sent"),
	}

	t.Run("no budget keeps everything", func(t *testing.T) {
		assert.Len(t, tc.FitItems(history, 0), len(history))
	})

	t.Run("large budget keeps everything", func(t *testing.T) {
		assert.Len(t, tc.FitItems(history, 10_000), len(history))
	})

	t.Run("drops oldest", func(t *testing.T) {
		budget := tc.CountItems(history[2:])
		got := tc.FitItems(history, budget)
		assert.Equal(t, history[2:], got)
	})

	t.Run("never orphans a call output", func(t *testing.T) {
		// room for the output and the last message but not the call
		budget := perItemOverhead + tc.CountItem(history[4]) + tc.CountItem(history[5])
		got := tc.FitItems(history, budget)
		assert.Equal(t, history[5:], got)
	})
}

func TestNewTokenCounter(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o")
	if err != nil {
		// encodings are downloaded on first use
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	require.NotNil(t, tc)
	assert.Equal(t, "gpt-4o", tc.GetModel())
	assert.Positive(t, tc.Count("Schedule a meeting with Asha tomorrow at 4pm IST"))
	assert.Equal(t, 0, tc.Count(""))

	again, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)
	assert.Same(t, tc.encoding, again.encoding)
}

func TestEnsureParentDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), DataDirName, "sessions.db")
	require.NoError(t, EnsureParentDir(file))

	info, err := os.Stat(filepath.Dir(file))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.NoError(t, EnsureParentDir("sessions.db"))
}
