// Package utils provides token counting and filesystem helpers.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/shiroai/shiro/pkg/item"
)

// ============================================================================
// TOKEN COUNTING
// ============================================================================

// perItemOverhead approximates the <|start|>role ... <|end|> framing.
const perItemOverhead = 3

// TokenCounter counts tokens with the tiktoken encoding of a model.
//
// A nil *TokenCounter is usable and falls back to a four characters per
// token estimate.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.Mutex
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for model. Models unknown to tiktoken
// (Claude, Gemini) use the encoding returned by GetEncodingForModel.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(GetEncodingForModel(model))
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountItem counts one conversation item including framing overhead.
func (tc *TokenCounter) CountItem(it *item.Item) int {
	if it == nil {
		return 0
	}
	n := perItemOverhead
	switch it.Type {
	case item.TypeMessage:
		n += tc.Count(string(it.Role)) + tc.Count(it.Text())
	case item.TypeFunctionCall:
		n += tc.Count(it.Name) + tc.Count(it.Arguments)
	case item.TypeFunctionCallOutput:
		n += tc.Count(it.Output)
	}
	return n
}

// CountItems counts a list of items plus the reply priming.
func (tc *TokenCounter) CountItems(items []*item.Item) int {
	total := perItemOverhead
	for _, it := range items {
		total += tc.CountItem(it)
	}
	return total
}

// FitItems returns the most recent suffix of items that fits in maxTokens.
//
// The cut never separates a function_call_output from its function_call;
// when the ideal cut would, it moves forward to the next safe position.
// maxTokens <= 0 disables trimming.
func (tc *TokenCounter) FitItems(items []*item.Item, maxTokens int) []*item.Item {
	if maxTokens <= 0 || len(items) == 0 {
		return items
	}

	used := perItemOverhead
	start := len(items)
	for i := len(items) - 1; i >= 0; i-- {
		n := tc.CountItem(items[i])
		if used+n > maxTokens {
			break
		}
		used += n
		start = i
	}
	if start == 0 {
		return items
	}

	for ; start < len(items); start++ {
		if safeCut(items, start) {
			break
		}
	}
	return items[start:]
}

// safeCut reports whether keeping items[start:] leaves no orphaned output.
func safeCut(items []*item.Item, start int) bool {
	kept := make(map[string]bool)
	for _, it := range items[start:] {
		switch it.Type {
		case item.TypeFunctionCall:
			kept[it.CallID] = true
		case item.TypeFunctionCallOutput:
			if !kept[it.CallID] {
				return false
			}
		}
	}
	return true
}

// GetModel returns the model name this counter is configured for.
func (tc *TokenCounter) GetModel() string {
	if tc == nil {
		return ""
	}
	return tc.model
}

// EstimateTokens provides a rough token estimation of four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// GetEncodingForModel returns the encoding name for a model. Non-OpenAI
// models are approximated with cl100k_base.
func GetEncodingForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "gpt-5"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}
