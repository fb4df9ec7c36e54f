package agent

import (
	"encoding/json"

	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/model"
)

// RunResult is the outcome of a completed run.
type RunResult struct {
	// Input is the conversation the run started from.
	Input []*item.Item

	// NewItems are the items produced by the run, in order.
	NewItems []*item.Item

	// FinalOutput is the final answer: a string, or the decoded JSON object
	// when the last agent has an output type.
	FinalOutput any

	// LastAgent is the agent that produced the final answer.
	LastAgent *Agent

	// Usage sums the token usage of every model call.
	Usage model.Usage
}

// Items returns the input followed by the new items.
func (r *RunResult) Items() []*item.Item {
	out := make([]*item.Item, 0, len(r.Input)+len(r.NewItems))
	out = append(out, r.Input...)
	return append(out, r.NewItems...)
}

// ToInputList returns the conversation to send as the input of the next run.
func (r *RunResult) ToInputList() []*item.Item {
	return item.CloneAll(r.Items())
}

// FinalOutputText returns the final answer as text. Structured answers are
// encoded as JSON.
func (r *RunResult) FinalOutputText() string {
	switch v := r.FinalOutput.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// LastAgentName returns the name of the last agent, or "" if unknown.
func (r *RunResult) LastAgentName() string {
	if r.LastAgent == nil {
		return ""
	}
	return r.LastAgent.Name
}
