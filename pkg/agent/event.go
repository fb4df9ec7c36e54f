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

package agent

import (
	"github.com/shiroai/shiro/pkg/item"
)

// EventType names a run event.
type EventType string

const (
	// EventAgentUpdated is emitted when the run starts and on every handoff.
	EventAgentUpdated EventType = "agent_updated"

	// EventToolCall is emitted for every tool call requested by the model.
	EventToolCall EventType = "tool_call"

	// EventToolOutput carries the output of a tool call.
	EventToolOutput EventType = "tool_output"

	// EventMessageOutput carries a complete assistant message.
	EventMessageOutput EventType = "message_output"

	// EventMessageDelta carries a streamed text fragment. Only emitted when
	// the runner has StreamDeltas enabled.
	EventMessageDelta EventType = "message_delta"

	// EventDone is the last event of a successful run.
	EventDone EventType = "done"
)

// Event is one step of a run.
type Event struct {
	Type EventType

	// AgentName is the agent that produced the event.
	AgentName string

	// Item is the conversation item behind tool_call, tool_output and
	// message_output events.
	Item *item.Item

	// Delta is the text fragment of a message_delta event.
	Delta string

	// Result is set on the done event.
	Result *RunResult
}

// Payload returns the data clients receive for the event.
func (e *Event) Payload() map[string]any {
	switch e.Type {
	case EventAgentUpdated:
		return map[string]any{"agent_name": e.AgentName}
	case EventToolCall:
		args, err := e.Item.ArgumentsMap()
		if err != nil {
			return map[string]any{
				"tool_name":    e.Item.Name,
				"tool_args":    e.Item.Arguments,
				"tool_call_id": e.Item.CallID,
			}
		}
		return map[string]any{
			"tool_name":    e.Item.Name,
			"tool_args":    args,
			"tool_call_id": e.Item.CallID,
		}
	case EventToolOutput:
		return map[string]any{
			"tool_call_id": e.Item.CallID,
			"output":       e.Item.Output,
		}
	case EventMessageOutput:
		return map[string]any{"content": e.Item.Text()}
	case EventMessageDelta:
		return map[string]any{"delta": e.Delta}
	case EventDone:
		return map[string]any{"status": "complete"}
	default:
		return map[string]any{}
	}
}
