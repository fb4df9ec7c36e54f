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

// Package controltool provides tools that steer the run loop instead of
// touching the outside world.
package controltool

import (
	"strings"
	"unicode"

	"github.com/shiroai/shiro/pkg/tool"
)

// HandoffPrefix starts the name of every handoff tool.
const HandoffPrefix = "transfer_to_"

// Handoff creates the tool a coordinator calls to hand the conversation to
// agentName. The tool is named transfer_to_<snake_case agent name>, so
// "Gmail Agent" becomes transfer_to_gmail_agent.
func Handoff(agentName, description string) tool.CallableTool {
	return &handoffTool{
		agentName:   agentName,
		description: description,
	}
}

// HandoffToolName returns the tool name used for agentName.
func HandoffToolName(agentName string) string {
	return HandoffPrefix + snakeCase(agentName)
}

type handoffTool struct {
	agentName   string
	description string
}

func (t *handoffTool) Name() string {
	return HandoffToolName(t.agentName)
}

func (t *handoffTool) Description() string {
	desc := "Handoff to the " + t.agentName + " agent to handle the request."
	if t.description != "" {
		desc += " " + t.description
	}
	return desc
}

func (t *handoffTool) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
		"required":             []string{},
	}
}

// Call records the transfer. The output mirrors what clients already see in
// stored conversations: {"assistant": "<agent name>"}.
func (t *handoffTool) Call(ctx tool.Context, _ map[string]any) (map[string]any, error) {
	ctx.Actions().TransferToAgent = t.agentName
	return map[string]any{"assistant": t.agentName}, nil
}

// TargetAgent returns the agent a handoff tool transfers to.
func TargetAgent(t tool.Tool) (string, bool) {
	h, ok := t.(*handoffTool)
	if !ok {
		return "", false
	}
	return h.agentName, true
}

func snakeCase(name string) string {
	var sb strings.Builder
	lastUnderscore := true
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore:
			sb.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}

var _ tool.CallableTool = (*handoffTool)(nil)
