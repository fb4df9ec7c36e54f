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

// Package item models conversation items in the OpenAI Responses input format.
//
// Clients send and receive conversations as a flat list of items:
//
//	{"role": "user", "content": "Summarise my unread mail", "type": "message"}
//	{"type": "function_call", "call_id": "call_1", "name": "transfer_to_gmail_agent", "arguments": "{}"}
//	{"type": "function_call_output", "call_id": "call_1", "output": "{\"assistant\": \"Gmail Agent\"}"}
//
// Items of a type this package does not know are kept verbatim so that a
// conversation round-trips through the service unchanged.
package item

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Type is the item discriminator.
type Type string

const (
	TypeMessage            Type = "message"
	TypeFunctionCall       Type = "function_call"
	TypeFunctionCallOutput Type = "function_call_output"
)

// Role is the author of a message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
)

// Content part types.
const (
	PartInputText  = "input_text"
	PartOutputText = "output_text"
	PartRefusal    = "refusal"
)

// ErrInvalidItem is wrapped by every decoding error of this package.
var ErrInvalidItem = errors.New("invalid item")

// Part is one element of a message's content list. Fields other than the
// typed ones (image_url, file_id, detail, ...) are kept in Extra and written
// back unchanged.
type Part struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Refusal     string `json:"refusal,omitempty"`
	Annotations []any  `json:"annotations,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// partFields are the keys Part decodes into typed fields.
var partFields = []string{"type", "text", "refusal", "annotations"}

// IsText reports whether the part carries text or a refusal.
func (p Part) IsText() bool {
	switch p.Type {
	case PartInputText, PartOutputText, PartRefusal:
		return true
	}
	return false
}

// Clone returns a copy whose Extra can be modified independently.
func (p Part) Clone() Part {
	if p.Extra != nil {
		p.Extra = maps.Clone(p.Extra)
	}
	if p.Annotations != nil {
		p.Annotations = slices.Clone(p.Annotations)
	}
	return p
}

// MarshalJSON writes the typed fields merged with Extra.
func (p Part) MarshalJSON() ([]byte, error) {
	type plain Part
	data, err := json.Marshal(plain(p))
	if err != nil || len(p.Extra) == 0 {
		return data, err
	}

	fields := make(map[string]json.RawMessage, len(p.Extra)+len(partFields))
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, typed := fields[k]; !typed && !slices.Contains(partFields, k) {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a content part object.
func (p *Part) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("content part must be an object")
	}

	type plain Part
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.Type == "" {
		return errors.New("content part without type")
	}
	*p = Part(decoded)

	for _, k := range partFields {
		delete(fields, k)
	}
	if len(fields) > 0 {
		p.Extra = fields
	}
	return nil
}

// Item is a single conversation entry.
type Item struct {
	Type   Type
	ID     string
	Status string

	// message
	Role  Role
	Parts []Part
	// PlainContent marks content that was (or should be) sent as a bare string.
	PlainContent bool

	// function_call and function_call_output
	CallID    string
	Name      string
	Arguments string
	Output    string

	raw json.RawMessage
}

// UserMessage returns a user message with string content.
func UserMessage(text string) *Item {
	return &Item{
		Type:         TypeMessage,
		Role:         RoleUser,
		Parts:        []Part{{Type: PartInputText, Text: text}},
		PlainContent: true,
	}
}

// AssistantMessage returns a completed assistant message with one output_text part.
func AssistantMessage(text string) *Item {
	return &Item{
		Type:   TypeMessage,
		ID:     "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status: "completed",
		Role:   RoleAssistant,
		Parts:  []Part{{Type: PartOutputText, Text: text, Annotations: []any{}}},
	}
}

// FunctionCall returns a function_call item. args is encoded to JSON.
func FunctionCall(callID, name string, args map[string]any) *Item {
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	return &Item{
		Type:      TypeFunctionCall,
		ID:        "fc_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    "completed",
		CallID:    callID,
		Name:      name,
		Arguments: string(encoded),
	}
}

// FunctionCallOutput returns the output item answering callID.
func FunctionCallOutput(callID, output string) *Item {
	return &Item{
		Type:   TypeFunctionCallOutput,
		CallID: callID,
		Output: output,
	}
}

// Text concatenates the text of a message, or returns the output of a
// function_call_output.
func (it *Item) Text() string {
	if it == nil {
		return ""
	}
	switch it.Type {
	case TypeMessage:
		var sb strings.Builder
		for _, p := range it.Parts {
			if p.Text != "" {
				sb.WriteString(p.Text)
			} else if p.Refusal != "" {
				sb.WriteString(p.Refusal)
			}
		}
		return sb.String()
	case TypeFunctionCallOutput:
		return it.Output
	default:
		return ""
	}
}

// Known reports whether the item is one of the typed kinds.
func (it *Item) Known() bool {
	return it.raw == nil
}

// ArgumentsMap decodes a function_call's arguments. Empty arguments decode to an empty map.
func (it *Item) ArgumentsMap() (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(it.Arguments) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(it.Arguments), &args); err != nil {
		return nil, fmt.Errorf("arguments of %s are not a JSON object: %w", it.Name, err)
	}
	return args, nil
}

// Clone returns a deep copy.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := *it
	if it.Parts != nil {
		c.Parts = make([]Part, len(it.Parts))
		for i, p := range it.Parts {
			c.Parts[i] = p.Clone()
		}
	}
	if it.raw != nil {
		c.raw = append(json.RawMessage(nil), it.raw...)
	}
	return &c
}

// CloneAll deep copies a list of items.
func CloneAll(items []*Item) []*Item {
	out := make([]*Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

type wireItem struct {
	Type      Type            `json:"type,omitempty"`
	ID        string          `json:"id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Role      Role            `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments *string         `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// MarshalJSON encodes the item in Responses input format.
func (it *Item) MarshalJSON() ([]byte, error) {
	if it.raw != nil {
		return it.raw, nil
	}

	w := wireItem{Type: it.Type, ID: it.ID, Status: it.Status}
	switch it.Type {
	case TypeMessage:
		w.Role = it.Role
		var err error
		if it.PlainContent {
			w.Content, err = json.Marshal(it.Text())
		} else {
			parts := it.Parts
			if parts == nil {
				parts = []Part{}
			}
			w.Content, err = json.Marshal(parts)
		}
		if err != nil {
			return nil, err
		}
	case TypeFunctionCall:
		w.CallID = it.CallID
		w.Name = it.Name
		args := it.Arguments
		w.Arguments = &args
	case TypeFunctionCallOutput:
		w.CallID = it.CallID
		out, err := json.Marshal(it.Output)
		if err != nil {
			return nil, err
		}
		w.Output = out
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes one input item.
func (it *Item) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if w.Type == "" && w.Role != "" {
		w.Type = TypeMessage
	}

	*it = Item{Type: w.Type, ID: w.ID, Status: w.Status}

	switch w.Type {
	case TypeMessage:
		if w.Role == "" {
			return fmt.Errorf("%w: message without role", ErrInvalidItem)
		}
		it.Role = w.Role
		return it.decodeContent(w.Content)

	case TypeFunctionCall:
		if w.CallID == "" || w.Name == "" {
			return fmt.Errorf("%w: function_call requires call_id and name", ErrInvalidItem)
		}
		it.CallID = w.CallID
		it.Name = w.Name
		if w.Arguments != nil {
			it.Arguments = *w.Arguments
		}
		return nil

	case TypeFunctionCallOutput:
		if w.CallID == "" {
			return fmt.Errorf("%w: function_call_output requires call_id", ErrInvalidItem)
		}
		it.CallID = w.CallID
		it.Output = decodeOutput(w.Output)
		return nil

	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidItem)

	default:
		it.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
		return nil
	}
}

func (it *Item) decodeContent(raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		it.PlainContent = true
		return nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
		partType := PartInputText
		if it.Role == RoleAssistant {
			partType = PartOutputText
		}
		it.Parts = []Part{{Type: partType, Text: s}}
		it.PlainContent = true
		return nil
	case '[':
		var parts []Part
		if err := json.Unmarshal(raw, &parts); err != nil {
			return fmt.Errorf("%w: content parts: %v", ErrInvalidItem, err)
		}
		it.Parts = parts
		return nil
	default:
		return fmt.Errorf("%w: content must be a string or a list of parts", ErrInvalidItem)
	}
}

// decodeOutput accepts a JSON string or any other JSON value, which is kept
// as its compact encoding.
func decodeOutput(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ParseError reports which item of a list failed to decode. It wraps an
// error matching ErrInvalidItem.
type ParseError struct {
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes a list of generic JSON objects, as found in a request body.
// The first invalid entry is returned as a *ParseError.
func Parse(raw []map[string]any) ([]*Item, error) {
	items := make([]*Item, 0, len(raw))
	for i, m := range raw {
		if m == nil {
			return nil, &ParseError{Index: i, Err: fmt.Errorf("%w: null", ErrInvalidItem)}
		}
		data, err := json.Marshal(m)
		if err != nil {
			return nil, &ParseError{Index: i, Err: fmt.Errorf("%w: %v", ErrInvalidItem, err)}
		}
		it := &Item{}
		if err := it.UnmarshalJSON(data); err != nil {
			return nil, &ParseError{Index: i, Err: err}
		}
		items = append(items, it)
	}
	return items, nil
}

// ToMaps encodes items as generic JSON objects, the inverse of Parse.
func ToMaps(items []*Item) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		data, err := it.MarshalJSON()
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
