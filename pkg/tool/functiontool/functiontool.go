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

// Package functiontool turns typed Go functions into tools.
//
//	type TimeArgs struct {
//	    Zone string `json:"zone,omitempty" jsonschema:"description=IANA time zone"`
//	}
//
//	t, err := functiontool.New(
//	    functiontool.Config{Name: "current_time", Description: "Current date and time"},
//	    func(ctx tool.Context, args TimeArgs) (map[string]any, error) { ... },
//	)
package functiontool

import (
	"encoding/json"
	"fmt"

	"github.com/shiroai/shiro/pkg/schema"
	"github.com/shiroai/shiro/pkg/tool"
)

// Config names and describes a function tool.
type Config struct {
	Name        string
	Description string
}

// New creates a CallableTool from fn. The parameter schema is reflected
// from Args using its json and jsonschema tags.
func New[Args any](cfg Config, fn func(tool.Context, Args) (map[string]any, error)) (tool.CallableTool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("tool description is required")
	}

	params, err := schema.Parameters[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{config: cfg, fn: fn, schema: params}, nil
}

type functionTool[Args any] struct {
	config Config
	fn     func(tool.Context, Args) (map[string]any, error)
	schema map[string]any
}

func (t *functionTool[Args]) Name() string           { return t.config.Name }
func (t *functionTool[Args]) Description() string    { return t.config.Description }
func (t *functionTool[Args]) Schema() map[string]any { return t.schema }

func (t *functionTool[Args]) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	var typed Args
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
		}
		if err := json.Unmarshal(data, &typed); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
		}
	}
	return t.fn(ctx, typed)
}

var _ tool.CallableTool = (*functionTool[struct{}])(nil)
