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

// Package schema reflects JSON schemas from Go types and validates documents
// against them.
//
// Two flavors are produced:
//
//	Parameters[T]() - tool parameters; required comes from jsonschema:"required" tags
//	Strict[T]()     - structured output; every property is required, optional
//	                  ones (omitempty) become nullable, extra properties are rejected
//
// Strict schemas satisfy OpenAI's strict json_schema mode.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Parameters reflects the parameter schema of a tool argument struct.
func Parameters[T any]() (map[string]any, error) {
	m, err := reflectType[T](&jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	})
	if err != nil {
		return nil, err
	}
	if _, ok := m["properties"]; !ok && m["type"] == "object" {
		m["properties"] = map[string]any{}
	}
	return m, nil
}

// Strict reflects a structured-output schema from T.
func Strict[T any]() (map[string]any, error) {
	m, err := reflectType[T](&jsonschema.Reflector{
		DoNotReference: true,
	})
	if err != nil {
		return nil, err
	}
	makeStrict(m)
	return m, nil
}

// reflectType reflects T with its struct expanded at the root. Unnamed types
// such as struct{} have no definition to expand and are reflected inline.
func reflectType[T any](r *jsonschema.Reflector) (map[string]any, error) {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.ExpandedStruct = t.Name() != ""
	return toMap(r.ReflectFromType(t))
}

func toMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// makeStrict rewrites every object node in place.
func makeStrict(node map[string]any) {
	if items, ok := node["items"].(map[string]any); ok {
		makeStrict(items)
	}

	props, ok := node["properties"].(map[string]any)
	if !ok {
		return
	}

	required := map[string]bool{}
	if list, ok := node["required"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name, p := range props {
		names = append(names, name)
		child, ok := p.(map[string]any)
		if !ok {
			continue
		}
		makeStrict(child)
		if !required[name] {
			nullable(child)
		}
	}
	sort.Strings(names)

	all := make([]any, len(names))
	for i, n := range names {
		all[i] = n
	}
	node["required"] = all
	node["additionalProperties"] = false
}

func nullable(node map[string]any) {
	switch t := node["type"].(type) {
	case string:
		if t != "null" {
			node["type"] = []any{t, "null"}
		}
	case []any:
		for _, v := range t {
			if v == "null" {
				return
			}
		}
		node["type"] = append(t, "null")
	}
	if enum, ok := node["enum"].([]any); ok {
		node["enum"] = append(enum, nil)
	}
}

// Validator checks JSON documents against a compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles s.
func NewValidator(s map[string]any) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// ValidationError lists every violation found in a document.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "document does not match schema: " + strings.Join(e.Violations, "; ")
}

// Validate checks a JSON document.
func (v *Validator) Validate(doc []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, re := range result.Errors() {
		verr.Violations = append(verr.Violations, re.String())
	}
	return verr
}
