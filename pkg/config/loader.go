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

package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/shiroai/shiro/pkg/config/provider"
)

// Loader reads the configuration from a provider and, when watched, hands
// every valid new revision to a callback.
type Loader struct {
	provider provider.Provider

	mu       sync.Mutex
	onChange func(*Config)
	digest   [sha256.Size]byte
}

// NewLoader creates a Loader reading from p.
func NewLoader(p provider.Provider) *Loader {
	return &Loader{provider: p}
}

// SetOnChange sets the callback Watch invokes with each reloaded config.
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// Load reads and parses the current document.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg, _, err := l.Reload(ctx)
	return cfg, err
}

// Reload reads the document again. changed is false when the bytes are
// identical to the last successful load; cfg is still returned.
func (l *Loader) Reload(ctx context.Context) (cfg *Config, changed bool, err error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err = Parse(data)
	if err != nil {
		return nil, false, err
	}

	sum := sha256.Sum256(bytes.TrimSpace(data))
	l.mu.Lock()
	changed = sum != l.digest
	l.digest = sum
	l.mu.Unlock()
	return cfg, changed, nil
}

// Parse decodes a YAML or JSON document, expands the environment, applies
// defaults and validates.
func Parse(data []byte) (*Config, error) {
	rawMap, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{}
	if err := decodeConfig(expandEnvVars(rawMap), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Watch blocks until ctx is done, reloading on every provider change.
// Invalid revisions and unchanged content are skipped, so the callback
// only sees configs worth rebuilding for.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}

	if changes == nil {
		slog.Info("Config source cannot be watched", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Watching configuration", "type", l.provider.Type())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			l.apply(ctx)
		}
	}
}

func (l *Loader) apply(ctx context.Context) {
	cfg, changed, err := l.Reload(ctx)
	if err != nil {
		slog.Error("Ignoring invalid configuration", "error", err)
		return
	}
	if !changed {
		slog.Debug("Configuration content unchanged")
		return
	}

	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()

	slog.Info("Configuration reloaded", "integrations", len(cfg.Integrations))
	if fn != nil {
		fn(cfg)
	}
}

// Close releases the provider.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// Provider returns the underlying provider.
func (l *Loader) Provider() provider.Provider {
	return l.provider
}

// parseBytes reads a document into a generic map. YAML is tried first;
// JSON documents normally parse as YAML too, the JSON pass only improves
// the error for malformed JSON.
func parseBytes(data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	yamlErr := yaml.Unmarshal(data, &out)
	if yamlErr == nil {
		if out == nil {
			out = map[string]any{}
		}
		return out, nil
	}

	if trimmed := bytes.TrimSpace(data); trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("invalid YAML: %w", yamlErr)
}

var decodeHook = mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
)

// decodeConfig maps the generic document onto Config through the yaml tags.
func decodeConfig(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       decodeHook,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// LoadConfig opens the source described by src and loads it once. The
// returned Loader can then Watch the same source.
func LoadConfig(ctx context.Context, src provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// LoadConfigFile loads a config file.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	return LoadConfig(ctx, provider.ProviderConfig{Type: provider.TypeFile, Path: path})
}
