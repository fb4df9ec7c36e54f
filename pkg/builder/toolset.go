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

package builder

import (
	"maps"
	"slices"
	"time"

	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/tool/mcptoolset"
)

// MCPBuilder describes an MCP tool server. The toolset itself is opened
// per invocation by the assistant.
type MCPBuilder struct {
	cfg mcptoolset.Config
}

// NewMCP panics on an empty name.
func NewMCP(name string) *MCPBuilder {
	if name == "" {
		panic("MCP toolset name cannot be empty")
	}
	return &MCPBuilder{cfg: mcptoolset.Config{Name: name}}
}

// URL selects an HTTP transport. SSE unless Transport says otherwise.
func (b *MCPBuilder) URL(url string) *MCPBuilder {
	b.cfg.URL = url
	return b
}

// Command selects the stdio transport.
func (b *MCPBuilder) Command(cmd string, args ...string) *MCPBuilder {
	b.cfg.Command = cmd
	b.cfg.Args = args
	b.cfg.Transport = mcptoolset.TransportStdio
	return b
}

func (b *MCPBuilder) Transport(transport string) *MCPBuilder {
	b.cfg.Transport = transport
	return b
}

func (b *MCPBuilder) Header(key, value string) *MCPBuilder {
	if b.cfg.Headers == nil {
		b.cfg.Headers = make(map[string]string)
	}
	b.cfg.Headers[key] = value
	return b
}

func (b *MCPBuilder) Env(env map[string]string) *MCPBuilder {
	b.cfg.Env = env
	return b
}

func (b *MCPBuilder) Filter(tools ...string) *MCPBuilder {
	b.cfg.Filter = tools
	return b
}

func (b *MCPBuilder) Timeouts(connect, call time.Duration) *MCPBuilder {
	b.cfg.ConnectTimeout = connect
	b.cfg.CallTimeout = call
	return b
}

// Config returns the toolset configuration.
func (b *MCPBuilder) Config() *mcptoolset.Config {
	cfg := b.cfg
	return &cfg
}

// Build validates the configuration by creating an unconnected toolset.
func (b *MCPBuilder) Build() (*mcptoolset.Toolset, error) {
	return mcptoolset.New(*b.Config())
}

// MCPFromConfig converts an mcp section. name labels the server in logs.
func MCPFromConfig(name string, cfg *config.MCPConfig) *mcptoolset.Config {
	if cfg == nil {
		return nil
	}
	b := NewMCP(name)
	if cfg.Command != "" {
		b.Command(cfg.Command, slices.Clone(cfg.Args)...)
		b.Env(maps.Clone(cfg.Env))
	}
	if cfg.URL != "" {
		b.URL(cfg.URL)
	}
	if cfg.Transport != "" {
		b.Transport(cfg.Transport)
	}
	for k, v := range cfg.Headers {
		b.Header(k, v)
	}
	return b.Filter(slices.Clone(cfg.Filter)...).
		Timeouts(cfg.ConnectTimeout, cfg.CallTimeout).
		Config()
}
