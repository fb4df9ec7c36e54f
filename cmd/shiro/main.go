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

// Command shiro runs the Shiro assistant server.
//
// Usage:
//
//	shiro serve --config shiro.yaml
//	shiro serve --config shiro/prod --config-type consul --config-endpoints consul:8500 --watch
//	shiro validate --config shiro.yaml
//	shiro integrations --config shiro.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/shiroai/shiro"
	"github.com/shiroai/shiro/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version      VersionCmd      `cmd:"" help:"Show version information."`
	Serve        ServeCmd        `cmd:"" help:"Start the HTTP server."`
	Validate     ValidateCmd     `cmd:"" help:"Validate the configuration."`
	Integrations IntegrationsCmd `cmd:"" help:"List the configured integrations."`

	Config          string   `short:"c" help:"Config file path, or key path for remote sources." default:"shiro.yaml" env:"SHIRO_CONFIG"`
	ConfigType      string   `name:"config-type" help:"Config source (file, consul, etcd, zookeeper)." default:"file" enum:"file,consul,etcd,zookeeper,zk"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of a remote config source." sep:","`

	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat string `help:"Log format (simple, verbose, json)." env:"LOG_FORMAT"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(shiro.GetVersion())
	return nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("shiro"),
		kong.Description("Shiro - a personal assistant over your tools"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
