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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shiroai/shiro/pkg/auth"
	"github.com/shiroai/shiro/pkg/builder"
	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/integration"
	"github.com/shiroai/shiro/pkg/observability"
	"github.com/shiroai/shiro/pkg/ratelimit"
	"github.com/shiroai/shiro/pkg/server"
	"github.com/shiroai/shiro/pkg/session"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host  string `help:"Host to bind to (overrides server.host)."`
	Port  int    `help:"Port to listen on (overrides server.port)."`
	Watch bool   `help:"Rebuild the assistant when the configuration changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	defer loader.Close()

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, &cfg.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	obs, err := observability.NewManager(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	opts := server.Options{Observability: obs}

	sessions, err := session.NewFromConfig(ctx, cfg.Session)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	if sessions != nil {
		defer sessions.Close()
		opts.Sessions = sessions
	}

	validator, err := auth.NewValidatorFromConfig(ctx, &cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create token validator: %w", err)
	}
	if validator != nil {
		defer validator.Close()
		opts.Validator = validator
	}

	limiter, err := ratelimit.NewFromConfig(ctx, &cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	if limiter != nil {
		defer limiter.Close()
		opts.Limiter = limiter
	}

	buildOpts := builder.Options{
		Tracer:  obs.Tracer("github.com/shiroai/shiro/pkg/assistant"),
		Metrics: obs.Metrics(),
	}
	current, err := builder.Build(cfg, buildOpts)
	if err != nil {
		return fmt.Errorf("failed to build assistant: %w", err)
	}

	srv := server.New(cfg, current, opts)
	if err := srv.Listen(); err != nil {
		return err
	}

	var mu sync.Mutex
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		_ = current.Close()
	}()

	if c.Watch {
		loader.SetOnChange(func(newCfg *config.Config) {
			next, err := builder.Build(newCfg, buildOpts)
			if err != nil {
				slog.Error("Keeping previous assistant, rebuild failed", "error", err)
				return
			}
			srv.SetInvoker(next)

			mu.Lock()
			prev := current
			current = next
			mu.Unlock()
			_ = prev.Close()

			slog.Info("Assistant reloaded", "integrations", integration.Keys(next.Definitions()))
		})
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	printStartup(srv, cfg, current, obs)
	return srv.Start(ctx)
}

func printStartup(srv *server.Server, cfg *config.Config, a *builder.Assistant, obs *observability.Manager) {
	addr := srv.ListenAddr()
	fmt.Printf("\nShiro server ready\n")
	fmt.Printf("   Model:        %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("   Coordinator:  %s\n", a.CoordinatorName())
	fmt.Printf("   Invoke:       http://%s/invoke\n", addr)
	fmt.Printf("   Stream:       http://%s/invoke_streamed\n", addr)
	fmt.Printf("   Health:       http://%s/health\n", addr)
	if path, _, ok := obs.MetricsEndpoint(); ok {
		fmt.Printf("   Metrics:      http://%s%s\n", addr, path)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:      %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	fmt.Printf("   Sessions:     %s\n", cfg.Session.Backend)
	if cfg.Auth.IsEnabled() {
		fmt.Printf("   Auth:         JWT (%s)\n", cfg.Auth.Issuer)
	}
	if cfg.RateLimit.Enabled {
		fmt.Printf("   Rate limit:   %d rules per %s\n", len(cfg.RateLimit.Limits), cfg.RateLimit.Scope)
	}

	fmt.Println("\n   Integrations:")
	for _, d := range a.Definitions() {
		if d.Disabled {
			continue
		}
		transport := d.Transport()
		if transport == "" {
			transport = "no tool server"
		}
		fmt.Printf("     - %-10s %s (%s)\n", d.Key(), d.AgentName, transport)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
