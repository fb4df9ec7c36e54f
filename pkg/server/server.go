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

package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shiroai/shiro/pkg/agent"
	"github.com/shiroai/shiro/pkg/assistant"
	"github.com/shiroai/shiro/pkg/auth"
	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/integration"
	"github.com/shiroai/shiro/pkg/observability"
	"github.com/shiroai/shiro/pkg/ratelimit"
	"github.com/shiroai/shiro/pkg/session"
)

// cleanupInterval is how often expired rate limit windows are dropped.
const cleanupInterval = time.Minute

// Invoker runs the assistant. *assistant.HierarchicalRunner implements it.
type Invoker interface {
	Invoke(ctx context.Context, req assistant.InvokeRequest) (*agent.RunResult, error)
	InvokeStreamed(ctx context.Context, req assistant.InvokeRequest) iter.Seq2[*agent.Event, error]
	Definitions() []*integration.Definition
}

// Options carries the optional collaborators of a Server.
type Options struct {
	// Sessions persists conversations by session_id. Nil disables sessions.
	Sessions session.Store

	// Validator authenticates requests. Nil disables authentication.
	Validator auth.TokenValidator

	// Limiter throttles clients. Nil disables rate limiting.
	Limiter *ratelimit.Limiter

	// Observability provides tracing and metrics.
	Observability *observability.Manager
}

type invokerHolder struct {
	Invoker
}

// Server is the Shiro HTTP server.
type Server struct {
	cfg     config.ServerConfig
	authCfg config.AuthConfig
	opts    Options

	invoker atomic.Pointer[invokerHolder]
	handler http.Handler

	httpServer *http.Server
	listener   net.Listener
}

// New creates a server for invoker. cfg must be defaulted.
func New(cfg *config.Config, invoker Invoker, opts Options) *Server {
	s := &Server{
		cfg:     cfg.Server,
		authCfg: cfg.Auth,
		opts:    opts,
	}
	s.SetInvoker(invoker)
	s.handler = s.routes()
	return s
}

// SetInvoker swaps the assistant. Requests in flight finish on the old
// one.
func (s *Server) SetInvoker(invoker Invoker) {
	s.invoker.Store(&invokerHolder{Invoker: invoker})
	slog.Debug("Invoker updated", "integrations", integration.Keys(invoker.Definitions()))
}

func (s *Server) currentInvoker() Invoker {
	return s.invoker.Load().Invoker
}

// Handler returns the router with every middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

// Listen binds the listen address. Start calls it when needed.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address(), err)
	}
	s.listener = ln
	return nil
}

// ListenAddr returns the bound address, or "" before Listen.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	if s.opts.Limiter != nil {
		go s.opts.Limiter.RunCleanup(ctx, cleanupInterval)
	}

	slog.Info("HTTP server starting", "address", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting requests and waits for those in flight.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}
