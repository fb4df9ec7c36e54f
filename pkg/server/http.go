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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shiroai/shiro/pkg/agent"
	"github.com/shiroai/shiro/pkg/assistant"
	"github.com/shiroai/shiro/pkg/auth"
	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/observability"
	"github.com/shiroai/shiro/pkg/ratelimit"
)

const tracerName = "github.com/shiroai/shiro/pkg/server"

// invokeRequest is the body of /invoke and /invoke_streamed.
type invokeRequest struct {
	Messages     []map[string]any `json:"messages"`
	Integrations []string         `json:"integrations"`
	WebSearch    *bool            `json:"web_search,omitempty"`
	SessionID    string           `json:"session_id,omitempty"`

	items []*item.Item
}

type invokeResponse struct {
	Messages    []*item.Item `json:"messages"`
	FinalOutput any          `json:"final_output"`
	LastAgent   string       `json:"last_agent"`
}

type integrationInfo struct {
	Key               string `json:"key"`
	AgentName         string `json:"agent_name"`
	Transport         string `json:"transport,omitempty"`
	StructuredOutput  bool   `json:"structured_output"`
	RequiresWebSearch bool   `json:"requires_web_search"`
}

// routes builds the router.
// Order: recover -> observability -> logging -> cors -> auth -> rate limit.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	obs := s.opts.Observability
	if obs != nil {
		r.Use(observability.HTTPMiddleware(obs.Tracer(tracerName), obs.Metrics()))
	}
	r.Use(loggingMiddleware)
	if s.cfg.CORS.IsEnabled() {
		r.Use(s.corsMiddleware)
	}

	metricsPath, metricsHandler, metricsOn := obs.MetricsEndpoint()
	public := []string{"/health"}
	if metricsOn {
		public = append(public, metricsPath)
	}

	if s.opts.Validator != nil {
		excluded := append(slices.Clone(s.authCfg.ExcludedPaths), public...)
		r.Use(auth.Middleware(s.opts.Validator, s.authCfg.IsRequireAuth(), excluded...))
		slog.Info("Authentication enabled", "excluded_paths", excluded)
	}
	if s.opts.Limiter != nil {
		r.Use(ratelimit.Middleware(s.opts.Limiter, public...))
		slog.Info("Rate limiting enabled", "scope", s.opts.Limiter.Scope())
	}

	r.Get("/health", s.handleHealth)
	r.Get("/integrations", s.handleIntegrations)
	r.Post("/invoke", s.handleInvoke)
	r.Post("/invoke_streamed", s.handleInvokeStreamed)
	if metricsOn {
		r.Method(http.MethodGet, metricsPath, metricsHandler)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIntegrations(w http.ResponseWriter, _ *http.Request) {
	infos := []integrationInfo{}
	for _, d := range s.currentInvoker().Definitions() {
		if d.Disabled {
			continue
		}
		infos = append(infos, integrationInfo{
			Key:               d.Key(),
			AgentName:         d.AgentName,
			Transport:         d.Transport(),
			StructuredOutput:  d.OutputType != nil,
			RequiresWebSearch: d.RequiresWebSearch,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"integrations": infos})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	invokeReq, err := s.prepare(ctx, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.currentInvoker().Invoke(ctx, invokeReq)
	if err != nil {
		slog.Error("Invocation failed", "trace_id", invokeReq.TraceID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.finish(ctx, req.SessionID, result)

	writeJSON(w, http.StatusOK, invokeResponse{
		Messages:    result.ToInputList(),
		FinalOutput: result.FinalOutput,
		LastAgent:   result.LastAgentName(),
	})
}

// decodeRequest writes a 400 (413 for an oversized body) and returns false
// when the body is not a valid request.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*invokeRequest, bool) {
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	items, err := item.Parse(req.Messages)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	req.items = items
	return &req, true
}

// prepare prepends the stored history of the session, if any.
func (s *Server) prepare(ctx context.Context, req *invokeRequest) (assistant.InvokeRequest, error) {
	items := req.items
	if req.SessionID != "" && s.opts.Sessions != nil {
		history, err := s.opts.Sessions.Load(ctx, req.SessionID)
		if err != nil {
			return assistant.InvokeRequest{}, fmt.Errorf("failed to load session: %w", err)
		}
		items = append(history, items...)
	}

	return assistant.InvokeRequest{
		Items:        items,
		Integrations: req.Integrations,
		WebSearch:    req.WebSearch,
		TraceID:      assistant.NewTraceID(),
	}, nil
}

// finish saves the session and charges the tokens of a completed run.
// Failures are logged; the caller already has its answer.
func (s *Server) finish(ctx context.Context, sessionID string, result *agent.RunResult) {
	if sessionID != "" && s.opts.Sessions != nil {
		if err := s.opts.Sessions.Save(ctx, sessionID, result.ToInputList()); err != nil {
			slog.Warn("Failed to save session", "session_id", sessionID, "error", err)
		}
	}

	if s.opts.Limiter == nil || result.Usage.TotalTokens == 0 {
		return
	}
	if id, ok := ratelimit.IdentityFromContext(ctx); ok {
		if err := s.opts.Limiter.Record(ctx, id.Scope, id.ID, int64(result.Usage.TotalTokens), 0); err != nil {
			slog.Warn("Failed to record token usage", "client", id.ID, "error", err)
		}
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	cors := s.cfg.CORS
	allowAny := slices.Contains(cors.AllowedOrigins, "*")
	methods := strings.Join(cors.AllowedMethods, ", ")
	headers := strings.Join(cors.AllowedHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAny || slices.Contains(cors.AllowedOrigins, origin)) {
			if allowAny && !cors.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			if headers == "*" {
				if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
					w.Header().Set("Access-Control-Allow-Headers", requested)
				}
			} else {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
			if cors.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
