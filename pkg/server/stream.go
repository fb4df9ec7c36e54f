package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shiroai/shiro/pkg/agent"
	"github.com/shiroai/shiro/pkg/assistant"
)

// SSE event names. Run events use their agent.EventType except for the
// agent switch, which keeps the name clients already listen for.
const (
	sseAgentUpdated = "agent_updated_stream_event"
	sseError        = "error"
)

const genericErrorDetail = "An error occurred during processing."

// sseWriter writes Server-Sent Events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func eventName(e *agent.Event) string {
	if e.Type == agent.EventAgentUpdated {
		return sseAgentUpdated
	}
	return string(e.Type)
}

// errorPayload is the data of an error event.
func errorPayload(err error) map[string]string {
	var tse *assistant.ToolServerError
	if errors.As(err, &tse) {
		return map[string]string{"error": tse.Error(), "detail": tse.Detail()}
	}
	return map[string]string{"error": err.Error(), "detail": genericErrorDetail}
}

func (s *Server) handleInvokeStreamed(w http.ResponseWriter, r *http.Request) {
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

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	for event, err := range s.currentInvoker().InvokeStreamed(ctx, invokeReq) {
		if err != nil {
			if ctx.Err() != nil {
				slog.Debug("Client went away", "trace_id", invokeReq.TraceID)
				return
			}
			slog.Error("Streamed invocation failed", "trace_id", invokeReq.TraceID, "error", err)
			if werr := sse.send(sseError, errorPayload(err)); werr != nil {
				slog.Debug("Failed to write error event", "error", werr)
			}
			return
		}

		if event.Type == agent.EventDone && event.Result != nil {
			s.finish(ctx, req.SessionID, event.Result)
		}

		if werr := sse.send(eventName(event), event.Payload()); werr != nil {
			slog.Debug("Stream closed by client", "trace_id", invokeReq.TraceID, "error", werr)
			return
		}
	}
}
