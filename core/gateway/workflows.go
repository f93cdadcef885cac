package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/modelmux/modelmux/core/infra/logging"
	"github.com/modelmux/modelmux/core/workflow"
)

const (
	defaultHistoryLimit = 50

	// streamGrace keeps the SSE connection open briefly after a
	// terminal event so the final frame reaches the client.
	streamGrace = 100 * time.Millisecond
)

type workflowSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// handleWorkflowList reports the registered definitions and the
// executor's current load.
func (s *Server) handleWorkflowList(w http.ResponseWriter, _ *http.Request) {
	defs := s.catalog.List()
	summaries := make([]workflowSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, workflowSummary{
			Name:        def.Name,
			Description: def.Description,
			Steps:       len(def.Steps),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": summaries,
		"queue":     s.executor.QueueLength(),
		"running":   s.executor.RunningCount(),
	})
}

func (s *Server) handleWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, invalidRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	list, err := s.store.List(r.Context(), workflow.ListOptions{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": list,
		"count":     len(list),
	})
}

type submitResponse struct {
	WorkflowID string `json:"workflowId"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	StatusURL  string `json:"statusUrl"`
	StreamURL  string `json:"streamUrl"`
}

// handleWorkflowSubmit starts a named workflow and returns 202 with the
// URLs to poll or stream its progress.
func (s *Server) handleWorkflowSubmit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	def, ok := s.catalog.Get(name)
	if !ok {
		writeNotFound(w, fmt.Sprintf("unknown workflow %q", name))
		return
	}

	var req struct {
		Input any `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, invalidRequest(fmt.Sprintf("invalid JSON body: %v", err)))
		return
	}

	id, err := s.executor.Submit(r.Context(), def, req.Input)
	if err != nil {
		writeError(w, err)
		return
	}

	status := string(workflow.StatusPending)
	if st, err := s.store.Get(r.Context(), id); err == nil {
		status = string(st.Status)
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		WorkflowID: id,
		Name:       name,
		Status:     status,
		StatusURL:  fmt.Sprintf("/workflow/%s/status", id),
		StreamURL:  fmt.Sprintf("/workflow/%s/stream", id),
	})
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWorkflowDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWorkflowStream serves the live event feed for one workflow as
// server-sent events. Frame order: connected, then a status snapshot,
// then every stored event verbatim until a terminal one arrives.
func (s *Server) handleWorkflowStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("response writer does not support streaming"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEEvent(w, flusher, "connected", map[string]any{
		"workflowId": id,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return
	}

	st, err := s.store.Get(r.Context(), id)
	if err != nil {
		message := "status unavailable"
		if errors.Is(err, workflow.ErrNotFound) {
			message = "workflow not found"
		}
		_ = writeSSEEvent(w, flusher, "error", map[string]any{"message": message})
		return
	}
	if err := writeSSEEvent(w, flusher, "status", st); err != nil {
		return
	}
	if st.Status.Terminal() {
		return
	}

	// Buffered so the emitter never blocks on this client; a full
	// buffer loses events for this subscriber only.
	events := make(chan workflow.Event, 64)
	unsubscribe := s.store.Subscribe(id, func(evt workflow.Event) {
		select {
		case events <- evt:
		default:
			logging.Warn("gateway", "sse subscriber lagging, dropping event",
				"workflow_id", id, "event", string(evt.Type))
		}
	})
	defer unsubscribe()

	for {
		select {
		case evt := <-events:
			if err := writeSSEEvent(w, flusher, string(evt.Type), evt); err != nil {
				return
			}
			if evt.Type.Terminal() {
				select {
				case <-time.After(streamGrace):
				case <-r.Context().Done():
				}
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEEvent(w io.Writer, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
