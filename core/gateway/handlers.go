package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelmux/modelmux/core/infra/logging"
	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
)

// handleRoot reports liveness plus a registry and workflow snapshot.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	providers := make(map[string]int, len(stats))
	for category, count := range stats {
		providers[string(category)] = count
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "modelmux",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"providers":      providers,
		"workflows": map[string]any{
			"registered": s.catalog.Len(),
			"queue":      s.executor.QueueLength(),
			"running":    s.executor.RunningCount(),
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	s.streamChat(w, r, provider.CategoryText)
}

func (s *Server) handleVision(w http.ResponseWriter, r *http.Request) {
	s.streamChat(w, r, provider.CategoryVision)
}

// streamChat runs a single text or vision call and relays the chunk
// stream as server-sent events. The serving provider is exposed in the
// X-AI-Service header, so it must be resolved before the first write.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, category provider.Category) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coerced, err := workflow.InputToChatMessages(chatValue(body), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	messages, ok := coerced.([]provider.Message)
	if !ok || len(messages) == 0 {
		writeError(w, invalidRequest("request must carry a prompt or messages"))
		return
	}

	stream, service, err := s.executors.For(category).Chat(r.Context(), messages)
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = stream.Close() }()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("response writer does not support streaming"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-AI-Service", service)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// Headers are gone; the failure rides the stream itself.
			perr := provider.Classify(err, service)
			payload, _ := json.Marshal(errorBody{
				Name:    "ProviderError",
				Message: perr.Message,
				Service: perr.Service,
				Code:    perr.Code,
			})
			_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			flusher.Flush()
			logging.Warn("gateway", "stream aborted", "category", string(category), "service", service, "error", err)
			return
		}
		if err := writeSSEData(w, chunk); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coerced, err := workflow.InputToImageInput(body, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	in, _ := coerced.(provider.ImageInput)
	res, _, err := s.executors.For(provider.CategoryImage).GenerateImage(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coerced, err := workflow.InputToVideoInput(body, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	in, _ := coerced.(provider.VideoInput)
	res, _, err := s.executors.For(provider.CategoryVideo).GenerateVideo(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coerced, err := workflow.InputToAudioInput(body, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	in, _ := coerced.(provider.AudioInput)
	res, _, err := s.executors.For(provider.CategoryAudio).GenerateAudio(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coerced, err := workflow.InputToEmbeddingInput(body, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	in, _ := coerced.(provider.EmbeddingInput)
	res, _, err := s.executors.For(provider.CategoryEmbedding).Embed(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeBody parses the request body as a free-form JSON value. The
// input transformers downstream decide whether the shape is usable.
func decodeBody(r *http.Request) (any, error) {
	var v any
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidRequest("request body must not be empty")
		}
		return nil, invalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return v, nil
}

// chatValue unwraps {"prompt": "..."} bodies so both the prompt and
// messages request shapes feed the same coercion.
func chatValue(body any) any {
	obj, ok := body.(map[string]any)
	if !ok {
		return body
	}
	if _, ok := obj["messages"]; ok {
		return body
	}
	if prompt, ok := obj["prompt"].(string); ok && prompt != "" {
		return prompt
	}
	return body
}

// writeSSEData frames a chunk as one SSE data event. Chunks may span
// lines; each line gets its own data: prefix per the SSE grammar.
func writeSSEData(w io.Writer, chunk string) error {
	for _, line := range strings.Split(chunk, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func invalidRequest(message string) error {
	return provider.NewError(provider.CodeInvalidRequest, "gateway", message)
}
