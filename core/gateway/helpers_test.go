package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelmux/modelmux/core/infra/config"
	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:          0,
		MaxConcurrent: 2,
		StepTimeout:   5 * time.Second,
		TotalTimeout:  10 * time.Second,
		ResultTTL:     time.Hour,
		MaxRetries:    2,
		RetryBase:     time.Millisecond,
		RetryMax:      2 * time.Millisecond,
		ShutdownGrace: time.Second,
	}
}

func staticChat(chunks ...string) provider.ChatFunc {
	return func(_ context.Context, _ []provider.Message) (provider.Stream, error) {
		return provider.NewSliceStream(chunks...), nil
	}
}

// testRegistry covers every category with deterministic providers.
func testRegistry() *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register(provider.NewText("alpha", staticChat("hel", "lo")))
	reg.Register(provider.NewVision("viz", staticChat("a cat")))
	reg.Register(provider.NewImage("painter", func(_ context.Context, in provider.ImageInput) (provider.ImageResult, error) {
		return provider.ImageResult{URLs: []string{"https://img.test/1.png"}, Metadata: map[string]any{"prompt": in.Prompt}}, nil
	}))
	reg.Register(provider.NewVideo("director", func(_ context.Context, in provider.VideoInput) (provider.VideoResult, error) {
		return provider.VideoResult{URLs: []string{"https://vid.test/1.mp4"}}, nil
	}))
	reg.Register(provider.NewAudio("speaker", func(_ context.Context, in provider.AudioInput) (provider.AudioResult, error) {
		return provider.AudioResult{URL: "https://audio.test/1.mp3", Duration: 1.5}, nil
	}))
	reg.Register(provider.NewEmbedding("encoder", func(_ context.Context, in provider.EmbeddingInput) (provider.EmbeddingResult, error) {
		out := make([][]float64, len(in.Inputs))
		for i := range in.Inputs {
			out[i] = []float64{float64(i), 0.5}
		}
		return provider.EmbeddingResult{Embeddings: out, Model: "test-embed"}, nil
	}))
	return reg
}

func testCatalog(t *testing.T) *workflow.Catalog {
	t.Helper()
	catalog := workflow.NewCatalog()

	echo, err := workflow.NewBuilder("echo").
		Description("single text step").
		Text("write", workflow.InputToChatMessages).
		Build()
	if err != nil {
		t.Fatalf("build echo: %v", err)
	}
	catalog.Register(echo)

	guarded, err := workflow.NewBuilder("guarded").
		InputSchema(map[string]any{
			"type":     "object",
			"required": []any{"topic"},
			"properties": map[string]any{
				"topic": map[string]any{"type": "string"},
			},
		}).
		Text("write", func(input any, _ *workflow.Context) (any, error) {
			obj, _ := input.(map[string]any)
			topic, _ := obj["topic"].(string)
			return []provider.Message{provider.UserMessage(topic)}, nil
		}).
		Build()
	if err != nil {
		t.Fatalf("build guarded: %v", err)
	}
	catalog.Register(guarded)

	return catalog
}

// newGateway assembles a Server around the given collaborators with the
// executor's event hook wired into the websocket hub.
func newGateway(t *testing.T, cfg *config.Config, reg *provider.Registry, catalog *workflow.Catalog) *Server {
	t.Helper()

	store := workflow.NewMemoryStore(cfg.ResultTTL)
	execs := provider.NewExecutors(reg, provider.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBase,
		MaxDelay:   cfg.RetryMax,
	}, nil)
	hub := NewEventHub()
	executor := workflow.NewExecutor(store, execs, workflow.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		StepTimeout:   cfg.StepTimeout,
		TotalTimeout:  cfg.TotalTimeout,
		EventHook:     hub.Publish,
	})
	srv := NewServer(Options{
		Config:    cfg,
		Registry:  reg,
		Executors: execs,
		Catalog:   catalog,
		Store:     store,
		Executor:  executor,
		Hub:       hub,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = executor.Shutdown(ctx)
		hub.Close()
		srv.limiter.Close()
		_ = store.Close()
	})
	return srv
}

func newTestGateway(t *testing.T) *Server {
	t.Helper()
	return newGateway(t, testConfig(), testRegistry(), testCatalog(t))
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func newAuthedRequest(method, target, authorization string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return req
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

// awaitStatus polls until the workflow reaches the wanted status.
func awaitStatus(t *testing.T, store workflow.StateStore, id string, want workflow.Status) *workflow.WorkflowStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := store.Get(context.Background(), id)
		if err == nil && st.Status == want {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("workflow %s never reached %s", id, want)
	return nil
}
