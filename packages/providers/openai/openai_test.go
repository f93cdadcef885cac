package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
)

func TestChatStreamsSSE(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	t.Cleanup(ts.Close)

	c := New("sk-test", ts.URL)
	stream, err := c.chat(context.Background(), []provider.Message{provider.UserMessage("hi")})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	out, err := workflow.StreamToString(stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected hello got %q", out)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["stream"] != true {
		t.Fatal("request must ask for streaming")
	}
}

func TestChatErrorCarriesAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached for requests"}}`))
	}))
	t.Cleanup(ts.Close)

	c := New("sk-test", ts.URL)
	_, err := c.chat(context.Background(), []provider.Message{provider.UserMessage("hi")})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "Rate limit reached") {
		t.Fatalf("error should carry status and message: %v", err)
	}
	perr := provider.Classify(err, "openai")
	if perr.Code != provider.CodeRateLimited {
		t.Fatalf("expected RATE_LIMITED classification got %s", perr.Code)
	}
}

func TestVisionMessagesUseContentParts(t *testing.T) {
	msgs := toChatMessages([]provider.Message{
		provider.UserMessage("plain"),
		provider.VisionMessage("what is this", "https://img.test/x.png"),
	})
	if msgs[0].Content != "plain" {
		t.Fatalf("plain turn should keep string content, got %v", msgs[0].Content)
	}
	parts, ok := msgs[1].Content.([]map[string]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("vision turn should become part array, got %v", msgs[1].Content)
	}
	if parts[0]["type"] != "text" || parts[1]["type"] != "image_url" {
		t.Fatalf("unexpected part ordering: %v", parts)
	}
}

func TestGenerateImage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["size"] != "1024x1024" {
			t.Errorf("options should flow into the payload, got %v", body["size"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img.test/out.png","revised_prompt":"a detailed red cube"}]}`))
	}))
	t.Cleanup(ts.Close)

	c := New("sk-test", ts.URL)
	res, err := c.generateImage(context.Background(), provider.ImageInput{
		Prompt:  "a red cube",
		Options: map[string]any{"size": "1024x1024"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.URLs) != 1 || res.URLs[0] != "https://img.test/out.png" {
		t.Fatalf("unexpected urls: %v", res.URLs)
	}
	if res.RevisedPrompt != "a detailed red cube" {
		t.Fatalf("unexpected revised prompt: %q", res.RevisedPrompt)
	}
}

func TestGenerateSpeechReturnsDataURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0x49, 0x44, 0x33})
	}))
	t.Cleanup(ts.Close)

	c := New("sk-test", ts.URL)
	res, err := c.generateSpeech(context.Background(), provider.AudioInput{Input: "read this"})
	if err != nil {
		t.Fatalf("speech: %v", err)
	}
	if !strings.HasPrefix(res.URL, "data:audio/mpeg;base64,") {
		t.Fatalf("expected data url, got %q", res.URL)
	}
}

func TestEmbed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2]},{"embedding":[0.3,0.4]}],"model":"text-embedding-3-small"}`))
	}))
	t.Cleanup(ts.Close)

	c := New("sk-test", ts.URL)
	res, err := c.embed(context.Background(), provider.EmbeddingInput{Inputs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(res.Embeddings) != 2 || res.Embeddings[1][1] != 0.4 {
		t.Fatalf("unexpected embeddings: %v", res.Embeddings)
	}
	if res.Model != "text-embedding-3-small" {
		t.Fatalf("unexpected model %q", res.Model)
	}
}

func TestNewFromEnvRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if NewFromEnv() != nil {
		t.Fatal("expected nil client without a key")
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://proxy.test/v1")
	c := NewFromEnv()
	if c == nil || c.baseURL != "http://proxy.test/v1" {
		t.Fatalf("unexpected client: %+v", c)
	}
}
