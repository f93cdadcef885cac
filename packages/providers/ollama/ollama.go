// Package ollama adapts a local Ollama server to the provider contract:
// chat streaming over the NDJSON /api/chat endpoint, with vision prompts
// carried as image attachments on the message.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelmux/modelmux/core/provider"
)

const (
	defaultURL   = "http://localhost:11434"
	defaultModel = "llama3"

	// Generation against a cold model can stall for a long while on
	// first load; the request context still cuts this short.
	requestTimeout = 150 * time.Second

	maxLineBytes = 1 << 20
)

type Client struct {
	url    string
	model  string
	client *http.Client
}

func New(url, model string) *Client {
	if url == "" {
		url = defaultURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// NewFromEnv builds a client from OLLAMA_URL and OLLAMA_MODEL.
func NewFromEnv() *Client {
	return New(os.Getenv("OLLAMA_URL"), os.Getenv("OLLAMA_MODEL"))
}

// Providers exposes the client as text and vision providers named
// "ollama". Both ride the same chat endpoint; vision models accept the
// image attachments, plain models ignore them.
func (c *Client) Providers() []*provider.Provider {
	return []*provider.Provider{
		provider.NewText("ollama", c.chat),
		provider.NewVision("ollama", c.chat),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (c *Client) chat(ctx context.Context, messages []provider.Message) (provider.Stream, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("empty message list")
	}
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: toChatMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errorSnippet(resp.Body))
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &ndjsonStream{body: resp.Body, scanner: scanner}, nil
}

func toChatMessages(messages []provider.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		cm := chatMessage{Role: m.Role, Content: m.Content}
		for _, part := range m.Parts {
			switch part.Type {
			case provider.PartText:
				if cm.Content != "" {
					cm.Content += "\n"
				}
				cm.Content += part.Text
			case provider.PartImageURL:
				cm.Images = append(cm.Images, imagePayload(part.ImageURL))
			}
		}
		out = append(out, cm)
	}
	return out
}

// imagePayload unwraps a base64 data URL into the raw payload Ollama
// expects; other references pass through untouched.
func imagePayload(url string) string {
	if !strings.HasPrefix(url, "data:") {
		return url
	}
	if i := strings.Index(url, ";base64,"); i >= 0 {
		return url[i+len(";base64,"):]
	}
	return url
}

// ndjsonStream yields one content chunk per NDJSON line until the
// server marks the generation done.
type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *ndjsonStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Done {
			return "", io.EOF
		}
		if chunk.Message.Content == "" {
			continue
		}
		return chunk.Message.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}

func errorSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	snippet := strings.TrimSpace(string(data))
	if snippet == "" {
		return "no body"
	}
	return snippet
}
