// Package openai adapts the OpenAI REST API to the provider contract:
// SSE chat streaming for text and vision, image generation, speech
// synthesis, and embeddings.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
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
	defaultBaseURL = "https://api.openai.com/v1"

	defaultChatModel   = "gpt-4o-mini"
	defaultImageModel  = "dall-e-3"
	defaultSpeechModel = "tts-1"
	defaultEmbedModel  = "text-embedding-3-small"
	defaultVoice       = "alloy"

	requestTimeout = 120 * time.Second
	maxLineBytes   = 1 << 20
)

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// NewFromEnv builds a client from OPENAI_API_KEY and OPENAI_BASE_URL.
// Returns nil when no key is configured.
func NewFromEnv() *Client {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	return New(key, os.Getenv("OPENAI_BASE_URL"))
}

// Providers exposes every category the API serves, all named "openai".
func (c *Client) Providers() []*provider.Provider {
	return []*provider.Provider{
		provider.NewText("openai", c.chat),
		provider.NewVision("openai", c.chat),
		provider.NewImage("openai", c.generateImage),
		provider.NewAudio("openai", c.generateSpeech),
		provider.NewEmbedding("openai", c.embed),
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.apiError(resp)
	}
	return resp, nil
}

// apiError folds the API's error JSON into the message so the
// classifier sees both the status code and the upstream wording.
func (c *Client) apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("openai returned status %d: %s", resp.StatusCode, body.Error.Message)
	}
	return fmt.Errorf("openai returned status %d", resp.StatusCode)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func (c *Client) chat(ctx context.Context, messages []provider.Message) (provider.Stream, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("empty message list")
	}
	resp, err := c.post(ctx, "/chat/completions", map[string]any{
		"model":    defaultChatModel,
		"messages": toChatMessages(messages),
		"stream":   true,
	})
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &sseStream{body: resp.Body, scanner: scanner}, nil
}

// toChatMessages keeps plain turns as string content and renders
// multi-part turns in the content-array form the vision models expect.
func toChatMessages(messages []provider.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Parts) == 0 {
			out = append(out, chatMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := make([]map[string]any, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case provider.PartText:
				parts = append(parts, map[string]any{"type": "text", "text": p.Text})
			case provider.PartImageURL:
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": p.ImageURL},
				})
			}
		}
		out = append(out, chatMessage{Role: m.Role, Content: parts})
	}
	return out
}

// sseStream yields delta content from a chat completion event stream,
// ending on the [DONE] sentinel.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *sseStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return "", io.EOF
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decode openai chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("openai: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

func (c *Client) generateImage(ctx context.Context, in provider.ImageInput) (provider.ImageResult, error) {
	payload := map[string]any{
		"model":  defaultImageModel,
		"prompt": in.Prompt,
	}
	for k, v := range in.Options {
		payload[k] = v
	}
	resp, err := c.post(ctx, "/images/generations", payload)
	if err != nil {
		return provider.ImageResult{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			URL           string `json:"url"`
			B64JSON       string `json:"b64_json"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provider.ImageResult{}, fmt.Errorf("decode image response: %w", err)
	}
	if len(out.Data) == 0 {
		return provider.ImageResult{}, fmt.Errorf("openai returned no images")
	}
	res := provider.ImageResult{RevisedPrompt: out.Data[0].RevisedPrompt}
	for _, d := range out.Data {
		switch {
		case d.URL != "":
			res.URLs = append(res.URLs, d.URL)
		case d.B64JSON != "":
			res.URLs = append(res.URLs, "data:image/png;base64,"+d.B64JSON)
		}
	}
	return res, nil
}

func (c *Client) generateSpeech(ctx context.Context, in provider.AudioInput) (provider.AudioResult, error) {
	payload := map[string]any{
		"model": defaultSpeechModel,
		"input": in.Input,
		"voice": defaultVoice,
	}
	for k, v := range in.Options {
		payload[k] = v
	}
	resp, err := c.post(ctx, "/audio/speech", payload)
	if err != nil {
		return provider.AudioResult{}, err
	}
	defer resp.Body.Close()

	// The endpoint answers with raw audio bytes; a data URL keeps the
	// result self-contained without a blob store.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.AudioResult{}, fmt.Errorf("read audio body: %w", err)
	}
	if len(data) == 0 {
		return provider.AudioResult{}, fmt.Errorf("openai returned no audio")
	}
	return provider.AudioResult{
		URL: "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (c *Client) embed(ctx context.Context, in provider.EmbeddingInput) (provider.EmbeddingResult, error) {
	payload := map[string]any{
		"model": defaultEmbedModel,
		"input": in.Inputs,
	}
	for k, v := range in.Options {
		payload[k] = v
	}
	resp, err := c.post(ctx, "/embeddings", payload)
	if err != nil {
		return provider.EmbeddingResult{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provider.EmbeddingResult{}, fmt.Errorf("decode embeddings response: %w", err)
	}
	res := provider.EmbeddingResult{Model: out.Model}
	for _, d := range out.Data {
		res.Embeddings = append(res.Embeddings, d.Embedding)
	}
	return res, nil
}
