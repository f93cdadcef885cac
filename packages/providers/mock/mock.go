// Package mock supplies deterministic in-process providers for every
// category. They serve development without upstream credentials and the
// end-to-end tests: identical inputs always produce identical outputs.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/modelmux/modelmux/core/provider"
)

// Providers returns one provider per category, all named mock-<category>.
func Providers() []*provider.Provider {
	return []*provider.Provider{
		provider.NewText("mock-text", chat("echo: ")),
		provider.NewVision("mock-vision", chat("a drawing of ")),
		provider.NewImage("mock-image", generateImage),
		provider.NewVideo("mock-video", generateVideo),
		provider.NewAudio("mock-audio", generateAudio),
		provider.NewEmbedding("mock-embedding", embed),
	}
}

func chat(prefix string) provider.ChatFunc {
	return func(_ context.Context, messages []provider.Message) (provider.Stream, error) {
		return provider.NewSliceStream(prefix, lastUserText(messages)), nil
	}
}

// lastUserText extracts the final user turn, joining multi-part content
// so vision prompts echo their textual half.
func lastUserText(messages []provider.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != "user" {
			continue
		}
		if m.Content != "" {
			return m.Content
		}
		var parts []string
		for _, p := range m.Parts {
			if p.Type == provider.PartText && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return "nothing"
}

func generateImage(_ context.Context, in provider.ImageInput) (provider.ImageResult, error) {
	return provider.ImageResult{
		URLs:          []string{fmt.Sprintf("https://mock.invalid/images/%s.png", digest(in.Prompt))},
		RevisedPrompt: in.Prompt,
		Metadata:      map[string]any{"options": in.Options},
	}, nil
}

func generateVideo(_ context.Context, in provider.VideoInput) (provider.VideoResult, error) {
	return provider.VideoResult{
		URLs:     []string{fmt.Sprintf("https://mock.invalid/videos/%s.mp4", digest(in.Prompt))},
		Metadata: map[string]any{"options": in.Options},
	}, nil
}

func generateAudio(_ context.Context, in provider.AudioInput) (provider.AudioResult, error) {
	// Rough narration estimate: fifteen characters per second.
	return provider.AudioResult{
		URL:      fmt.Sprintf("https://mock.invalid/audio/%s.mp3", digest(in.Input)),
		Duration: float64(len(in.Input)) / 15,
	}, nil
}

func embed(_ context.Context, in provider.EmbeddingInput) (provider.EmbeddingResult, error) {
	out := make([][]float64, len(in.Inputs))
	for i, text := range in.Inputs {
		out[i] = vector(text)
	}
	return provider.EmbeddingResult{Embeddings: out, Model: "mock-embedding-8d"}, nil
}

// vector derives a stable 8-dimension embedding from the text hash.
func vector(text string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float64, 8)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float64(int64(seed>>11)) / float64(1<<52)
	}
	return v
}

func digest(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}
