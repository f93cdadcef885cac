package mock

import (
	"context"
	"reflect"
	"testing"

	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
)

func TestProvidersCoverEveryCategory(t *testing.T) {
	reg := provider.NewRegistry()
	for _, p := range Providers() {
		reg.Register(p)
	}
	for _, category := range provider.AllCategories {
		if !reg.HasCategory(category) {
			t.Fatalf("category %s has no mock provider", category)
		}
	}
}

func TestChatEchoesLastUserMessage(t *testing.T) {
	providers := Providers()
	text := providers[0]
	stream, err := text.Chat(context.Background(), []provider.Message{
		provider.UserMessage("first"),
		{Role: "assistant", Content: "ignored"},
		provider.UserMessage("hello world"),
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	out, err := workflow.StreamToString(stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if out != "echo: hello world" {
		t.Fatalf("unexpected echo: %q", out)
	}
}

func TestVisionEchoesTextPart(t *testing.T) {
	stream, err := Providers()[1].Chat(context.Background(), []provider.Message{
		provider.VisionMessage("a lighthouse", "https://img.test/x.png"),
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	out, err := workflow.StreamToString(stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if out != "a drawing of a lighthouse" {
		t.Fatalf("unexpected caption: %q", out)
	}
}

func TestImageIsDeterministic(t *testing.T) {
	ctx := context.Background()
	img := Providers()[2]
	first, err := img.Image(ctx, provider.ImageInput{Prompt: "a red cube"})
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	second, err := img.Image(ctx, provider.ImageInput{Prompt: "a red cube"})
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if !reflect.DeepEqual(first.URLs, second.URLs) {
		t.Fatalf("same prompt produced different urls: %v vs %v", first.URLs, second.URLs)
	}
	other, err := img.Image(ctx, provider.ImageInput{Prompt: "a blue sphere"})
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if reflect.DeepEqual(first.URLs, other.URLs) {
		t.Fatal("different prompts should produce different urls")
	}
	if first.RevisedPrompt != "a red cube" {
		t.Fatalf("unexpected revised prompt: %q", first.RevisedPrompt)
	}
}

func TestAudioDurationTracksLength(t *testing.T) {
	audio := Providers()[4]
	short, err := audio.Audio(context.Background(), provider.AudioInput{Input: "hi"})
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	long, err := audio.Audio(context.Background(), provider.AudioInput{Input: "a considerably longer narration input"})
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if short.Duration >= long.Duration {
		t.Fatalf("expected longer input to take longer: %f vs %f", short.Duration, long.Duration)
	}
}

func TestEmbeddingsAreStablePerInput(t *testing.T) {
	embedder := Providers()[5]
	res, err := embedder.Embed(context.Background(), provider.EmbeddingInput{Inputs: []string{"alpha", "beta", "alpha"}})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 vectors got %d", len(res.Embeddings))
	}
	if !reflect.DeepEqual(res.Embeddings[0], res.Embeddings[2]) {
		t.Fatal("identical inputs must embed identically")
	}
	if reflect.DeepEqual(res.Embeddings[0], res.Embeddings[1]) {
		t.Fatal("distinct inputs must embed differently")
	}
	if len(res.Embeddings[0]) != 8 {
		t.Fatalf("expected 8 dimensions got %d", len(res.Embeddings[0]))
	}
}
