// Package workflows assembles the predefined workflow catalog shipped
// with the gateway: multi-step pipelines that chain categories through
// the shared transformers.
package workflows

import (
	"fmt"

	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
)

// Catalog returns the built-in definitions. Callers may register their
// own on top; names collide last-write-wins.
func Catalog() *workflow.Catalog {
	c := workflow.NewCatalog()
	c.Register(StoryIllustration())
	c.Register(NarratedSummary())
	c.Register(ResearchBrief())
	c.Register(SemanticIndex())
	c.Register(TeaserClip())
	return c
}

// StoryIllustration writes a short story, renders an illustration from
// it, then captions the illustration with a vision model.
func StoryIllustration() *workflow.Definition {
	return workflow.NewBuilder("story-illustration").
		Description("Write a short story, illustrate it, and caption the illustration").
		Text("write", workflow.InputToChatMessages).
		Image("illustrate", workflow.PreviousTextToImageInput).
		Vision("caption", workflow.PreviousImageToVisionInput("Describe this illustration in one sentence.")).
		MustBuild()
}

// NarratedSummary condenses the input and speaks the summary.
func NarratedSummary() *workflow.Definition {
	return workflow.NewBuilder("narrated-summary").
		Description("Summarize the input and synthesize the summary as speech").
		Text("summarize", summarizeInput).
		Audio("narrate", workflow.PreviousTextToAudioInput).
		MustBuild()
}

// ResearchBrief outlines a topic and, unless the caller asked for a
// brief version, expands the outline into a full write-up.
func ResearchBrief() *workflow.Definition {
	return workflow.NewBuilder("research-brief").
		Description("Outline a topic, then expand the outline unless brief output is requested").
		InputSchema(map[string]any{
			"type":     "object",
			"required": []any{"topic"},
			"properties": map[string]any{
				"topic": map[string]any{"type": "string", "minLength": 1},
				"brief": map[string]any{"type": "boolean"},
			},
		}).
		Text("outline", outlineTopic).
		Step(workflow.Step{
			Name:      "expand",
			Category:  provider.CategoryText,
			Transform: expandOutline,
			SkipIf:    briefRequested,
		}).
		MustBuild()
}

// SemanticIndex embeds the supplied snippets for similarity search.
func SemanticIndex() *workflow.Definition {
	return workflow.NewBuilder("semantic-index").
		Description("Embed the supplied snippets for similarity search").
		Embedding("embed", workflow.InputToEmbeddingInput).
		MustBuild()
}

// TeaserClip renders a short video from a prompt.
func TeaserClip() *workflow.Definition {
	return workflow.NewBuilder("teaser-clip").
		Description("Generate a short teaser video from a prompt").
		Video("render", workflow.InputToVideoInput).
		MustBuild()
}

func summarizeInput(input any, ctx *workflow.Context) (any, error) {
	if text, ok := input.(string); ok {
		return []provider.Message{
			provider.UserMessage("Summarize the following in three sentences:\n\n" + text),
		}, nil
	}
	return workflow.InputToChatMessages(input, ctx)
}

func outlineTopic(input any, _ *workflow.Context) (any, error) {
	obj, _ := input.(map[string]any)
	topic, _ := obj["topic"].(string)
	if topic == "" {
		return nil, provider.NewError(provider.CodeInvalidRequest, "workflow", "input must carry a topic")
	}
	return []provider.Message{
		provider.UserMessage("Produce a bullet outline covering: " + topic),
	}, nil
}

func expandOutline(_ any, ctx *workflow.Context) (any, error) {
	prev, ok := ctx.ResultByName("outline")
	if !ok {
		return nil, provider.NewError(provider.CodeInvalidRequest, "workflow", "outline result missing")
	}
	text, ok := prev.(string)
	if !ok {
		return nil, provider.NewError(provider.CodeInvalidRequest, "workflow",
			fmt.Sprintf("outline result is not text (got %T)", prev))
	}
	return []provider.Message{
		provider.UserMessage("Expand this outline into a full brief:\n\n" + text),
	}, nil
}

func briefRequested(ctx *workflow.Context) bool {
	obj, _ := ctx.Input.(map[string]any)
	brief, _ := obj["brief"].(bool)
	return brief
}
