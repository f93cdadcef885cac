package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/modelmux/modelmux/core/provider"
)

// Transformer maps the workflow input and accumulated context into the
// typed input of the next step. Step definitions may supply one in
// place of a literal input value.
type Transformer func(input any, ctx *Context) (any, error)

// StreamToString drains a chunk stream into the concatenated text. Used
// to finalize text and vision steps: within a workflow the step result
// is always the full string, never an incremental stream.
func StreamToString(stream provider.Stream) (string, error) {
	defer func() { _ = stream.Close() }()
	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
	}
}

// InputToChatMessages accepts a plain string (wrapped as a single user
// message), a ready message list, or an object carrying a messages
// array. Anything else is rejected as an invalid request.
func InputToChatMessages(input any, _ *Context) (any, error) {
	switch v := input.(type) {
	case string:
		return []provider.Message{provider.UserMessage(v)}, nil
	case provider.Message:
		return []provider.Message{v}, nil
	case []provider.Message:
		return v, nil
	case map[string]any:
		raw, ok := v["messages"]
		if !ok {
			return nil, invalidInput("input object must carry a messages array")
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, invalidInput("messages array is not serializable")
		}
		var messages []provider.Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, invalidInput("messages array has an invalid shape")
		}
		return messages, nil
	default:
		return nil, invalidInput(fmt.Sprintf("cannot build chat messages from %T", input))
	}
}

// InputToImageInput accepts a plain string prompt or an object with a
// prompt field; remaining object keys become generation options.
func InputToImageInput(input any, _ *Context) (any, error) {
	switch v := input.(type) {
	case string:
		return provider.ImageInput{Prompt: v}, nil
	case provider.ImageInput:
		return v, nil
	case map[string]any:
		prompt, opts, err := promptAndOptions(v)
		if err != nil {
			return nil, err
		}
		return provider.ImageInput{Prompt: prompt, Options: opts}, nil
	default:
		return nil, invalidInput(fmt.Sprintf("cannot build image input from %T", input))
	}
}

// InputToVideoInput mirrors InputToImageInput for the video category.
func InputToVideoInput(input any, _ *Context) (any, error) {
	switch v := input.(type) {
	case string:
		return provider.VideoInput{Prompt: v}, nil
	case provider.VideoInput:
		return v, nil
	case map[string]any:
		prompt, opts, err := promptAndOptions(v)
		if err != nil {
			return nil, err
		}
		return provider.VideoInput{Prompt: prompt, Options: opts}, nil
	default:
		return nil, invalidInput(fmt.Sprintf("cannot build video input from %T", input))
	}
}

// InputToAudioInput accepts a plain string or an object with an input
// field; remaining object keys become synthesis options.
func InputToAudioInput(input any, _ *Context) (any, error) {
	switch v := input.(type) {
	case string:
		return provider.AudioInput{Input: v}, nil
	case provider.AudioInput:
		return v, nil
	case map[string]any:
		text, ok := v["input"].(string)
		if !ok || text == "" {
			return nil, invalidInput("audio input object must carry a non-empty input string")
		}
		return provider.AudioInput{Input: text, Options: extraOptions(v, "input")}, nil
	default:
		return nil, invalidInput(fmt.Sprintf("cannot build audio input from %T", input))
	}
}

// InputToEmbeddingInput accepts a single string, a string list, or an
// object with an inputs array.
func InputToEmbeddingInput(input any, _ *Context) (any, error) {
	switch v := input.(type) {
	case string:
		return provider.EmbeddingInput{Inputs: []string{v}}, nil
	case []string:
		return provider.EmbeddingInput{Inputs: v}, nil
	case provider.EmbeddingInput:
		return v, nil
	case map[string]any:
		raw, ok := v["inputs"]
		if !ok {
			return nil, invalidInput("embedding input object must carry an inputs array")
		}
		inputs, err := toStringSlice(raw)
		if err != nil {
			return nil, err
		}
		return provider.EmbeddingInput{Inputs: inputs, Options: extraOptions(v, "inputs")}, nil
	default:
		return nil, invalidInput(fmt.Sprintf("cannot build embedding input from %T", input))
	}
}

// PreviousTextToImageInput turns the previous step's text result into an
// image generation prompt.
func PreviousTextToImageInput(_ any, ctx *Context) (any, error) {
	text, err := previousText(ctx)
	if err != nil {
		return nil, err
	}
	return provider.ImageInput{Prompt: text}, nil
}

// PreviousTextToAudioInput turns the previous step's text result into
// audio synthesis input.
func PreviousTextToAudioInput(_ any, ctx *Context) (any, error) {
	text, err := previousText(ctx)
	if err != nil {
		return nil, err
	}
	return provider.AudioInput{Input: text}, nil
}

// PreviousImageToVisionInput pairs the first URL of the previous step's
// image result with the supplied prompt as a vision message.
func PreviousImageToVisionInput(prompt string) Transformer {
	return func(_ any, ctx *Context) (any, error) {
		prev, ok := ctx.PreviousResult()
		if !ok {
			return nil, invalidInput("no previous result available")
		}
		img, ok := prev.(provider.ImageResult)
		if !ok {
			return nil, invalidInput(fmt.Sprintf("previous result is not an image result (got %T)", prev))
		}
		if len(img.URLs) == 0 {
			return nil, invalidInput("previous image result carries no URLs")
		}
		return []provider.Message{provider.VisionMessage(prompt, img.URLs[0])}, nil
	}
}

func previousText(ctx *Context) (string, error) {
	prev, ok := ctx.PreviousResult()
	if !ok {
		return "", invalidInput("no previous result available")
	}
	text, ok := prev.(string)
	if !ok {
		return "", invalidInput(fmt.Sprintf("previous result is not text (got %T)", prev))
	}
	return text, nil
}

func promptAndOptions(v map[string]any) (string, map[string]any, error) {
	prompt, ok := v["prompt"].(string)
	if !ok || prompt == "" {
		return "", nil, invalidInput("input object must carry a non-empty prompt string")
	}
	return prompt, extraOptions(v, "prompt"), nil
}

// extraOptions copies every key except the named one, so callers can
// pass generation options alongside the primary field.
func extraOptions(v map[string]any, primary string) map[string]any {
	if len(v) <= 1 {
		return nil
	}
	opts := make(map[string]any, len(v)-1)
	for k, val := range v {
		if k == primary {
			continue
		}
		opts[k] = val
	}
	return opts
}

func toStringSlice(raw any) ([]string, error) {
	switch vv := raw.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, invalidInput("inputs array must contain only strings")
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{vv}, nil
	default:
		return nil, invalidInput("inputs must be a string or string array")
	}
}

// coerceInput normalizes a resolved step input into the typed value the
// category's executor expects: a message list for text and vision, the
// structured input for the generation categories.
func coerceInput(category provider.Category, value any, ctx *Context) (any, error) {
	switch category {
	case provider.CategoryText, provider.CategoryVision:
		return InputToChatMessages(value, ctx)
	case provider.CategoryImage:
		return InputToImageInput(value, ctx)
	case provider.CategoryVideo:
		return InputToVideoInput(value, ctx)
	case provider.CategoryAudio:
		return InputToAudioInput(value, ctx)
	case provider.CategoryEmbedding:
		return InputToEmbeddingInput(value, ctx)
	default:
		return nil, invalidInput(fmt.Sprintf("unknown category %q", category))
	}
}

func invalidInput(message string) error {
	return provider.NewError(provider.CodeInvalidRequest, "workflow", message)
}
