package provider

import "context"

// Category is a coarse kind of AI operation determining input and output
// shapes.
type Category string

const (
	CategoryText      Category = "text"
	CategoryVision    Category = "vision"
	CategoryImage     Category = "image"
	CategoryVideo     Category = "video"
	CategoryAudio     Category = "audio"
	CategoryEmbedding Category = "embedding"
)

// AllCategories lists every category in declaration order.
var AllCategories = []Category{
	CategoryText,
	CategoryVision,
	CategoryImage,
	CategoryVideo,
	CategoryAudio,
	CategoryEmbedding,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryText, CategoryVision, CategoryImage, CategoryVideo, CategoryAudio, CategoryEmbedding:
		return true
	}
	return false
}

const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ContentPart is one piece of a multi-part chat message; either text or an
// image reference depending on Type.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is a single chat turn. Plain text lives in Content; multi-part
// content (vision prompts pairing text with an image) lives in Parts.
type Message struct {
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// UserMessage wraps plain text as a single user turn.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// VisionMessage assembles a user turn pairing a textual prompt with an
// image URL.
func VisionMessage(prompt, imageURL string) Message {
	return Message{
		Role: "user",
		Parts: []ContentPart{
			{Type: PartText, Text: prompt},
			{Type: PartImageURL, ImageURL: imageURL},
		},
	}
}

// ImageInput is the request shape for image generation.
type ImageInput struct {
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`
}

// ImageResult is the structured outcome of an image generation call.
// Service is stamped by the failover executor with the serving provider.
type ImageResult struct {
	URLs          []string       `json:"urls"`
	RevisedPrompt string         `json:"revised_prompt,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Service       string         `json:"service,omitempty"`
}

// VideoInput is the request shape for video generation.
type VideoInput struct {
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`
}

type VideoResult struct {
	URLs     []string       `json:"urls"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Service  string         `json:"service,omitempty"`
}

// AudioInput is the request shape for audio synthesis.
type AudioInput struct {
	Input   string         `json:"input"`
	Options map[string]any `json:"options,omitempty"`
}

type AudioResult struct {
	URL      string  `json:"url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Service  string  `json:"service,omitempty"`
}

// EmbeddingInput is the request shape for embedding computation.
type EmbeddingInput struct {
	Inputs  []string       `json:"inputs"`
	Options map[string]any `json:"options,omitempty"`
}

type EmbeddingResult struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model,omitempty"`
	Service    string      `json:"service,omitempty"`
}

// Category operation signatures. Chat serves both text and vision.
type (
	ChatFunc  func(ctx context.Context, messages []Message) (Stream, error)
	ImageFunc func(ctx context.Context, in ImageInput) (ImageResult, error)
	VideoFunc func(ctx context.Context, in VideoInput) (VideoResult, error)
	AudioFunc func(ctx context.Context, in AudioInput) (AudioResult, error)
	EmbedFunc func(ctx context.Context, in EmbeddingInput) (EmbeddingResult, error)
)

// Provider is a named, stateless adapter for exactly one category. Only
// the function matching Category is set; dispatch switches on Category
// and calls the corresponding field.
type Provider struct {
	Name     string
	Category Category

	Chat  ChatFunc
	Image ImageFunc
	Video VideoFunc
	Audio AudioFunc
	Embed EmbedFunc
}

// NewText builds a text-completion provider.
func NewText(name string, fn ChatFunc) *Provider {
	return &Provider{Name: name, Category: CategoryText, Chat: fn}
}

// NewVision builds a vision-analysis provider.
func NewVision(name string, fn ChatFunc) *Provider {
	return &Provider{Name: name, Category: CategoryVision, Chat: fn}
}

// NewImage builds an image-generation provider.
func NewImage(name string, fn ImageFunc) *Provider {
	return &Provider{Name: name, Category: CategoryImage, Image: fn}
}

// NewVideo builds a video-generation provider.
func NewVideo(name string, fn VideoFunc) *Provider {
	return &Provider{Name: name, Category: CategoryVideo, Video: fn}
}

// NewAudio builds an audio-synthesis provider.
func NewAudio(name string, fn AudioFunc) *Provider {
	return &Provider{Name: name, Category: CategoryAudio, Audio: fn}
}

// NewEmbedding builds an embedding provider.
func NewEmbedding(name string, fn EmbedFunc) *Provider {
	return &Provider{Name: name, Category: CategoryEmbedding, Embed: fn}
}
