package workflow

import (
	"fmt"
	"time"

	"github.com/modelmux/modelmux/core/provider"
)

// Step is one unit of work inside a definition. Exactly one of Input or
// Transform should be set; when both are nil the step receives the
// workflow input unchanged. SkipIf is consulted before the step runs.
type Step struct {
	Name      string
	Category  provider.Category
	Input     any
	Transform Transformer
	Timeout   time.Duration
	SkipIf    func(ctx *Context) bool
}

// Definition is an ordered multi-step pipeline registered under a
// unique name. Definitions are immutable once built.
type Definition struct {
	Name               string
	Description        string
	Steps              []Step
	TotalTimeout       time.Duration
	DefaultStepTimeout time.Duration
	InputSchema        map[string]any
}

// Builder assembles a Definition step by step. The zero value is not
// usable, construct with NewBuilder.
type Builder struct {
	def Definition
	err error
}

func NewBuilder(name string) *Builder {
	b := &Builder{def: Definition{Name: name}}
	if name == "" {
		b.err = fmt.Errorf("workflow name must not be empty")
	}
	return b
}

func (b *Builder) Description(d string) *Builder {
	b.def.Description = d
	return b
}

// TotalTimeout bounds the whole run, queue wait excluded.
func (b *Builder) TotalTimeout(d time.Duration) *Builder {
	b.def.TotalTimeout = d
	return b
}

// DefaultStepTimeout applies to steps that do not set their own.
func (b *Builder) DefaultStepTimeout(d time.Duration) *Builder {
	b.def.DefaultStepTimeout = d
	return b
}

// InputSchema attaches a JSON schema validated against the submitted
// input before the workflow is accepted.
func (b *Builder) InputSchema(schema map[string]any) *Builder {
	b.def.InputSchema = schema
	return b
}

func (b *Builder) Step(s Step) *Builder {
	if s.Name == "" {
		b.fail(fmt.Errorf("step %d: name must not be empty", len(b.def.Steps)))
		return b
	}
	if !s.Category.Valid() {
		b.fail(fmt.Errorf("step %q: unknown category %q", s.Name, s.Category))
		return b
	}
	b.def.Steps = append(b.def.Steps, s)
	return b
}

// Text appends a text generation step fed by the given transformer.
func (b *Builder) Text(name string, transform Transformer) *Builder {
	return b.Step(Step{Name: name, Category: provider.CategoryText, Transform: transform})
}

// Vision appends a vision step fed by the given transformer.
func (b *Builder) Vision(name string, transform Transformer) *Builder {
	return b.Step(Step{Name: name, Category: provider.CategoryVision, Transform: transform})
}

// Image appends an image generation step fed by the given transformer.
func (b *Builder) Image(name string, transform Transformer) *Builder {
	return b.Step(Step{Name: name, Category: provider.CategoryImage, Transform: transform})
}

// Video appends a video generation step fed by the given transformer.
func (b *Builder) Video(name string, transform Transformer) *Builder {
	return b.Step(Step{Name: name, Category: provider.CategoryVideo, Transform: transform})
}

// Audio appends an audio synthesis step fed by the given transformer.
func (b *Builder) Audio(name string, transform Transformer) *Builder {
	return b.Step(Step{Name: name, Category: provider.CategoryAudio, Transform: transform})
}

// Embedding appends an embedding step fed by the given transformer.
func (b *Builder) Embedding(name string, transform Transformer) *Builder {
	return b.Step(Step{Name: name, Category: provider.CategoryEmbedding, Transform: transform})
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build returns the assembled definition. A definition without steps is
// rejected, as is any earlier builder error.
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, fmt.Errorf("workflow %q: %w", b.def.Name, b.err)
	}
	if len(b.def.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q: at least one step is required", b.def.Name)
	}
	def := b.def
	def.Steps = append([]Step(nil), b.def.Steps...)
	return &def, nil
}

// MustBuild is Build for static definitions wired at startup.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
