package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelmux/modelmux/core/infra/logging"
	"github.com/modelmux/modelmux/core/infra/metrics"
)

// RetryConfig bounds failover attempts. MaxRetries counts provider
// invocations, not cursor advances: skipping an already-attempted
// provider does not consume an attempt.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig mirrors the configuration defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Failover executes one logical operation against a category, cycling
// through the ranked provider list with exponential backoff on retryable
// failures. The rolling cursor is shared across calls so successive
// executions spread load; a single-provider list still gets retries
// against that provider.
type Failover struct {
	category  Category
	providers []*Provider
	cfg       RetryConfig
	metrics   metrics.ProviderMetrics

	mu   sync.Mutex
	next int
}

// NewFailover builds an executor over the given ordered provider list.
func NewFailover(category Category, providers []*Provider, cfg RetryConfig) *Failover {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Failover{category: category, providers: providers, cfg: cfg, metrics: metrics.Noop{}}
}

// WithMetrics attaches provider-call instrumentation.
func (f *Failover) WithMetrics(m metrics.ProviderMetrics) *Failover {
	if m != nil {
		f.metrics = m
	}
	return f
}

// Category returns the category this executor serves.
func (f *Failover) Category() Category { return f.category }

func (f *Failover) pick() (*Provider, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.next % len(f.providers)
	f.next = (f.next + 1) % len(f.providers)
	return f.providers[idx], idx
}

// Chat runs a text or vision operation, returning the provider's chunk
// stream and the serving provider name.
func (f *Failover) Chat(ctx context.Context, messages []Message) (Stream, string, error) {
	return run(ctx, f, func(ctx context.Context, p *Provider) (Stream, error) {
		if p.Chat == nil {
			return nil, NewError(CodeServiceError, p.Name, "provider does not implement chat")
		}
		return p.Chat(ctx, messages)
	})
}

// GenerateImage runs an image generation, stamping the result with the
// serving provider name.
func (f *Failover) GenerateImage(ctx context.Context, in ImageInput) (ImageResult, string, error) {
	res, service, err := run(ctx, f, func(ctx context.Context, p *Provider) (ImageResult, error) {
		if p.Image == nil {
			return ImageResult{}, NewError(CodeServiceError, p.Name, "provider does not implement image generation")
		}
		return p.Image(ctx, in)
	})
	if err != nil {
		return ImageResult{}, "", err
	}
	res.Service = service
	return res, service, nil
}

// GenerateVideo runs a video generation.
func (f *Failover) GenerateVideo(ctx context.Context, in VideoInput) (VideoResult, string, error) {
	res, service, err := run(ctx, f, func(ctx context.Context, p *Provider) (VideoResult, error) {
		if p.Video == nil {
			return VideoResult{}, NewError(CodeServiceError, p.Name, "provider does not implement video generation")
		}
		return p.Video(ctx, in)
	})
	if err != nil {
		return VideoResult{}, "", err
	}
	res.Service = service
	return res, service, nil
}

// GenerateAudio runs an audio synthesis.
func (f *Failover) GenerateAudio(ctx context.Context, in AudioInput) (AudioResult, string, error) {
	res, service, err := run(ctx, f, func(ctx context.Context, p *Provider) (AudioResult, error) {
		if p.Audio == nil {
			return AudioResult{}, NewError(CodeServiceError, p.Name, "provider does not implement audio synthesis")
		}
		return p.Audio(ctx, in)
	})
	if err != nil {
		return AudioResult{}, "", err
	}
	res.Service = service
	return res, service, nil
}

// Embed computes embeddings.
func (f *Failover) Embed(ctx context.Context, in EmbeddingInput) (EmbeddingResult, string, error) {
	res, service, err := run(ctx, f, func(ctx context.Context, p *Provider) (EmbeddingResult, error) {
		if p.Embed == nil {
			return EmbeddingResult{}, NewError(CodeServiceError, p.Name, "provider does not implement embeddings")
		}
		return p.Embed(ctx, in)
	})
	if err != nil {
		return EmbeddingResult{}, "", err
	}
	res.Service = service
	return res, service, nil
}

// run drives the attempt loop shared by every category.
//
// Attempts are capped at cfg.MaxRetries invocations. A list entry
// already attempted is skipped while an untried one remains, so the
// loop never invokes the same entry twice in a row when alternatives
// exist. Entries are tracked by position, not name: a name registered
// twice holds two rotation slots. Non-retryable failures surface
// immediately; when all attempts are spent, a synthesized
// SERVICE_ERROR lists every provider tried.
func run[T any](ctx context.Context, f *Failover, invoke func(context.Context, *Provider) (T, error)) (T, string, error) {
	var zero T
	if len(f.providers) == 0 {
		return zero, "", NewError(CodeServiceError, "", fmt.Sprintf("no providers registered for category %q", f.category))
	}

	attempted := make(map[int]struct{}, len(f.providers))
	var order []string
	var failures []error

	for attempt := 0; attempt < f.cfg.MaxRetries; {
		p, idx := f.pick()
		if _, tried := attempted[idx]; tried && len(attempted) < len(f.providers) {
			if err := ctx.Err(); err != nil {
				return zero, "", Classify(err, p.Name)
			}
			continue
		}
		attempt++
		if _, tried := attempted[idx]; !tried {
			attempted[idx] = struct{}{}
			order = append(order, p.Name)
		}

		res, err := invoke(ctx, p)
		if err == nil {
			f.metrics.IncProviderCall(string(f.category), p.Name, "ok")
			return res, p.Name, nil
		}

		cerr := Classify(err, p.Name)
		failures = append(failures, cerr)
		f.metrics.IncProviderCall(string(f.category), p.Name, string(cerr.Code))
		logging.Warn("failover", "provider attempt failed",
			"category", f.category, "service", p.Name, "code", cerr.Code, "attempt", attempt)
		if !cerr.Code.Retryable() {
			return zero, "", cerr
		}

		if attempt < f.cfg.MaxRetries {
			f.metrics.IncFailover(string(f.category))
			select {
			case <-ctx.Done():
				return zero, "", Classify(ctx.Err(), p.Name)
			case <-time.After(backoffDelay(f.cfg, attempt-1)):
			}
		}
	}

	synth := &Error{
		Code:    CodeServiceError,
		Message: fmt.Sprintf("all providers failed for category %q after %d attempts: %s", f.category, f.cfg.MaxRetries, strings.Join(order, ", ")),
		Cause:   errors.Join(failures...),
	}
	return zero, "", synth
}

// backoffDelay returns min(base * 2^n, max).
func backoffDelay(cfg RetryConfig, n int) time.Duration {
	if cfg.BaseDelay <= 0 {
		return 0
	}
	d := cfg.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if cfg.MaxDelay > 0 && d >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return d
}
