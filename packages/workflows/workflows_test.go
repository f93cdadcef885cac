package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
	"github.com/modelmux/modelmux/packages/providers/mock"
)

func TestCatalogContents(t *testing.T) {
	c := Catalog()
	want := map[string]int{
		"story-illustration": 3,
		"narrated-summary":   2,
		"research-brief":     2,
		"semantic-index":     1,
		"teaser-clip":        1,
	}
	if c.Len() != len(want) {
		t.Fatalf("expected %d definitions got %d", len(want), c.Len())
	}
	for name, steps := range want {
		def, ok := c.Get(name)
		if !ok {
			t.Fatalf("definition %q missing", name)
		}
		if len(def.Steps) != steps {
			t.Fatalf("%s: expected %d steps got %d", name, steps, len(def.Steps))
		}
		if def.Description == "" {
			t.Fatalf("%s: description missing", name)
		}
	}

	story, _ := c.Get("story-illustration")
	categories := []provider.Category{provider.CategoryText, provider.CategoryImage, provider.CategoryVision}
	for i, cat := range categories {
		if story.Steps[i].Category != cat {
			t.Fatalf("story step %d: expected %s got %s", i, cat, story.Steps[i].Category)
		}
	}
}

func newRunner(t *testing.T) (*workflow.Executor, workflow.StateStore) {
	t.Helper()
	store := workflow.NewMemoryStore(time.Hour)
	reg := provider.NewRegistry()
	for _, p := range mock.Providers() {
		reg.Register(p)
	}
	execs := provider.NewExecutors(reg, provider.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}, nil)
	exec := workflow.NewExecutor(store, execs, workflow.Options{
		MaxConcurrent: 2,
		StepTimeout:   5 * time.Second,
		TotalTimeout:  10 * time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = exec.Shutdown(ctx)
		_ = store.Close()
	})
	return exec, store
}

func awaitTerminal(t *testing.T, store workflow.StateStore, id string) *workflow.WorkflowStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := store.Get(context.Background(), id)
		if err == nil && st.Status.Terminal() {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("workflow %s never terminated", id)
	return nil
}

func submit(t *testing.T, exec *workflow.Executor, def *workflow.Definition, input any) string {
	t.Helper()
	id, err := exec.Submit(context.Background(), def, input)
	if err != nil {
		t.Fatalf("submit %s: %v", def.Name, err)
	}
	return id
}

func TestStoryIllustrationEndToEnd(t *testing.T) {
	exec, store := newRunner(t)
	id := submit(t, exec, StoryIllustration(), "a tale of two gophers")
	st := awaitTerminal(t, store, id)

	if st.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed got %s (error=%v)", st.Status, st.Error)
	}
	services := []string{"mock-text", "mock-image", "mock-vision"}
	for i, svc := range services {
		if st.Steps[i].Status != workflow.StepCompleted {
			t.Fatalf("step %d not completed: %s", i, st.Steps[i].Status)
		}
		if st.Steps[i].Service != svc {
			t.Fatalf("step %d: expected service %s got %s", i, svc, st.Steps[i].Service)
		}
	}
	caption, ok := st.Result.(string)
	if !ok || !strings.HasPrefix(caption, "a drawing of ") {
		t.Fatalf("unexpected final caption: %v", st.Result)
	}
}

func TestNarratedSummaryProducesAudio(t *testing.T) {
	exec, store := newRunner(t)
	id := submit(t, exec, NarratedSummary(), "the gateway unifies many AI providers behind one API")
	st := awaitTerminal(t, store, id)

	if st.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed got %s (error=%v)", st.Status, st.Error)
	}
	audio, ok := st.Result.(provider.AudioResult)
	if !ok {
		t.Fatalf("expected audio result got %T", st.Result)
	}
	if !strings.HasPrefix(audio.URL, "https://mock.invalid/audio/") {
		t.Fatalf("unexpected audio url: %q", audio.URL)
	}
	if audio.Service != "mock-audio" {
		t.Fatalf("expected service mock-audio got %q", audio.Service)
	}
}

func TestResearchBriefFullRun(t *testing.T) {
	exec, store := newRunner(t)
	id := submit(t, exec, ResearchBrief(), map[string]any{"topic": "failover design"})
	st := awaitTerminal(t, store, id)

	if st.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed got %s (error=%v)", st.Status, st.Error)
	}
	result, ok := st.Result.(string)
	if !ok || !strings.Contains(result, "Expand this outline into a full brief") {
		t.Fatalf("unexpected result: %v", st.Result)
	}
}

func TestResearchBriefSkipsExpansion(t *testing.T) {
	exec, store := newRunner(t)
	id := submit(t, exec, ResearchBrief(), map[string]any{"topic": "failover design", "brief": true})
	st := awaitTerminal(t, store, id)

	if st.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed got %s (error=%v)", st.Status, st.Error)
	}
	if st.Steps[1].Status != workflow.StepSkipped {
		t.Fatalf("expected expand step skipped got %s", st.Steps[1].Status)
	}
	// With the final step skipped the workflow completes without a
	// result; the outline remains on the first step record.
	if st.Result != nil {
		t.Fatalf("expected nil result got %v", st.Result)
	}
	outline, ok := st.Steps[0].Result.(string)
	if !ok || !strings.Contains(outline, "Produce a bullet outline") {
		t.Fatalf("unexpected outline: %v", st.Steps[0].Result)
	}
}

func TestResearchBriefRejectsMissingTopic(t *testing.T) {
	exec, _ := newRunner(t)
	_, err := exec.Submit(context.Background(), ResearchBrief(), map[string]any{"brief": true})
	if err == nil {
		t.Fatal("expected schema rejection")
	}
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Code != provider.CodeInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST got %v", err)
	}
}

func TestSemanticIndexEmbedsEveryInput(t *testing.T) {
	exec, store := newRunner(t)
	id := submit(t, exec, SemanticIndex(), []string{"alpha", "beta"})
	st := awaitTerminal(t, store, id)

	if st.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed got %s (error=%v)", st.Status, st.Error)
	}
	res, ok := st.Result.(provider.EmbeddingResult)
	if !ok || len(res.Embeddings) != 2 {
		t.Fatalf("unexpected result: %v", st.Result)
	}
}

func TestTeaserClipRendersVideo(t *testing.T) {
	exec, store := newRunner(t)
	id := submit(t, exec, TeaserClip(), "waves crashing at dusk")
	st := awaitTerminal(t, store, id)

	if st.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed got %s (error=%v)", st.Status, st.Error)
	}
	res, ok := st.Result.(provider.VideoResult)
	if !ok || len(res.URLs) != 1 {
		t.Fatalf("unexpected result: %v", st.Result)
	}
}
