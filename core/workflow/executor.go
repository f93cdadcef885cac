package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelmux/modelmux/core/infra/logging"
	"github.com/modelmux/modelmux/core/infra/metrics"
	"github.com/modelmux/modelmux/core/infra/schema"
	"github.com/modelmux/modelmux/core/provider"
)

const (
	defaultMaxConcurrent = 5
	defaultStepTimeout   = 2 * time.Minute
	defaultTotalTimeout  = 5 * time.Minute
)

// ErrShutdown is returned by Submit once Shutdown has begun.
var ErrShutdown = errors.New("executor is shut down")

// Options configures the executor. Zero fields fall back to the
// defaults above; Metrics defaults to Noop.
type Options struct {
	MaxConcurrent int
	StepTimeout   time.Duration
	TotalTimeout  time.Duration
	Metrics       metrics.WorkflowMetrics

	// EventHook mirrors every emitted event to an extra sink after
	// store delivery, for firehose streams and message-bus bridges.
	// Called synchronously from the driver goroutine.
	EventHook func(Event)
}

// Executor runs submitted workflows with a bounded number of concurrent
// drivers and a FIFO queue for the overflow. Every status transition is
// persisted before its event is emitted, so a subscriber that reads the
// record after an event never sees state older than that event.
type Executor struct {
	store     StateStore
	providers *provider.Executors
	opts      Options
	metrics   metrics.WorkflowMetrics
	schemas   *schema.Cache

	mu      sync.Mutex
	queue   []*job
	running map[string]*job
	closed  bool
	wg      sync.WaitGroup
}

type job struct {
	id    string
	def   *Definition
	input any

	// ready is closed once the queued transition has been persisted and
	// its event delivered. A driver admitted from the queue waits on it,
	// so workflow:queued can never land after the events of the run
	// itself. Nil for jobs that got a slot immediately.
	ready chan struct{}
}

func NewExecutor(store StateStore, providers *provider.Executors, opts Options) *Executor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = defaultTotalTimeout
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	return &Executor{
		store:     store,
		providers: providers,
		opts:      opts,
		metrics:   m,
		schemas:   schema.NewCache(),
		running:   make(map[string]*job),
	}
}

// Submit validates the input, persists the pending record and either
// launches a driver or queues the job. The returned id is usable
// immediately for status reads and subscriptions.
func (e *Executor) Submit(ctx context.Context, def *Definition, input any) (string, error) {
	if def == nil {
		return "", fmt.Errorf("workflow definition required")
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", ErrShutdown
	}
	if len(def.InputSchema) > 0 {
		if err := e.schemas.Validate(def.Name, def.InputSchema, input); err != nil {
			return "", provider.NewError(provider.CodeInvalidRequest, "workflow", fmt.Sprintf("input rejected: %v", err))
		}
	}

	id := uuid.NewString()
	if err := e.store.Create(ctx, NewStatus(id, def, input)); err != nil {
		return "", fmt.Errorf("persist workflow: %w", err)
	}

	j := &job{id: id, def: def, input: input}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = e.store.Delete(ctx, id)
		return "", ErrShutdown
	}
	if len(e.running) < e.opts.MaxConcurrent {
		e.running[id] = j
		e.wg.Add(1)
		go e.drive(j)
		e.mu.Unlock()
		e.syncGauges()
		return id, nil
	}
	j.ready = make(chan struct{})
	e.queue = append(e.queue, j)
	position := len(e.queue)
	e.mu.Unlock()
	e.syncGauges()

	e.persist(ctx, id, func(st *WorkflowStatus) {
		if st.Status == StatusPending {
			st.Status = StatusQueued
		}
	})
	e.emit(ctx, NewEvent(EventWorkflowQueued, id, map[string]any{"name": def.Name, "position": position}))
	close(j.ready)
	logging.Info("workflow", "workflow queued", "workflow_id", id, "name", def.Name, "position", position)
	return id, nil
}

// QueueLength reports the number of jobs waiting for a slot.
func (e *Executor) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// RunningCount reports the number of active drivers.
func (e *Executor) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Shutdown stops admitting work and waits for active drivers to finish
// or the context to expire. Jobs still queued are left in the queued
// status for an operator to resubmit.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive owns one workflow from the running transition to its terminal
// status. Persistence uses a background context so terminal state still
// lands after the run deadline has fired.
func (e *Executor) drive(j *job) {
	defer e.wg.Done()
	defer e.finish(j.id)

	// Admission from the queue must not outrun Submit's queued
	// persist and emit.
	if j.ready != nil {
		<-j.ready
	}

	bg := context.Background()
	start := time.Now()

	e.persist(bg, j.id, func(st *WorkflowStatus) { st.Status = StatusRunning })
	e.metrics.IncWorkflowStarted(j.def.Name)
	e.emit(bg, NewEvent(EventWorkflowStarted, j.id, map[string]any{"name": j.def.Name, "totalSteps": len(j.def.Steps)}))
	logging.Info("workflow", "workflow started", "workflow_id", j.id, "name", j.def.Name, "steps", len(j.def.Steps))

	runCtx, cancel := context.WithTimeout(bg, e.totalBudget(j.def))
	defer cancel()

	wctx := newContext(j.id, j.def.Name, j.input, len(j.def.Steps))
	wfErr := e.runSteps(runCtx, j, wctx)
	elapsed := time.Since(start)
	now := time.Now().UTC()

	if wfErr != nil {
		e.persist(bg, j.id, func(st *WorkflowStatus) {
			st.Status = StatusFailed
			st.Error = wfErr
			st.CompletedAt = &now
		})
		e.emit(bg, NewEvent(EventWorkflowFailed, j.id, map[string]any{"error": wfErr, "durationMs": elapsed.Milliseconds()}))
		e.metrics.IncWorkflowCompleted(j.def.Name, string(StatusFailed))
		logging.Warn("workflow", "workflow failed", "workflow_id", j.id, "name", j.def.Name, "step", wfErr.Step, "code", wfErr.Code)
	} else {
		result, _ := wctx.Result(len(j.def.Steps) - 1)
		e.persist(bg, j.id, func(st *WorkflowStatus) {
			st.Status = StatusCompleted
			st.Result = result
			st.CompletedAt = &now
		})
		e.emit(bg, NewEvent(EventWorkflowComplete, j.id, map[string]any{"result": result, "durationMs": elapsed.Milliseconds()}))
		e.metrics.IncWorkflowCompleted(j.def.Name, string(StatusCompleted))
		logging.Info("workflow", "workflow completed", "workflow_id", j.id, "name", j.def.Name, "duration_ms", elapsed.Milliseconds())
	}
	e.metrics.ObserveWorkflowDuration(j.def.Name, elapsed.Seconds())
}

// finish releases the driver slot and admits queued jobs while capacity
// remains.
func (e *Executor) finish(id string) {
	e.mu.Lock()
	delete(e.running, id)
	var admitted []*job
	for !e.closed && len(e.queue) > 0 && len(e.running) < e.opts.MaxConcurrent {
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.running[next.id] = next
		admitted = append(admitted, next)
	}
	for _, next := range admitted {
		e.wg.Add(1)
		go e.drive(next)
	}
	e.mu.Unlock()
	e.syncGauges()
}

func (e *Executor) runSteps(ctx context.Context, j *job, wctx *Context) *WorkflowError {
	bg := context.Background()
	for i := range j.def.Steps {
		step := j.def.Steps[i]
		wctx.CurrentStep = i

		if step.SkipIf != nil && step.SkipIf(wctx) {
			e.persist(bg, j.id, func(st *WorkflowStatus) {
				st.CurrentStep = i
				st.Steps[i].Status = StepSkipped
			})
			e.emit(bg, NewEvent(EventStepSkipped, j.id, map[string]any{"step": i, "name": step.Name, "reason": "skip condition met"}))
			continue
		}

		startedAt := time.Now().UTC()
		e.persist(bg, j.id, func(st *WorkflowStatus) {
			st.CurrentStep = i
			st.Steps[i].Status = StepRunning
			st.Steps[i].StartedAt = &startedAt
		})
		e.emit(bg, NewEvent(EventStepStarted, j.id, map[string]any{"step": i, "name": step.Name, "category": string(step.Category)}))

		result, service, err := e.runStep(ctx, j, wctx, step)
		completedAt := time.Now().UTC()
		durationMS := completedAt.Sub(startedAt).Milliseconds()

		if err != nil {
			wfErr := toWorkflowError(err, i)
			e.persist(bg, j.id, func(st *WorkflowStatus) {
				st.Steps[i].Status = StepFailed
				st.Steps[i].Error = wfErr
				st.Steps[i].Service = wfErr.Service
				st.Steps[i].CompletedAt = &completedAt
				st.Steps[i].DurationMS = durationMS
			})
			e.emit(bg, NewEvent(EventStepFailed, j.id, map[string]any{
				"step": i, "name": step.Name, "error": wfErr.Message, "code": string(wfErr.Code), "service": wfErr.Service,
			}))
			return wfErr
		}

		wctx.setResult(i, step.Name, result)
		e.persist(bg, j.id, func(st *WorkflowStatus) {
			st.Steps[i].Status = StepCompleted
			st.Steps[i].Service = service
			st.Steps[i].Result = result
			st.Steps[i].CompletedAt = &completedAt
			st.Steps[i].DurationMS = durationMS
		})
		e.emit(bg, NewEvent(EventStepComplete, j.id, map[string]any{
			"step": i, "name": step.Name, "service": service, "result": result, "durationMs": durationMS,
		}))
	}
	return nil
}

// runStep resolves the input and dispatches to the category's failover
// executor under the per-step deadline. The deadline context derives
// from the total-timeout context, so whichever fires first cancels the
// call. A provider that ignores cancellation is abandoned, not waited
// for.
func (e *Executor) runStep(ctx context.Context, j *job, wctx *Context, step Step) (any, string, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = j.def.DefaultStepTimeout
	}
	if timeout <= 0 {
		timeout = e.opts.StepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input := step.Input
	if step.Transform != nil {
		v, err := step.Transform(j.input, wctx)
		if err != nil {
			return nil, "", err
		}
		input = v
	} else if input == nil {
		input = j.input
	}

	type outcome struct {
		result  any
		service string
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, service, err := e.invoke(stepCtx, step.Category, input, wctx)
		ch <- outcome{result, service, err}
	}()
	select {
	case out := <-ch:
		return out.result, out.service, out.err
	case <-stepCtx.Done():
		// The step deadline derives from the run deadline; name the
		// budget that actually fired.
		if ctx.Err() != nil {
			return nil, "", provider.NewError(provider.CodeTimeout, "", fmt.Sprintf("workflow timed out after %s during step %q", e.totalBudget(j.def), step.Name))
		}
		return nil, "", provider.NewError(provider.CodeTimeout, "", fmt.Sprintf("step %q timed out after %s", step.Name, timeout))
	}
}

// totalBudget resolves the run deadline for a definition.
func (e *Executor) totalBudget(def *Definition) time.Duration {
	if def.TotalTimeout > 0 {
		return def.TotalTimeout
	}
	return e.opts.TotalTimeout
}

// invoke coerces the input and calls the shared failover executor for
// the category. Text and vision streams are drained to the full string
// here; within a workflow a step result is never a live stream.
func (e *Executor) invoke(ctx context.Context, category provider.Category, input any, wctx *Context) (any, string, error) {
	coerced, err := coerceInput(category, input, wctx)
	if err != nil {
		return nil, "", err
	}
	f := e.providers.For(category)
	switch category {
	case provider.CategoryText, provider.CategoryVision:
		stream, service, err := f.Chat(ctx, coerced.([]provider.Message))
		if err != nil {
			return nil, service, err
		}
		text, err := StreamToString(stream)
		if err != nil {
			return nil, service, err
		}
		return text, service, nil
	case provider.CategoryImage:
		result, service, err := f.GenerateImage(ctx, coerced.(provider.ImageInput))
		if err != nil {
			return nil, service, err
		}
		return result, service, nil
	case provider.CategoryVideo:
		result, service, err := f.GenerateVideo(ctx, coerced.(provider.VideoInput))
		if err != nil {
			return nil, service, err
		}
		return result, service, nil
	case provider.CategoryAudio:
		result, service, err := f.GenerateAudio(ctx, coerced.(provider.AudioInput))
		if err != nil {
			return nil, service, err
		}
		return result, service, nil
	case provider.CategoryEmbedding:
		result, service, err := f.Embed(ctx, coerced.(provider.EmbeddingInput))
		if err != nil {
			return nil, service, err
		}
		return result, service, nil
	default:
		return nil, "", provider.NewError(provider.CodeInvalidRequest, "workflow", fmt.Sprintf("unknown category %q", category))
	}
}

func (e *Executor) persist(ctx context.Context, id string, mutate func(*WorkflowStatus)) {
	if _, err := e.store.Update(ctx, id, mutate); err != nil {
		logging.Warn("workflow", "status update failed", "workflow_id", id, "error", err)
	}
}

func (e *Executor) emit(ctx context.Context, evt Event) {
	if err := e.store.Emit(ctx, evt); err != nil {
		logging.Debug("workflow", "event emit failed", "workflow_id", evt.WorkflowID, "event", string(evt.Type), "error", err)
	}
	if e.opts.EventHook != nil {
		invokeSubscriber(e.opts.EventHook, evt)
	}
}

func (e *Executor) syncGauges() {
	e.mu.Lock()
	queued, running := len(e.queue), len(e.running)
	e.mu.Unlock()
	e.metrics.SetQueueDepth(queued)
	e.metrics.SetRunning(running)
}

// toWorkflowError attributes a step failure. Provider errors keep their
// classified code and serving provider; anything else is wrapped as a
// bare message.
func toWorkflowError(err error, step int) *WorkflowError {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return &WorkflowError{Message: perr.Message, Code: perr.Code, Step: step, Service: perr.Service}
	}
	return &WorkflowError{Message: err.Error(), Step: step}
}
