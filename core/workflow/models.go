// Package workflow implements the execution subsystem of the gateway:
// definitions assembled with a fluent builder, an admission queue with
// bounded concurrency, per-run drivers that thread results between
// steps through transformers, and a state manager that persists every
// run and fans out lifecycle events to subscribers.
package workflow

import (
	"fmt"
	"time"

	"github.com/modelmux/modelmux/core/provider"
)

// Status captures the lifecycle of a workflow run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepState captures the lifecycle of one step within a run.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

func (s StepState) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// WorkflowStatus is the persisted record of one run, shared between the
// driver (writer) and subscribers (readers). Result values are treated
// as immutable once written.
type WorkflowStatus struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	CurrentStep int            `json:"currentStep"`
	TotalSteps  int            `json:"totalSteps"`
	Steps       []StepStatus   `json:"steps"`
	Input       any            `json:"input,omitempty"`
	Result      any            `json:"result,omitempty"`
	Error       *WorkflowError `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// StepStatus tracks state for step Index within a run; Steps[i].Index == i.
type StepStatus struct {
	Index       int               `json:"index"`
	Name        string            `json:"name"`
	Category    provider.Category `json:"category"`
	Status      StepState         `json:"status"`
	Service     string            `json:"service,omitempty"`
	Result      any               `json:"result,omitempty"`
	Error       *WorkflowError    `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	DurationMS  int64             `json:"durationMs,omitempty"`
}

// WorkflowError preserves the classified failure of a run or step so
// clients can decide whether a resubmit is worthwhile. It travels both
// as a record field and as a plain error re-raised to callers.
type WorkflowError struct {
	Message string        `json:"message"`
	Code    provider.Code `json:"code,omitempty"`
	Step    int           `json:"step"`
	Service string        `json:"service,omitempty"`
}

func (e *WorkflowError) Error() string {
	at := fmt.Sprintf("step %d", e.Step)
	if e.Service != "" {
		at += " on " + e.Service
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", at, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", at, e.Message)
}

// NewStatus builds the initial pending record for a run of def.
func NewStatus(id string, def *Definition, input any) *WorkflowStatus {
	now := time.Now().UTC()
	steps := make([]StepStatus, len(def.Steps))
	for i, step := range def.Steps {
		steps[i] = StepStatus{
			Index:    i,
			Name:     step.Name,
			Category: step.Category,
			Status:   StepPending,
		}
	}
	return &WorkflowStatus{
		ID:         id,
		Name:       def.Name,
		Status:     StatusPending,
		TotalSteps: len(def.Steps),
		Steps:      steps,
		Input:      input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy safe to hand to readers while the driver
// keeps mutating the canonical record. Result values are shared, not
// copied.
func (s *WorkflowStatus) Clone() *WorkflowStatus {
	if s == nil {
		return nil
	}
	out := *s
	out.Steps = make([]StepStatus, len(s.Steps))
	copy(out.Steps, s.Steps)
	for i := range out.Steps {
		out.Steps[i].StartedAt = cloneTime(s.Steps[i].StartedAt)
		out.Steps[i].CompletedAt = cloneTime(s.Steps[i].CompletedAt)
		out.Steps[i].Error = cloneError(s.Steps[i].Error)
	}
	out.Error = cloneError(s.Error)
	out.CompletedAt = cloneTime(s.CompletedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneError(e *WorkflowError) *WorkflowError {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// EventType names a workflow lifecycle transition.
type EventType string

const (
	EventWorkflowQueued   EventType = "workflow:queued"
	EventWorkflowStarted  EventType = "workflow:started"
	EventWorkflowComplete EventType = "workflow:complete"
	EventWorkflowFailed   EventType = "workflow:failed"
	EventStepStarted      EventType = "step:started"
	EventStepComplete     EventType = "step:complete"
	EventStepFailed       EventType = "step:failed"
	EventStepSkipped      EventType = "step:skipped"
)

// Terminal reports whether no further events follow for the workflow.
func (t EventType) Terminal() bool {
	return t == EventWorkflowComplete || t == EventWorkflowFailed
}

// Event is an immutable record of a state transition, broadcast to the
// subscribers of its workflow id.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflowId"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, workflowID string, data any) Event {
	return Event{Type: t, WorkflowID: workflowID, Timestamp: time.Now().UTC(), Data: data}
}
