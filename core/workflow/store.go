package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modelmux/modelmux/core/infra/logging"
)

var (
	// ErrNotFound reports a workflow id with no stored record.
	ErrNotFound = errors.New("workflow not found")
	// ErrConflict reports a create against an id that already exists.
	ErrConflict = errors.New("workflow already exists")
)

// StatusActive is a list filter matching every non-terminal status.
const StatusActive = "active"

// ListOptions filters and bounds a List call. Status may be a concrete
// workflow status or StatusActive; empty means no filter. Limit <= 0
// means no truncation.
type ListOptions struct {
	Status string
	Limit  int
}

// StateStore persists workflow status records and fans events out to
// per-workflow subscribers.
//
// Update applies mutate to the stored record under the store's lock and
// returns the updated snapshot. Records in a terminal status are sticky:
// mutate is not invoked and the stored record is returned unchanged.
//
// Emit is best-effort: a panicking or slow subscriber must not prevent
// delivery to the others, and delivery to local subscribers must not
// depend on any external transport.
type StateStore interface {
	Create(ctx context.Context, status *WorkflowStatus) error
	Get(ctx context.Context, id string) (*WorkflowStatus, error)
	Update(ctx context.Context, id string, mutate func(*WorkflowStatus)) (*WorkflowStatus, error)
	Delete(ctx context.Context, id string) error
	Emit(ctx context.Context, event Event) error
	Subscribe(id string, fn func(Event)) (unsubscribe func())
	List(ctx context.Context, opts ListOptions) ([]*WorkflowStatus, error)
	Cleanup(ctx context.Context) (int, error)
	Close() error
}

func matchesStatus(st *WorkflowStatus, filter string) bool {
	switch filter {
	case "":
		return true
	case StatusActive:
		return !st.Status.Terminal()
	default:
		return string(st.Status) == filter
	}
}

func sortNewestFirst(records []*WorkflowStatus) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func truncate(records []*WorkflowStatus, limit int) []*WorkflowStatus {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

// subscriberHub is a keyed set of event callbacks. Dispatch copies the
// callback list under the lock and invokes outside it, recovering each
// subscriber independently.
type subscriberHub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]func(Event)
}

func newSubscriberHub() *subscriberHub {
	return &subscriberHub{subs: make(map[string]map[int]func(Event))}
}

func (h *subscriberHub) subscribe(id string, fn func(Event)) func() {
	h.mu.Lock()
	h.next++
	token := h.next
	set := h.subs[id]
	if set == nil {
		set = make(map[int]func(Event))
		h.subs[id] = set
	}
	set[token] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		set, ok := h.subs[id]
		if !ok {
			return
		}
		delete(set, token)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
}

func (h *subscriberHub) dispatch(evt Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subs[evt.WorkflowID]))
	for _, fn := range h.subs[evt.WorkflowID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		invokeSubscriber(fn, evt)
	}
}

func (h *subscriberHub) drop(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func invokeSubscriber(fn func(Event), evt Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("workflow-state", "event subscriber panicked", "workflow_id", evt.WorkflowID, "event", string(evt.Type), "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn(evt)
}

const sweepInterval = 60 * time.Second

// MemoryStore keeps workflow records in process memory. Reads return
// deep copies so callers can never mutate stored state. A background
// sweep removes terminal records older than the result TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*WorkflowStatus
	hub     *subscriberHub
	ttl     time.Duration
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewMemoryStore(resultTTL time.Duration) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*WorkflowStatus),
		hub:     newSubscriberHub(),
		ttl:     resultTTL,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) sweep() {
	defer close(s.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			removed, err := s.Cleanup(context.Background())
			if err == nil && removed > 0 {
				logging.Debug("workflow-state", "swept expired workflows", "removed", removed)
			}
		}
	}
}

func (s *MemoryStore) Create(_ context.Context, status *WorkflowStatus) error {
	if status == nil || status.ID == "" {
		return fmt.Errorf("workflow id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[status.ID]; exists {
		return fmt.Errorf("workflow %s: %w", status.ID, ErrConflict)
	}
	rec := status.Clone()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	s.records[status.ID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*WorkflowStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*WorkflowStatus)) (*WorkflowStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if rec.Status.Terminal() {
		return rec.Clone(), nil
	}
	if mutate != nil {
		mutate(rec)
	}
	rec.UpdatedAt = time.Now().UTC()
	return rec.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()
	s.hub.drop(id)
	if !ok {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MemoryStore) Emit(_ context.Context, event Event) error {
	s.hub.dispatch(event)
	return nil
}

func (s *MemoryStore) Subscribe(id string, fn func(Event)) func() {
	return s.hub.subscribe(id, fn)
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*WorkflowStatus, error) {
	s.mu.RLock()
	out := make([]*WorkflowStatus, 0, len(s.records))
	for _, rec := range s.records {
		if matchesStatus(rec, opts.Status) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return truncate(out, opts.Limit), nil
}

// Cleanup drops terminal records whose last update is older than the
// result TTL. A TTL of zero disables expiry.
func (s *MemoryStore) Cleanup(_ context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}
