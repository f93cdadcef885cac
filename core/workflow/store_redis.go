package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelmux/modelmux/core/infra/logging"
)

const (
	workflowKeyPrefix  = "workflow:"
	workflowActiveKey  = "workflow:active"
	eventChannelPrefix = "workflow:events:"

	scanBatch       = 100
	recentEventKeep = 256
)

func workflowKey(id string) string {
	return workflowKeyPrefix + id
}

func eventChannel(id string) string {
	return eventChannelPrefix + id
}

// RedisStore persists each workflow record as JSON under workflow:<id>
// with a TTL of the result retention period, refreshed on every write.
// The workflow:active set tracks non-terminal ids. Events are published
// on workflow:events:<id> for cross-process consumers after local
// subscribers have been served; publish failures never surface to the
// emitter.
type RedisStore struct {
	client redis.UniversalClient
	hub    *subscriberHub
	ttl    time.Duration
	seen   *recentEvents

	pubsub *redis.PubSub
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewRedisStore wraps an established client. The store owns the client
// and closes it on Close.
func NewRedisStore(client redis.UniversalClient, resultTTL time.Duration) *RedisStore {
	s := &RedisStore{
		client: client,
		hub:    newSubscriberHub(),
		ttl:    resultTTL,
		seen:   newRecentEvents(recentEventKeep),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.pubsub = client.PSubscribe(context.Background(), eventChannelPrefix+"*")
	go s.forward()
	go s.sweep()
	return s
}

// forward relays events published by other instances to local
// subscribers. Events this instance emitted are recognized by
// fingerprint and dropped; their local delivery already happened in
// Emit.
func (s *RedisStore) forward() {
	for msg := range s.pubsub.Channel() {
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			logging.Debug("workflow-state", "discarding malformed event payload", "channel", msg.Channel, "error", err)
			continue
		}
		if s.seen.observe(evt) {
			continue
		}
		s.hub.dispatch(evt)
	}
}

func (s *RedisStore) sweep() {
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
				logging.Debug("workflow-state", "pruned stale active entries", "removed", removed)
			}
		}
	}
}

func (s *RedisStore) Create(ctx context.Context, status *WorkflowStatus) error {
	if status == nil || status.ID == "" {
		return fmt.Errorf("workflow id required")
	}
	rec := status.Clone()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	ok, err := s.client.SetNX(ctx, workflowKey(rec.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store workflow: %w", err)
	}
	if !ok {
		return fmt.Errorf("workflow %s: %w", rec.ID, ErrConflict)
	}
	if !rec.Status.Terminal() {
		if err := s.client.SAdd(ctx, workflowActiveKey, rec.ID).Err(); err != nil {
			return fmt.Errorf("index workflow: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*WorkflowStatus, error) {
	if id == "" {
		return nil, fmt.Errorf("workflow id required")
	}
	data, err := s.client.Get(ctx, workflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	var rec WorkflowStatus
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &rec, nil
}

// Update runs read-modify-write without optimistic locking. Each
// workflow is driven by a single goroutine, so concurrent writers for
// one id do not occur in practice.
func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*WorkflowStatus)) (*WorkflowStatus, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}
	if mutate != nil {
		mutate(rec)
	}
	rec.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, workflowKey(id), payload, s.ttl)
	if rec.Status.Terminal() {
		pipe.SRem(ctx, workflowActiveKey, id)
	} else {
		pipe.SAdd(ctx, workflowActiveKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store workflow: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("workflow id required")
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, workflowKey(id))
	pipe.SRem(ctx, workflowActiveKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	s.hub.drop(id)
	if del.Val() == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

// Emit serves local subscribers synchronously, then mirrors the event
// onto the Redis channel for other processes. A failed publish is
// logged and swallowed.
func (s *RedisStore) Emit(ctx context.Context, event Event) error {
	s.hub.dispatch(event)
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Warn("workflow-state", "event not publishable", "workflow_id", event.WorkflowID, "event", string(event.Type), "error", err)
		return nil
	}
	s.seen.remember(event)
	if err := s.client.Publish(ctx, eventChannel(event.WorkflowID), payload).Err(); err != nil {
		logging.Debug("workflow-state", "event publish failed", "workflow_id", event.WorkflowID, "event", string(event.Type), "error", err)
	}
	return nil
}

func (s *RedisStore) Subscribe(id string, fn func(Event)) func() {
	return s.hub.subscribe(id, fn)
}

// List scans every workflow key, skipping the active set and any event
// channel keys, and filters in memory. The scan is not atomic with
// writes; a record may appear with a status it has since left.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*WorkflowStatus, error) {
	out := make([]*WorkflowStatus, 0, scanBatch)
	iter := s.client.Scan(ctx, 0, workflowKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == workflowActiveKey || strings.HasPrefix(key, eventChannelPrefix) {
			continue
		}
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec WorkflowStatus
		if err := json.Unmarshal(data, &rec); err != nil {
			logging.Debug("workflow-state", "skipping unreadable record", "key", key, "error", err)
			continue
		}
		if matchesStatus(&rec, opts.Status) {
			out = append(out, &rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan workflows: %w", err)
	}
	sortNewestFirst(out)
	return truncate(out, opts.Limit), nil
}

// Cleanup prunes active-set members whose record has expired or turned
// terminal. Record expiry itself is handled by key TTLs.
func (s *RedisStore) Cleanup(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, workflowActiveKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read active set: %w", err)
	}
	removed := 0
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		switch {
		case err == nil && !rec.Status.Terminal():
			continue
		case err != nil && !errors.Is(err, ErrNotFound):
			return removed, err
		}
		if err := s.client.SRem(ctx, workflowActiveKey, id).Err(); err != nil {
			return removed, fmt.Errorf("prune active set: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *RedisStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		_ = s.pubsub.Close()
		err = s.client.Close()
	})
	return err
}

// recentEvents is a fixed-size fingerprint ring used to tell this
// instance's own published events from remote ones when they loop back
// through the pattern subscription.
type recentEvents struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	cap   int
}

func newRecentEvents(capacity int) *recentEvents {
	return &recentEvents{seen: make(map[string]struct{}, capacity), cap: capacity}
}

func (r *recentEvents) remember(evt Event) {
	key := eventFingerprint(evt)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	r.order = append(r.order, key)
	if len(r.order) > r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, oldest)
	}
}

// observe reports whether the event was remembered, consuming the
// entry on a hit.
func (r *recentEvents) observe(evt Event) bool {
	key := eventFingerprint(evt)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; !ok {
		return false
	}
	delete(r.seen, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func eventFingerprint(evt Event) string {
	return evt.WorkflowID + "|" + string(evt.Type) + "|" + evt.Timestamp.UTC().Format(time.RFC3339Nano)
}
