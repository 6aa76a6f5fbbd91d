package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"verifyme/internal/student"
)

// View caches records the service has read or written.
type View interface {
	Get(ctx context.Context, id string) (student.Record, bool, error)
	Put(ctx context.Context, rec student.Record) error
	Delete(ctx context.Context, id string) error
}

type noView struct{}

func (noView) Get(context.Context, string) (student.Record, bool, error) {
	return student.Record{}, false, nil
}
func (noView) Put(context.Context, student.Record) error { return nil }
func (noView) Delete(context.Context, string) error      { return nil }

// MemoryView is a process-local View.
type MemoryView struct {
	mu      sync.RWMutex
	records map[string]student.Record
}

func NewMemoryView() *MemoryView {
	return &MemoryView{records: make(map[string]student.Record)}
}

func (v *MemoryView) Get(_ context.Context, id string) (student.Record, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[id]
	return rec, ok, nil
}

func (v *MemoryView) Put(_ context.Context, rec student.Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[rec.ID] = rec
	return nil
}

func (v *MemoryView) Delete(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.records, id)
	return nil
}

// RedisView stores records as JSON under prefix+id with a TTL, so several
// API instances share one view.
type RedisView struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisView(client *redis.Client, prefix string, ttl time.Duration) *RedisView {
	if prefix == "" {
		prefix = "verifyme:student:"
	}
	return &RedisView{client: client, prefix: prefix, ttl: ttl}
}

// Get treats an entry that fails record validation as a miss.
func (v *RedisView) Get(ctx context.Context, id string) (student.Record, bool, error) {
	data, err := v.client.Get(ctx, v.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return student.Record{}, false, nil
	}
	if err != nil {
		return student.Record{}, false, err
	}
	var rec student.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return student.Record{}, false, v.Delete(ctx, id)
	}
	if err := rec.Validate(); err != nil || rec.ID != id {
		return student.Record{}, false, v.Delete(ctx, id)
	}
	return rec, true, nil
}

func (v *RedisView) Put(ctx context.Context, rec student.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return v.client.Set(ctx, v.prefix+rec.ID, data, v.ttl).Err()
}

func (v *RedisView) Delete(ctx context.Context, id string) error {
	return v.client.Del(ctx, v.prefix+id).Err()
}
