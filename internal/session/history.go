package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryHistory keeps transcripts in process memory.
type MemoryHistory struct {
	mu    sync.Mutex
	turns map[string][]Turn
}

// NewMemoryHistory creates an empty in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{turns: make(map[string][]Turn)}
}

func (h *MemoryHistory) Append(_ context.Context, callID string, turn Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns[callID] = append(h.turns[callID], turn)
	return nil
}

func (h *MemoryHistory) History(_ context.Context, callID string) ([]Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.turns[callID]...), nil
}

func (h *MemoryHistory) Delete(_ context.Context, callID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.turns, callID)
	return nil
}

// RedisHistory keeps each transcript in a Redis list that expires ttl after
// its last turn, so abandoned calls do not leak.
type RedisHistory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisHistory creates a Redis-backed history store.
func NewRedisHistory(client *redis.Client, prefix string, ttl time.Duration) *RedisHistory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisHistory{client: client, prefix: prefix, ttl: ttl}
}

func (h *RedisHistory) key(callID string) string {
	return h.prefix + callID
}

func (h *RedisHistory) Append(ctx context.Context, callID string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("history marshal error: %w", err)
	}

	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, h.key(callID), data)
	pipe.Expire(ctx, h.key(callID), h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history append error: %w", err)
	}
	return nil
}

func (h *RedisHistory) History(ctx context.Context, callID string) ([]Turn, error) {
	items, err := h.client.LRange(ctx, h.key(callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history read error: %w", err)
	}

	turns := make([]Turn, 0, len(items))
	for _, item := range items {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("history unmarshal error: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (h *RedisHistory) Delete(ctx context.Context, callID string) error {
	if err := h.client.Del(ctx, h.key(callID)).Err(); err != nil {
		return fmt.Errorf("history delete error: %w", err)
	}
	return nil
}

// Ping checks if the Redis connection is healthy.
func (h *RedisHistory) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
