// README: Dispatch log backed by Redis sets; records which drivers were pushed each request.
package matching

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"hailing/internal/types"
)

const (
	notifiedKeyPrefix   = "matching:request:%s:notified"
	dispatchedKeyPrefix = "matching:request:%s:dispatched_at"
)

type DispatchLog interface {
	RecordDispatch(ctx context.Context, requestID types.ID, driverIDs []types.ID, at time.Time) error
	Notified(ctx context.Context, requestID types.ID) ([]types.ID, error)
}

type RedisDispatchLog struct {
	redis *redis.Client
}

func NewRedisDispatchLog(rdb *redis.Client) *RedisDispatchLog {
	return &RedisDispatchLog{redis: rdb}
}

// RecordDispatch stores the dispatch time and the notified drivers.
func (s *RedisDispatchLog) RecordDispatch(ctx context.Context, requestID types.ID, driverIDs []types.ID, at time.Time) error {
	pipe := s.redis.Pipeline()
	pipe.SetNX(ctx, dispatchedAtKey(requestID), at.UTC().Format(time.RFC3339), dispatchTTL)
	if len(driverIDs) > 0 {
		members := make([]interface{}, len(driverIDs))
		for i, d := range driverIDs {
			members[i] = string(d)
		}
		key := notifiedKey(requestID)
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, dispatchTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisDispatchLog) Notified(ctx context.Context, requestID types.ID) ([]types.ID, error) {
	members, err := s.redis.SMembers(ctx, notifiedKey(requestID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slices.Sort(members)
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

func notifiedKey(requestID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(requestID))
}

func dispatchedAtKey(requestID types.ID) string {
	return fmt.Sprintf(dispatchedKeyPrefix, string(requestID))
}

// MemoryDispatchLog is the in-process DispatchLog.
type MemoryDispatchLog struct {
	mu       sync.Mutex
	notified map[types.ID]map[types.ID]struct{}
}

func NewMemoryDispatchLog() *MemoryDispatchLog {
	return &MemoryDispatchLog{notified: make(map[types.ID]map[types.ID]struct{})}
}

func (m *MemoryDispatchLog) RecordDispatch(_ context.Context, requestID types.ID, driverIDs []types.ID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.notified[requestID]
	if !ok {
		set = make(map[types.ID]struct{})
		m.notified[requestID] = set
	}
	for _, d := range driverIDs {
		set[d] = struct{}{}
	}
	return nil
}

func (m *MemoryDispatchLog) Notified(_ context.Context, requestID types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]types.ID, 0, len(m.notified[requestID]))
	for id := range m.notified[requestID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
