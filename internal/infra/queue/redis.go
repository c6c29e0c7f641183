package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/metrics"
)

// DefaultEventLogSize — сколько последних событий хранит RedisEventLog.
const DefaultEventLogSize = 10000

// RedisEventLog хранит последние события в ограниченном списке Redis.
type RedisEventLog struct {
	client *redis.Client
	key    string
	size   int64
}

var _ domain.EventPublisher = (*RedisEventLog)(nil)

// NewRedisEventLog создаёт журнал по ключу. Непозитивный size заменяется на DefaultEventLogSize.
func NewRedisEventLog(client *redis.Client, key string, size int) *RedisEventLog {
	if size <= 0 {
		size = DefaultEventLogSize
	}
	return &RedisEventLog{client: client, key: key, size: int64(size)}
}

// Publish добавляет событие в начало списка и обрезает хвост.
func (l *RedisEventLog) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, l.key, payload)
	pipe.LTrim(ctx, l.key, 0, l.size-1)
	_, err = pipe.Exec(ctx)
	metrics.ObserveNetworkRequest("redis", "lpush", l.key, start, err)
	if err != nil {
		return fmt.Errorf("запись события в redis: %w", err)
	}
	return nil
}

// Recent возвращает до n последних событий, новые первыми.
func (l *RedisEventLog) Recent(ctx context.Context, n int) ([]domain.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	start := time.Now()
	raw, err := l.client.LRange(ctx, l.key, 0, int64(n-1)).Result()
	metrics.ObserveNetworkRequest("redis", "lrange", l.key, start, err)
	if err != nil {
		return nil, fmt.Errorf("чтение журнала событий: %w", err)
	}
	events := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		var ev domain.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
