package redis

import (
	"context"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisSignalRepository struct {
	queue *deliveryQueue[domain.Signal]
}

func NewRedisSignalRepository(client *redis.Client, ttl time.Duration) ports.SignalRepository {
	return &RedisSignalRepository{queue: &deliveryQueue[domain.Signal]{
		client: client,
		kind:   "signal",
		ttl:    ttl,
		mark: func(s *domain.Signal, at time.Time) {
			s.Delivered = true
			s.DeliveredAt = &at
		},
	}}
}

func (r *RedisSignalRepository) Enqueue(ctx context.Context, signal *domain.Signal) error {
	return r.queue.put(ctx, signal.ID, signal.To, signal.Timestamp, signal)
}

func (r *RedisSignalRepository) TakePending(ctx context.Context, to domain.DeviceID, at time.Time) ([]*domain.Signal, error) {
	return r.queue.take(ctx, to, at)
}

func (r *RedisSignalRepository) RemoveOlderThan(ctx context.Context, before time.Time) (int, error) {
	return r.queue.removeOlderThan(ctx, before)
}
