package redis

import (
	"context"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisRelayRepository struct {
	queue *deliveryQueue[domain.RelayPacket]
}

func NewRedisRelayRepository(client *redis.Client, ttl time.Duration) ports.RelayRepository {
	return &RedisRelayRepository{queue: &deliveryQueue[domain.RelayPacket]{
		client: client,
		kind:   "relay",
		ttl:    ttl,
		mark: func(p *domain.RelayPacket, at time.Time) {
			p.Delivered = true
			p.DeliveredAt = &at
		},
	}}
}

func (r *RedisRelayRepository) Enqueue(ctx context.Context, packet *domain.RelayPacket) error {
	return r.queue.put(ctx, packet.ID, packet.To, packet.Timestamp, packet)
}

func (r *RedisRelayRepository) TakePending(ctx context.Context, to domain.DeviceID, at time.Time) ([]*domain.RelayPacket, error) {
	return r.queue.take(ctx, to, at)
}

func (r *RedisRelayRepository) RemoveOlderThan(ctx context.Context, before time.Time) (int, error) {
	return r.queue.removeOlderThan(ctx, before)
}
