package memory

import (
	"context"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
)

type MemoryRelayRepository struct {
	queue *deliveryQueue[domain.RelayPacket]
}

func NewMemoryRelayRepository() ports.RelayRepository {
	return &MemoryRelayRepository{queue: newDeliveryQueue[domain.RelayPacket]()}
}

func (r *MemoryRelayRepository) Enqueue(ctx context.Context, packet *domain.RelayPacket) error {
	r.queue.put(packet.ID, packet.To, packet.Timestamp, *packet)
	return nil
}

func (r *MemoryRelayRepository) TakePending(ctx context.Context, to domain.DeviceID, at time.Time) ([]*domain.RelayPacket, error) {
	taken := r.queue.take(to, at)
	out := make([]*domain.RelayPacket, 0, len(taken))
	for _, it := range taken {
		p := it.item
		p.Delivered = true
		deliveredAt := it.deliveredAt
		p.DeliveredAt = &deliveredAt
		out = append(out, &p)
	}
	return out, nil
}

func (r *MemoryRelayRepository) RemoveOlderThan(ctx context.Context, before time.Time) (int, error) {
	return r.queue.removeOlderThan(before), nil
}
