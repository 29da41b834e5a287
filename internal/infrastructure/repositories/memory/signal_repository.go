package memory

import (
	"context"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
)

type MemorySignalRepository struct {
	queue *deliveryQueue[domain.Signal]
}

func NewMemorySignalRepository() ports.SignalRepository {
	return &MemorySignalRepository{queue: newDeliveryQueue[domain.Signal]()}
}

func (r *MemorySignalRepository) Enqueue(ctx context.Context, signal *domain.Signal) error {
	r.queue.put(signal.ID, signal.To, signal.Timestamp, *signal)
	return nil
}

func (r *MemorySignalRepository) TakePending(ctx context.Context, to domain.DeviceID, at time.Time) ([]*domain.Signal, error) {
	taken := r.queue.take(to, at)
	out := make([]*domain.Signal, 0, len(taken))
	for _, it := range taken {
		s := it.item
		s.Delivered = true
		deliveredAt := it.deliveredAt
		s.DeliveredAt = &deliveredAt
		out = append(out, &s)
	}
	return out, nil
}

func (r *MemorySignalRepository) RemoveOlderThan(ctx context.Context, before time.Time) (int, error) {
	return r.queue.removeOlderThan(before), nil
}
