package ports

import (
	"context"
	"time"

	"babaphone/internal/core/domain"
)

type DeviceRepository interface {
	// Save inserts or replaces the device record.
	Save(ctx context.Context, device *domain.Device) error
	GetByID(ctx context.Context, id domain.DeviceID) (*domain.Device, error)
	// Touch refreshes LastSeen and returns the updated record.
	Touch(ctx context.Context, id domain.DeviceID, at time.Time) (*domain.Device, error)
	Remove(ctx context.Context, id domain.DeviceID) error
	List(ctx context.Context) ([]*domain.Device, error)
	// RemoveInactive drops devices last seen before the cutoff.
	RemoveInactive(ctx context.Context, before time.Time) (int, error)
}

type SignalRepository interface {
	Enqueue(ctx context.Context, signal *domain.Signal) error
	// TakePending returns the undelivered signals addressed to id and marks
	// them delivered. A signal is returned by at most one call.
	TakePending(ctx context.Context, to domain.DeviceID, at time.Time) ([]*domain.Signal, error)
	RemoveOlderThan(ctx context.Context, before time.Time) (int, error)
}

type RelayRepository interface {
	Enqueue(ctx context.Context, packet *domain.RelayPacket) error
	TakePending(ctx context.Context, to domain.DeviceID, at time.Time) ([]*domain.RelayPacket, error)
	RemoveOlderThan(ctx context.Context, before time.Time) (int, error)
}

type PairingRepository interface {
	Create(ctx context.Context, pairing *domain.Pairing) error
	FindByDevice(ctx context.Context, id domain.DeviceID) (*domain.Pairing, error)
	RemoveByDevice(ctx context.Context, id domain.DeviceID) error
}
