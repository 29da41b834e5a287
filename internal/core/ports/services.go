package ports

import (
	"context"
	"encoding/json"

	"babaphone/internal/core/domain"
)

type RegisterRequest struct {
	DeviceID   domain.DeviceID
	DeviceType domain.DeviceType
	DeviceName string
	IPAddress  string
}

type RegistryService interface {
	Register(ctx context.Context, req RegisterRequest) (*domain.Device, error)
	Heartbeat(ctx context.Context, id domain.DeviceID) (*domain.Device, error)
	Unregister(ctx context.Context, id domain.DeviceID) error
	// Discover lists active devices, optionally filtered by type.
	Discover(ctx context.Context, deviceType domain.DeviceType) ([]*domain.Device, error)
	GetDevice(ctx context.Context, id domain.DeviceID) (*domain.Device, error)
}

type SignalingService interface {
	Send(ctx context.Context, from, to domain.DeviceID, signalType domain.SignalType, data json.RawMessage) (*domain.Signal, error)
	Poll(ctx context.Context, id domain.DeviceID) ([]*domain.Signal, error)
	PairingFor(ctx context.Context, id domain.DeviceID) (*domain.Pairing, error)
}

type RelayService interface {
	Send(ctx context.Context, from, to domain.DeviceID, audioData string) (*domain.RelayPacket, error)
	Poll(ctx context.Context, id domain.DeviceID) ([]*domain.RelayPacket, error)
}

// Notifier wakes push subscribers when something is queued for a device.
type Notifier interface {
	Notify(ctx context.Context, id domain.DeviceID)
	Subscribe(id domain.DeviceID) (<-chan struct{}, func())
}

// BackendMetrics receives counters from the backend services.
type BackendMetrics interface {
	DeviceRegistered(deviceType domain.DeviceType)
	DeviceUnregistered()
	ActiveDevices(n int)
	SignalQueued(signalType domain.SignalType)
	SignalsDelivered(n int)
	AudioRelayed(bytes int)
	PacketsDelivered(n int)
	RecordsExpired(kind string, n int)
}
