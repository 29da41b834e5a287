package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
	"babaphone/pkg/utils"
	"babaphone/pkg/validation"

	"go.uber.org/zap"
)

type registryService struct {
	devices       ports.DeviceRepository
	pairings      ports.PairingRepository
	deviceTimeout time.Duration
	metrics       ports.BackendMetrics
	logger        *zap.SugaredLogger
	now           func() time.Time
}

func NewRegistryService(
	devices ports.DeviceRepository,
	pairings ports.PairingRepository,
	deviceTimeout time.Duration,
	metrics ports.BackendMetrics,
	logger *zap.SugaredLogger,
) ports.RegistryService {
	return &registryService{
		devices:       devices,
		pairings:      pairings,
		deviceTimeout: deviceTimeout,
		metrics:       metricsOrNop(metrics),
		logger:        logger,
		now:           time.Now,
	}
}

func (s *registryService) Register(ctx context.Context, req ports.RegisterRequest) (*domain.Device, error) {
	if err := validation.ValidateDeviceID(string(req.DeviceID)); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateDeviceType(string(req.DeviceType)); err != nil {
		return nil, domain.ErrInvalidDeviceType
	}
	name := utils.SanitizeString(req.DeviceName)
	if err := validation.ValidateDeviceName(name); err != nil {
		return nil, invalid(err)
	}

	now := s.now()
	device := &domain.Device{
		ID:           req.DeviceID,
		Type:         req.DeviceType,
		Name:         name,
		IPAddress:    req.IPAddress,
		RegisteredAt: now,
		LastSeen:     now,
	}

	if err := s.devices.Save(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	s.metrics.DeviceRegistered(device.Type)
	s.logger.Infow("device registered",
		"device_id", device.ID,
		"device_type", device.Type,
		"ip_address", device.IPAddress,
	)
	return device, nil
}

func (s *registryService) Heartbeat(ctx context.Context, id domain.DeviceID) (*domain.Device, error) {
	if id == "" {
		return nil, domain.ErrMissingDeviceID
	}
	return s.devices.Touch(ctx, id, s.now())
}

func (s *registryService) Unregister(ctx context.Context, id domain.DeviceID) error {
	if id == "" {
		return domain.ErrMissingDeviceID
	}
	if err := s.devices.Remove(ctx, id); err != nil {
		return err
	}

	if s.pairings != nil {
		if err := s.pairings.RemoveByDevice(ctx, id); err != nil && !errors.Is(err, domain.ErrPairingNotFound) {
			s.logger.Warnw("failed to drop pairing on unregister",
				"device_id", id,
				"error", err,
			)
		}
	}

	s.metrics.DeviceUnregistered()
	s.logger.Infow("device unregistered", "device_id", id)
	return nil
}

func (s *registryService) Discover(ctx context.Context, deviceType domain.DeviceType) ([]*domain.Device, error) {
	if deviceType != "" && !deviceType.Valid() {
		return nil, domain.ErrInvalidDeviceType
	}

	now := s.now()
	if n, err := s.devices.RemoveInactive(ctx, now.Add(-s.deviceTimeout)); err != nil {
		s.logger.Warnw("inactive device cleanup failed", "error", err)
	} else if n > 0 {
		s.metrics.RecordsExpired("device", n)
	}

	all, err := s.devices.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	active := 0
	out := make([]*domain.Device, 0, len(all))
	for _, d := range all {
		if !d.ActiveAt(now, s.deviceTimeout) {
			continue
		}
		active++
		if deviceType == "" || d.Type == deviceType {
			out = append(out, d)
		}
	}
	s.metrics.ActiveDevices(active)

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}

func (s *registryService) GetDevice(ctx context.Context, id domain.DeviceID) (*domain.Device, error) {
	return s.devices.GetByID(ctx, id)
}
