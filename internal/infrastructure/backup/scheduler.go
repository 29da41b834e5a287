package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
	"babaphone/pkg/backup"

	"go.uber.org/zap"
)

const devicesSection = "devices"

// Config contains scheduler configuration
type Config struct {
	Interval  time.Duration
	Retention time.Duration
	// DeviceTimeout drops restored devices that would already have expired.
	DeviceTimeout time.Duration
}

// Scheduler snapshots the device registry so an in-memory relay server
// can pick its registrations up again after a restart.
type Scheduler struct {
	service *backup.Service
	devices ports.DeviceRepository
	cfg     Config
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewScheduler(service *backup.Service, devices ports.DeviceRepository, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &Scheduler{
		service: service,
		devices: devices,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run snapshots every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Snapshot(ctx); err != nil {
				s.logger.Errorw("scheduled snapshot failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot saves the current registrations and prunes old snapshots.
func (s *Scheduler) Snapshot(ctx context.Context) (string, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list devices: %w", err)
	}

	snap := &backup.Snapshot{Metadata: map[string]interface{}{
		"device_count": len(devices),
	}}
	if err := snap.Put(devicesSection, devices); err != nil {
		return "", err
	}
	name, err := s.service.Create(ctx, snap)
	if err != nil {
		return "", err
	}
	s.logger.Debugw("registry snapshot saved", "name", name, "devices", len(devices))

	if n, err := s.service.Prune(ctx, s.now().Add(-s.cfg.Retention)); err != nil {
		s.logger.Warnw("failed to prune old snapshots", "error", err)
	} else if n > 0 {
		s.logger.Infow("pruned old snapshots", "count", n)
	}
	return name, nil
}

// RestoreLatest loads the newest snapshot into the device repository and
// returns how many devices were restored. Devices already present are left
// alone. No snapshot is not an error.
func (s *Scheduler) RestoreLatest(ctx context.Context) (int, error) {
	name, err := s.service.Latest(ctx)
	if errors.Is(err, backup.ErrNoSnapshot) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	snap, err := s.service.Restore(ctx, name)
	if err != nil {
		return 0, err
	}
	var devices []*domain.Device
	if _, err := snap.Get(devicesSection, &devices); err != nil {
		return 0, err
	}

	now := s.now()
	restored := 0
	for _, d := range devices {
		if d == nil || !d.Type.Valid() {
			continue
		}
		if s.cfg.DeviceTimeout > 0 && !d.ActiveAt(now, s.cfg.DeviceTimeout) {
			continue
		}
		if _, err := s.devices.GetByID(ctx, d.ID); err == nil {
			continue
		}
		if err := s.devices.Save(ctx, d); err != nil {
			return restored, fmt.Errorf("failed to restore device %s: %w", d.ID, err)
		}
		restored++
	}
	s.logger.Infow("restored registry snapshot", "name", name, "devices", restored, "taken_at", snap.Timestamp)
	return restored, nil
}
