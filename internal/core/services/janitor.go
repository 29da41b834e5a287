package services

import (
	"context"
	"time"

	"babaphone/internal/core/ports"

	"go.uber.org/zap"
)

// Lease keeps a single instance sweeping when several share storage.
type Lease interface {
	TryLock(ctx context.Context) (bool, error)
}

type Retention struct {
	DeviceTimeout time.Duration
	SignalTTL     time.Duration
	RelayTTL      time.Duration
}

// CleanupResult counts what one sweep removed.
type CleanupResult struct {
	Devices int
	Signals int
	Packets int
}

// Janitor removes inactive devices and aged signals and relay packets.
type Janitor struct {
	devices   ports.DeviceRepository
	signals   ports.SignalRepository
	packets   ports.RelayRepository
	retention Retention
	lease     Lease
	metrics   ports.BackendMetrics
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewJanitor(
	devices ports.DeviceRepository,
	signals ports.SignalRepository,
	packets ports.RelayRepository,
	retention Retention,
	metrics ports.BackendMetrics,
	logger *zap.SugaredLogger,
) *Janitor {
	return &Janitor{
		devices:   devices,
		signals:   signals,
		packets:   packets,
		retention: retention,
		metrics:   metricsOrNop(metrics),
		logger:    logger,
		now:       time.Now,
	}
}

// WithLease makes the janitor skip sweeps while another holder owns lease.
func (j *Janitor) WithLease(lease Lease) *Janitor {
	j.lease = lease
	return j
}

// Sweep runs one cleanup pass. Failures in one kind do not stop the others.
func (j *Janitor) Sweep(ctx context.Context) CleanupResult {
	var res CleanupResult
	now := j.now()

	if n, err := j.devices.RemoveInactive(ctx, now.Add(-j.retention.DeviceTimeout)); err != nil {
		j.logger.Warnw("device cleanup failed", "error", err)
	} else {
		res.Devices = n
	}
	if n, err := j.signals.RemoveOlderThan(ctx, now.Add(-j.retention.SignalTTL)); err != nil {
		j.logger.Warnw("signal cleanup failed", "error", err)
	} else {
		res.Signals = n
	}
	if n, err := j.packets.RemoveOlderThan(ctx, now.Add(-j.retention.RelayTTL)); err != nil {
		j.logger.Warnw("relay cleanup failed", "error", err)
	} else {
		res.Packets = n
	}

	j.metrics.RecordsExpired("device", res.Devices)
	j.metrics.RecordsExpired("signal", res.Signals)
	j.metrics.RecordsExpired("relay", res.Packets)

	if res.Devices+res.Signals+res.Packets > 0 {
		j.logger.Infow("cleanup completed",
			"devices_removed", res.Devices,
			"signals_removed", res.Signals,
			"packets_removed", res.Packets,
		)
	}
	return res
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if j.lease != nil {
				ok, err := j.lease.TryLock(ctx)
				if err != nil {
					j.logger.Warnw("cleanup lease unavailable", "error", err)
					continue
				}
				if !ok {
					continue
				}
			}
			j.Sweep(ctx)
		}
	}
}

