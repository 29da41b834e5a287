package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
	"babaphone/pkg/utils"

	"go.uber.org/zap"
)

type signalingService struct {
	devices  ports.DeviceRepository
	signals  ports.SignalRepository
	pairings ports.PairingRepository
	notifier ports.Notifier
	metrics  ports.BackendMetrics
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewSignalingService(
	devices ports.DeviceRepository,
	signals ports.SignalRepository,
	pairings ports.PairingRepository,
	notifier ports.Notifier,
	metrics ports.BackendMetrics,
	logger *zap.SugaredLogger,
) ports.SignalingService {
	return &signalingService{
		devices:  devices,
		signals:  signals,
		pairings: pairings,
		notifier: notifier,
		metrics:  metricsOrNop(metrics),
		logger:   logger,
		now:      time.Now,
	}
}

// lookupPair loads both endpoints; either missing is ErrDeviceNotFound.
func lookupPair(ctx context.Context, devices ports.DeviceRepository, from, to domain.DeviceID) (*domain.Device, *domain.Device, error) {
	fromDev, err := devices.GetByID(ctx, from)
	if err != nil {
		return nil, nil, err
	}
	toDev, err := devices.GetByID(ctx, to)
	if err != nil {
		return nil, nil, err
	}
	return fromDev, toDev, nil
}

func (s *signalingService) Send(ctx context.Context, from, to domain.DeviceID, signalType domain.SignalType, data json.RawMessage) (*domain.Signal, error) {
	if from == "" || to == "" {
		return nil, domain.ErrMissingDeviceID
	}
	signalType, err := domain.ParseSignalType(string(signalType))
	if err != nil {
		return nil, err
	}

	fromDev, toDev, err := lookupPair(ctx, s.devices, from, to)
	if err != nil {
		return nil, err
	}

	signal := &domain.Signal{
		ID:        utils.GenerateSignalID(),
		From:      from,
		To:        to,
		Type:      signalType,
		Data:      data,
		Timestamp: s.now(),
	}
	if err := s.signals.Enqueue(ctx, signal); err != nil {
		return nil, fmt.Errorf("failed to queue signal: %w", err)
	}

	switch signalType {
	case domain.SignalConnect:
		s.pair(ctx, fromDev, toDev)
	case domain.SignalDisconnect:
		if err := s.pairings.RemoveByDevice(ctx, from); err != nil && !errors.Is(err, domain.ErrPairingNotFound) {
			s.logger.Warnw("failed to remove pairing",
				"device_id", from,
				"error", err,
			)
		}
	}

	s.metrics.SignalQueued(signalType)
	if s.notifier != nil {
		s.notifier.Notify(ctx, to)
	}

	s.logger.Debugw("signal queued",
		"signal_id", signal.ID,
		"from", from,
		"to", to,
		"signal_type", signalType,
	)
	return signal, nil
}

// pair records the parent/child link a connect signal establishes. Two
// devices of the same type are not paired.
func (s *signalingService) pair(ctx context.Context, a, b *domain.Device) {
	parent, child := a, b
	if a.Type == domain.DeviceTypeChild {
		parent, child = b, a
	}
	if parent.Type != domain.DeviceTypeParent || child.Type != domain.DeviceTypeChild {
		s.logger.Infow("connect between devices of the same type, not paired",
			"from", a.ID,
			"to", b.ID,
		)
		return
	}

	pairing := &domain.Pairing{
		ID:        utils.GeneratePairingID(),
		ParentID:  parent.ID,
		ChildID:   child.ID,
		CreatedAt: s.now(),
		Status:    domain.PairingActive,
	}
	if err := s.pairings.Create(ctx, pairing); err != nil {
		s.logger.Warnw("failed to create pairing",
			"parent_id", parent.ID,
			"child_id", child.ID,
			"error", err,
		)
	}
}

func (s *signalingService) Poll(ctx context.Context, id domain.DeviceID) ([]*domain.Signal, error) {
	if id == "" {
		return nil, domain.ErrMissingDeviceID
	}
	signals, err := s.signals.TakePending(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signals: %w", err)
	}
	s.metrics.SignalsDelivered(len(signals))
	return signals, nil
}

func (s *signalingService) PairingFor(ctx context.Context, id domain.DeviceID) (*domain.Pairing, error) {
	return s.pairings.FindByDevice(ctx, id)
}
