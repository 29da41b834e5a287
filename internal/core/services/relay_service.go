package services

import (
	"context"
	"fmt"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
	"babaphone/pkg/utils"
	"babaphone/pkg/validation"

	"go.uber.org/zap"
)

// DefaultMaxAudioPayload bounds one relayed chunk of base64 audio.
const DefaultMaxAudioPayload = 1 << 20

type relayService struct {
	devices    ports.DeviceRepository
	packets    ports.RelayRepository
	notifier   ports.Notifier
	metrics    ports.BackendMetrics
	logger     *zap.SugaredLogger
	maxPayload int
	now        func() time.Time
}

func NewRelayService(
	devices ports.DeviceRepository,
	packets ports.RelayRepository,
	notifier ports.Notifier,
	metrics ports.BackendMetrics,
	logger *zap.SugaredLogger,
) ports.RelayService {
	return &relayService{
		devices:    devices,
		packets:    packets,
		notifier:   notifier,
		metrics:    metricsOrNop(metrics),
		logger:     logger,
		maxPayload: DefaultMaxAudioPayload,
		now:        time.Now,
	}
}

func (s *relayService) Send(ctx context.Context, from, to domain.DeviceID, audioData string) (*domain.RelayPacket, error) {
	if from == "" || to == "" {
		return nil, domain.ErrMissingDeviceID
	}
	if audioData == "" {
		return nil, domain.ErrEmptyAudioPayload
	}
	if err := validation.ValidateAudioPayload(audioData, s.maxPayload); err != nil {
		return nil, invalid(err)
	}

	if _, _, err := lookupPair(ctx, s.devices, from, to); err != nil {
		return nil, err
	}

	packet := &domain.RelayPacket{
		ID:        utils.GeneratePacketID(),
		From:      from,
		To:        to,
		AudioData: audioData,
		Timestamp: s.now(),
	}
	if err := s.packets.Enqueue(ctx, packet); err != nil {
		return nil, fmt.Errorf("failed to queue audio packet: %w", err)
	}

	s.metrics.AudioRelayed(len(audioData))
	if s.notifier != nil {
		s.notifier.Notify(ctx, to)
	}
	return packet, nil
}

func (s *relayService) Poll(ctx context.Context, id domain.DeviceID) ([]*domain.RelayPacket, error) {
	if id == "" {
		return nil, domain.ErrMissingDeviceID
	}
	packets, err := s.packets.TakePending(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio packets: %w", err)
	}
	s.metrics.PacketsDelivered(len(packets))
	return packets, nil
}
