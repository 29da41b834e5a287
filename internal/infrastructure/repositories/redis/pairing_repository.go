package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

func pairingKey(id string) string {
	return keyPrefix + "pairing:" + id
}

func pairingByDeviceKey(id domain.DeviceID) string {
	return keyPrefix + "pairing:device:" + string(id)
}

type RedisPairingRepository struct {
	client *redis.Client
}

func NewRedisPairingRepository(client *redis.Client) ports.PairingRepository {
	return &RedisPairingRepository{client: client}
}

func (r *RedisPairingRepository) Create(ctx context.Context, pairing *domain.Pairing) error {
	data, err := json.Marshal(pairing)
	if err != nil {
		return fmt.Errorf("failed to marshal pairing: %w", err)
	}

	// a device belongs to at most one pairing; a new connect replaces it
	var old []*domain.Pairing
	for _, id := range []domain.DeviceID{pairing.ParentID, pairing.ChildID} {
		p, err := r.FindByDevice(ctx, id)
		if err == nil {
			old = append(old, p)
		} else if err != domain.ErrPairingNotFound {
			return err
		}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range old {
			pipe.Del(ctx, pairingKey(p.ID), pairingByDeviceKey(p.ParentID), pairingByDeviceKey(p.ChildID))
		}
		pipe.Set(ctx, pairingKey(pairing.ID), data, 0)
		pipe.Set(ctx, pairingByDeviceKey(pairing.ParentID), pairing.ID, 0)
		pipe.Set(ctx, pairingByDeviceKey(pairing.ChildID), pairing.ID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save pairing in Redis: %w", err)
	}
	return nil
}

func (r *RedisPairingRepository) FindByDevice(ctx context.Context, id domain.DeviceID) (*domain.Pairing, error) {
	pid, err := r.client.Get(ctx, pairingByDeviceKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPairingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pairing pointer: %w", err)
	}

	data, err := r.client.Get(ctx, pairingKey(pid)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrPairingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pairing: %w", err)
	}

	var pairing domain.Pairing
	if err := json.Unmarshal(data, &pairing); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pairing: %w", err)
	}
	return &pairing, nil
}

func (r *RedisPairingRepository) RemoveByDevice(ctx context.Context, id domain.DeviceID) error {
	pairing, err := r.FindByDevice(ctx, id)
	if err != nil {
		return err
	}
	return r.client.Del(ctx,
		pairingKey(pairing.ID),
		pairingByDeviceKey(pairing.ParentID),
		pairingByDeviceKey(pairing.ChildID),
	).Err()
}
