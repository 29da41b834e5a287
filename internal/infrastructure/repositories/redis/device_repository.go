package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const deviceIndexKey = keyPrefix + "devices"

func deviceKey(id domain.DeviceID) string {
	return keyPrefix + "device:" + string(id)
}

// RedisDeviceRepository stores each device as a JSON blob that expires after
// the inactivity timeout, plus a set of known ids for listing.
type RedisDeviceRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeviceRepository(client *redis.Client, ttl time.Duration) ports.DeviceRepository {
	return &RedisDeviceRepository{client: client, ttl: ttl}
}

func (r *RedisDeviceRepository) Save(ctx context.Context, device *domain.Device) error {
	data, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, deviceKey(device.ID), data, r.ttl)
		pipe.SAdd(ctx, deviceIndexKey, string(device.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save device in Redis: %w", err)
	}
	return nil
}

func (r *RedisDeviceRepository) GetByID(ctx context.Context, id domain.DeviceID) (*domain.Device, error) {
	data, err := r.client.Get(ctx, deviceKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device from Redis: %w", err)
	}

	var device domain.Device
	if err := json.Unmarshal(data, &device); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device: %w", err)
	}
	return &device, nil
}

func (r *RedisDeviceRepository) Touch(ctx context.Context, id domain.DeviceID, at time.Time) (*domain.Device, error) {
	device, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	device.LastSeen = at
	if err := r.Save(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

func (r *RedisDeviceRepository) Remove(ctx context.Context, id domain.DeviceID) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, deviceKey(id))
		pipe.SRem(ctx, deviceIndexKey, string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove device from Redis: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

func (r *RedisDeviceRepository) List(ctx context.Context) ([]*domain.Device, error) {
	ids, err := r.client.SMembers(ctx, deviceIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list device ids: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Device{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = deviceKey(domain.DeviceID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	devices := make([]*domain.Device, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var device domain.Device
		if err := json.Unmarshal([]byte(raw), &device); err != nil {
			continue
		}
		devices = append(devices, &device)
	}

	// blobs expired on their own; keep the index in step
	if len(stale) > 0 {
		r.client.SRem(ctx, deviceIndexKey, stale...)
	}
	return devices, nil
}

func (r *RedisDeviceRepository) RemoveInactive(ctx context.Context, before time.Time) (int, error) {
	devices, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, device := range devices {
		if !device.LastSeen.Before(before) {
			continue
		}
		if err := r.Remove(ctx, device.ID); err != nil && !errors.Is(err, domain.ErrDeviceNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
