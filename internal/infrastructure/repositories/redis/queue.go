package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"babaphone/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// deliveryQueue is the Redis layout shared by signals and relay packets:
//
//	<kind>:<id>          JSON blob, expires after ttl
//	<kind>:inbox:<to>    list of ids not yet handed out
//	<kind>:by_time       sorted set of "<to>|<id>" scored by timestamp
//
// An id leaves the inbox in the same transaction that reads it, so two
// concurrent pollers never receive the same item.
type deliveryQueue[T any] struct {
	client *redis.Client
	kind   string
	ttl    time.Duration
	mark   func(item *T, at time.Time)
}

func (q *deliveryQueue[T]) itemKey(id string) string {
	return keyPrefix + q.kind + ":" + id
}

func (q *deliveryQueue[T]) inboxKey(to domain.DeviceID) string {
	return keyPrefix + q.kind + ":inbox:" + string(to)
}

func (q *deliveryQueue[T]) timeKey() string {
	return keyPrefix + q.kind + ":by_time"
}

func (q *deliveryQueue[T]) put(ctx context.Context, id string, to domain.DeviceID, ts time.Time, item *T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", q.kind, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.itemKey(id), data, q.ttl)
		pipe.RPush(ctx, q.inboxKey(to), id)
		pipe.ZAdd(ctx, q.timeKey(), redis.Z{
			Score:  float64(ts.UnixMilli()),
			Member: string(to) + "|" + id,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", q.kind, err)
	}
	return nil
}

func (q *deliveryQueue[T]) take(ctx context.Context, to domain.DeviceID, at time.Time) ([]*T, error) {
	var ids *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ids = pipe.LRange(ctx, q.inboxKey(to), 0, -1)
		pipe.Del(ctx, q.inboxKey(to))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain %s inbox: %w", q.kind, err)
	}
	if len(ids.Val()) == 0 {
		return []*T{}, nil
	}

	keys := make([]string, len(ids.Val()))
	for i, id := range ids.Val() {
		keys[i] = q.itemKey(id)
	}
	values, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", q.kind, err)
	}

	out := make([]*T, 0, len(values))
	pipe := q.client.Pipeline()
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		item := new(T)
		if err := json.Unmarshal([]byte(raw), item); err != nil {
			continue
		}
		q.mark(item, at)
		if data, err := json.Marshal(item); err == nil {
			pipe.SetArgs(ctx, keys[i], data, redis.SetArgs{KeepTTL: true, Mode: "XX"})
		}
		out = append(out, item)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return out, fmt.Errorf("failed to mark %s delivered: %w", q.kind, err)
	}
	return out, nil
}

func (q *deliveryQueue[T]) removeOlderThan(ctx context.Context, before time.Time) (int, error) {
	cutoff := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.timeKey(), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s by age: %w", q.kind, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			to, id, ok := strings.Cut(m, "|")
			if !ok {
				continue
			}
			pipe.Del(ctx, q.itemKey(id))
			pipe.LRem(ctx, q.inboxKey(domain.DeviceID(to)), 0, id)
		}
		pipe.ZRemRangeByScore(ctx, q.timeKey(), "-inf", cutoff)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire %s: %w", q.kind, err)
	}
	return len(members), nil
}
