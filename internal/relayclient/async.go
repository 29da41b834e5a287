package relayclient

import (
	"context"
	"encoding/json"

	"babaphone/internal/core/domain"
)

// The Async variants run the call on their own goroutine and report through
// done, so callers on an event loop never block on the network. done runs on
// that goroutine.

func runAsync[T any](ctx context.Context, fn func(context.Context) (T, error), done func(T, error)) {
	go func() {
		v, err := fn(ctx)
		if done != nil {
			done(v, err)
		}
	}()
}

func (c *Client) RegisterAsync(ctx context.Context, done func(*domain.Device, error)) {
	runAsync(ctx, c.Register, done)
}

func (c *Client) UnregisterAsync(ctx context.Context, done func(error)) {
	runAsync(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Unregister(ctx)
	}, func(_ struct{}, err error) {
		if done != nil {
			done(err)
		}
	})
}

func (c *Client) DiscoverAsync(ctx context.Context, deviceType domain.DeviceType, done func([]*domain.Device, error)) {
	runAsync(ctx, func(ctx context.Context) ([]*domain.Device, error) {
		return c.Discover(ctx, deviceType)
	}, done)
}

func (c *Client) SendSignalAsync(ctx context.Context, to domain.DeviceID, typ domain.SignalType, data json.RawMessage, done func(string, error)) {
	runAsync(ctx, func(ctx context.Context) (string, error) {
		return c.SendSignal(ctx, to, typ, data)
	}, done)
}

func (c *Client) PollSignalsAsync(ctx context.Context, done func([]*domain.Signal, error)) {
	runAsync(ctx, c.PollSignals, done)
}

func (c *Client) SendAudioAsync(ctx context.Context, to domain.DeviceID, pcm []byte, done func(string, error)) {
	runAsync(ctx, func(ctx context.Context) (string, error) {
		return c.SendAudio(ctx, to, pcm)
	}, done)
}

func (c *Client) PollAudioAsync(ctx context.Context, done func([]*domain.RelayPacket, error)) {
	runAsync(ctx, c.PollAudio, done)
}
