package relayclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"babaphone/internal/audio"
	"babaphone/internal/core/domain"
	"babaphone/pkg/batch"

	"go.uber.org/zap"
)

const (
	DefaultFramesPerPacket = 4
	DefaultPollInterval    = 500 * time.Millisecond
)

// Uplink sends captured frames to one peer through the relay server,
// grouping several frames per packet.
type Uplink struct {
	client  *Client
	to      domain.DeviceID
	timeout time.Duration
	batcher *batch.Batcher[audio.Frame]
	logger  *zap.SugaredLogger

	sent    atomic.Uint64
	lastErr atomic.Pointer[error]
}

// NewUplink starts an uplink. A partial packet is flushed after flushEvery.
func NewUplink(client *Client, to domain.DeviceID, framesPerPacket int, flushEvery time.Duration, logger *zap.SugaredLogger) *Uplink {
	if framesPerPacket <= 0 {
		framesPerPacket = DefaultFramesPerPacket
	}
	if flushEvery <= 0 {
		flushEvery = time.Duration(framesPerPacket*audio.DefaultFrameSamples) * time.Second / audio.SampleRate
	}
	u := &Uplink{
		client:  client,
		to:      to,
		timeout: client.cfg.RequestTimeout,
		logger:  logger,
	}
	u.batcher = batch.NewBatcher(framesPerPacket, flushEvery, u.send, func(err error) {
		u.lastErr.Store(&err)
		u.logger.Debugw("relay audio send failed", "to", to, "error", err)
	})
	return u
}

// Write queues a frame for relaying.
func (u *Uplink) Write(f audio.Frame) error {
	u.batcher.Add(f.Clone())
	return nil
}

func (u *Uplink) send(ctx context.Context, frames []audio.Frame) error {
	n := 0
	for _, f := range frames {
		n += len(f) * audio.BytesPerSample
	}
	pcm := make([]byte, 0, n)
	for _, f := range frames {
		pcm = audio.EncodePCM(pcm, f)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	if _, err := u.client.SendAudio(ctx, u.to, pcm); err != nil {
		return err
	}
	u.sent.Add(1)
	return nil
}

// Sent is the number of packets accepted by the server.
func (u *Uplink) Sent() uint64 { return u.sent.Load() }

// Err returns the last send failure, if any.
func (u *Uplink) Err() error {
	if p := u.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close flushes the partial packet and stops the uplink.
func (u *Uplink) Close() error {
	u.batcher.Stop()
	return nil
}

// Downlink turns relay packets back into frames. Packets arrive either from
// Run's polling or from Deliver when a push subscription is active.
type Downlink struct {
	client       *Client
	from         domain.DeviceID
	interval     time.Duration
	frameSamples int
	handler      func(audio.Frame)
	logger       *zap.SugaredLogger

	mu       sync.Mutex
	received uint64
}

// NewDownlink builds a downlink. An empty from accepts packets from any
// device.
func NewDownlink(client *Client, from domain.DeviceID, interval time.Duration, frameSamples int, handler func(audio.Frame), logger *zap.SugaredLogger) *Downlink {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if frameSamples <= 0 {
		frameSamples = audio.DefaultFrameSamples
	}
	return &Downlink{
		client:       client,
		from:         from,
		interval:     interval,
		frameSamples: frameSamples,
		handler:      handler,
		logger:       logger,
	}
}

// Run polls until ctx is done. Network failures are logged and the next
// tick polls again.
func (d *Downlink) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			packets, err := d.client.PollAudio(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Debugw("relay audio poll failed", "error", err)
				continue
			}
			d.Deliver(packets)
		}
	}
}

// Deliver decodes packets in order and hands their frames to the handler.
func (d *Downlink) Deliver(packets []*domain.RelayPacket) {
	for _, p := range packets {
		if d.from != "" && p.From != d.from {
			continue
		}
		pcm, err := DecodeAudio(p)
		if err != nil {
			d.logger.Warnw("dropping relay packet", "packet_id", p.ID, "error", err)
			continue
		}
		samples := audio.DecodePCM(pcm)
		for start := 0; start < len(samples); start += d.frameSamples {
			end := min(start+d.frameSamples, len(samples))
			d.handler(samples[start:end])
		}
		d.mu.Lock()
		d.received++
		d.mu.Unlock()
	}
}

func (d *Downlink) Received() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received
}
