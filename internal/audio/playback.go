package audio

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrPlaybackRunning = errors.New("playback already running")

// PlaybackSink renders frames in arrival order with the current volume as a
// linear gain. It queues up to the configured number of frames and drops the
// oldest on overflow, trading completeness for latency.
type PlaybackSink struct {
	device OutputDevice
	volume func() float64
	queue  *Queue
	logger *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func NewPlaybackSink(device OutputDevice, queueSize int, volume func() float64, logger *zap.SugaredLogger) *PlaybackSink {
	if volume == nil {
		volume = func() float64 { return 1 }
	}
	return &PlaybackSink{
		device: device,
		volume: volume,
		queue:  NewQueue(queueSize),
		logger: logger,
	}
}

// Start opens the output device and begins rendering queued frames.
func (p *PlaybackSink) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrPlaybackRunning
	}

	if err := p.device.Open(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.lastErr = nil
	go p.run(runCtx, p.done)

	p.logger.Infow("playback started", "queue", p.queue.Cap())
	return nil
}

func (p *PlaybackSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.queue.C():
			ApplyGain(f, p.volume())
			if err := p.device.WriteFrame(f); err != nil {
				p.logger.Warnw("playback write failed", "error", err)
				p.mu.Lock()
				p.lastErr = err
				p.mu.Unlock()
				return
			}
		}
	}
}

// Submit hands a frame to the sink, which now owns it.
func (p *PlaybackSink) Submit(f Frame) {
	if p.queue.Push(f) {
		p.logger.Debugw("playback queue overflow, dropped oldest frame", "dropped_total", p.queue.Dropped())
	}
}

// Stop halts rendering, discards queued frames and releases the device.
// Stopping a stopped sink is a no-op.
func (p *PlaybackSink) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	p.queue.Drain()
	return p.device.Close()
}

func (p *PlaybackSink) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Dropped counts frames discarded by queue overflow.
func (p *PlaybackSink) Dropped() uint64 {
	return p.queue.Dropped()
}

// Err returns the write error that ended rendering, if any.
func (p *PlaybackSink) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
