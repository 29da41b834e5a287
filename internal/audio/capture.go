package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"babaphone/internal/core/domain"
	"babaphone/pkg/optimize"

	"go.uber.org/zap"
)

type CaptureConfig struct {
	FrameSamples int
	// Sensitivity is read once per frame. Frames pass the gate only when
	// their level is strictly above it.
	Sensitivity func() float64
	// OnLevel sees every frame's level, gated or not.
	OnLevel func(level float64)
}

// CaptureLoop reads frames from an input device and forwards the loud ones.
type CaptureLoop struct {
	device InputDevice
	cfg    CaptureConfig
	out    *Queue
	logger *zap.SugaredLogger
	// frames that fail the gate go back here
	pool   *optimize.SamplePool

	frames    atomic.Uint64
	forwarded atomic.Uint64
}

func NewCaptureLoop(device InputDevice, out *Queue, cfg CaptureConfig, logger *zap.SugaredLogger) *CaptureLoop {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultFrameSamples
	}
	if cfg.Sensitivity == nil {
		cfg.Sensitivity = func() float64 { return 0 }
	}
	return &CaptureLoop{
		device: device,
		cfg:    cfg,
		out:    out,
		logger: logger,
		pool:   optimize.NewSamplePool(cfg.FrameSamples),
	}
}

// Run captures until ctx is cancelled. A device that cannot be opened or
// fails mid-stream ends the loop with ErrCaptureUnavailable. The device is
// closed on every return path.
func (l *CaptureLoop) Run(ctx context.Context) error {
	if err := l.device.Open(ctx); err != nil {
		if errors.Is(err, domain.ErrCaptureUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}

	var closeOnce sync.Once
	closeDevice := func() {
		closeOnce.Do(func() {
			if err := l.device.Close(); err != nil {
				l.logger.Debugw("capture device close failed", "error", err)
			}
		})
	}
	defer closeDevice()

	// a blocked read only returns once the device is closed
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeDevice()
		case <-stop:
		}
	}()

	l.logger.Infow("capture started", "frame_samples", l.cfg.FrameSamples)
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame := Frame(l.pool.Get())
		if err := l.device.ReadFrame(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warnw("capture read failed", "error", err)
			if errors.Is(err, domain.ErrCaptureUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
		}
		l.frames.Add(1)

		level, err := Level(frame)
		if err != nil {
			l.pool.Put(frame)
			continue
		}
		if l.cfg.OnLevel != nil {
			l.cfg.OnLevel(level)
		}
		if level > l.cfg.Sensitivity() {
			l.forwarded.Add(1)
			l.out.Push(frame)
		} else {
			l.pool.Put(frame)
		}
	}
}

// Stats returns frames read and frames that passed the gate.
func (l *CaptureLoop) Stats() (frames, forwarded uint64) {
	return l.frames.Load(), l.forwarded.Load()
}
