package session

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"babaphone/internal/core/domain"
	"babaphone/internal/discovery"
	"babaphone/pkg/validation"
)

type Mode string

const (
	ModeChild  Mode = "child"
	ModeParent Mode = "parent"
)

func (m Mode) Valid() bool { return m == ModeChild || m == ModeParent }

// Config is the live configuration of a session. Sensitivity, volume and
// the selected peer may change while capture and playback read them.
type Config struct {
	Mode       Mode
	DeviceName string

	sensitivity atomic.Uint64
	volume      atomic.Uint64

	mu       sync.RWMutex
	selected *discovery.DeviceRecord
}

func NewConfig(mode Mode, deviceName string, sensitivity, volume float64) (*Config, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: mode %q", domain.ErrInvalidArgument, mode)
	}
	if err := validation.ValidateDeviceName(deviceName); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	c := &Config{Mode: mode, DeviceName: deviceName}
	if err := c.SetSensitivity(sensitivity); err != nil {
		return nil, err
	}
	if err := c.SetVolume(volume); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Sensitivity() float64 {
	return math.Float64frombits(c.sensitivity.Load())
}

// SetSensitivity sets the capture gate. Frames pass only when their level
// is strictly above it.
func (c *Config) SetSensitivity(v float64) error {
	if err := validation.ValidateUnitInterval(v, "sensitivity"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	c.sensitivity.Store(math.Float64bits(v))
	return nil
}

func (c *Config) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

func (c *Config) SetVolume(v float64) error {
	if err := validation.ValidateUnitInterval(v, "volume"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	c.volume.Store(math.Float64bits(v))
	return nil
}

func (c *Config) SelectedPeer() (discovery.DeviceRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.selected == nil {
		return discovery.DeviceRecord{}, false
	}
	return *c.selected, true
}

func (c *Config) SetSelectedPeer(rec discovery.DeviceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = &rec
}

func (c *Config) ClearSelectedPeer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = nil
}
