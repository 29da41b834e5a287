package hotspot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"babaphone/internal/core/domain"
	"babaphone/pkg/utils"

	"go.uber.org/zap"
)

const (
	DefaultSSIDPrefix = "BabaPhone-"
	maxSSIDLength     = 32
	passwordLength    = 12
)

type State int

const (
	StateInactive State = iota
	StateStarting
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type FailureKind int

const (
	KindUnknown FailureKind = iota
	KindNotSupported
	KindNoChannel
	KindGeneric
	KindIncompatibleMode
	KindTetheringDisallowed
	KindSecurity
)

func (k FailureKind) String() string {
	switch k {
	case KindNotSupported:
		return "not_supported"
	case KindNoChannel:
		return "no_channel"
	case KindGeneric:
		return "generic"
	case KindIncompatibleMode:
		return "incompatible_mode"
	case KindTetheringDisallowed:
		return "tethering_disallowed"
	case KindSecurity:
		return "security"
	default:
		return "unknown"
	}
}

// FailureError carries the kind of a failed hotspot start. It matches
// domain.ErrHotspotFailed under errors.Is.
type FailureError struct {
	Kind FailureKind
	Err  error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hotspot failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("hotspot failed (%s)", e.Kind)
}

func (e *FailureError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrHotspotFailed}
	}
	return []error{domain.ErrHotspotFailed, e.Err}
}

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) FailureKind {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Config is what a parent needs to join the hotspot.
type Config struct {
	SSID     string
	Password string
	Active   bool
}

// Platform creates and tears down the access point.
type Platform interface {
	// Supported returns nil when the platform can host an access point.
	Supported(ctx context.Context) error
	// Start brings the access point up and returns the credentials it
	// actually uses, which may differ from the requested ones.
	Start(ctx context.Context, ssid, password string) (Config, error)
	Stop(ctx context.Context) error
}

// Supported is the single capability check for hotspot creation.
func Supported(ctx context.Context, p Platform) bool {
	return p != nil && p.Supported(ctx) == nil
}

// Status is reported to subscribers on every transition.
type Status struct {
	State  State
	Config Config
	Err    error
}

type Controller struct {
	platform Platform
	prefix   string
	logger   *zap.SugaredLogger

	// op serialises Start and Stop so hotspots never stack
	op sync.Mutex

	mu        sync.Mutex
	state     State
	cfg       Config
	lastErr   error
	nextID    int
	listeners map[int]func(Status)
}

func NewController(platform Platform, ssidPrefix string, logger *zap.SugaredLogger) *Controller {
	if ssidPrefix == "" {
		ssidPrefix = DefaultSSIDPrefix
	}
	return &Controller{
		platform:  platform,
		prefix:    ssidPrefix,
		logger:    logger,
		listeners: make(map[int]func(Status)),
	}
}

// Subscribe registers l for state changes and returns its unsubscribe func.
func (c *Controller) Subscribe(l func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Start brings up a hotspot named after deviceName. Calling it while a
// hotspot is active returns the existing config.
func (c *Controller) Start(ctx context.Context, deviceName string) (Config, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if st := c.Status(); st.State == StateActive {
		return st.Config, nil
	}

	if err := c.platform.Supported(ctx); err != nil {
		ferr := asFailure(err, KindNotSupported)
		c.transition(StateFailed, Config{}, ferr)
		return Config{}, ferr
	}

	want := Config{
		SSID:     c.ssidFor(deviceName),
		Password: utils.GeneratePassword(passwordLength),
	}
	c.transition(StateStarting, Config{SSID: want.SSID}, nil)

	got, err := c.platform.Start(ctx, want.SSID, want.Password)
	if err != nil {
		ferr := asFailure(err, KindUnknown)
		c.transition(StateFailed, Config{}, ferr)
		c.logger.Warnw("hotspot start failed", "ssid", want.SSID, "kind", ferr.Kind, "error", err)
		return Config{}, ferr
	}
	if got.SSID == "" {
		got.SSID = want.SSID
	}
	if got.Password == "" {
		got.Password = want.Password
	}
	got.Active = true

	c.transition(StateActive, got, nil)
	c.logger.Infow("hotspot active", "ssid", got.SSID)
	return got, nil
}

// Stop tears the hotspot down. It is a no-op unless a hotspot is active.
func (c *Controller) Stop(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	switch c.Status().State {
	case StateActive:
	case StateFailed:
		c.transition(StateInactive, Config{}, nil)
		return nil
	default:
		return nil
	}

	err := c.platform.Stop(ctx)
	c.transition(StateInactive, Config{}, nil)
	if err != nil {
		return fmt.Errorf("stop hotspot: %w", asFailure(err, KindGeneric))
	}
	c.logger.Infow("hotspot stopped")
	return nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Config: c.cfg, Err: c.lastErr}
}

// Supported runs the platform capability check.
func (c *Controller) Supported(ctx context.Context) bool {
	return Supported(ctx, c.platform)
}

// Active reports whether this device is hosting a hotspot right now.
func (c *Controller) Active() bool {
	return c.Status().State == StateActive
}

func (c *Controller) ssidFor(deviceName string) string {
	name := strings.Join(strings.Fields(utils.SanitizeString(deviceName)), "-")
	if name == "" {
		name = "device"
	}
	ssid := c.prefix + name
	if len(ssid) > maxSSIDLength {
		ssid = ssid[:maxSSIDLength]
	}
	return ssid
}

func (c *Controller) transition(to State, cfg Config, err error) {
	c.mu.Lock()
	c.state = to
	c.cfg = cfg
	c.lastErr = err
	listeners := make([]func(Status), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	st := Status{State: to, Config: cfg, Err: err}
	for _, l := range listeners {
		l(st)
	}
}

func asFailure(err error, fallback FailureKind) *FailureError {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe
	}
	return &FailureError{Kind: fallback, Err: err}
}
