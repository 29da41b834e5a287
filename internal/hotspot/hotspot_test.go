package hotspot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"babaphone/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePlatform struct {
	mu          sync.Mutex
	unsupported error
	startErr    error
	starts      int
	stops       int
}

func (p *fakePlatform) Supported(context.Context) error { return p.unsupported }

func (p *fakePlatform) Start(_ context.Context, ssid, password string) (Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.startErr != nil {
		return Config{}, p.startErr
	}
	return Config{SSID: ssid, Password: password}, nil
}

func (p *fakePlatform) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func newTestController(t *testing.T, p Platform) (*Controller, *[]State) {
	c := NewController(p, "", zaptest.NewLogger(t).Sugar())
	var states []State
	c.Subscribe(func(s Status) { states = append(states, s.State) })
	return c, &states
}

func TestController_StartActivates(t *testing.T) {
	p := &fakePlatform{}
	c, states := newTestController(t, p)

	cfg, err := c.Start(context.Background(), "Nursery Tablet")
	require.NoError(t, err)

	assert.Equal(t, []State{StateStarting, StateActive}, *states)
	assert.Equal(t, "BabaPhone-Nursery-Tablet", cfg.SSID)
	assert.NotEmpty(t, cfg.Password)
	assert.True(t, cfg.Active)
	assert.True(t, c.Active())
}

func TestController_StartWhileActiveDoesNotStack(t *testing.T) {
	p := &fakePlatform{}
	c, _ := newTestController(t, p)
	ctx := context.Background()

	first, err := c.Start(ctx, "child")
	require.NoError(t, err)
	second, err := c.Start(ctx, "other")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.starts)
}

func TestController_StopIsNoopWhenInactive(t *testing.T) {
	p := &fakePlatform{}
	c, states := newTestController(t, p)
	ctx := context.Background()

	require.NoError(t, c.Stop(ctx))
	assert.Empty(t, *states)
	assert.Zero(t, p.stops)

	_, err := c.Start(ctx, "child")
	require.NoError(t, err)
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, 1, p.stops)
	assert.Equal(t, StateInactive, c.Status().State)
	assert.False(t, c.Status().Config.Active)
}

func TestController_NotSupportedIsNotAttempted(t *testing.T) {
	p := &fakePlatform{unsupported: errors.New("no AP mode")}
	c, states := newTestController(t, p)

	_, err := c.Start(context.Background(), "child")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHotspotFailed)
	assert.Equal(t, KindNotSupported, KindOf(err))
	assert.Zero(t, p.starts)
	assert.Equal(t, []State{StateFailed}, *states)
}

func TestController_FailureKind(t *testing.T) {
	p := &fakePlatform{startErr: &FailureError{Kind: KindNoChannel}}
	c, states := newTestController(t, p)

	_, err := c.Start(context.Background(), "child")
	assert.ErrorIs(t, err, domain.ErrHotspotFailed)
	assert.Equal(t, KindNoChannel, KindOf(err))
	assert.Equal(t, []State{StateStarting, StateFailed}, *states)

	// a failed controller can be retried
	p.startErr = nil
	_, err = c.Start(context.Background(), "child")
	require.NoError(t, err)
	assert.True(t, c.Active())
}

func TestController_SSIDIsBounded(t *testing.T) {
	c := NewController(&fakePlatform{}, "", zaptest.NewLogger(t).Sugar())
	ssid := c.ssidFor(strings.Repeat("x", 64))
	assert.Len(t, ssid, maxSSIDLength)
	assert.Equal(t, "BabaPhone-device", c.ssidFor("  \t"))
}

type scriptedRunner struct {
	calls   [][]string
	outputs map[string]string
	errs    map[string]error
}

func (r *scriptedRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	key := strings.Join(args[:2], " ")
	return []byte(r.outputs[key]), r.errs[key]
}

func TestNMCLI_StartReadsStoredPassword(t *testing.T) {
	r := &scriptedRunner{
		outputs: map[string]string{
			"-t -f":       "WIFI-PROPERTIES.AP:yes\n",
			"-s -g":       "storedkey99\n",
			"device wifi": "Device 'wlan0' successfully activated",
		},
	}
	n := NewNMCLI("wlan0", r.run)
	c := NewController(n, "", zaptest.NewLogger(t).Sugar())

	cfg, err := c.Start(context.Background(), "child")
	require.NoError(t, err)
	assert.Equal(t, "storedkey99", cfg.Password)
	assert.Contains(t, r.calls[1], "BabaPhone-child")

	require.NoError(t, c.Stop(context.Background()))
	last := r.calls[len(r.calls)-1]
	assert.Equal(t, []string{"nmcli", "connection", "down", connectionName}, last)
}

func TestNMCLI_Unsupported(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{"-t -f": "WIFI-PROPERTIES.AP:no\n"}}
	err := NewNMCLI("wlan0", r.run).Supported(context.Background())
	assert.Equal(t, KindNotSupported, KindOf(err))
}

func TestClassify(t *testing.T) {
	tests := map[string]FailureKind{
		"Error: No suitable channel found":               KindNoChannel,
		"Error: Not authorized to control networking.":   KindSecurity,
		"Error: Device 'wlan0' does not support AP mode": KindIncompatibleMode,
		"Error: blocked by tethering policy":             KindTetheringDisallowed,
		"Error: Connection activation failed":            KindGeneric,
	}
	for out, want := range tests {
		assert.Equal(t, want, classify(out), out)
	}
	assert.Equal(t, KindUnknown, classify(""))
}
