package session

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"babaphone/internal/audio"
	"babaphone/internal/connectivity"
	"babaphone/internal/core/domain"
	"babaphone/internal/core/services"
	"babaphone/internal/discovery"
	httphandlers "babaphone/internal/handlers/http"
	"babaphone/internal/hotspot"
	"babaphone/internal/infrastructure/distributed"
	"babaphone/internal/infrastructure/monitoring"
	"babaphone/internal/infrastructure/repositories/memory"
	"babaphone/internal/infrastructure/signal"
	"babaphone/internal/relayclient"
	"babaphone/internal/transport"
	"babaphone/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// toneInput produces loud frames until closed.
type toneInput struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func newToneInput() *toneInput { return &toneInput{closed: make(chan struct{})} }

func (d *toneInput) Open(context.Context) error { return nil }

func (d *toneInput) ReadFrame(buf audio.Frame) error {
	select {
	case <-d.closed:
		return errors.New("device closed")
	case <-time.After(2 * time.Millisecond):
	}
	for i := range buf {
		buf[i] = 8000
	}
	return nil
}

func (d *toneInput) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// gatedInput plays back a fixed run of constant frames once released, then
// stays silent until closed.
type gatedInput struct {
	values    []int16
	next      int
	release   chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func newGatedInput(values ...int16) *gatedInput {
	return &gatedInput{values: values, release: make(chan struct{}), closed: make(chan struct{})}
}

func (d *gatedInput) Open(context.Context) error { return nil }

func (d *gatedInput) ReadFrame(buf audio.Frame) error {
	select {
	case <-d.closed:
		return errors.New("device closed")
	case <-d.release:
	}
	if d.next == len(d.values) {
		<-d.closed
		return errors.New("device closed")
	}
	select {
	case <-d.closed:
		return errors.New("device closed")
	case <-time.After(2 * time.Millisecond):
	}
	for i := range buf {
		buf[i] = d.values[d.next]
	}
	d.next++
	return nil
}

func (d *gatedInput) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// levelOutput keeps the level of every frame it renders.
type levelOutput struct {
	mu     sync.Mutex
	levels []float64
}

func (d *levelOutput) Open(context.Context) error { return nil }

func (d *levelOutput) WriteFrame(f audio.Frame) error {
	level, err := audio.Level(f)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.levels = append(d.levels, level)
	d.mu.Unlock()
	return nil
}

func (d *levelOutput) Close() error { return nil }

func (d *levelOutput) rendered() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.levels...)
}

// countingListener accepts connections and tracks how many are still open.
type countingListener struct {
	port uint16
	open atomic.Int32
}

func newCountingListener(t *testing.T) *countingListener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	cl := &countingListener{port: uint16(l.Addr().(*net.TCPAddr).Port)}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			cl.open.Add(1)
			go func() {
				defer cl.open.Add(-1)
				io.Copy(io.Discard, conn)
				conn.Close()
			}()
		}
	}()
	return cl
}

func (cl *countingListener) peer() discovery.DeviceRecord {
	return discovery.DeviceRecord{Name: "Nursery", Address: "127.0.0.1", Port: cl.port}
}

type countingOutput struct {
	frames atomic.Int64
}

func (d *countingOutput) Open(context.Context) error { return nil }

func (d *countingOutput) WriteFrame(audio.Frame) error {
	d.frames.Add(1)
	return nil
}

func (d *countingOutput) Close() error { return nil }

type fakeAdvertiser struct {
	mu      sync.Mutex
	name    string
	port    int
	stopped bool
}

func (a *fakeAdvertiser) Advertise(_ context.Context, name string, port int) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name, a.port = name, port
	return func() {
		a.mu.Lock()
		a.stopped = true
		a.mu.Unlock()
	}, nil
}

func (a *fakeAdvertiser) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *fakeAdvertiser) advertised() (string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name, a.port
}

type fakeBrowser struct {
	events chan discovery.Event
}

func (b *fakeBrowser) Browse(ctx context.Context) (<-chan discovery.Event, error) {
	out := make(chan discovery.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-b.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type stubProbe struct {
	snap connectivity.Snapshot
}

func (p stubProbe) Snapshot(context.Context) (connectivity.Snapshot, error) { return p.snap, nil }

type fakePlatform struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
}

func (p *fakePlatform) Supported(context.Context) error { return nil }

func (p *fakePlatform) Start(_ context.Context, ssid, password string) (hotspot.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.startErr != nil {
		return hotspot.Config{}, p.startErr
	}
	return hotspot.Config{SSID: ssid, Password: password, Active: true}, nil
}

func (p *fakePlatform) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlatform) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

func allow() error { return nil }

func newTestController(t *testing.T, opts Options) *Controller {
	t.Helper()
	if opts.Permission == nil {
		opts.Permission = audio.PermissionFunc(allow)
	}
	if opts.Transport.Port == 0 {
		opts.Transport.Port = -1
	}
	c := NewController(opts, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { c.Stop() })
	return c
}

func newTestConfig(t *testing.T, mode Mode, name string) *Config {
	t.Helper()
	cfg, err := NewConfig(mode, name, 0.1, 1)
	require.NoError(t, err)
	return cfg
}

func monitorFor(t *testing.T, snap connectivity.Snapshot) *connectivity.Monitor {
	return connectivity.NewMonitor(stubProbe{snap: snap}, time.Hour, zaptest.NewLogger(t).Sugar())
}

func TestConfig_Validation(t *testing.T) {
	_, err := NewConfig("grandparent", "Nursery", 0.5, 0.5)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewConfig(ModeChild, "", 0.5, 0.5)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewConfig(ModeChild, "Nursery", 1.5, 0.5)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	cfg, err := NewConfig(ModeParent, "Kitchen", 0, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.SetVolume(math.NaN()), domain.ErrInvalidArgument)
	assert.Equal(t, 1.0, cfg.Volume())

	require.NoError(t, cfg.SetSensitivity(0.25))
	assert.Equal(t, 0.25, cfg.Sensitivity())

	_, ok := cfg.SelectedPeer()
	assert.False(t, ok)
	cfg.SetSelectedPeer(discovery.DeviceRecord{Name: "Nursery"})
	peer, ok := cfg.SelectedPeer()
	require.True(t, ok)
	assert.Equal(t, "Nursery", peer.Name)
	cfg.ClearSelectedPeer()
	_, ok = cfg.SelectedPeer()
	assert.False(t, ok)
}

func TestSession_ChildToParentOverLAN(t *testing.T) {
	ctx := context.Background()
	adv := &fakeAdvertiser{}
	child := newTestController(t, Options{Advertiser: adv, Input: newToneInput()})
	require.NoError(t, child.Start(ctx, newTestConfig(t, ModeChild, "Nursery")))
	assert.Equal(t, StateActive, child.State())

	name, port := adv.advertised()
	assert.Equal(t, "Nursery", name)
	require.Greater(t, port, 0)

	found := make(chan discovery.DeviceRecord, 4)
	browser := &fakeBrowser{events: make(chan discovery.Event)}
	out := &countingOutput{}
	parent := newTestController(t, Options{
		Browser: browser,
		Output:  out,
		Callbacks: Callbacks{
			OnDeviceFound: func(rec discovery.DeviceRecord) { found <- rec },
		},
	})
	require.NoError(t, parent.Start(ctx, newTestConfig(t, ModeParent, "Kitchen")))

	browser.events <- discovery.Event{Type: discovery.EventFound, Record: discovery.DeviceRecord{
		Name: name, Address: "127.0.0.1", Port: uint16(port),
	}}
	var rec discovery.DeviceRecord
	select {
	case rec = <-found:
	case <-time.After(2 * time.Second):
		t.Fatal("device not reported")
	}
	assert.Len(t, parent.Peers(), 1)

	require.NoError(t, parent.SelectPeer(ctx, rec))
	require.Eventually(t, func() bool { return out.frames.Load() > 10 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, parent.Stop())
	require.NoError(t, child.Stop())
	assert.Equal(t, StateStopped, parent.State())
	assert.Equal(t, StateStopped, child.State())
	assert.Empty(t, parent.Peers())
	assert.True(t, adv.isStopped())
}

func TestSession_StateCallbacksInOrder(t *testing.T) {
	var mu sync.Mutex
	var states []State
	done := make(chan struct{})
	c := newTestController(t, Options{
		Input: newToneInput(),
		Callbacks: Callbacks{OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
			if s == StateStopped {
				close(done)
			}
		}},
	})
	require.NoError(t, c.Start(context.Background(), newTestConfig(t, ModeChild, "Nursery")))
	assert.ErrorIs(t, c.Start(context.Background(), newTestConfig(t, ModeChild, "Nursery")), ErrAlreadyRunning)
	require.NoError(t, c.Stop())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no stopped callback")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateStarting, StateActive, StateStopping, StateStopped}, states)
}

func TestSession_PermissionDenied(t *testing.T) {
	c := newTestController(t, Options{
		Permission: audio.PermissionFunc(func() error { return domain.ErrPermissionDenied }),
		Input:      newToneInput(),
	})
	err := c.Start(context.Background(), newTestConfig(t, ModeChild, "Nursery"))
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, StateStopped, c.State())
	assert.Nil(t, c.SourceAddr())
}

func TestSession_SelectPeerModes(t *testing.T) {
	c := newTestController(t, Options{Input: newToneInput()})
	assert.ErrorIs(t, c.SelectPeer(context.Background(), discovery.DeviceRecord{Name: "x"}), ErrNotRunning)

	require.NoError(t, c.Start(context.Background(), newTestConfig(t, ModeChild, "Nursery")))
	assert.ErrorIs(t, c.SelectPeer(context.Background(), discovery.DeviceRecord{Name: "x"}), ErrWrongMode)
}

func TestSession_ChildWithoutWiFiHostsHotspot(t *testing.T) {
	platform := &fakePlatform{}
	hs := hotspot.NewController(platform, "", zaptest.NewLogger(t).Sugar())

	statuses := make(chan hotspot.Status, 8)
	c := newTestController(t, Options{
		Connectivity: monitorFor(t, connectivity.Snapshot{}),
		Hotspot:      hs,
		Input:        newToneInput(),
		Callbacks: Callbacks{
			OnHotspot: func(st hotspot.Status) { statuses <- st },
		},
	})
	require.NoError(t, c.Start(context.Background(), newTestConfig(t, ModeChild, "Nursery")))
	assert.Equal(t, connectivity.None, c.Attachment())

	var seen []hotspot.State
	var active hotspot.Status
	for active.State != hotspot.StateActive {
		select {
		case st := <-statuses:
			seen = append(seen, st.State)
			active = st
		case <-time.After(2 * time.Second):
			t.Fatalf("hotspot never active, saw %v", seen)
		}
	}
	assert.Equal(t, []hotspot.State{hotspot.StateStarting, hotspot.StateActive}, seen)
	assert.NotEmpty(t, active.Config.SSID)
	assert.NotEmpty(t, active.Config.Password)

	require.NoError(t, c.Stop())
	starts, stops := platform.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, hs.Active())
}

func TestSession_ParentWithoutConnectivity(t *testing.T) {
	c := newTestController(t, Options{
		Connectivity: monitorFor(t, connectivity.Snapshot{}),
		Output:       &countingOutput{},
	})
	err := c.Start(context.Background(), newTestConfig(t, ModeParent, "Kitchen"))
	assert.ErrorIs(t, err, domain.ErrNoConnectivity)
	assert.Equal(t, StateStopped, c.State())
}

func TestSession_MobileDataWithoutRelay(t *testing.T) {
	c := newTestController(t, Options{
		Connectivity: monitorFor(t, connectivity.Snapshot{Mobile: true}),
		Output:       &countingOutput{},
	})
	err := c.Start(context.Background(), newTestConfig(t, ModeParent, "Kitchen"))
	assert.ErrorIs(t, err, domain.ErrNoConnectivity)
}

func TestSession_TransportEventsReachCallback(t *testing.T) {
	var mu sync.Mutex
	var seen []transport.State
	c := newTestController(t, Options{
		Input: newToneInput(),
		Callbacks: Callbacks{OnTransportState: func(_, to transport.State, _ error) {
			mu.Lock()
			seen = append(seen, to)
			mu.Unlock()
		}},
	})
	require.NoError(t, c.Start(context.Background(), newTestConfig(t, ModeChild, "Nursery")))

	addr := c.SourceAddr()
	require.NotNil(t, addr)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range seen {
			if s == transport.StateConnected {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

// newBackend runs the relay server routes over httptest.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	zl := zaptest.NewLogger(t)
	logger := zl.Sugar()

	devices := memory.NewMemoryDeviceRepository()
	pairings := memory.NewMemoryPairingRepository()
	notifier := distributed.NewLocalNotifier()

	registry := services.NewRegistryService(devices, pairings, cfg.Retention.DeviceTimeout, nil, logger)
	signaling := services.NewSignalingService(devices, memory.NewMemorySignalRepository(), pairings, notifier, nil, logger)
	relay := services.NewRelayService(devices, memory.NewMemoryRelayRepository(), notifier, nil, logger)
	push := signal.NewPushServer(registry, signaling, relay, notifier, nil, signal.PushConfig{
		PingInterval: time.Second,
		PongTimeout:  3 * time.Second,
		WriteTimeout: time.Second,
	}, logger)

	srv := httptest.NewServer(httphandlers.NewRouter(httphandlers.RouterDeps{
		Config:    cfg,
		Registry:  registry,
		Signaling: signaling,
		Relay:     relay,
		Tokens:    services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.DeviceTokenTTL),
		Push:      push,
		Health:    monitoring.NewHealthChecker(),
		Logger:    zl,
		StartedAt: time.Now(),
	}))
	t.Cleanup(func() {
		push.Close()
		srv.Close()
	})
	return srv
}

func newRelay(t *testing.T, baseURL, id, name string, typ domain.DeviceType) *relayclient.Client {
	t.Helper()
	c, err := relayclient.New(relayclient.Config{
		BaseURL:    baseURL,
		DeviceID:   domain.DeviceID(id),
		DeviceType: typ,
		DeviceName: name,
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(c.StopHeartbeat)
	return c
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) uint16 {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return uint16(port)
}

func TestSession_RelayFallback(t *testing.T) {
	for _, push := range []bool{false, true} {
		name := "polling"
		if push {
			name = "push"
		}
		t.Run(name, func(t *testing.T) {
			srv := newBackend(t)
			ctx := context.Background()

			// no wifi and no hotspot support, so the child goes straight to the relay
			child := newTestController(t, Options{
				Connectivity:      monitorFor(t, connectivity.Snapshot{Mobile: true}),
				Input:             newToneInput(),
				Relay:             newRelay(t, srv.URL, "child-1", "Nursery", domain.DeviceTypeChild),
				RelayPush:         push,
				RelayPollInterval: 20 * time.Millisecond,
			})
			require.NoError(t, child.Start(ctx, newTestConfig(t, ModeChild, "Nursery")))
			assert.Nil(t, child.SourceAddr())

			out := &countingOutput{}
			parent := newTestController(t, Options{
				Output:            out,
				Relay:             newRelay(t, srv.URL, "parent-1", "Kitchen", domain.DeviceTypeParent),
				RelayPush:         push,
				RelayPollInterval: 20 * time.Millisecond,
			})
			require.NoError(t, parent.Start(ctx, newTestConfig(t, ModeParent, "Kitchen")))

			// a stale LAN record: the dial fails and the relay takes over
			require.NoError(t, parent.SelectPeer(ctx, discovery.DeviceRecord{
				Name: "Nursery", Address: "127.0.0.1", Port: closedPort(t),
			}))
			require.Eventually(t, func() bool { return out.frames.Load() > 10 }, 5*time.Second, 20*time.Millisecond)

			require.Eventually(t, func() bool {
				for _, p := range parent.Peers() {
					if p.DeviceID == "child-1" {
						return true
					}
				}
				return false
			}, 2*time.Second, 20*time.Millisecond)

			require.NoError(t, parent.Stop())
			require.NoError(t, child.Stop())
		})
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	c := newTestController(t, Options{Input: newToneInput()})
	require.NoError(t, c.Stop())
	require.NoError(t, c.Start(context.Background(), newTestConfig(t, ModeChild, "Nursery")))
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.Equal(t, StateStopped, c.State())
}

func TestSession_OnlyLoudFramesReachParent(t *testing.T) {
	const loud, quiet = 26214, 655 // levels 0.8 and 0.02
	input := newGatedInput(loud, quiet, loud, quiet, quiet, loud, quiet, loud)

	connected := make(chan struct{}, 1)
	child := newTestController(t, Options{
		Input: input,
		Callbacks: Callbacks{OnTransportState: func(_, to transport.State, _ error) {
			if to == transport.StateConnected {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		}},
	})
	cfg, err := NewConfig(ModeChild, "Nursery", 0.5, 1)
	require.NoError(t, err)
	require.NoError(t, child.Start(context.Background(), cfg))

	port := child.SourceAddr().(*net.TCPAddr).Port
	out := &levelOutput{}
	parent := newTestController(t, Options{Output: out})
	require.NoError(t, parent.Start(context.Background(), newTestConfig(t, ModeParent, "Kitchen")))
	require.NoError(t, parent.SelectPeer(context.Background(), discovery.DeviceRecord{
		Name: "Nursery", Address: "127.0.0.1", Port: uint16(port),
	}))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("parent never connected")
	}
	close(input.release)

	require.Eventually(t, func() bool { return len(out.rendered()) == 4 }, 3*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return len(out.rendered()) > 4 }, 100*time.Millisecond, 10*time.Millisecond)
	for _, level := range out.rendered() {
		assert.InDelta(t, 0.8, level, 0.01)
	}
}

func TestSession_StopDuringSelectPeerLeavesNoLink(t *testing.T) {
	cl := newCountingListener(t)

	for i := 0; i < 40; i++ {
		c := newTestController(t, Options{Output: &countingOutput{}})
		require.NoError(t, c.Start(context.Background(), newTestConfig(t, ModeParent, "Kitchen")))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.SelectPeer(context.Background(), cl.peer())
		}()
		time.Sleep(time.Duration(i%6) * 50 * time.Microsecond)
		require.NoError(t, c.Stop())
		wg.Wait()

		c.mu.Lock()
		sink, downlink := c.sink, c.downlink
		c.mu.Unlock()
		assert.Nil(t, sink, "iteration %d kept a sink", i)
		assert.Nil(t, downlink, "iteration %d kept a relay link", i)
		assert.Equal(t, StateStopped, c.State())
	}

	require.Eventually(t, func() bool { return cl.open.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ConcurrentSelectPeerKeepsOneLink(t *testing.T) {
	cl := newCountingListener(t)
	c := newTestController(t, Options{Output: &countingOutput{}})
	require.NoError(t, c.Start(context.Background(), newTestConfig(t, ModeParent, "Kitchen")))

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, c.SelectPeer(context.Background(), cl.peer()))
			}()
		}
		wg.Wait()

		require.Eventually(t, func() bool { return cl.open.Load() == 1 }, 2*time.Second, 5*time.Millisecond, "round %d", round)
		state, _ := c.sink.State()
		assert.Equal(t, transport.StateConnected, state)
	}
	require.Never(t, func() bool { return cl.open.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, c.Stop())
	require.Eventually(t, func() bool { return cl.open.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_NoCallbacksAfterStop(t *testing.T) {
	for i := 0; i < 20; i++ {
		var returned atomic.Bool
		var late atomic.Int32
		note := func() {
			if returned.Load() {
				late.Add(1)
			}
		}
		c := newTestController(t, Options{
			Input: newToneInput(),
			Callbacks: Callbacks{
				OnStateChange:    func(State) { note() },
				OnTransportState: func(_, _ transport.State, _ error) { note() },
			},
		})
		require.NoError(t, c.Start(context.Background(), newTestConfig(t, ModeChild, "Nursery")))
		require.NoError(t, c.Stop())
		returned.Store(true)

		time.Sleep(5 * time.Millisecond)
		assert.Zero(t, late.Load(), "session %d", i)
	}
}
