package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"babaphone/internal/audio"
	"babaphone/internal/connectivity"
	"babaphone/internal/core/domain"
	"babaphone/internal/discovery"
	"babaphone/internal/hotspot"
	"babaphone/internal/relayclient"
	"babaphone/internal/transport"

	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
	ErrWrongMode      = errors.New("operation not available in this mode")
)

const (
	defaultRelayDiscoverInterval = 5 * time.Second
	stopTimeout                  = 5 * time.Second
)

// Options wires a Controller to its collaborators. Connectivity, Hotspot
// and Relay are optional; the rest must be set for the modes in use.
type Options struct {
	Permission   audio.PermissionChecker
	Connectivity *connectivity.Monitor
	Hotspot      *hotspot.Controller
	Advertiser   discovery.Advertiser
	Browser      discovery.Browser
	Input        audio.InputDevice
	Output       audio.OutputDevice

	Relay                 *relayclient.Client
	RelayPush             bool
	RelayPollInterval     time.Duration
	RelayDiscoverInterval time.Duration

	Transport     transport.Config
	FrameSamples  int
	CaptureQueue  int
	PlaybackQueue int

	Callbacks Callbacks
}

type frameWriter interface {
	Write(audio.Frame) error
}

// Controller runs one monitoring session at a time, as child or parent.
type Controller struct {
	opts     Options
	logger   *zap.SugaredLogger
	registry *discovery.Registry

	mu         sync.Mutex
	state      State
	cfg        *Config
	runCtx     context.Context
	cancel     context.CancelFunc
	events     *eventQueue
	loops      sync.WaitGroup
	attachment connectivity.Attachment

	unsubscribe   []func()
	stopAdvertise func()
	source        *transport.Source
	playback      *audio.PlaybackSink

	// parent link, LAN or relay, never both. connMu is held across every
	// change to it, including the dial.
	connMu   sync.Mutex
	sink     *transport.Sink
	downlink context.CancelFunc
	linkPeer *discovery.DeviceRecord

	relayOn   bool
	relayKeys map[string]bool
	active    *relayclient.Downlink
	startDone chan struct{}

	hotspotOwned bool
	hotspotWG    sync.WaitGroup

	// child output, the LAN source or a relay uplink
	linkMu sync.Mutex
	writer frameWriter
	uplink *relayclient.Uplink
	upPeer domain.DeviceID
}

func NewController(opts Options, logger *zap.SugaredLogger) *Controller {
	if opts.Permission == nil {
		opts.Permission = audio.DevicePermission{}
	}
	if opts.FrameSamples <= 0 {
		opts.FrameSamples = audio.DefaultFrameSamples
	}
	if opts.CaptureQueue <= 0 {
		opts.CaptureQueue = 16
	}
	if opts.PlaybackQueue <= 0 {
		opts.PlaybackQueue = 32
	}
	if opts.RelayPollInterval <= 0 {
		opts.RelayPollInterval = relayclient.DefaultPollInterval
	}
	if opts.RelayDiscoverInterval <= 0 {
		opts.RelayDiscoverInterval = defaultRelayDiscoverInterval
	}
	opts.Transport.FrameSamples = opts.FrameSamples
	return &Controller{
		opts:     opts,
		logger:   logger,
		registry: discovery.NewRegistry(),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peers lists the devices discovered by a parent session.
func (c *Controller) Peers() []discovery.DeviceRecord {
	return c.registry.List()
}

// Attachment is the network attachment seen when the session started, or
// since updated by the connectivity monitor.
func (c *Controller) Attachment() connectivity.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

// SourceAddr is the child's listening address, or nil.
func (c *Controller) SourceAddr() net.Addr {
	c.mu.Lock()
	src := c.source
	c.mu.Unlock()
	if src == nil {
		return nil
	}
	return src.Addr()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	events := c.events
	c.mu.Unlock()

	c.logger.Infow("session state changed", "state", s)
	if cb := c.opts.Callbacks.OnStateChange; cb != nil {
		if events != nil {
			events.post(func() { cb(s) })
		} else {
			cb(s)
		}
	}
}

func (c *Controller) post(fn func()) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events != nil {
		events.post(fn)
	}
}

// goLoop runs fn as a session loop that Stop waits for. Nothing starts
// once Stop is underway.
func (c *Controller) goLoop(fn func()) {
	c.mu.Lock()
	if c.state == StateStopping || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.loops.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.loops.Done()
		fn()
	}()
}

// report surfaces err. Kinds that are expected during normal operation are
// only logged. A terminal error also stops the session.
func (c *Controller) report(err error, terminal bool) {
	if err == nil {
		return
	}
	if !domain.IsFatal(err) {
		c.logger.Debugw("session event", "reason", err)
		return
	}
	c.logger.Warnw("session error", "error", err, "terminal", terminal)
	if cb := c.opts.Callbacks.OnError; cb != nil {
		c.post(func() { cb(err) })
	}
	if terminal {
		go c.Stop()
	}
}

// Start begins monitoring with cfg. It returns once every component is
// wired; a hotspot the child needs is brought up in the background.
func (c *Controller) Start(ctx context.Context, cfg *Config) error {
	if cfg == nil || !cfg.Mode.Valid() {
		return fmt.Errorf("%w: session config", domain.ErrInvalidArgument)
	}

	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = StateStarting
	c.cfg = cfg
	c.events = newEventQueue()
	c.runCtx, c.cancel = context.WithCancel(context.Background())
	c.relayKeys = make(map[string]bool)
	startDone := make(chan struct{})
	c.startDone = startDone
	c.mu.Unlock()
	c.setState(StateStarting)

	err := c.start(ctx, cfg)
	close(startDone)
	if err != nil {
		c.logger.Warnw("session start failed", "mode", cfg.Mode, "error", err)
		if stopErr := c.Stop(); stopErr != nil {
			c.logger.Debugw("cleanup after failed start", "error", stopErr)
		}
		return err
	}

	c.mu.Lock()
	if c.state != StateStarting {
		// a fatal error stopped the session while it was being wired
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.mu.Unlock()
	c.setState(StateActive)
	return nil
}

func (c *Controller) start(ctx context.Context, cfg *Config) error {
	child := cfg.Mode == ModeChild

	// 1. permission
	if child {
		if err := c.opts.Permission.CheckRecordPermission(); err != nil {
			if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrCaptureUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
	}

	// 2. connectivity, with an optimistic hotspot for a child off the LAN
	att := connectivity.WiFi
	if c.opts.Connectivity != nil {
		var err error
		if att, err = c.opts.Connectivity.Refresh(ctx); err != nil {
			c.logger.Warnw("network probe failed, assuming wifi", "error", err)
			att = connectivity.WiFi
		}
	}
	c.mu.Lock()
	c.attachment = att
	c.mu.Unlock()

	mode, err := connectivity.Recommend(att, child)
	if err != nil {
		return err
	}
	c.logger.Infow("starting session", "mode", cfg.Mode, "attachment", att, "transport", mode)

	useRelay := mode == connectivity.MobileData
	if useRelay && c.opts.Relay == nil {
		return fmt.Errorf("%w: mobile data only and no relay server configured", domain.ErrNoConnectivity)
	}
	if child && mode == connectivity.Hotspot && att != connectivity.Hotspot {
		canHost := c.opts.Hotspot != nil && c.opts.Hotspot.Supported(ctx)
		if !canHost && att == connectivity.MobileData && c.opts.Relay != nil {
			c.logger.Infow("cannot host a hotspot, using the relay server")
			useRelay = true
		} else {
			c.startHotspot(cfg.DeviceName, att)
		}
	}
	c.watchConnectivity(cfg)

	if child {
		return c.startChild(ctx, cfg, useRelay)
	}
	return c.startParent(ctx, cfg, useRelay)
}

// 3. child: advertise, listen, capture
func (c *Controller) startChild(ctx context.Context, cfg *Config, useRelay bool) error {
	if c.opts.Input == nil {
		return fmt.Errorf("%w: no input device", domain.ErrCaptureUnavailable)
	}

	if useRelay {
		if err := c.startRelay(ctx, cfg); err != nil {
			return err
		}
	} else if err := c.startSource(ctx, cfg); err != nil {
		return err
	}

	queue := audio.NewQueue(c.opts.CaptureQueue)
	capture := audio.NewCaptureLoop(c.opts.Input, queue, audio.CaptureConfig{
		FrameSamples: c.opts.FrameSamples,
		Sensitivity:  cfg.Sensitivity,
		OnLevel:      c.opts.Callbacks.OnLevel,
	}, c.logger)

	runCtx := c.context()
	c.goLoop(func() {
		if err := capture.Run(runCtx); err != nil {
			c.report(err, true)
		}
	})
	c.goLoop(func() { c.forward(runCtx, queue) })
	return nil
}

func (c *Controller) startSource(ctx context.Context, cfg *Config) error {
	src := transport.NewSource(c.opts.Transport, c.logger)
	unsub := src.Subscribe(c.transportListener())
	c.mu.Lock()
	c.source = src
	c.unsubscribe = append(c.unsubscribe, unsub)
	c.mu.Unlock()

	if err := src.Start(ctx); err != nil {
		return err
	}
	c.setWriter(src)

	if c.opts.Advertiser != nil {
		port := c.opts.Transport.Port
		if tcp, ok := src.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		stop, err := c.opts.Advertiser.Advertise(c.context(), cfg.DeviceName, port)
		if err != nil {
			// a parent that knows the address can still connect
			c.logger.Warnw("advertising failed", "error", err)
		} else {
			c.mu.Lock()
			c.stopAdvertise = stop
			c.mu.Unlock()
		}
	}
	return nil
}

// forward moves gated frames from capture to whichever link is current.
// Frames are dropped while no peer is connected.
func (c *Controller) forward(ctx context.Context, queue *audio.Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-queue.C():
			w := c.currentWriter()
			if w == nil {
				continue
			}
			if err := w.Write(f); err != nil && !errors.Is(err, transport.ErrNotConnected) {
				c.report(err, false)
			}
		}
	}
}

func (c *Controller) setWriter(w frameWriter) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	c.writer = w
}

func (c *Controller) currentWriter() frameWriter {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	return c.writer
}

// 4. parent: browse, play, connect to the selected peer
func (c *Controller) startParent(ctx context.Context, cfg *Config, useRelay bool) error {
	if c.opts.Output == nil {
		return fmt.Errorf("%w: no output device", domain.ErrTransportFailed)
	}

	if !useRelay && c.opts.Browser != nil {
		events, err := c.opts.Browser.Browse(c.context())
		if err != nil {
			c.logger.Warnw("browse failed", "error", err)
		} else {
			c.goLoop(func() { c.consumeDiscovery(events) })
		}
	}

	playback := audio.NewPlaybackSink(c.opts.Output, c.opts.PlaybackQueue, cfg.Volume, c.logger)
	if err := playback.Start(c.context()); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	c.mu.Lock()
	c.playback = playback
	c.mu.Unlock()

	if useRelay {
		if err := c.startRelay(ctx, cfg); err != nil {
			return err
		}
	}

	if peer, ok := cfg.SelectedPeer(); ok {
		if err := c.connect(ctx, peer); err != nil {
			// discovery keeps running; the user can pick again
			c.report(err, false)
		}
	}
	return nil
}

func (c *Controller) consumeDiscovery(events <-chan discovery.Event) {
	for ev := range events {
		ev := ev
		if !c.registry.Apply(ev) {
			continue
		}
		c.post(func() { c.deviceEvent(ev) })
	}
}

func (c *Controller) deviceEvent(ev discovery.Event) {
	cb := c.opts.Callbacks
	switch ev.Type {
	case discovery.EventFound:
		c.logger.Infow("device found", "device", ev.Record.String())
		if cb.OnDeviceFound != nil {
			cb.OnDeviceFound(ev.Record)
		}
	case discovery.EventLost:
		c.logger.Infow("device lost", "device", ev.Record.String())
		if cb.OnDeviceLost != nil {
			cb.OnDeviceLost(ev.Record)
		}
	}
}

// SelectPeer records peer as the parent's source and, while running,
// switches the link to it.
func (c *Controller) SelectPeer(ctx context.Context, peer discovery.DeviceRecord) error {
	c.mu.Lock()
	cfg, state := c.cfg, c.state
	c.mu.Unlock()
	if cfg == nil {
		return ErrNotRunning
	}
	if cfg.Mode != ModeParent {
		return ErrWrongMode
	}
	cfg.SetSelectedPeer(peer)
	if state != StateActive {
		return nil
	}
	return c.connect(ctx, peer)
}

// connect replaces the parent's link with one to peer: LAN first, then the
// relay when the LAN dial fails and a relay is configured.
func (c *Controller) connect(ctx context.Context, peer discovery.DeviceRecord) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	ctx, cancel := c.linkContext(ctx)
	defer cancel()

	c.disconnect(ctx)

	c.mu.Lock()
	relayOnly := c.relayOn && peer.DeviceID != "" && c.relayKeys[peer.Key()]
	c.mu.Unlock()

	if !relayOnly && peer.Address != "" {
		err := c.connectLAN(ctx, peer)
		if err == nil || c.opts.Relay == nil {
			return err
		}
		c.logger.Infow("direct connection failed, falling back to relay", "peer", peer.Name, "error", err)
	}
	return c.connectRelay(ctx, peer)
}

func (c *Controller) connectLAN(ctx context.Context, peer discovery.DeviceRecord) error {
	c.mu.Lock()
	playback := c.playback
	c.mu.Unlock()
	if playback == nil {
		return ErrNotRunning
	}

	sink := transport.NewSink(c.opts.Transport, playback.Submit, c.logger)
	unsub := sink.Subscribe(c.transportListener())
	if err := sink.Connect(ctx, peer.Address, peer.Port); err != nil {
		unsub()
		return err
	}

	c.mu.Lock()
	if !c.running() {
		c.mu.Unlock()
		unsub()
		if err := sink.Stop(); err != nil {
			c.logger.Debugw("closing sink", "error", err)
		}
		return ErrNotRunning
	}
	c.sink = sink
	c.linkPeer = &peer
	c.unsubscribe = append(c.unsubscribe, unsub)
	c.mu.Unlock()
	return nil
}

// linkContext is ctx, also cancelled when the session stops.
func (c *Controller) linkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	runCtx := c.context()
	if runCtx == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(runCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// running reports whether links may still be added. c.mu must be held.
func (c *Controller) running() bool {
	return c.state == StateStarting || c.state == StateActive
}

// disconnect ends the parent's current link, if any.
func (c *Controller) disconnect(ctx context.Context) {
	c.mu.Lock()
	sink, downlink, peer := c.sink, c.downlink, c.linkPeer
	c.sink, c.downlink, c.linkPeer, c.active = nil, nil, nil, nil
	c.mu.Unlock()

	if sink != nil {
		if err := sink.Stop(); err != nil {
			c.logger.Debugw("closing sink", "error", err)
		}
	}
	if downlink != nil {
		downlink()
		if peer != nil && c.opts.Relay != nil {
			if _, err := c.opts.Relay.SendSignal(ctx, domain.DeviceID(peer.DeviceID), domain.SignalDisconnect, nil); err != nil {
				c.logger.Debugw("disconnect signal failed", "peer", peer.DeviceID, "error", err)
			}
		}
	}
}

// transportListener forwards transport transitions to the event goroutine,
// since listeners must not call back into the transport.
func (c *Controller) transportListener() transport.StateListener {
	return func(from, to transport.State, reason error) {
		c.post(func() { c.transportEvent(from, to, reason) })
	}
}

func (c *Controller) transportEvent(from, to transport.State, reason error) {
	c.logger.Debugw("transport state", "from", from, "to", to, "reason", reason)
	if cb := c.opts.Callbacks.OnTransportState; cb != nil {
		cb(from, to, reason)
	}
	switch to {
	case transport.StateDisconnected:
		c.report(reason, false)
	case transport.StateFailed:
		c.report(reason, false)
	}
}

// Stop tears the session down. Every step runs even when an earlier one
// fails; their errors are joined. It returns after the last callback has
// run, so a callback must not call it synchronously.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateStopping {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	cancel := c.cancel
	c.mu.Unlock()
	c.setState(StateStopping)

	ctx, done := context.WithTimeout(context.Background(), stopTimeout)
	defer done()

	var errs []error

	// halt capture, playback and every loop
	cancel()
	c.mu.Lock()
	playback := c.playback
	c.playback = nil
	c.mu.Unlock()
	if playback != nil {
		if err := playback.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playback: %w", err))
		}
	}
	c.loops.Wait()

	// close transports
	c.connMu.Lock()
	c.disconnect(ctx)
	c.connMu.Unlock()
	c.setWriter(nil)
	c.mu.Lock()
	src := c.source
	c.source = nil
	c.mu.Unlock()
	if src != nil {
		if err := src.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop source: %w", err))
		}
	}
	c.closeUplink()

	// stop discovery
	c.mu.Lock()
	stopAdvertise := c.stopAdvertise
	c.stopAdvertise = nil
	c.mu.Unlock()
	if stopAdvertise != nil {
		stopAdvertise()
	}
	c.registry.Clear()

	// stop the hotspot this session started
	c.hotspotWG.Wait()
	c.mu.Lock()
	owned := c.hotspotOwned
	c.hotspotOwned = false
	c.mu.Unlock()
	if owned && c.opts.Hotspot != nil {
		if err := c.opts.Hotspot.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// leave the relay
	c.mu.Lock()
	relayOn := c.relayOn
	c.relayOn = false
	c.mu.Unlock()
	if relayOn {
		if err := c.opts.Relay.Unregister(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unregister: %w", err))
		}
	}

	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	events := c.events
	c.mu.Unlock()
	for _, u := range unsubscribe {
		u()
	}

	c.mu.Lock()
	c.state = StateStopped
	c.events = nil
	c.mu.Unlock()
	c.logger.Infow("session state changed", "state", StateStopped)
	if events != nil {
		if cb := c.opts.Callbacks.OnStateChange; cb != nil {
			events.post(func() { cb(StateStopped) })
		}
		events.close()
		select {
		case <-events.done:
		case <-ctx.Done():
			// a callback is still running, or called Stop itself
			c.logger.Warnw("session callbacks still running after stop")
		}
	}

	return errors.Join(errs...)
}

func (c *Controller) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCtx
}
