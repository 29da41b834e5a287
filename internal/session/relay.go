package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/discovery"
	"babaphone/internal/infrastructure/signal"
	"babaphone/internal/relayclient"
)

// startRelay registers with the relay server and starts the loops that keep
// the registration and its queues serviced. Calling it twice is a no-op.
func (c *Controller) startRelay(ctx context.Context, cfg *Config) error {
	relay := c.opts.Relay
	if relay == nil {
		return fmt.Errorf("%w: no relay server configured", domain.ErrNoConnectivity)
	}

	c.mu.Lock()
	on := c.relayOn
	c.mu.Unlock()
	if on {
		return nil
	}

	if _, err := relay.Register(ctx); err != nil {
		return fmt.Errorf("register with relay: %w", err)
	}
	c.mu.Lock()
	c.relayOn = true
	runCtx := c.runCtx
	c.mu.Unlock()
	c.logger.Infow("registered with relay server", "device_id", relay.DeviceID(), "mode", cfg.Mode)

	relay.StartHeartbeat(runCtx)

	switch {
	case c.opts.RelayPush:
		sub := relayclient.NewSubscriber(relay)
		c.goLoop(func() {
			if err := sub.Run(runCtx, c.handlePush); err != nil {
				c.report(fmt.Errorf("%w: %v", domain.ErrRelayNetwork, err), false)
			}
		})
	case cfg.Mode == ModeChild:
		c.goLoop(func() { c.pollSignals(runCtx) })
	}
	if cfg.Mode == ModeParent {
		c.goLoop(func() { c.discoverRelay(runCtx) })
	}
	return nil
}

// fallbackToRelay moves a child whose hotspot could not come up from the
// LAN source to the relay server.
func (c *Controller) fallbackToRelay() {
	c.mu.Lock()
	if c.state != StateActive || c.relayOn {
		c.mu.Unlock()
		return
	}
	cfg, src, stopAdvertise := c.cfg, c.source, c.stopAdvertise
	c.source, c.stopAdvertise = nil, nil
	ctx := c.runCtx
	c.mu.Unlock()

	c.logger.Infow("hotspot unavailable, switching to the relay server")
	c.setWriter(nil)
	if stopAdvertise != nil {
		stopAdvertise()
	}
	if src != nil {
		if err := src.Stop(); err != nil {
			c.logger.Debugw("stopping source", "error", err)
		}
	}
	if err := c.startRelay(ctx, cfg); err != nil {
		c.report(err, true)
	}
}

func (c *Controller) handlePush(msg signal.PushMessage) {
	switch msg.Type {
	case signal.MessageSignals:
		for _, s := range msg.Signals {
			s := s
			c.post(func() { c.handleSignal(s) })
		}
	case signal.MessagePackets:
		c.mu.Lock()
		dl := c.active
		c.mu.Unlock()
		if dl != nil {
			dl.Deliver(msg.Packets)
		}
	}
}

func (c *Controller) pollSignals(ctx context.Context) {
	ticker := time.NewTicker(c.opts.RelayPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			signals, err := c.opts.Relay.PollSignals(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debugw("signal poll failed", "error", err)
				}
				continue
			}
			for _, s := range signals {
				s := s
				c.post(func() { c.handleSignal(s) })
			}
		}
	}
}

// handleSignal runs on the event goroutine. A child streams to the last
// parent that asked.
func (c *Controller) handleSignal(s *domain.Signal) {
	switch s.Type {
	case domain.SignalConnect:
		var hello struct {
			Name string `json:"name"`
		}
		if len(s.Data) > 0 {
			_ = json.Unmarshal(s.Data, &hello)
		}
		c.logger.Infow("parent connected through relay", "from", s.From, "name", hello.Name)
		c.openUplink(s.From)

	case domain.SignalDisconnect:
		c.linkMu.Lock()
		current := c.upPeer
		c.linkMu.Unlock()
		if current == s.From {
			c.logger.Infow("parent disconnected from relay", "from", s.From)
			c.closeUplink()
		}

	default:
		c.logger.Debugw("ignoring signal", "type", s.Type, "from", s.From)
	}
}

func (c *Controller) openUplink(to domain.DeviceID) {
	c.closeUplink()

	c.mu.Lock()
	running := c.state == StateActive || c.state == StateStarting
	c.mu.Unlock()
	if !running {
		return
	}

	up := relayclient.NewUplink(c.opts.Relay, to, relayclient.DefaultFramesPerPacket, 0, c.logger)
	c.linkMu.Lock()
	c.uplink, c.upPeer, c.writer = up, to, up
	c.linkMu.Unlock()
}

// closeUplink flushes and drops the relay uplink, if any.
func (c *Controller) closeUplink() {
	c.linkMu.Lock()
	up := c.uplink
	if up != nil && c.writer == frameWriter(up) {
		c.writer = nil
	}
	c.uplink, c.upPeer = nil, ""
	c.linkMu.Unlock()

	if up == nil {
		return
	}
	if err := up.Close(); err != nil {
		c.logger.Debugw("closing uplink", "error", err)
	}
}

// discoverRelay mirrors the children registered with the relay server into
// the registry, next to whatever the LAN browse finds.
func (c *Controller) discoverRelay(ctx context.Context) {
	var port uint16
	if p := c.opts.Transport.Port; p > 0 && p <= 0xffff {
		port = uint16(p)
	}

	ticker := time.NewTicker(c.opts.RelayDiscoverInterval)
	defer ticker.Stop()
	for {
		devices, err := c.opts.Relay.Discover(ctx, domain.DeviceTypeChild)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debugw("relay discover failed", "error", err)
		} else {
			c.syncRelayRecords(relayclient.Records(devices, c.opts.Relay.DeviceID(), port))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) syncRelayRecords(records []discovery.DeviceRecord) {
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.Key()] = true
		c.mu.Lock()
		c.relayKeys[rec.Key()] = true
		c.mu.Unlock()
		if c.registry.Upsert(rec) {
			ev := discovery.Event{Type: discovery.EventFound, Record: rec}
			c.post(func() { c.deviceEvent(ev) })
		}
	}

	c.mu.Lock()
	var gone []string
	for key := range c.relayKeys {
		if !seen[key] {
			gone = append(gone, key)
			delete(c.relayKeys, key)
		}
	}
	c.mu.Unlock()

	for _, key := range gone {
		rec, ok := c.registry.Get(key)
		if !ok || !c.registry.Remove(key) {
			continue
		}
		ev := discovery.Event{Type: discovery.EventLost, Record: rec}
		c.post(func() { c.deviceEvent(ev) })
	}
}

// connectRelay links the parent to peer through the relay server. A LAN
// record has no device id, so the child is looked up by name.
func (c *Controller) connectRelay(ctx context.Context, peer discovery.DeviceRecord) error {
	relay := c.opts.Relay
	if relay == nil {
		return fmt.Errorf("%w: %s unreachable and no relay server configured", domain.ErrTransportFailed, peer.Name)
	}

	c.mu.Lock()
	cfg, playback := c.cfg, c.playback
	c.mu.Unlock()
	if playback == nil {
		return ErrNotRunning
	}
	if err := c.startRelay(ctx, cfg); err != nil {
		return err
	}

	id := domain.DeviceID(peer.DeviceID)
	if id == "" {
		devices, err := relay.Discover(ctx, domain.DeviceTypeChild)
		if err != nil {
			return err
		}
		for _, d := range devices {
			if d.Name == peer.Name {
				id = d.ID
				break
			}
		}
		if id == "" {
			return fmt.Errorf("%w: %s is not registered with the relay server", domain.ErrDeviceNotFound, peer.Name)
		}
	}

	hello, err := json.Marshal(map[string]string{"name": cfg.DeviceName})
	if err != nil {
		return err
	}
	if _, err := relay.SendSignal(ctx, id, domain.SignalConnect, hello); err != nil {
		return fmt.Errorf("connect to %s: %w", peer.Name, err)
	}

	dl := relayclient.NewDownlink(relay, id, c.opts.RelayPollInterval, c.opts.FrameSamples, playback.Submit, c.logger)
	linkCtx, cancel := context.WithCancel(c.context())
	linked := peer
	linked.DeviceID = string(id)

	c.mu.Lock()
	if !c.running() {
		c.mu.Unlock()
		cancel()
		return ErrNotRunning
	}
	c.downlink, c.active, c.linkPeer = cancel, dl, &linked
	c.mu.Unlock()

	if !c.opts.RelayPush {
		c.goLoop(func() {
			if err := dl.Run(linkCtx); err != nil {
				c.report(err, false)
			}
		})
	}
	c.logger.Infow("listening through relay", "peer", peer.Name, "device_id", id)
	return nil
}
