package session

import (
	"babaphone/internal/connectivity"
	"babaphone/internal/hotspot"
)

// startHotspot brings up a hotspot in the background. When it fails and the
// child still has mobile data, the session moves to the relay once Start
// has finished wiring.
func (c *Controller) startHotspot(name string, att connectivity.Attachment) {
	hs := c.opts.Hotspot
	if hs == nil {
		c.logger.Warnw("no hotspot available, waiting for a LAN", "attachment", att)
		return
	}

	c.mu.Lock()
	if c.state != StateStarting && c.state != StateActive {
		c.mu.Unlock()
		return
	}
	if !c.hotspotOwned {
		c.hotspotOwned = true
		if cb := c.opts.Callbacks.OnHotspot; cb != nil {
			c.unsubscribe = append(c.unsubscribe, hs.Subscribe(func(st hotspot.Status) {
				c.post(func() { cb(st) })
			}))
		}
	}
	ctx, startDone := c.runCtx, c.startDone
	c.hotspotWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.hotspotWG.Done()
		cfg, err := hs.Start(ctx, name)
		if err != nil {
			c.report(err, false)
			if att != connectivity.MobileData || c.opts.Relay == nil {
				return
			}
			select {
			case <-startDone:
			case <-ctx.Done():
				return
			}
			c.post(c.fallbackToRelay)
			return
		}
		c.logger.Infow("hotspot ready for the parent to join", "ssid", cfg.SSID)
	}()
}

// watchConnectivity follows attachment changes for the life of the session.
func (c *Controller) watchConnectivity(cfg *Config) {
	mon := c.opts.Connectivity
	if mon == nil {
		return
	}
	unsub := mon.Subscribe(func(att connectivity.Attachment) {
		c.post(func() { c.attachmentChanged(cfg, att) })
	})
	c.mu.Lock()
	c.unsubscribe = append(c.unsubscribe, unsub)
	ctx := c.runCtx
	c.mu.Unlock()

	c.goLoop(func() { mon.Run(ctx) })
}

func (c *Controller) attachmentChanged(cfg *Config, att connectivity.Attachment) {
	c.mu.Lock()
	c.attachment = att
	relayOn := c.relayOn
	stopped := c.runCtx.Err() != nil
	c.mu.Unlock()
	if stopped {
		return
	}

	if cb := c.opts.Callbacks.OnAttachment; cb != nil {
		cb(att)
	}

	// a child that lost its LAN offers one of its own
	if cfg.Mode != ModeChild || relayOn {
		return
	}
	if att == connectivity.None || att == connectivity.MobileData {
		if c.opts.Hotspot != nil && !c.opts.Hotspot.Active() {
			c.startHotspot(cfg.DeviceName, att)
		}
	}
}
