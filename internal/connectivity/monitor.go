package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor re-evaluates the attachment and tells subscribers when it
// changes. Linux offers no portable change notification, so the monitor
// samples the probe itself and callers only ever see changes.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	current  Attachment
	known    bool
	nextID   int
	handlers map[int]func(Attachment)
}

func NewMonitor(probe Probe, interval time.Duration, logger *zap.SugaredLogger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
		handlers: make(map[int]func(Attachment)),
	}
}

// Subscribe registers h for attachment changes and returns its
// unsubscribe func.
func (m *Monitor) Subscribe(h func(Attachment)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

// Refresh probes once, notifying subscribers if the attachment changed.
func (m *Monitor) Refresh(ctx context.Context) (Attachment, error) {
	snap, err := m.probe.Snapshot(ctx)
	if err != nil {
		return m.Current(), err
	}
	att := Classify(snap)

	m.mu.Lock()
	changed := !m.known || att != m.current
	prev := m.current
	m.current = att
	m.known = true
	var handlers []func(Attachment)
	if changed {
		for _, h := range m.handlers {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	if changed {
		m.logger.Infow("network attachment changed", "from", prev, "to", att, "interfaces", snap.Interfaces)
		for _, h := range handlers {
			h(att)
		}
	}
	return att, nil
}

func (m *Monitor) Current() Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Run refreshes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil {
				m.logger.Warnw("network probe failed", "error", err)
			}
		}
	}
}
