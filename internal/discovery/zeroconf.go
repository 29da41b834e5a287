package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/pkg/cache"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	DefaultServiceType  = "_babaphone._tcp"
	DefaultDomain       = "local."
	DefaultStaleTimeout = 30 * time.Second
)

// Advertiser publishes this device so parents can find it.
type Advertiser interface {
	// Advertise publishes name on port until the returned stop func runs.
	Advertise(ctx context.Context, name string, port int) (stop func(), err error)
}

// Browser reports peers of the service type until ctx ends, then closes
// the channel.
type Browser interface {
	Browse(ctx context.Context) (<-chan Event, error)
}

type Config struct {
	ServiceType  string
	Domain       string
	StaleTimeout time.Duration
}

// ZeroconfService advertises and browses DNS-SD records over mDNS.
type ZeroconfService struct {
	cfg    Config
	logger *zap.SugaredLogger
}

func NewZeroconfService(cfg Config, logger *zap.SugaredLogger) *ZeroconfService {
	if cfg.ServiceType == "" {
		cfg.ServiceType = DefaultServiceType
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	return &ZeroconfService{cfg: cfg, logger: logger}
}

func (s *ZeroconfService) Advertise(ctx context.Context, name string, port int) (func(), error) {
	txt := []string{"name=" + name, "port=" + strconv.Itoa(port)}
	server, err := zeroconf.Register(name, s.cfg.ServiceType, s.cfg.Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("advertise %q: %w", name, err)
	}
	s.logger.Infow("advertising service", "name", name, "type", s.cfg.ServiceType, "port", port)

	return func() {
		server.Shutdown()
		s.logger.Infow("stopped advertising", "name", name)
	}, nil
}

// Browse runs browse rounds of half the stale timeout each. The resolver
// reports an instance once per round, so a peer still answering is seen
// again every round; one that stays silent for the stale timeout is Lost.
func (s *ZeroconfService) Browse(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 16)
	emit := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	tracker := newPresence(s.cfg.StaleTimeout, func(rec DeviceRecord) {
		emit(Event{Type: EventLost, Record: rec})
	})

	go func() {
		defer close(out)
		defer tracker.stop()

		round := s.cfg.StaleTimeout / 2
		for ctx.Err() == nil {
			if err := s.browseRound(ctx, round, func(rec DeviceRecord) {
				tracker.seen(rec)
				emit(Event{Type: EventFound, Record: rec})
			}); err != nil {
				s.logger.Warnw("browse round failed", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(round):
				}
			}
		}
	}()
	return out, nil
}

func (s *ZeroconfService) browseRound(ctx context.Context, d time.Duration, found func(DeviceRecord)) error {
	roundCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(roundCtx, s.cfg.ServiceType, s.cfg.Domain, entries); err != nil {
		return fmt.Errorf("browse %s: %w", s.cfg.ServiceType, err)
	}

	// closed by the resolver when roundCtx ends
	for entry := range entries {
		rec, err := RecordFromEntry(entry)
		if err != nil {
			s.logger.Debugw("skipping unresolvable service", "instance", entry.Instance, "error", err)
			continue
		}
		found(rec)
	}
	return nil
}

// RecordFromEntry converts a resolved service entry. The TXT name and port
// take precedence over the instance name and SRV port.
func RecordFromEntry(e *zeroconf.ServiceEntry) (DeviceRecord, error) {
	rec := DeviceRecord{Name: e.Instance, LastSeen: time.Now()}
	port := e.Port

	for _, kv := range e.Text {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			if value != "" {
				rec.Name = value
			}
		case "port":
			if p, err := strconv.Atoi(value); err == nil {
				port = p
			}
		}
	}

	if port <= 0 || port > 65535 {
		return DeviceRecord{}, fmt.Errorf("%w: %s has invalid port %d", domain.ErrDiscoveryResolveFailed, e.Instance, port)
	}
	rec.Port = uint16(port)

	switch {
	case len(e.AddrIPv4) > 0:
		rec.Address = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		rec.Address = e.AddrIPv6[0].String()
	default:
		return DeviceRecord{}, fmt.Errorf("%w: %s has no address", domain.ErrDiscoveryResolveFailed, e.Instance)
	}
	if rec.Name == "" {
		return DeviceRecord{}, fmt.Errorf("%w: entry without a name", domain.ErrDiscoveryResolveFailed)
	}
	return rec, nil
}

// presence remembers when each record was last seen and reports the ones
// that went quiet.
type presence struct {
	seenAt *cache.Cache[DeviceRecord]
}

func newPresence(stale time.Duration, lost func(DeviceRecord), opts ...cache.Option[DeviceRecord]) *presence {
	opts = append([]cache.Option[DeviceRecord]{
		cache.WithEvict(func(_ string, rec DeviceRecord) { lost(rec) }),
	}, opts...)
	return &presence{seenAt: cache.New(stale, opts...)}
}

// seen refreshes rec and reports whether it was not being tracked.
func (p *presence) seen(rec DeviceRecord) bool {
	return !p.seenAt.Set(rec.Key(), rec)
}

func (p *presence) stop() {
	p.seenAt.Stop()
}
