package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"babaphone/internal/audio"
	"babaphone/internal/core/domain"
	"babaphone/pkg/optimize"

	"go.uber.org/zap"
)

var (
	ErrAlreadyConnected = errors.New("sink already connected")
	ErrSinkStopped      = errors.New("sink stopped while connecting")
)

// FrameHandler receives reassembled frames in arrival order and owns them.
type FrameHandler func(audio.Frame)

// Sink is the parent side of the link: it dials a source and cuts the byte
// stream back into fixed-size frames.
type Sink struct {
	cfg     Config
	handler FrameHandler
	logger  *zap.SugaredLogger
	sm      *stateMachine
	pool    *optimize.BytePool
	dial    func(ctx context.Context, network, address string) (net.Conn, error)

	mu      sync.Mutex
	conn    net.Conn
	dialing *dialAttempt
	stop    chan struct{}
	wg      sync.WaitGroup
}

type dialAttempt struct {
	cancel context.CancelFunc
}

func NewSink(cfg Config, handler FrameHandler, logger *zap.SugaredLogger) *Sink {
	cfg = cfg.withDefaults()
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Sink{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		sm:      newStateMachine(),
		pool:    optimize.NewBytePool(cfg.FrameSamples * audio.BytesPerSample),
		dial:    d.DialContext,
	}
}

// Connect dials address:port. A failed dial leaves the sink Failed and is
// not retried. Stop cancels a dial in progress.
func (s *Sink) Connect(ctx context.Context, address string, port uint16) error {
	s.mu.Lock()
	if s.conn != nil || s.dialing != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	attempt := &dialAttempt{cancel: cancel}
	s.dialing = attempt

	target := net.JoinHostPort(address, strconv.Itoa(int(port)))
	s.sm.set(StateConnecting, nil)
	s.mu.Unlock()

	c, err := s.dial(ctx, "tcp", target)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialing != attempt {
		// Stop ran during the dial
		if c != nil {
			c.Close()
		}
		return ErrSinkStopped
	}
	s.dialing = nil
	if err != nil {
		reason := fmt.Errorf("%w: dial %s: %v", domain.ErrTransportFailed, target, err)
		s.sm.set(StateFailed, reason)
		return reason
	}

	s.conn = c
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.readLoop(c, s.stop)

	s.sm.set(StateConnected, nil)
	s.logger.Infow("connected to audio source", "peer", target)
	return nil
}

func (s *Sink) readLoop(c net.Conn, stop chan struct{}) {
	defer s.wg.Done()

	buf := s.pool.Get()
	defer s.pool.Put(buf)
	fill := 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		c.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout))
		n, err := c.Read(buf[fill:])
		fill += n
		if fill == len(buf) {
			s.handler(audio.DecodePCM(buf))
			fill = 0
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			if fill >= audio.BytesPerSample {
				s.handler(audio.DecodePCM(buf[:fill]))
			}
			s.connLost(c, err)
			return
		}
	}
}

func (s *Sink) connLost(c net.Conn, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != c {
		return
	}
	s.conn = nil
	c.Close()

	if errors.Is(cause, io.EOF) || errors.Is(cause, syscall.ECONNRESET) {
		s.sm.set(StateDisconnected, fmt.Errorf("%w: %v", domain.ErrPeerDisconnected, cause))
		s.logger.Infow("audio source closed the connection", "peer", c.RemoteAddr().String())
		return
	}
	s.sm.set(StateFailed, fmt.Errorf("%w: %v", domain.ErrTransportFailed, cause))
	s.logger.Warnw("audio link failed", "peer", c.RemoteAddr().String(), "error", cause)
}

// Stop closes the connection, waits for the reader and returns to Idle.
func (s *Sink) Stop() error {
	s.mu.Lock()
	c, stop, dialing := s.conn, s.stop, s.dialing
	s.conn, s.stop, s.dialing = nil, nil, nil
	s.mu.Unlock()

	if dialing != nil {
		dialing.cancel()
	}
	if stop != nil {
		close(stop)
	}
	var err error
	if c != nil {
		err = c.Close()
	}
	s.wg.Wait()

	s.sm.set(StateIdle, nil)
	return err
}

func (s *Sink) State() (State, error) {
	return s.sm.current()
}

// Subscribe registers l for state changes. Listeners must not call back
// into the Sink.
func (s *Sink) Subscribe(l StateListener) func() {
	return s.sm.subscribe(l)
}
