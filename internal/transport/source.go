package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"babaphone/internal/audio"
	"babaphone/internal/core/domain"

	"go.uber.org/zap"
)

var (
	ErrNotConnected   = errors.New("no peer connected")
	ErrAlreadyStarted = errors.New("transport already started")
)

const DefaultPort = 8888

type Config struct {
	Port         int
	DialTimeout  time.Duration
	IOTimeout    time.Duration
	WriteTimeout time.Duration
	FrameSamples int
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 100 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = audio.DefaultFrameSamples
	}
	return c
}

// Source is the child side of the link: it listens for one parent and
// writes raw PCM to it. A new inbound connection closes the previous one.
type Source struct {
	cfg    Config
	logger *zap.SugaredLogger
	sm     *stateMachine

	mu   sync.Mutex
	ln   net.Listener
	conn net.Conn
	wg   sync.WaitGroup

	writeMu sync.Mutex
	buf     []byte
}

func NewSource(cfg Config, logger *zap.SugaredLogger) *Source {
	return &Source{
		cfg:    cfg.withDefaults(),
		logger: logger,
		sm:     newStateMachine(),
	}
}

// Start listens on the configured port. Port -1 picks a free one.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrAlreadyStarted
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	if s.cfg.Port < 0 {
		addr = "127.0.0.1:0"
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		reason := fmt.Errorf("%w: listen %s: %v", domain.ErrTransportFailed, addr, err)
		s.sm.set(StateFailed, reason)
		return reason
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.sm.set(StateListening, nil)
	s.logger.Infow("audio source listening", "address", ln.Addr().String())
	return nil
}

func (s *Source) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnw("accept failed", "error", err)
			time.Sleep(s.cfg.IOTimeout)
			continue
		}
		s.replace(ln, c)
	}
}

func (s *Source) replace(ln net.Listener, c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != ln {
		c.Close()
		return
	}

	if old := s.conn; old != nil {
		old.Close()
		s.logger.Infow("peer superseded by new connection",
			"old_peer", old.RemoteAddr().String(),
			"new_peer", c.RemoteAddr().String(),
		)
	}
	s.conn = c
	s.sm.set(StateConnected, nil)
	s.logger.Infow("peer connected", "peer", c.RemoteAddr().String())

	s.wg.Add(1)
	go s.watch(c)
}

// watch reads and discards whatever the peer sends until the connection
// ends.
func (s *Source) watch(c net.Conn) {
	defer s.wg.Done()
	buf := make([]byte, 512)
	for {
		if _, err := c.Read(buf); err != nil {
			s.connLost(c, err)
			return
		}
	}
}

func (s *Source) connLost(c net.Conn, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != c {
		return
	}
	s.conn = nil
	c.Close()

	s.sm.set(StateDisconnected, fmt.Errorf("%w: %v", domain.ErrPeerDisconnected, cause))
	s.logger.Infow("peer disconnected", "peer", c.RemoteAddr().String(), "reason", cause)
	if s.ln != nil {
		s.sm.set(StateListening, nil)
	}
}

// Write sends one frame to the connected peer. Without a peer it returns
// ErrNotConnected and the frame is dropped.
func (s *Source) Write(f audio.Frame) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.buf = audio.EncodePCM(s.buf[:0], f)
	c.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := c.Write(s.buf); err != nil {
		s.connLost(c, err)
		return fmt.Errorf("%w: %v", domain.ErrPeerDisconnected, err)
	}
	return nil
}

// Stop closes the listener and any peer and returns to Idle.
func (s *Source) Stop() error {
	s.mu.Lock()
	ln, c := s.ln, s.conn
	s.ln, s.conn = nil, nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if c != nil {
		c.Close()
	}
	s.wg.Wait()

	s.sm.set(StateIdle, nil)
	return err
}

// Addr is the listening address, or nil when not listening.
func (s *Source) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Source) State() (State, error) {
	return s.sm.current()
}

// Subscribe registers l for state changes. Listeners must not call back
// into the Source.
func (s *Source) Subscribe(l StateListener) func() {
	return s.sm.subscribe(l)
}
