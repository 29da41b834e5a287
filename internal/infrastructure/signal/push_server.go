package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	MessageSignals   = "signals"
	MessagePackets   = "packets"
	MessageHeartbeat = "heartbeat"
	MessageError     = "error"
)

// PushMessage is a server to device frame.
type PushMessage struct {
	Type    string                `json:"type"`
	Signals []*domain.Signal      `json:"signals,omitempty"`
	Packets []*domain.RelayPacket `json:"packets,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// ClientMessage is a device to server frame. Only heartbeats are understood.
type ClientMessage struct {
	Type string `json:"type"`
}

// PushMetrics tracks open push connections.
type PushMetrics interface {
	PushConnected()
	PushDisconnected()
}

type PushConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// PushServer delivers queued signals and relay packets over a websocket as
// soon as they are queued, instead of waiting for the device to poll. It
// drains the same queues as the REST endpoints so each item still reaches
// the device once.
type PushServer struct {
	registry  ports.RegistryService
	signaling ports.SignalingService
	relay     ports.RelayService
	notifier  ports.Notifier
	metrics   PushMetrics
	cfg       PushConfig
	upgrader  websocket.Upgrader

	connections map[domain.DeviceID]*websocket.Conn
	mu          sync.Mutex

	logger *zap.SugaredLogger
}

func NewPushServer(
	registry ports.RegistryService,
	signaling ports.SignalingService,
	relay ports.RelayService,
	notifier ports.Notifier,
	metrics PushMetrics,
	cfg PushConfig,
	logger *zap.SugaredLogger,
) *PushServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &PushServer{
		registry:    registry,
		signaling:   signaling,
		relay:       relay,
		notifier:    notifier,
		metrics:     metrics,
		cfg:         cfg,
		connections: make(map[domain.DeviceID]*websocket.Conn),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	return s
}

func (s *PushServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *PushServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := domain.DeviceID(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		http.Error(w, `{"error":"Missing device_id parameter"}`, http.StatusBadRequest)
		return
	}
	if _, err := s.registry.GetDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) {
			http.Error(w, `{"error":"Device not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}
	defer conn.Close()

	// a reconnecting device replaces its previous socket
	s.mu.Lock()
	existing, isReconnect := s.connections[deviceID]
	if isReconnect {
		existing.Close()
	}
	s.connections[deviceID] = conn
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PushConnected()
		defer s.metrics.PushDisconnected()
	}
	s.logger.Infow("device connected for push", "device_id", deviceID, "reconnect", isReconnect)

	wake, unsubscribe := s.notifier.Subscribe(deviceID)
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	heartbeats := make(chan struct{}, 1)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			if msg.Type == MessageHeartbeat {
				select {
				case heartbeats <- struct{}{}:
				default:
				}
			}
		}
	}()

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	ctx := context.Background()

	// anything queued before the socket opened goes out first
	if err := s.flush(ctx, conn, deviceID); err != nil {
		s.logger.Debugw("initial flush failed", "device_id", deviceID, "error", err)
		s.forget(deviceID, conn)
		return
	}

	for {
		select {
		case <-wake:
			if err := s.flush(ctx, conn, deviceID); err != nil {
				s.logger.Debugw("push write failed", "device_id", deviceID, "error", err)
				s.forget(deviceID, conn)
				return
			}

		case <-heartbeats:
			if _, err := s.registry.Heartbeat(ctx, deviceID); err != nil {
				s.write(conn, &PushMessage{Type: MessageError, Error: "Device not found"})
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.forget(deviceID, conn)
				return
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("push connection lost", "device_id", deviceID, "error", err)
			}
			s.forget(deviceID, conn)
			s.logger.Infow("device disconnected from push", "device_id", deviceID)
			return
		}
	}
}

// flush drains the device's queues onto the socket. Items taken but not
// written are lost with the connection, as they would be for a poll whose
// response never arrives.
func (s *PushServer) flush(ctx context.Context, conn *websocket.Conn, id domain.DeviceID) error {
	signals, err := s.signaling.Poll(ctx, id)
	if err != nil {
		s.logger.Warnw("failed to drain signals", "device_id", id, "error", err)
	} else if len(signals) > 0 {
		if err := s.write(conn, &PushMessage{Type: MessageSignals, Signals: signals}); err != nil {
			return err
		}
	}

	packets, err := s.relay.Poll(ctx, id)
	if err != nil {
		s.logger.Warnw("failed to drain relay packets", "device_id", id, "error", err)
	} else if len(packets) > 0 {
		if err := s.write(conn, &PushMessage{Type: MessagePackets, Packets: packets}); err != nil {
			return err
		}
	}
	return nil
}

func (s *PushServer) write(conn *websocket.Conn, msg *PushMessage) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (s *PushServer) forget(id domain.DeviceID, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connections[id] == conn {
		delete(s.connections, id)
	}
}

// Connected reports whether id has an open push socket.
func (s *PushServer) Connected(id domain.DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.connections[id]
	return ok
}

// Close drops every open socket. http.Server.Shutdown does not track
// hijacked connections.
func (s *PushServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.connections {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(s.connections, id)
	}
}
