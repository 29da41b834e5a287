package relayclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"babaphone/internal/infrastructure/signal"

	"github.com/gorilla/websocket"
)

const (
	maxReconnectDelay = 30 * time.Second
	pushWriteTimeout  = 5 * time.Second
)

// Subscriber keeps a push websocket open to the relay server and hands
// every message to a handler. It reconnects with backoff until ctx ends.
// Items pushed over the socket are not returned by later polls.
type Subscriber struct {
	client    *Client
	dialer    *websocket.Dialer
	heartbeat time.Duration
}

func NewSubscriber(client *Client) *Subscriber {
	return &Subscriber{
		client:    client,
		dialer:    websocket.DefaultDialer,
		heartbeat: client.cfg.HeartbeatInterval,
	}
}

func (s *Subscriber) endpoint() (string, error) {
	u, err := url.Parse(s.client.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"device_id": {string(s.client.cfg.DeviceID)}}.Encode()
	return u.String(), nil
}

// Run blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context, handle func(signal.PushMessage)) error {
	endpoint, err := s.endpoint()
	if err != nil {
		return fmt.Errorf("push endpoint: %w", err)
	}
	header := http.Header{}
	if s.client.cfg.APIKey != "" {
		header.Set("X-API-Key", s.client.cfg.APIKey)
	}

	delay := time.Second
	for {
		conn, _, err := s.dialer.DialContext(ctx, endpoint, header)
		if err == nil {
			delay = time.Second
			s.client.logger.Infow("push channel connected")
			err = s.serve(ctx, conn, handle)
		}
		if ctx.Err() != nil {
			return nil
		}
		s.client.logger.Debugw("push channel lost, reconnecting", "error", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (s *Subscriber) serve(ctx context.Context, conn *websocket.Conn, handle func(signal.PushMessage)) error {
	defer conn.Close()

	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(pushWriteTimeout))
			writeMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
				err := conn.WriteJSON(signal.ClientMessage{Type: signal.MessageHeartbeat})
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg signal.PushMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == signal.MessageError {
			s.client.logger.Warnw("push channel error", "error", msg.Error)
		}
		handle(msg)
	}
}
