package relayclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/pkg/circuitbreaker"
	"babaphone/pkg/retry"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultServerTimeout     = 300 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
)

type Config struct {
	BaseURL    string
	APIKey     string
	DeviceID   domain.DeviceID
	DeviceType domain.DeviceType
	DeviceName string

	HeartbeatInterval time.Duration
	ServerTimeout     time.Duration
	RequestTimeout    time.Duration

	Retry   retry.Config
	Breaker circuitbreaker.Config

	HTTPClient *http.Client
}

func (c *Config) withDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ServerTimeout <= 0 {
		c.ServerTimeout = DefaultServerTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker = circuitbreaker.DefaultConfig()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.RequestTimeout}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Validate rejects a heartbeat period that would let one missed beat
// expire the registration.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: relay base url is empty", domain.ErrInvalidArgument)
	case c.DeviceID == "":
		return fmt.Errorf("%w: device id is empty", domain.ErrInvalidArgument)
	case !c.DeviceType.Valid():
		return fmt.Errorf("%w: device type %q", domain.ErrInvalidArgument, c.DeviceType)
	case c.HeartbeatInterval >= c.ServerTimeout/2:
		return fmt.Errorf("%w: heartbeat interval %s must be below half the server timeout %s",
			domain.ErrInvalidArgument, c.HeartbeatInterval, c.ServerTimeout)
	}
	return nil
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay server: %d %s", e.Status, e.Message)
}

// Client talks to the relay backend on behalf of one device. Transport
// failures come back wrapped in domain.ErrRelayNetwork; rejected requests
// come back as *APIError.
type Client struct {
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

func New(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		breaker: circuitbreaker.New(cfg.Breaker),
		logger:  logger.With("device_id", cfg.DeviceID),
	}
	c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		c.logger.Infow("relay circuit state changed", "from", from, "to", to)
	})
	return c, nil
}

func (c *Client) DeviceID() domain.DeviceID { return c.cfg.DeviceID }

type registerRequest struct {
	DeviceID   domain.DeviceID   `json:"device_id"`
	DeviceType domain.DeviceType `json:"device_type"`
	DeviceName string            `json:"device_name"`
}

type registerResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Device  *domain.Device `json:"device"`
	Token   string         `json:"token"`
}

// Register announces this device and keeps the token the server issues.
func (c *Client) Register(ctx context.Context) (*domain.Device, error) {
	var resp registerResponse
	err := c.do(ctx, http.MethodPost, "/api/register", nil, registerRequest{
		DeviceID:   c.cfg.DeviceID,
		DeviceType: c.cfg.DeviceType,
		DeviceName: c.cfg.DeviceName,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token != "" {
		c.setToken(resp.Token)
	}
	c.logger.Infow("registered with relay server", "url", c.cfg.BaseURL)
	return resp.Device, nil
}

type deviceIDRequest struct {
	DeviceID domain.DeviceID `json:"device_id"`
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/register", nil, deviceIDRequest{DeviceID: c.cfg.DeviceID}, nil)
}

// Unregister cancels the heartbeat and removes the device from the server.
func (c *Client) Unregister(ctx context.Context) error {
	c.StopHeartbeat()
	return c.do(ctx, http.MethodDelete, "/api/register", nil, deviceIDRequest{DeviceID: c.cfg.DeviceID}, nil)
}

type discoverResponse struct {
	Count   int              `json:"count"`
	Devices []*domain.Device `json:"devices"`
}

// Discover lists live devices, optionally of one type.
func (c *Client) Discover(ctx context.Context, deviceType domain.DeviceType) ([]*domain.Device, error) {
	q := url.Values{}
	if deviceType != "" {
		q.Set("device_type", string(deviceType))
	}
	var resp discoverResponse
	if err := c.do(ctx, http.MethodGet, "/api/discover", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

type signalRequest struct {
	FromDeviceID domain.DeviceID   `json:"from_device_id"`
	ToDeviceID   domain.DeviceID   `json:"to_device_id"`
	SignalType   domain.SignalType `json:"signal_type"`
	Data         json.RawMessage   `json:"data,omitempty"`
}

type sendResponse struct {
	SignalID string `json:"signal_id"`
	PacketID string `json:"packet_id"`
}

func (c *Client) SendSignal(ctx context.Context, to domain.DeviceID, typ domain.SignalType, data json.RawMessage) (string, error) {
	var resp sendResponse
	err := c.doOnce(ctx, http.MethodPost, "/api/signal", nil, signalRequest{
		FromDeviceID: c.cfg.DeviceID,
		ToDeviceID:   to,
		SignalType:   typ,
		Data:         data,
	}, &resp)
	return resp.SignalID, err
}

type signalsResponse struct {
	Count   int              `json:"count"`
	Signals []*domain.Signal `json:"signals"`
}

// PollSignals takes the signals queued for this device. Each is returned
// once.
func (c *Client) PollSignals(ctx context.Context) ([]*domain.Signal, error) {
	var resp signalsResponse
	if err := c.doOnce(ctx, http.MethodGet, "/api/signal", c.selfQuery(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Signals, nil
}

type relayRequest struct {
	FromDeviceID domain.DeviceID `json:"from_device_id"`
	ToDeviceID   domain.DeviceID `json:"to_device_id"`
	AudioData    string          `json:"audio_data"`
}

// SendAudio relays one chunk of raw PCM through the server.
func (c *Client) SendAudio(ctx context.Context, to domain.DeviceID, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", fmt.Errorf("%w: empty audio chunk", domain.ErrInvalidArgument)
	}
	var resp sendResponse
	err := c.doOnce(ctx, http.MethodPost, "/api/relay", nil, relayRequest{
		FromDeviceID: c.cfg.DeviceID,
		ToDeviceID:   to,
		AudioData:    base64.StdEncoding.EncodeToString(pcm),
	}, &resp)
	return resp.PacketID, err
}

type packetsResponse struct {
	Count   int                   `json:"count"`
	Packets []*domain.RelayPacket `json:"packets"`
}

func (c *Client) PollAudio(ctx context.Context) ([]*domain.RelayPacket, error) {
	var resp packetsResponse
	if err := c.doOnce(ctx, http.MethodGet, "/api/relay", c.selfQuery(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Packets, nil
}

// DecodeAudio returns the raw PCM carried by a relay packet.
func DecodeAudio(p *domain.RelayPacket) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(p.AudioData)
	if err != nil {
		return nil, fmt.Errorf("%w: packet %s: %v", domain.ErrInvalidArgument, p.ID, err)
	}
	return b, nil
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// RefreshToken swaps the device token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context) error {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/token/refresh", nil, nil, &resp); err != nil {
		return err
	}
	c.setToken(resp.Token)
	return nil
}

// StartHeartbeat refreshes the registration every heartbeat interval until
// StopHeartbeat, Unregister or ctx ends it. Failures are logged and the
// next beat tries again.
func (c *Client) StartHeartbeat(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hbCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.hbCancel = cancel
	c.hbDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.beat(ctx)
			}
		}
	}()
}

func (c *Client) beat(ctx context.Context) {
	if err := c.Heartbeat(ctx); err != nil {
		c.logger.Warnw("relay heartbeat failed", "error", err)
		return
	}
	if c.tokenExpiring() {
		if err := c.RefreshToken(ctx); err != nil {
			c.logger.Warnw("device token refresh failed", "error", err)
		}
	}
}

func (c *Client) StopHeartbeat() {
	c.mu.Lock()
	cancel, done := c.hbCancel, c.hbDone
	c.hbCancel, c.hbDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Client) setToken(token string) {
	var exp time.Time
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	c.mu.Lock()
	c.token = token
	c.tokenExp = exp
	c.mu.Unlock()
}

// tokenExpiring is true when the token would lapse before two more beats.
func (c *Client) tokenExpiring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || c.tokenExp.IsZero() {
		return false
	}
	return time.Until(c.tokenExp) < 2*c.cfg.HeartbeatInterval
}

func (c *Client) selfQuery() url.Values {
	return url.Values{"device_id": {string(c.cfg.DeviceID)}}
}

// do sends a request that is safe to repeat through the retry policy and
// the circuit breaker. Only transport failures and 5xx answers count
// against the breaker; 4xx answers are returned at once.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.send(ctx, method, path, query, body, out, true)
}

// doOnce is do for requests that queue or consume server state. They are
// retried only when the request never left this device.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.send(ctx, method, path, query, body, out, false)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any, repeatable bool) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = b
	}

	rcfg := c.cfg.Retry
	rcfg.NonRetryableErrors = append(rcfg.NonRetryableErrors, circuitbreaker.ErrOpen)

	err := retry.Retry(ctx, rcfg, func() error {
		var apiErr *APIError
		err := c.breaker.Execute(ctx, func() error {
			status, respBody, err := c.roundTrip(ctx, method, path, query, payload)
			if err != nil {
				return err
			}
			if status >= http.StatusInternalServerError {
				return &APIError{Status: status, Message: errorMessage(respBody)}
			}
			if status >= http.StatusBadRequest {
				apiErr = &APIError{Status: status, Message: errorMessage(respBody)}
				return nil
			}
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("decode %s %s: %w", method, path, err)
				}
			}
			return nil
		})
		if err != nil {
			if !repeatable && !notSent(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if apiErr != nil {
			return retry.Permanent(apiErr)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrRelayNetwork, method, path, err)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte) (int, []byte, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// notSent reports whether err happened before the request reached the
// server.
func notSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
