package domain

import (
	"encoding/json"
	"time"
)

type SignalType string

const (
	SignalConnect    SignalType = "connect"
	SignalDisconnect SignalType = "disconnect"
	SignalOffer      SignalType = "offer"
	SignalAnswer     SignalType = "answer"
	SignalCandidate  SignalType = "candidate"
)

// ParseSignalType accepts the canonical names plus the legacy
// "ice_candidate" spelling still sent by older clients.
func ParseSignalType(s string) (SignalType, error) {
	switch SignalType(s) {
	case SignalConnect, SignalDisconnect, SignalOffer, SignalAnswer, SignalCandidate:
		return SignalType(s), nil
	case "ice_candidate":
		return SignalCandidate, nil
	}
	return "", ErrInvalidSignalType
}

// Signal is a queued signaling message. It is handed out at most once.
type Signal struct {
	ID          string          `json:"id"`
	From        DeviceID        `json:"from_device_id"`
	To          DeviceID        `json:"to_device_id"`
	Type        SignalType      `json:"signal_type"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Delivered   bool            `json:"delivered"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// RelayPacket carries one base64 encoded PCM chunk through the backend.
type RelayPacket struct {
	ID          string     `json:"id"`
	From        DeviceID   `json:"from_device_id"`
	To          DeviceID   `json:"to_device_id"`
	AudioData   string     `json:"audio_data"`
	Timestamp   time.Time  `json:"timestamp"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
