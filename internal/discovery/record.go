package discovery

import (
	"fmt"
	"time"
)

// DeviceRecord is a peer that can be streamed from. On the LAN the name is
// its identity; records learnt from the relay backend are keyed by DeviceID.
type DeviceRecord struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Port     uint16    `json:"port"`
	DeviceID string    `json:"device_id,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

func (r DeviceRecord) Key() string {
	if r.DeviceID != "" {
		return r.DeviceID
	}
	return r.Name
}

func (r DeviceRecord) String() string {
	return fmt.Sprintf("%s (%s:%d)", r.Name, r.Address, r.Port)
}

type EventType int

const (
	EventFound EventType = iota
	EventLost
)

func (t EventType) String() string {
	if t == EventLost {
		return "lost"
	}
	return "found"
}

// Event is one browse observation. Found events may repeat for the same
// record and arrive in any order.
type Event struct {
	Type   EventType
	Record DeviceRecord
}
