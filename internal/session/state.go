package session

import (
	"babaphone/internal/connectivity"
	"babaphone/internal/discovery"
	"babaphone/internal/hotspot"
	"babaphone/internal/transport"
)

type State int

const (
	StateStopped State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Callbacks are how a session reports to its UI. Any of them may be nil.
// OnLevel runs on the capture goroutine; the rest run on the session's
// event goroutine, one at a time, in the order things happened. None run
// after Stop returns.
type Callbacks struct {
	OnStateChange    func(State)
	OnLevel          func(level float64)
	OnDeviceFound    func(discovery.DeviceRecord)
	OnDeviceLost     func(discovery.DeviceRecord)
	OnTransportState func(from, to transport.State, reason error)
	OnHotspot        func(hotspot.Status)
	OnAttachment     func(connectivity.Attachment)
	OnError          func(error)
}
