package relayclient

import (
	"babaphone/internal/core/domain"
	"babaphone/internal/discovery"
)

// DefaultStreamPort is advertised for relay-discovered peers, which do not
// report a port of their own.
const DefaultStreamPort = 8888

// Records maps backend devices to discovery records keyed by device id,
// skipping this device.
func Records(devices []*domain.Device, self domain.DeviceID, port uint16) []discovery.DeviceRecord {
	if port == 0 {
		port = DefaultStreamPort
	}
	out := make([]discovery.DeviceRecord, 0, len(devices))
	for _, d := range devices {
		if d == nil || d.ID == self {
			continue
		}
		out = append(out, discovery.DeviceRecord{
			Name:     d.Name,
			Address:  d.IPAddress,
			Port:     port,
			DeviceID: string(d.ID),
			LastSeen: d.LastSeen,
		})
	}
	return out
}
