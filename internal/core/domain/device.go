package domain

import "time"

type DeviceID string

type DeviceType string

const (
	DeviceTypeParent DeviceType = "parent"
	DeviceTypeChild  DeviceType = "child"
)

func (t DeviceType) Valid() bool {
	return t == DeviceTypeParent || t == DeviceTypeChild
}

// Device is a registration held by the relay backend.
type Device struct {
	ID           DeviceID   `json:"device_id"`
	Type         DeviceType `json:"device_type"`
	Name         string     `json:"device_name"`
	IPAddress    string     `json:"ip_address"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     time.Time  `json:"last_seen"`
}

// ActiveAt reports whether the device has been seen within timeout of now.
func (d *Device) ActiveAt(now time.Time, timeout time.Duration) bool {
	return now.Sub(d.LastSeen) < timeout
}

type PairingStatus string

const (
	PairingActive PairingStatus = "active"
)

// Pairing links a parent and a child after a connect signal.
type Pairing struct {
	ID        string        `json:"id"`
	ParentID  DeviceID      `json:"parent_id"`
	ChildID   DeviceID      `json:"child_id"`
	CreatedAt time.Time     `json:"created_at"`
	Status    PairingStatus `json:"status"`
}

func (p *Pairing) Involves(id DeviceID) bool {
	return p.ParentID == id || p.ChildID == id
}
