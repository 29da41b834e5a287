package connectivity

import (
	"fmt"

	"babaphone/internal/core/domain"
)

// Attachment is how the device is connected. The same values name the
// transport mode a session should try.
type Attachment int

const (
	None Attachment = iota
	WiFi
	Hotspot
	MobileData
)

func (a Attachment) String() string {
	switch a {
	case WiFi:
		return "WIFI"
	case Hotspot:
		return "HOTSPOT"
	case MobileData:
		return "MOBILE_DATA"
	default:
		return "NONE"
	}
}

// Snapshot is the observable network state.
type Snapshot struct {
	WiFi           bool
	HostingHotspot bool
	Mobile         bool
	Interfaces     []string
}

func Classify(s Snapshot) Attachment {
	switch {
	case s.HostingHotspot:
		return Hotspot
	case s.WiFi:
		return WiFi
	case s.Mobile:
		return MobileData
	default:
		return None
	}
}

// Recommend picks the mode a session should attempt next. NONE comes back
// with ErrNoConnectivity and is not retried automatically.
func Recommend(current Attachment, isChild bool) (Attachment, error) {
	switch {
	case current == WiFi:
		return WiFi, nil
	case current == Hotspot:
		return Hotspot, nil
	case isChild:
		// a child without a LAN makes one for the parent to join
		return Hotspot, nil
	case current == MobileData:
		return MobileData, nil
	default:
		return None, fmt.Errorf("%w: no wifi or mobile data", domain.ErrNoConnectivity)
	}
}
